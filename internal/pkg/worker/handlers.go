package worker

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/app/repository"
	"github.com/ManuelReschke/AudioFox/internal/pkg/importer"
	"github.com/ManuelReschke/AudioFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/AudioFox/internal/pkg/pipeline"
)

// RegisterHandlers binds the domain job handlers onto the queue. The queue
// itself knows nothing about imports or the pipeline; this is the only place
// job types meet their implementations.
func RegisterHandlers(q *jobqueue.Queue, ctl *importer.Controller, pipe *pipeline.Client, repos *repository.Repositories) {
	q.RegisterHandler(jobqueue.JobTypeBatchImportPage, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.BatchImportPagePayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid batch page payload: %w", err)
		}
		return ctl.ProcessPage(ctx, payload.BatchUUID)
	})

	q.RegisterHandler(jobqueue.JobTypePipelineSubmit, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.PipelineSubmitPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid pipeline submit payload: %w", err)
		}
		return submitExtraction(ctx, pipe, repos, payload.MediaUUID)
	})

	q.RegisterHandler(jobqueue.JobTypeTranscriptDerivation, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.TranscriptDerivationPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid transcript derivation payload: %w", err)
		}
		return pipe.SubmitDerivation(ctx, payload.MediaUUID, payload.AssetUUID, models.AssetKindTranscript)
	})
}

// submitExtraction hands a pending media item to the pipeline and moves it to
// processing. Items already past pending are skipped so retried jobs do not
// resubmit finished work.
func submitExtraction(ctx context.Context, pipe *pipeline.Client, repos *repository.Repositories, mediaUUID string) error {
	media, err := repos.Media.GetByUUID(mediaUUID)
	if err != nil {
		return fmt.Errorf("failed to load media %s: %w", mediaUUID, err)
	}
	if media.Status != models.MediaStatusPending {
		log.Infof("[Worker] Media %s is %s, skipping pipeline submit", media.UUID, media.Status)
		return nil
	}

	if err := pipe.SubmitExtraction(ctx, media.UUID, media.SourceURL); err != nil {
		return err
	}

	media.Status = models.MediaStatusProcessing
	if err := repos.Media.Update(media); err != nil {
		// The pipeline accepted the work; log and let the callback settle the
		// final state instead of retrying the submit.
		log.Errorf("[Worker] Failed to mark media %s processing: %v", media.UUID, err)
	}
	return nil
}

package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

// ErrNothingToImport means the source has no billable items the account has
// not already paid for.
var ErrNothingToImport = errors.New("no new billable items to import")

// BatchTooLargeError rejects imports above the plan's unit cap.
type BatchTooLargeError struct {
	Units int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d units exceeds plan limit of %d", e.Units, e.Limit)
}

// InsufficientCreditsError carries what the HTTP layer needs for a 402.
type InsufficientCreditsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Balance)
}

func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Balance
}

// Enqueuer hands work to the async queue.
type Enqueuer interface {
	EnqueueBatchPage(jobUUID string) error
	EnqueuePipelineSubmit(mediaUUID string) error
}

// Controller reserves credits for batch imports, pages through the source,
// and issues compensating refunds when a job fails or under-delivers. The
// initial conditional deduction is the only financial decision point; pages
// never deduct again.
type Controller struct {
	store    Store
	led      ledger.Ledger
	source   SourceClient
	queue    Enqueuer
	pageSize int
}

func NewController(store Store, led ledger.Ledger, source SourceClient, queue Enqueuer) *Controller {
	return &Controller{
		store:    store,
		led:      led,
		source:   source,
		queue:    queue,
		pageSize: 50,
	}
}

// StartBatch counts the billable delta for sourceRef, reserves that many
// credits and creates the job. A re-sync of an already-imported source counts
// only items not yet paid for; zero delta creates nothing and charges nothing.
func (c *Controller) StartBatch(ctx context.Context, accountID uint, sourceRef string, plan entitlements.Plan) (*models.BatchImportJob, error) {
	total, items, err := c.source.CountBillable(ctx, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list source %s: %w", sourceRef, err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ExternalID)
	}
	alreadyImported, err := c.store.CountImported(ctx, accountID, sourceRef, ids)
	if err != nil {
		return nil, err
	}

	units := total - alreadyImported
	if units <= 0 {
		return nil, ErrNothingToImport
	}
	if limit := entitlements.MaxBatchUnits(plan); units > limit {
		return nil, &BatchTooLargeError{Units: units, Limit: limit}
	}

	cost := int64(units) * entitlements.ImportCreditCost
	jobUUID := uuid.NewString()

	res, err := c.led.Deduct(ctx, accountID, cost, ledger.TxnMeta{
		Description: fmt.Sprintf("Batch import of %s (%d items)", sourceRef, units),
		ExternalRef: "batch:" + jobUUID,
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, &InsufficientCreditsError{Required: cost, Balance: res.Balance}
	}

	job := &models.BatchImportJob{
		UUID:            jobUUID,
		AccountID:       accountID,
		SourceRef:       sourceRef,
		TotalUnits:      units,
		ReservedCredits: cost,
		Status:          models.BatchJobStatusPending,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		// The reservation exists but the job row does not; give the credits
		// back immediately, there is nothing to attach them to.
		if _, rerr := c.led.Refund(ctx, accountID, cost, ledger.TxnMeta{
			Description: "Batch import creation failed",
		}); rerr != nil {
			log.Errorf("[Importer] Refund after failed job creation for account %d: %v", accountID, rerr)
		}
		return nil, fmt.Errorf("failed to create batch job: %w", err)
	}

	if err := c.queue.EnqueueBatchPage(job.UUID); err != nil {
		if ferr := c.compensateAndFail(ctx, job, "failed to enqueue first page"); ferr != nil {
			log.Errorf("[Importer] Compensation for job %s failed: %v", job.UUID, ferr)
		}
		return job, fmt.Errorf("failed to hand job %s to the worker: %w", job.UUID, err)
	}
	return job, nil
}

// ProcessPage imports one page of the job's source listing and either
// re-enqueues the next page or finishes the job. It is the worker entry point
// and safe to replay: item inserts dedupe on (account, source, external_id),
// and processed/cursor advance together in one write.
func (c *Controller) ProcessPage(ctx context.Context, jobUUID string) error {
	job, err := c.store.GetJobByUUID(ctx, jobUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Importer] Page job for unknown batch %s, dropping", jobUUID)
			return nil
		}
		return err
	}
	if job.IsTerminal() {
		log.Infof("[Importer] Batch %s already %s, dropping page job", jobUUID, job.Status)
		return nil
	}

	if job.Status == models.BatchJobStatusPending {
		job.Status = models.BatchJobStatusProcessing
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}

	page, err := c.source.FetchPage(ctx, job.SourceRef, job.Cursor, c.pageSize)
	if err != nil {
		return c.failWithCompensation(ctx, job, fmt.Sprintf("source page fetch failed: %v", err))
	}

	jobID := job.ID
	pageUnits := 0
	for _, item := range page.Items {
		if !item.Billable() {
			continue
		}
		media := &models.MediaItem{
			UUID:         uuid.NewString(),
			AccountID:    job.AccountID,
			BatchJobID:   &jobID,
			Platform:     item.Platform,
			SourceRef:    job.SourceRef,
			SourceURL:    item.URL,
			ExternalID:   item.ExternalID,
			Title:        item.Title,
			DurationSecs: item.DurationSecs,
			Status:       models.MediaStatusPending,
		}
		created, err := c.store.CreateMediaItem(ctx, media)
		if err != nil {
			return c.failWithCompensation(ctx, job, fmt.Sprintf("media insert failed: %v", err))
		}
		if !created {
			// Either paid for by an earlier job (a re-sync page lists those
			// too, they cost nothing here) or written by a replayed page of
			// this job after a crash, which must still count as progress.
			existing, err := c.store.FindMedia(ctx, job.AccountID, job.SourceRef, item.ExternalID)
			if err != nil {
				return err
			}
			if existing != nil && existing.BatchJobID != nil && *existing.BatchJobID == job.ID {
				pageUnits++
			}
			continue
		}
		pageUnits++
		if err := c.queue.EnqueuePipelineSubmit(media.UUID); err != nil {
			log.Errorf("[Importer] Failed to enqueue pipeline submit for %s: %v", media.UUID, err)
		}
	}

	job.ProcessedCount += pageUnits
	job.Cursor = page.NextCursor

	if page.HasMore && page.NextCursor != "" {
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return err
		}
		return c.queue.EnqueueBatchPage(job.UUID)
	}
	return c.finishJob(ctx, job)
}

// finishJob completes the job. If the listing shrank between reservation and
// processing, the unprocessed remainder of the reservation is refunded.
func (c *Controller) finishJob(ctx context.Context, job *models.BatchImportJob) error {
	owed, err := c.owedForJob(ctx, job)
	if err != nil {
		return err
	}
	if owed > 0 {
		jobID := job.ID
		if _, err := c.led.Refund(ctx, job.AccountID, owed, ledger.TxnMeta{
			Description: fmt.Sprintf("Unused reservation for batch %s", job.UUID),
			BatchJobID:  &jobID,
		}); err != nil {
			return err
		}
		log.Infof("[Importer] Batch %s refunded %d unused credits on completion", job.UUID, owed)
	}

	now := time.Now()
	job.Status = models.BatchJobStatusCompleted
	job.CompletedAt = &now
	return c.store.UpdateJob(ctx, job)
}

// FailJob is the worker-facing failure path: compensate, then mark failed.
func (c *Controller) FailJob(ctx context.Context, jobUUID, reason string) error {
	job, err := c.store.GetJobByUUID(ctx, jobUUID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	return c.failWithCompensation(ctx, job, reason)
}

// ResetJob is the operator path for jobs stuck in pending/processing: refund
// whatever the ledger says is still owed and park the job back in pending.
// Progress fields are preserved; the refund settles the unprocessed remainder,
// so re-driving happens through a fresh re-sync job, not this row. Completed
// and failed jobs are already settled and are rejected.
func (c *Controller) ResetJob(ctx context.Context, jobUUID string) (*models.BatchImportJob, int64, error) {
	job, err := c.store.GetJobByUUID(ctx, jobUUID)
	if err != nil {
		return nil, 0, err
	}
	if job.IsTerminal() {
		return nil, 0, fmt.Errorf("job %s is already %s", jobUUID, job.Status)
	}

	owed, err := c.owedForJob(ctx, job)
	if err != nil {
		return nil, 0, err
	}
	if owed > 0 {
		jobID := job.ID
		if _, err := c.led.Refund(ctx, job.AccountID, owed, ledger.TxnMeta{
			Description: fmt.Sprintf("Operator reset of batch %s", job.UUID),
			BatchJobID:  &jobID,
		}); err != nil {
			return nil, 0, err
		}
	}

	job.Status = models.BatchJobStatusPending
	job.ErrorMsg = ""
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return nil, owed, err
	}
	log.Infof("[Importer] Operator reset batch %s, refunded %d credits", job.UUID, owed)
	return job, owed, nil
}

// GetJob returns the job for polling.
func (c *Controller) GetJob(ctx context.Context, jobUUID string) (*models.BatchImportJob, error) {
	return c.store.GetJobByUUID(ctx, jobUUID)
}

// ListJobs returns recent jobs, optionally filtered by status.
func (c *Controller) ListJobs(ctx context.Context, status string, limit int) ([]models.BatchImportJob, error) {
	return c.store.ListJobsByStatus(ctx, status, limit)
}

// failWithCompensation refunds first, then marks the job failed. A crash
// between the two leaves the job non-terminal with the refund recorded; the
// next attempt derives owed=0 and just flips the status.
func (c *Controller) failWithCompensation(ctx context.Context, job *models.BatchImportJob, reason string) error {
	if err := c.compensateAndFail(ctx, job, reason); err != nil {
		return err
	}
	log.Warnf("[Importer] Batch %s failed: %s", job.UUID, reason)
	return nil
}

func (c *Controller) compensateAndFail(ctx context.Context, job *models.BatchImportJob, reason string) error {
	owed, err := c.owedForJob(ctx, job)
	if err != nil {
		return err
	}
	if owed > 0 {
		jobID := job.ID
		if _, err := c.led.Refund(ctx, job.AccountID, owed, ledger.TxnMeta{
			Description: fmt.Sprintf("Compensation for failed batch %s", job.UUID),
			BatchJobID:  &jobID,
		}); err != nil {
			return err
		}
	}
	job.Status = models.BatchJobStatusFailed
	job.ErrorMsg = reason
	return c.store.UpdateJob(ctx, job)
}

// owedForJob derives the outstanding refund from the transaction log instead
// of job fields: reserved minus the credits consumed by processed units minus
// whatever was already refunded against this job. Crash-replaying any
// compensation path therefore cannot refund twice. A negative result means
// units were processed after an operator refund; nothing more is owed then.
func (c *Controller) owedForJob(ctx context.Context, job *models.BatchImportJob) (int64, error) {
	refunded, err := c.led.RefundedForJob(ctx, job.ID)
	if err != nil {
		return 0, err
	}
	owed := job.ReservedCredits - int64(job.ProcessedCount)*entitlements.ImportCreditCost - refunded
	if owed < 0 {
		log.Warnf("[Importer] Batch %s processed past its remaining reservation (reserved=%d processed=%d refunded=%d)",
			job.UUID, job.ReservedCredits, job.ProcessedCount, refunded)
		return 0, nil
	}
	return owed, nil
}

package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/jobqueue"
)

// HandleAdminListJobs lists batch import jobs, optionally filtered by status.
func HandleAdminListJobs(c *fiber.Ctx) error {
	status := c.Query("status")
	switch status {
	case "", models.BatchJobStatusPending, models.BatchJobStatusProcessing,
		models.BatchJobStatusCompleted, models.BatchJobStatusFailed:
	default:
		return badRequest(c, "Unknown job status")
	}

	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	jobs, err := deps.Importer.ListJobs(c.Context(), status, limit)
	if err != nil {
		log.Errorf("[Admin] Failed to list batch jobs: %v", err)
		return internalError(c, "Failed to list jobs")
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// HandleAdminGetJob returns one batch job regardless of owning account.
func HandleAdminGetJob(c *fiber.Ctx) error {
	jobUUID := c.Params("uuid")
	if jobUUID == "" {
		return badRequest(c, "Job UUID missing")
	}
	job, err := deps.Importer.GetJob(c.Context(), jobUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Batch job not found")
		}
		return internalError(c, "Failed to load job")
	}
	return c.JSON(fiber.Map{"job": job})
}

// HandleAdminResetJob refunds whatever the job still owes and parks it
// pending. Progress is preserved; a later re-sync picks the work back up.
func HandleAdminResetJob(c *fiber.Ctx) error {
	jobUUID := c.Params("uuid")
	if jobUUID == "" {
		return badRequest(c, "Job UUID missing")
	}

	job, refunded, err := deps.Importer.ResetJob(c.Context(), jobUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Batch job not found")
		}
		log.Errorf("[Admin] Failed to reset job %s: %v", jobUUID, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "reset_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"job":              job,
		"refunded_credits": refunded,
	})
}

// HandleAdminFailJob force-fails a stuck job and refunds the unprocessed
// remainder.
func HandleAdminFailJob(c *fiber.Ctx) error {
	jobUUID := c.Params("uuid")
	if jobUUID == "" {
		return badRequest(c, "Job UUID missing")
	}
	reason := c.Query("reason", "failed by operator")

	if err := deps.Importer.FailJob(c.Context(), jobUUID, reason); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Batch job not found")
		}
		log.Errorf("[Admin] Failed to fail job %s: %v", jobUUID, err)
		return internalError(c, "Failed to fail job")
	}
	return c.JSON(fiber.Map{"status": "failed"})
}

// HandleAdminQueueStats exposes the background queue's counters and sizes.
func HandleAdminQueueStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()

	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		log.Errorf("[Admin] Failed to read queue stats: %v", err)
		return internalError(c, "Failed to read queue stats")
	}
	queued, err := queue.GetQueueSize(c.Context())
	if err != nil {
		return internalError(c, "Failed to read queue size")
	}
	processing, err := queue.GetProcessingSize(c.Context())
	if err != nil {
		return internalError(c, "Failed to read processing size")
	}

	return c.JSON(fiber.Map{
		"stats":      stats,
		"queued":     queued,
		"processing": processing,
		"running":    jobqueue.GetManager().IsRunning(),
	})
}

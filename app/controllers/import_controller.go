package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/accountcontext"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/AudioFox/internal/pkg/importer"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
	"github.com/ManuelReschke/AudioFox/internal/pkg/metrics/counter"
)

type singleImportRequest struct {
	SourceURL  string `json:"source_url" validate:"required,url"`
	Platform   string `json:"platform" validate:"omitempty,max=32"`
	Title      string `json:"title" validate:"omitempty,max=512"`
	ExternalID string `json:"external_id" validate:"omitempty,max=191"`
	SourceRef  string `json:"source_ref" validate:"omitempty,max=255"`
}

// HandleCreateImport charges one credit and imports a single source video.
// The media UUID keys the deduction, so a client retry of the same request
// body cannot be double-charged once it carries the returned UUID back (each
// fresh call is a fresh import).
func HandleCreateImport(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)

	var req singleImportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, "source_url is required and must be a valid URL")
	}

	mediaUUID := uuid.New().String()

	// The (account, source_ref, external_id) unique index exists for batch
	// re-sync dedupe. Ad-hoc imports carry no provider identity, so they get
	// the media UUID as external_id to keep the index out of their way.
	externalID := req.ExternalID
	if externalID == "" {
		externalID = mediaUUID
	}

	res, err := deps.Ledger.Deduct(c.Context(), acct.AccountID, entitlements.ImportCreditCost, ledger.TxnMeta{
		Description: "Single media import",
		ExternalRef: "import:" + mediaUUID,
		ItemRef:     mediaUUID,
	})
	if err != nil {
		log.Errorf("[Import] Deduct failed for account %d: %v", acct.AccountID, err)
		return internalError(c, "Failed to charge import")
	}
	if !res.OK {
		return insufficientCredits(c, entitlements.ImportCreditCost, res.Balance)
	}

	item := &models.MediaItem{
		UUID:       mediaUUID,
		AccountID:  acct.AccountID,
		Platform:   req.Platform,
		SourceRef:  req.SourceRef,
		SourceURL:  req.SourceURL,
		ExternalID: externalID,
		Title:      req.Title,
		Status:     models.MediaStatusPending,
	}
	if err := deps.Repos.Media.Create(item); err != nil {
		// The import cannot proceed; give the credit back before failing.
		if _, rerr := deps.Ledger.Refund(c.Context(), acct.AccountID, entitlements.ImportCreditCost, ledger.TxnMeta{
			Description: "Refund failed single import",
			ExternalRef: "import-refund:" + mediaUUID,
			ItemRef:     mediaUUID,
		}); rerr != nil {
			log.Errorf("[Import] Refund after failed create for account %d: %v", acct.AccountID, rerr)
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// The caller supplied a source identity that is already paid for.
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "already_imported",
				"message": "This source item is already imported for the account",
			})
		}
		log.Errorf("[Import] Failed to create media item for account %d: %v", acct.AccountID, err)
		return internalError(c, "Failed to create media item")
	}

	if err := deps.Queue.EnqueuePipelineSubmit(item.UUID); err != nil {
		log.Errorf("[Import] Failed to enqueue pipeline submit for media %s: %v", item.UUID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"media":   item,
		"balance": res.Balance,
	})
}

type batchImportRequest struct {
	SourceRef string `json:"source_ref" validate:"required,max=255"`
}

// HandleStartBatchImport reserves credits for every new billable item behind
// the source reference and starts the paged import.
func HandleStartBatchImport(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)

	var req batchImportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, "source_ref is required")
	}

	job, err := deps.Importer.StartBatch(c.Context(), acct.AccountID, req.SourceRef, entitlements.NormalizePlan(acct.Plan))
	if err != nil {
		if errors.Is(err, importer.ErrNothingToImport) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"job":     nil,
				"message": "All billable items are already imported",
			})
		}
		var tooLarge *importer.BatchTooLargeError
		if errors.As(err, &tooLarge) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":   "batch_too_large",
				"units":   tooLarge.Units,
				"limit":   tooLarge.Limit,
				"message": "Batch exceeds the plan's import limit",
			})
		}
		var insufficient *importer.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":     "insufficient_credits",
				"required":  insufficient.Required,
				"balance":   insufficient.Balance,
				"shortfall": insufficient.Shortfall(),
			})
		}
		log.Errorf("[Import] StartBatch failed for account %d source %s: %v", acct.AccountID, req.SourceRef, err)
		return internalError(c, "Failed to start batch import")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job": job})
}

// HandleGetBatchJob returns one batch job, scoped to the caller's account.
func HandleGetBatchJob(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	jobUUID := c.Params("uuid")
	if jobUUID == "" {
		return badRequest(c, "Job UUID missing")
	}

	job, err := deps.Importer.GetJob(c.Context(), jobUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Batch job not found")
		}
		return internalError(c, "Failed to load batch job")
	}
	if job.AccountID != acct.AccountID {
		return notFound(c, "Batch job not found")
	}
	return c.JSON(fiber.Map{"job": job})
}

// HandleListMedia pages through the caller's imported media, newest first.
func HandleListMedia(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", 25)
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	items, err := deps.Repos.Media.GetByAccountID(acct.AccountID, offset, limit)
	if err != nil {
		return internalError(c, "Failed to load media")
	}
	total, err := deps.Repos.Media.CountByAccountID(acct.AccountID)
	if err != nil {
		return internalError(c, "Failed to count media")
	}
	return c.JSON(fiber.Map{
		"items":  items,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

// HandleRecordPlay counts one in-app stream of the media item. Plays are
// free; the counter is flushed to the database in batches.
func HandleRecordPlay(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	mediaUUID := c.Params("uuid")
	if mediaUUID == "" {
		return badRequest(c, "Media UUID missing")
	}

	item, err := deps.Repos.Media.GetByUUID(mediaUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Media not found")
		}
		return internalError(c, "Failed to load media")
	}
	if item.AccountID != acct.AccountID {
		return notFound(c, "Media not found")
	}

	if err := counter.AddMediaPlay(item.ID); err != nil {
		log.Warnf("[Import] Failed to count play for media %s: %v", item.UUID, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleGetMedia returns one media item with its assets.
func HandleGetMedia(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	mediaUUID := c.Params("uuid")
	if mediaUUID == "" {
		return badRequest(c, "Media UUID missing")
	}

	item, err := deps.Repos.Media.GetByUUID(mediaUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Media not found")
		}
		return internalError(c, "Failed to load media")
	}
	if item.AccountID != acct.AccountID {
		return notFound(c, "Media not found")
	}

	assets, err := deps.Repos.Asset.GetByMediaID(item.ID)
	if err != nil {
		return internalError(c, "Failed to load assets")
	}
	return c.JSON(fiber.Map{
		"media":  item,
		"assets": assets,
	})
}

package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/accountcontext"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
	"github.com/ManuelReschke/AudioFox/internal/pkg/metrics/counter"
)

const downloadLinkTTL = 15 * time.Minute

// HandleDownloadAsset charges one credit and hands out a short-lived presigned
// download link. Every download is a fresh charge; there is deliberately no
// idempotency key here.
func HandleDownloadAsset(c *fiber.Ctx) error {
	if deps.Store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "service_unavailable",
			"message": "Audio storage is not configured",
		})
	}
	acct := accountcontext.Get(c)

	asset, media, ferr := loadOwnedAsset(c, acct.AccountID)
	if asset == nil {
		// Response was already written by the loader.
		return ferr
	}
	if asset.Status != models.AssetStatusReady || asset.ObjectKey == "" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "asset_not_ready",
			"message": "Asset is not ready for download",
		})
	}

	// Presigning never contacts storage, so a stale asset row would charge
	// for a link that 404s. Verify the object before touching the balance.
	exists, err := deps.Store.ObjectExists(c.Context(), asset.ObjectKey)
	if err != nil {
		log.Errorf("[Asset] Object check failed for asset %s: %v", asset.UUID, err)
		return internalError(c, "Failed to verify asset object")
	}
	if !exists {
		log.Errorf("[Asset] Object %s for asset %s is missing from storage", asset.ObjectKey, asset.UUID)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "asset_not_ready",
			"message": "Asset object is missing from storage",
		})
	}

	res, err := deps.Ledger.Deduct(c.Context(), acct.AccountID, entitlements.DownloadCreditCost, ledger.TxnMeta{
		Description: "Asset download",
		ItemRef:     asset.UUID,
	})
	if err != nil {
		log.Errorf("[Asset] Download deduct failed for account %d asset %s: %v", acct.AccountID, asset.UUID, err)
		return internalError(c, "Failed to charge download")
	}
	if !res.OK {
		return insufficientCredits(c, entitlements.DownloadCreditCost, res.Balance)
	}

	filename := downloadFilename(media, asset)
	url, err := deps.Store.PresignDownload(c.Context(), asset.ObjectKey, filename, downloadLinkTTL)
	if err != nil {
		log.Errorf("[Asset] Presign failed for asset %s: %v", asset.UUID, err)
		if _, rerr := deps.Ledger.Refund(c.Context(), acct.AccountID, entitlements.DownloadCreditCost, ledger.TxnMeta{
			Description: "Refund failed download",
			ItemRef:     asset.UUID,
		}); rerr != nil {
			log.Errorf("[Asset] Refund after failed presign for account %d: %v", acct.AccountID, rerr)
		}
		return internalError(c, "Failed to create download link")
	}

	if err := counter.AddAssetDownload(asset.ID); err != nil {
		log.Warnf("[Asset] Failed to count download for asset %s: %v", asset.UUID, err)
	}

	return c.JSON(fiber.Map{
		"download_url":       url,
		"expires_in_seconds": int(downloadLinkTTL.Seconds()),
		"balance":            res.Balance,
	})
}

// HandleRequestTranscript charges the transcript price once per media item and
// queues the derivation. The media-scoped idempotency key makes a retry after
// a crash attach to the already-paid transcript instead of charging again.
func HandleRequestTranscript(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	mediaUUID := c.Params("uuid")
	if mediaUUID == "" {
		return badRequest(c, "Media UUID missing")
	}

	media, err := deps.Repos.Media.GetByUUID(mediaUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Media not found")
		}
		return internalError(c, "Failed to load media")
	}
	if media.AccountID != acct.AccountID {
		return notFound(c, "Media not found")
	}
	if media.Status != models.MediaStatusReady {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "media_not_ready",
			"message": "Media must finish processing before a transcript can be derived",
		})
	}

	if existing, err := deps.Repos.Asset.GetByMediaAndKind(media.ID, models.AssetKindTranscript); err == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"asset":   existing,
			"message": "Transcript already requested",
		})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return internalError(c, "Failed to check existing transcript")
	}

	cost := entitlements.TranscriptCreditCost()
	res, err := deps.Ledger.Deduct(c.Context(), acct.AccountID, cost, ledger.TxnMeta{
		Description: "Transcript derivation",
		ExternalRef: "transcript:" + media.UUID,
		ItemRef:     media.UUID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateExternalRef) {
			// Paid before but the asset row is missing; fall through and
			// create it without charging again.
			log.Warnf("[Asset] Transcript for media %s already paid, recreating asset row", media.UUID)
		} else {
			log.Errorf("[Asset] Transcript deduct failed for account %d media %s: %v", acct.AccountID, media.UUID, err)
			return internalError(c, "Failed to charge transcript")
		}
	} else if !res.OK {
		return insufficientCredits(c, cost, res.Balance)
	}

	asset := &models.AudioAsset{
		UUID:        uuid.New().String(),
		MediaItemID: media.ID,
		Kind:        models.AssetKindTranscript,
		Format:      "txt",
		Status:      models.AssetStatusPending,
	}
	if err := deps.Repos.Asset.Create(asset); err != nil {
		log.Errorf("[Asset] Failed to create transcript asset for media %s: %v", media.UUID, err)
		return internalError(c, "Failed to create transcript asset")
	}

	if err := deps.Queue.EnqueueTranscriptDerivation(media.UUID, asset.UUID); err != nil {
		log.Errorf("[Asset] Failed to enqueue transcript derivation for asset %s: %v", asset.UUID, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"asset": asset})
}

// loadOwnedAsset resolves the asset from the route and verifies the caller
// owns the media item it belongs to. Foreign assets read as not found.
func loadOwnedAsset(c *fiber.Ctx, accountID uint) (*models.AudioAsset, *models.MediaItem, error) {
	assetUUID := c.Params("uuid")
	if assetUUID == "" {
		return nil, nil, badRequest(c, "Asset UUID missing")
	}

	asset, err := deps.Repos.Asset.GetByUUID(assetUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound(c, "Asset not found")
		}
		return nil, nil, internalError(c, "Failed to load asset")
	}
	media, err := deps.Repos.Media.GetByID(asset.MediaItemID)
	if err != nil {
		return nil, nil, internalError(c, "Failed to load media for asset")
	}
	if media.AccountID != accountID {
		return nil, nil, notFound(c, "Asset not found")
	}
	return asset, media, nil
}

func downloadFilename(media *models.MediaItem, asset *models.AudioAsset) string {
	name := media.Title
	if name == "" {
		name = media.UUID
	}
	ext := asset.Format
	if ext == "" {
		ext = "mp3"
	}
	return name + "." + ext
}

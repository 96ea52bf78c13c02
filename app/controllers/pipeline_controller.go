package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
	"github.com/ManuelReschke/AudioFox/internal/pkg/security"
)

type pipelineCallbackRequest struct {
	Status       string `json:"status" validate:"required,oneof=ready failed"`
	ObjectKey    string `json:"object_key"`
	Format       string `json:"format"`
	BitrateKbps  int    `json:"bitrate_kbps"`
	SizeBytes    int64  `json:"size_bytes"`
	DurationSecs int    `json:"duration_secs"`
	Error        string `json:"error"`
}

// HandlePipelineCallback receives results from the transcoding pipeline. The
// signed token scopes the request to exactly one media/asset pair, so a
// compromised pipeline worker cannot flip arbitrary rows.
func HandlePipelineCallback(c *fiber.Ctx) error {
	secret := env.GetEnv("PIPELINE_CALLBACK_SECRET", "")
	claims, err := security.VerifyCallbackToken(c.Query("token"), secret)
	if err != nil {
		log.Warnf("[Pipeline] Rejected callback with invalid token: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "Invalid callback token",
		})
	}

	var req pipelineCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, "status must be ready or failed")
	}

	media, err := deps.Repos.Media.GetByUUID(claims.MediaUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Media not found")
		}
		return internalError(c, "Failed to load media")
	}

	if claims.AssetUUID != "" {
		return applyDerivationResult(c, media, claims.AssetUUID, &req)
	}
	return applyExtractionResult(c, media, &req)
}

// applyExtractionResult finalizes the initial audio extraction: the media row
// flips to its terminal state and, on success, the primary audio asset is
// created ready.
func applyExtractionResult(c *fiber.Ctx, media *models.MediaItem, req *pipelineCallbackRequest) error {
	if req.Status == "failed" {
		media.Status = models.MediaStatusFailed
		media.ErrorMsg = req.Error
		if err := deps.Repos.Media.Update(media); err != nil {
			return internalError(c, "Failed to update media")
		}
		log.Warnf("[Pipeline] Extraction for media %s failed: %s", media.UUID, req.Error)
		return c.JSON(fiber.Map{"status": "recorded"})
	}

	if req.ObjectKey == "" {
		return badRequest(c, "object_key is required for a ready result")
	}

	// Replayed callbacks reuse the existing asset row instead of creating a
	// second one.
	asset, err := deps.Repos.Asset.GetByMediaAndKind(media.ID, models.AssetKindAudio)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return internalError(c, "Failed to check existing asset")
		}
		asset = &models.AudioAsset{
			UUID:        uuid.New().String(),
			MediaItemID: media.ID,
			Kind:        models.AssetKindAudio,
		}
	}
	asset.Format = req.Format
	asset.BitrateKbps = req.BitrateKbps
	asset.SizeBytes = req.SizeBytes
	asset.ObjectKey = req.ObjectKey
	asset.Status = models.AssetStatusReady

	if asset.ID == 0 {
		err = deps.Repos.Asset.Create(asset)
	} else {
		err = deps.Repos.Asset.Update(asset)
	}
	if err != nil {
		return internalError(c, "Failed to store asset")
	}

	media.Status = models.MediaStatusReady
	media.ErrorMsg = ""
	if req.DurationSecs > 0 {
		media.DurationSecs = req.DurationSecs
	}
	if err := deps.Repos.Media.Update(media); err != nil {
		return internalError(c, "Failed to update media")
	}

	log.Infof("[Pipeline] Media %s is ready (asset %s, %d bytes)", media.UUID, asset.UUID, asset.SizeBytes)
	return c.JSON(fiber.Map{"status": "recorded", "asset_uuid": asset.UUID})
}

// applyDerivationResult finalizes a derived asset such as a transcript.
func applyDerivationResult(c *fiber.Ctx, media *models.MediaItem, assetUUID string, req *pipelineCallbackRequest) error {
	asset, err := deps.Repos.Asset.GetByUUID(assetUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "Asset not found")
		}
		return internalError(c, "Failed to load asset")
	}
	if asset.MediaItemID != media.ID {
		return badRequest(c, "Asset does not belong to the token's media item")
	}

	if req.Status == "failed" {
		asset.Status = models.AssetStatusFailed
		log.Warnf("[Pipeline] Derivation for asset %s failed: %s", asset.UUID, req.Error)
	} else {
		if req.ObjectKey == "" {
			return badRequest(c, "object_key is required for a ready result")
		}
		asset.ObjectKey = req.ObjectKey
		asset.SizeBytes = req.SizeBytes
		if req.Format != "" {
			asset.Format = req.Format
		}
		asset.Status = models.AssetStatusReady
	}
	if err := deps.Repos.Asset.Update(asset); err != nil {
		return internalError(c, "Failed to update asset")
	}
	return c.JSON(fiber.Map{"status": "recorded", "updated_at": time.Now().UTC().Format(time.RFC3339)})
}

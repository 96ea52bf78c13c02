package controllers

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AudioFox/app/repository"
	"github.com/ManuelReschke/AudioFox/internal/pkg/audiostore"
	"github.com/ManuelReschke/AudioFox/internal/pkg/billing"
	"github.com/ManuelReschke/AudioFox/internal/pkg/importer"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

var validate = validator.New()

// Deps wires the controllers against the application services. Set once at
// startup via Configure; handlers read it afterwards.
type Deps struct {
	Repos    *repository.Repositories
	Ledger   ledger.Ledger
	Billing  *billing.Service
	Stripe   *billing.StripeClient
	Importer *importer.Controller
	Store    *audiostore.Client
	Queue    TaskEnqueuer
}

// TaskEnqueuer is the slice of the job queue the controllers need.
type TaskEnqueuer interface {
	EnqueuePipelineSubmit(mediaUUID string) error
	EnqueueTranscriptDerivation(mediaUUID, assetUUID string) error
}

var deps Deps

// Configure installs the controller dependencies.
func Configure(d Deps) {
	deps = d
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "bad_request",
		"message": message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   "not_found",
		"message": message,
	})
}

func internalError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": message,
	})
}

// insufficientCredits is the uniform 402 shape: what the action costs, what
// the account holds, and how much is missing.
func insufficientCredits(c *fiber.Ctx, required, balance int64) error {
	shortfall := required - balance
	if shortfall < 0 {
		shortfall = 0
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":     "insufficient_credits",
		"required":  required,
		"balance":   balance,
		"shortfall": shortfall,
	})
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

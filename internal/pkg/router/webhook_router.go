package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AudioFox/app/controllers"
)

// WebhookRouter installs the inbound machine-to-machine endpoints. Both
// authenticate cryptographically per request, so no account middleware runs
// here.
type WebhookRouter struct {
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

func (h *WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/payments", apiRateLimiter(600, time.Minute), controllers.HandleStripeWebhook)
	app.Post("/internal/pipeline/callback", controllers.HandlePipelineCallback)
}

package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AudioFox/app/controllers"
	apiv1 "github.com/ManuelReschke/AudioFox/internal/api/v1"
	"github.com/ManuelReschke/AudioFox/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func NewApiRouter(d Deps) *ApiRouter {
	return &ApiRouter{deps: d}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", apiRateLimiter(120, time.Minute))
	api.Get("/", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "AudioFox API",
		})
	})

	v1 := api.Group("/v1",
		middleware.AccountContextMiddleware(h.deps.Repos, h.deps.Ledger, h.deps.Billing))
	apiv1.RegisterHandlers(v1, apiv1.NewAPIServer())

	// Checkout endpoints live outside the documented v1 surface; they need
	// the same resolved account context.
	v1.Post("/billing/checkout/subscription", controllers.HandleCreateSubscriptionCheckout)
	v1.Post("/billing/checkout/credits", controllers.HandleCreateCreditPackCheckout)
}

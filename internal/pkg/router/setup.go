package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AudioFox/app/repository"
	"github.com/ManuelReschke/AudioFox/internal/pkg/billing"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

// Deps carries what the routers need to build their middleware chains.
type Deps struct {
	Repos   *repository.Repositories
	Ledger  ledger.Ledger
	Billing *billing.Service
}

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires all route groups. Webhook routes install without the
// account middleware: payment providers and the pipeline authenticate via
// signatures, not account references.
func InstallRouter(app *fiber.App, d Deps) {
	setup(app, NewApiRouter(d), NewWebhookRouter(), NewAdminRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

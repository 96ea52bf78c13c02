package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AudioFox/app/controllers"
	"github.com/ManuelReschke/AudioFox/internal/pkg/middleware"
)

type AdminRouter struct {
}

func NewAdminRouter() *AdminRouter {
	return &AdminRouter{}
}

func (h *AdminRouter) InstallRouter(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.AdminKeyMiddleware())
	adminGroup.Get("/jobs", controllers.HandleAdminListJobs)
	adminGroup.Get("/jobs/:uuid", controllers.HandleAdminGetJob)
	adminGroup.Post("/jobs/:uuid/reset", controllers.HandleAdminResetJob)
	adminGroup.Post("/jobs/:uuid/fail", controllers.HandleAdminFailJob)
	adminGroup.Get("/queue/stats", controllers.HandleAdminQueueStats)
}

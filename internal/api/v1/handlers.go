package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/AudioFox/app/controllers"
)

// APIServer implements the public v1 surface described in
// public/docs/v1/openapi.yml.
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// RegisterHandlers attaches the v1 routes onto the given group. Account
// resolution happens in the router's middleware chain before any of these
// run.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)

	r.Get("/account", s.GetAccount)
	r.Get("/account/credits", s.GetCreditHistory)

	r.Post("/imports", s.PostImport)
	r.Post("/imports/batch", s.PostBatchImport)
	r.Get("/imports/batch/:uuid", s.GetBatchJob)

	r.Get("/media", s.GetMediaList)
	r.Get("/media/:uuid", s.GetMedia)
	r.Post("/media/:uuid/transcript", s.PostTranscript)
	r.Post("/media/:uuid/play", s.PostPlay)

	r.Post("/assets/:uuid/download", s.PostAssetDownload)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// GetAccount returns the caller's balance, plan and subscription.
func (s *APIServer) GetAccount(c *fiber.Ctx) error {
	return controllers.HandleGetAccount(c)
}

// GetCreditHistory pages through the caller's credit transaction log.
func (s *APIServer) GetCreditHistory(c *fiber.Ctx) error {
	return controllers.HandleGetCreditHistory(c)
}

// PostImport imports a single source video for one credit.
func (s *APIServer) PostImport(c *fiber.Ctx) error {
	return controllers.HandleCreateImport(c)
}

// PostBatchImport starts a reserved batch import for a source reference.
func (s *APIServer) PostBatchImport(c *fiber.Ctx) error {
	return controllers.HandleStartBatchImport(c)
}

// GetBatchJob polls one batch import job.
func (s *APIServer) GetBatchJob(c *fiber.Ctx) error {
	return controllers.HandleGetBatchJob(c)
}

// GetMediaList lists the caller's imported media.
func (s *APIServer) GetMediaList(c *fiber.Ctx) error {
	return controllers.HandleListMedia(c)
}

// GetMedia returns one media item with its assets.
func (s *APIServer) GetMedia(c *fiber.Ctx) error {
	return controllers.HandleGetMedia(c)
}

// PostTranscript requests a transcript derivation for a ready media item.
func (s *APIServer) PostTranscript(c *fiber.Ctx) error {
	return controllers.HandleRequestTranscript(c)
}

// PostPlay counts one free in-app play of the media item.
func (s *APIServer) PostPlay(c *fiber.Ctx) error {
	return controllers.HandleRecordPlay(c)
}

// PostAssetDownload charges a download and returns a presigned link.
func (s *APIServer) PostAssetDownload(c *fiber.Ctx) error {
	return controllers.HandleDownloadAsset(c)
}

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/AudioFox/app/controllers"
	"github.com/ManuelReschke/AudioFox/app/repository"
	"github.com/ManuelReschke/AudioFox/internal/pkg/audiostore"
	"github.com/ManuelReschke/AudioFox/internal/pkg/billing"
	"github.com/ManuelReschke/AudioFox/internal/pkg/cache"
	"github.com/ManuelReschke/AudioFox/internal/pkg/database"
	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
	"github.com/ManuelReschke/AudioFox/internal/pkg/importer"
	"github.com/ManuelReschke/AudioFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
	"github.com/ManuelReschke/AudioFox/internal/pkg/pipeline"
	"github.com/ManuelReschke/AudioFox/internal/pkg/router"
	"github.com/ManuelReschke/AudioFox/internal/pkg/worker"
)

func main() {
	app := NewApplication()

	// Graceful shutdown: stop taking requests, then drain the queue workers.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}
		jobqueue.GetManager().Stop()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	led := ledger.New(db)
	billingSvc := billing.NewServiceFromDB(db)

	stripeClient, err := billing.NewStripeClient()
	if err != nil {
		log.Printf("Stripe client unavailable, checkout endpoints disabled: %v", err)
	}

	var store *audiostore.Client
	if cfg, err := audiostore.LoadConfig(); err != nil {
		log.Printf("Audio storage unavailable, downloads disabled: %v", err)
	} else if store, err = audiostore.NewClient(cfg); err != nil {
		log.Fatalf("Failed to connect to audio storage: %v", err)
	}

	pipe := pipeline.NewClient()

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()
	enqueuer := jobqueue.NewEnqueuer(queue)

	importCtl := importer.NewController(importer.NewStore(db), led, importer.NewHTTPSourceClient(), enqueuer)
	worker.RegisterHandlers(queue, importCtl, pipe, repos)
	manager.Start()

	controllers.Configure(controllers.Deps{
		Repos:    repos,
		Ledger:   led,
		Billing:  billingSvc,
		Stripe:   stripeClient,
		Importer: importCtl,
		Store:    store,
		Queue:    enqueuer,
	})

	basePaths := []string{
		"./",
		"../../",
		"../../../",
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	app := fiber.New(fiber.Config{
		AppName: "AudioFox",
	})

	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Repos:   repos,
		Ledger:  led,
		Billing: billingSvc,
	})

	return app
}

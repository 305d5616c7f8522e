package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	supa "github.com/supabase-community/supabase-go"
	fiberSwagger "github.com/swaggo/fiber-swagger"

	"github.com/tomaspozo/elevenvoice/api-gateway/config"
	_ "github.com/tomaspozo/elevenvoice/api-gateway/docs"
	"github.com/tomaspozo/elevenvoice/api-gateway/handlers"
	"github.com/tomaspozo/elevenvoice/api-gateway/middleware"
	"github.com/tomaspozo/elevenvoice/api-gateway/utils"
	"github.com/tomaspozo/elevenvoice/internal/db"
	"github.com/tomaspozo/elevenvoice/internal/elevenlabs"
	"github.com/tomaspozo/elevenvoice/internal/storage"
)

// @title ElevenVoice API Gateway
// @version 1.0
// @description Registers voice-agent conversations and queues the jobs that save and extract their audio.
// @BasePath /api/v1
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := config.NewLogger(cfg.LogLevel)
	logger := log.WithField("service", "api-gateway")

	client, err := supa.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey, nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Supabase client")
	}
	store := db.NewPostgrestStore(client, logger)
	blobs := storage.NewSupabaseStore(client.Storage, cfg.Supabase.Bucket, logger)
	provider := elevenlabs.New(cfg.ElevenLabs.APIKey,
		elevenlabs.WithBaseURL(cfg.ElevenLabs.BaseURL),
		elevenlabs.WithLogger(logger),
	)

	h := handlers.NewApplicationHandler(logger, store, store, blobs, provider)
	h.AgentID = cfg.ElevenLabs.AgentID
	h.SignedURLTTL = cfg.SignedURLTTL
	h.SegmentOptions = cfg.SegmentOptions()

	app := newApp(h, logger, cfg.CORSOrigins)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down API Gateway")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Shutdown failed")
		}
	}()

	logger.WithField("port", cfg.Port).Info("Starting API Gateway")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.WithError(err).Fatal("API Gateway stopped")
	}
}

func newApp(h *handlers.ApplicationHandler, log logrus.FieldLogger, corsOrigins string) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          utils.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.RequestIDHeader,
	}))
	app.Use(middleware.RequestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "ok",
			"message": "API Gateway is healthy",
		})
	})
	app.Get("/swagger/*", fiberSwagger.WrapHandler)

	apiV1 := app.Group("/api/v1")

	conversations := apiV1.Group("/conversations")
	conversations.Get("/signed-url", h.GetSignedURL)
	conversations.Post("", h.CreateConversation)
	conversations.Get("/:id", h.GetConversation)
	conversations.Get("/:id/transcript", h.GetTranscript)
	conversations.Get("/:id/audio", h.GetAudio)
	conversations.Get("/:id/segments", h.GetSegments)
	conversations.Post("/:id/save-audio", h.SaveAudio)
	conversations.Post("/:id/process", h.ProcessAudio)
	conversations.Get("/:id/user-audio", h.GetUserAudio)

	apiV1.Get("/jobs/:jobId", h.GetJobStatus)

	return app
}

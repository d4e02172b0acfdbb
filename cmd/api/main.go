package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/markr-app/markr-api/internal/config"
	"github.com/markr-app/markr-api/internal/database"
	"github.com/markr-app/markr-api/internal/handler"
	"github.com/markr-app/markr-api/internal/middleware"
	"github.com/markr-app/markr-api/internal/models"
	"github.com/markr-app/markr-api/internal/repository"
	"github.com/markr-app/markr-api/internal/router"
	"github.com/markr-app/markr-api/internal/service"
	"github.com/markr-app/markr-api/pkg/llm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	assessor, err := llm.NewClient(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer cache.Close()
	} else {
		logger.Warn().Msg("redis url not configured, assessment caching disabled")
	}

	var records repository.AssessmentRecordRepository
	if cfg.DatabaseURL != "" {
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := db.AutoMigrate(&models.AssessmentRecord{}); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		records = repository.NewAssessmentRecordRepository(db)
	} else {
		logger.Warn().Msg("database url not configured, assessment audit log disabled")
	}

	var events service.EventPublisher
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer conn.Close()
		events = service.NewNATSPublisher(conn, "markr.assessments.completed", logger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assessmentService := service.NewAssessmentService(assessor, records, cache, cfg.CacheTTL, events, validate, logger)
	assessmentHandler := handler.NewAssessmentHandler(assessmentService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    32 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssessmentHandler: assessmentHandler,
		APIKeyMiddleware:  middleware.APIKeyAuth(cfg.APIKeys),
		RateLimiter:       middleware.RateLimit("assessments", cfg.RateLimitMax, cfg.RateLimitWindow),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

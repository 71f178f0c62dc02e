package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/access"
	"github.com/bidboard/backend/internal/api/handlers"
	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/collab"
	"github.com/bidboard/backend/internal/extraction"
	"github.com/bidboard/backend/internal/metrics"
	"github.com/bidboard/backend/internal/middleware/ratelimit"
	"github.com/bidboard/backend/internal/middleware/security"
	"github.com/bidboard/backend/internal/storage/sqlite"
	"github.com/bidboard/backend/pkg/config"
	appLogger "github.com/bidboard/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting BidBoard API Server")

	metrics.Init()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer db.Close()

	err = db.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache extraction.Cache
	if cfg.Redis.Enabled {
		redisCache, err := extraction.NewRedisCache(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, falling back to in-memory extraction cache", zap.Error(err))
			cache = extraction.NewMemoryCache()
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	} else {
		cache = extraction.NewMemoryCache()
	}

	extractor := extraction.NewOpenAIExtractor(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	extractionLimiter := ratelimit.New(ratelimit.Config{
		Limit:          cfg.Extraction.RateLimit,
		WindowDuration: time.Duration(cfg.Extraction.RateWindowSec) * time.Second,
		Logger:         appLogger.GetLogger(),
	})
	defer extractionLimiter.Stop()

	apiLimiter := ratelimit.New(ratelimit.Config{
		Limit:          cfg.Extraction.APIRateLimit,
		WindowDuration: time.Duration(cfg.Extraction.APIRateWindowSec) * time.Second,
		Logger:         appLogger.GetLogger(),
	})
	defer apiLimiter.Stop()

	verifier := auth.NewVerifier(db)
	checker := access.NewChecker(db)
	hub := collab.NewHub(db)

	service := extraction.NewService(
		db,
		checker,
		extractionLimiter,
		cache,
		extractor,
		extraction.PassthroughText,
		extraction.Config{
			MaxFileSize:  cfg.Extraction.MaxFileSize,
			AllowedTypes: cfg.Extraction.AllowedTypes,
			Timeout:      time.Duration(cfg.Extraction.TimeoutSec) * time.Second,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	collabHandler := handlers.NewCollabHandler(hub, verifier, checker)
	extractionHandler := handlers.NewExtractionHandler(service, verifier)
	commentsHandler := handlers.NewCommentsHandler(db, verifier, checker)

	api := app.Group("/api/v1", apiLimiter.Middleware("api"))

	api.Post("/uploads/:id/extract", extractionHandler.Extract)
	api.Get("/responses/:id/comments", commentsHandler.ListComments)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", collabHandler.Upgrade)
	app.Get("/ws/responses/:id", websocket.New(collabHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

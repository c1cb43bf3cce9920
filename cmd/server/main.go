package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/trackmash/api/internal/cache"
	"github.com/trackmash/api/internal/client"
	"github.com/trackmash/api/internal/config"
	"github.com/trackmash/api/internal/delivery"
	"github.com/trackmash/api/internal/handler"
	"github.com/trackmash/api/internal/media"
	"github.com/trackmash/api/internal/middleware"
	"github.com/trackmash/api/internal/pipeline"
	"github.com/trackmash/api/internal/service"
	"github.com/trackmash/api/internal/worker"
	ws "github.com/trackmash/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Delivery cache
	store, err := cache.NewStore(cfg.Cache.Dir, cfg.Cache.TTL())
	if err != nil {
		log.Fatalf("Failed to init delivery cache: %v", err)
	}

	// Media tooling and mail transport
	ffmpeg := media.NewFFmpeg(&cfg.Media)
	ytdlp := media.NewYtDlp(&cfg.Media, ffmpeg)

	var mailer delivery.Mailer
	sendgridClient := client.NewSendGridClient(&cfg.SendGrid)
	if sendgridClient.IsConfigured() {
		mailer = sendgridClient
	} else {
		log.Printf("Warning: SendGrid not configured, push delivery disabled")
	}

	// Pipeline
	dispatcher := delivery.NewDispatcher(store, mailer, cfg.Delivery.PublicBaseURL)
	orchestrator := pipeline.NewOrchestrator(ytdlp, ytdlp, ffmpeg, dispatcher, cfg.Pipeline)

	// Services and handlers
	mashupService := service.NewMashupService(redisClient, asynqClient, orchestrator, hub, cfg.Pipeline.Mode)
	mashupHandler := handler.NewMashupHandler(mashupService, validate, cfg.Pipeline.MaxItems, cfg.Pipeline.MaxClipSeconds)
	downloadHandler := handler.NewDownloadHandler(store)

	// Middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Pull delivery (always public; tokens are unguessable)
	app.Get("/download/:token", downloadHandler.Get)

	// API routes, bearer-auth protected when a secret is configured
	api := app.Group("/api")
	if cfg.Auth.JWTSecret != "" {
		authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
		api.Use(authMiddleware.Authenticate())
	}

	mashup := api.Group("/mashup")
	mashup.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), mashupHandler.Submit)
	mashup.Get("/status/:jobId", mashupHandler.Status)
	mashup.Get("/result/:jobId", mashupHandler.Result)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Embedded worker server when jobs run through the queue
	if cfg.Pipeline.Mode == service.ModeQueue {
		go startWorkerServer(cfg, mashupService)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, mashupService *service.MashupService) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"mashup": 10,
			},
		},
	)

	mashupWorker := worker.NewMashupWorker(mashupService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeMashup, mashupWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}

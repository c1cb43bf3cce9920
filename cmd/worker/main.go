package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/trackmash/api/internal/cache"
	"github.com/trackmash/api/internal/client"
	"github.com/trackmash/api/internal/config"
	"github.com/trackmash/api/internal/delivery"
	"github.com/trackmash/api/internal/media"
	"github.com/trackmash/api/internal/pipeline"
	"github.com/trackmash/api/internal/service"
	"github.com/trackmash/api/internal/worker"
	ws "github.com/trackmash/api/internal/websocket"
)

// Standalone queue consumer. Deployments that keep the API process small run
// this next to cmd/server with pipeline.mode set to "queue".
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	store, err := cache.NewStore(cfg.Cache.Dir, cfg.Cache.TTL())
	if err != nil {
		log.Fatalf("init delivery cache: %v", err)
	}

	// The opportunistic sweeps on put/get leave nothing to reclaim idle-period
	// garbage in a worker-only process, so sweep on a ticker here as well.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.Sweep()
			}
		}
	}()

	ffmpeg := media.NewFFmpeg(&cfg.Media)
	ytdlp := media.NewYtDlp(&cfg.Media, ffmpeg)

	var mailer delivery.Mailer
	sendgridClient := client.NewSendGridClient(&cfg.SendGrid)
	if sendgridClient.IsConfigured() {
		mailer = sendgridClient
	} else {
		log.Printf("Warning: SendGrid not configured, push delivery disabled")
	}

	dispatcher := delivery.NewDispatcher(store, mailer, cfg.Delivery.PublicBaseURL)
	orchestrator := pipeline.NewOrchestrator(ytdlp, ytdlp, ffmpeg, dispatcher, cfg.Pipeline)

	hub := ws.NewHub()
	go hub.Run()

	mashupService := service.NewMashupService(redisClient, asynqClient, orchestrator, hub, service.ModeQueue)
	mashupWorker := worker.NewMashupWorker(mashupService)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"mashup": 10,
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeMashup, mashupWorker.ProcessTask)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"storybookai/internal/ratelimit"
	"storybookai/internal/util"
	"storybookai/pkg/apiclient"
	"storybookai/pkg/connectivity"
	"storybookai/pkg/events"
	"storybookai/pkg/queue"
	"storybookai/pkg/session"
	"storybookai/pkg/storage"
	"storybookai/pkg/store"
	"storybookai/services/worker/internal/app"
	"storybookai/services/worker/internal/config"
)

func main() {
	path := config.ConfigPath
	if v := os.Getenv("WORKER_CONFIG"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	sess, err := session.Open(ctx, store.NewRedisStoreFromClient(rdb, cfg.SessionPrefix), logger)
	if err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	probe, err := connectivity.NewDialChecker(cfg.APIBaseURL, 2*time.Second)
	if err != nil {
		log.Fatalf("failed to init connectivity probe: %v", err)
	}
	client := apiclient.NewClient(apiclient.Config{
		BaseURL: cfg.APIBaseURL,
		Tokens:  sess,
		Probe:   probe,
		Logger:  logger,
	})

	jobs, err := queue.NewRedisJobQueueFromClient(rdb, queue.RedisQueueConfig{
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	var limiter app.Limiter
	if cfg.SubmitRateLimitPerMinute > 0 {
		l, err := ratelimit.NewFixedWindowLimiterFromClient(rdb, "storybook:worker:ratelimit", cfg.SubmitRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		limiter = l
	}

	var objects storage.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	} else {
		objects, err = storage.NewFileStore(cfg.ArchiveDir)
	}
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
	} else {
		logger.Warn("amqp_disabled", "reason", "no amqpUrl configured; book.ready events stay in memory")
		publisher = events.NewMemoryPublisher()
	}
	defer publisher.Close()

	worker, err := app.New(app.Config{
		API:      client,
		Session:  sess,
		Email:    cfg.Email,
		Password: cfg.Password,
		Jobs:     jobs,
		Limiter:  limiter,
		Archive:  storage.NewArchive(objects, 24*time.Hour),
		Events:   publisher,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}

	jobs.Start(ctx, cfg.QueueConcurrency, worker.Handle)
	slog.Info("worker started", "stream", cfg.QueueStream, "group", cfg.QueueGroup, "concurrency", cfg.QueueConcurrency)
	<-ctx.Done()
	jobs.Wait()
	slog.Info("worker stopped")
}

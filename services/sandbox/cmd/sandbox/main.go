package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"storybookai/internal/util"
	"storybookai/services/sandbox/internal/app"
	"storybookai/services/sandbox/internal/config"
	"storybookai/services/sandbox/internal/server"
)

func main() {
	path := config.ConfigPath
	if v := os.Getenv("SANDBOX_CONFIG"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		JWTSecret:       cfg.JWTSecret,
		SessionTTL:      sessionTTL,
		CoverAfterPolls: cfg.CoverAfterPolls,
		PDFAfterPolls:   cfg.PDFAfterPolls,
		SeedDemo:        cfg.SeedDemo,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var rdb *redis.Client
	if cfg.RateLimitPerMinute > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	httpServer, err := server.New(server.Config{
		App:                appCore,
		RedisClient:        rdb,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     proxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sandbox server listening", "addr", addr, "seed_demo", cfg.SeedDemo)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/quake-alert-bot/internal/adapter/bluesky"
	httpadapter "github.com/couchcryptid/quake-alert-bot/internal/adapter/http"
	"github.com/couchcryptid/quake-alert-bot/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert-bot/internal/adapter/kandilli"
	"github.com/couchcryptid/quake-alert-bot/internal/adapter/postgres"
	"github.com/couchcryptid/quake-alert-bot/internal/config"
	"github.com/couchcryptid/quake-alert-bot/internal/domain"
	"github.com/couchcryptid/quake-alert-bot/internal/observability"
	"github.com/couchcryptid/quake-alert-bot/internal/pipeline"
	"github.com/couchcryptid/quake-alert-bot/internal/render"
)

const (
	startupTimeout = 30 * time.Second
	publishTimeout = 60 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("quakebot exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	captions, err := domain.LoadCaptionTemplate(cfg.CaptionTemplate)
	if err != nil {
		return err
	}

	db, err := postgres.NewStore(startCtx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(startCtx); err != nil {
		return err
	}
	store := postgres.NewCachedStore(db, cfg.StoreCacheSize)

	renderer, err := render.NewRenderer(cfg.ImageDir, logger)
	if err != nil {
		return err
	}

	publisher := bluesky.NewClient(cfg.BlueskyHost, cfg.BlueskyHandle, cfg.BlueskyAppPassword, publishTimeout, logger)
	if err := publisher.Login(startCtx); err != nil {
		// Cycles are skipped until a later login attempt succeeds.
		logger.Error("bluesky login failed", "error", err)
	}

	fetcher := kandilli.NewClient(cfg.BulletinURL, cfg.BulletinTimeout, metrics, logger)

	p := pipeline.New(fetcher, store, renderer, publisher, captions, logger, metrics, pipeline.Options{
		MinMagnitude:  cfg.MinMagnitude,
		Interval:      cfg.CheckInterval,
		PostDelay:     cfg.PostDelay,
		DedupFailOpen: cfg.DedupFailOpen,
	})

	var announcer *kafka.Writer
	if cfg.KafkaEnabled() {
		announcer = kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		p.WithAnnouncer(announcer)
		logger.Info("kafka announcements enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka announcements disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start polling loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("poll cycle still running at shutdown deadline")
	}
	if announcer != nil {
		if err := announcer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

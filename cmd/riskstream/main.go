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

	httpadapter "github.com/floodloop/risk-stream/internal/adapter/http"
	kafkaadapter "github.com/floodloop/risk-stream/internal/adapter/kafka"
	"github.com/floodloop/risk-stream/internal/adapter/openweather"
	"github.com/floodloop/risk-stream/internal/cache"
	"github.com/floodloop/risk-stream/internal/config"
	"github.com/floodloop/risk-stream/internal/gate"
	"github.com/floodloop/risk-stream/internal/hub"
	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/floodloop/risk-stream/internal/store"
	"github.com/jonboulle/clockwork"
)

// retryBackoff is the pause before the cache retries a transient upstream
// failure.
const retryBackoff = 500 * time.Millisecond

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	client := openweather.NewClient(cfg.OWMAPIKey, cfg.OWMBaseURL, cfg.UpstreamTimeout, logger, metrics)
	observations := cache.NewObservations(client, cfg.CacheTTL, retryBackoff, clock, logger, metrics)
	memory := store.NewMemory(cfg.HistoryLimit)

	// Alert/snapshot side channel (feature-flagged via KAFKA_ENABLED).
	var publisher hub.Publisher
	var kafkaPublisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		kafkaPublisher = kafkaadapter.NewPublisher(cfg, logger)
		publisher = kafkaPublisher
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "alert_topic", cfg.KafkaAlertTopic, "snapshot_topic", cfg.KafkaSnapshotTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	sessions := hub.New(observations, memory, publisher, hub.Options{
		MinInterval:      cfg.MinPollInterval,
		MaxInterval:      cfg.MaxPollInterval,
		DefaultInterval:  cfg.DefaultPollInterval,
		GracePeriod:      cfg.SessionGracePeriod,
		SubscriberBuffer: cfg.SubscriberBuffer,
	}, clock, logger, metrics)

	admission := gate.New(cfg.RateLimit, cfg.RateWindow, clock, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, sessions, memory, admission, clock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Sweep expired rate-gate buckets.
	go admission.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	sessions.Close()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elga-io/corgi/internal/accounting"
	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/logger"
)

func main() {
	log := logger.New("analytics-worker")
	log.SetStdLog()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: %v", err)
	}
	if cfg.Analytics.Mode != config.AnalyticsStream {
		log.Fatal("analytics-worker needs ANALYTICS_MODE=stream, got %q", cfg.Analytics.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{RedisRequired: true, ClickHouse: true})
	if err != nil {
		log.Fatal("Failed to start: %v", err)
	}
	defer a.Close()

	if a.ClickHouse == nil {
		log.Warn("CLICKHOUSE_ADDR not set, only click counts will be stored")
	}

	consumer := accounting.NewConsumer(a.Redis, a.Store, a.ClickLog(), accounting.ConsumerConfig{
		Stream:     cfg.Redis.StreamName,
		Group:      cfg.Analytics.ConsumerGroup,
		Consumer:   cfg.Analytics.ConsumerName,
		BatchSize:  cfg.Analytics.BatchSize,
		BlockTime:  cfg.Analytics.BlockTime,
		RetryDelay: time.Second,
	}, log)

	if err := consumer.Setup(ctx); err != nil {
		log.Fatal("Failed to create consumer group: %v", err)
	}

	log.Info("Consuming %s as %s/%s", cfg.Redis.StreamName, cfg.Analytics.ConsumerGroup, cfg.Analytics.ConsumerName)
	if err := consumer.Run(ctx); err != nil {
		log.Error("Consumer stopped: %v", err)
	}
	log.Info("Analytics worker stopped")
}

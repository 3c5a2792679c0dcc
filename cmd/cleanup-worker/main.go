package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/cleanup"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/lock"
	"github.com/elga-io/corgi/internal/logger"
)

func main() {
	log := logger.New("cleanup-worker")
	log.SetStdLog()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Redis: true})
	if err != nil {
		log.Fatal("Failed to start: %v", err)
	}
	defer a.Close()

	var locker cleanup.Locker
	if a.Redis != nil {
		locker = lock.NewDistributedLock(a.Redis, cleanup.LockKey, cfg.Cleanup.LockTTL)
	} else {
		log.Warn("Redis disabled, purging without a lock")
	}

	worker := cleanup.NewWorker(a.Store, locker, cfg.Cleanup.Retention, log)
	log.Info("Cleanup worker started, running every %s", cfg.Cleanup.Interval)
	if err := worker.Run(ctx, cfg.Cleanup.Interval); err != nil {
		log.Error("Cleanup worker stopped: %v", err)
	}
}

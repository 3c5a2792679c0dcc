package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/handlers"
	"github.com/elga-io/corgi/internal/logger"
	"github.com/elga-io/corgi/internal/middleware"
)

func main() {
	log := logger.New("redirect-service")
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

	linkCache := a.NewCache()
	recorder := a.NewRecorder()

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled && a.Redis != nil {
		limiter = middleware.NewRateLimiter(a.Redis, cfg.RateLimit.Requests, cfg.RateLimit.Window, log)
	}

	router := handlers.NewRedirectRouter(
		handlers.NewRedirectHandler(a.NewResolver(linkCache), recorder),
		a.NewHealthHandler(),
		limiter,
		log,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return linkCache.Listen(gctx) })
	g.Go(func() error {
		srv := app.NewServer(cfg.Server.RedirectPort, router, cfg.Server)
		return app.Serve(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})

	if err := g.Wait(); err != nil {
		log.Error("Stopped: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := recorder.Close(drainCtx); err != nil {
		log.Warn("Click queue not fully drained: %v", err)
	}
}

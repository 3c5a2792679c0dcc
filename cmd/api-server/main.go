package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/auth"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/handlers"
	"github.com/elga-io/corgi/internal/idgen"
	"github.com/elga-io/corgi/internal/logger"
	"github.com/elga-io/corgi/internal/middleware"
	"github.com/elga-io/corgi/internal/service"
)

func main() {
	log := logger.New("api-server")
	log.SetStdLog()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Redis: true, ClickHouse: true, Migrate: true})
	if err != nil {
		log.Fatal("Failed to start: %v", err)
	}
	defer a.Close()

	gen, err := idgen.NewRandom(cfg.Links.KeywordLength)
	if err != nil {
		log.Fatal("Failed to create keyword generator: %v", err)
	}

	linkCache := a.NewCache()
	res := a.NewResolver(linkCache)

	links := service.NewLinkService(a.Links, gen, res, a.ClickLog(), service.LinkConfig{
		Domains:          cfg.Links.Domains,
		DefaultDomain:    cfg.Links.DefaultDomain,
		KeywordMin:       cfg.Links.KeywordMin,
		KeywordMax:       cfg.Links.KeywordMax,
		GenerateAttempts: cfg.Links.GenerateAttempts,
		AllowAnonymous:   cfg.Links.AllowAnonymous,
		PageLimitDefault: cfg.Links.PageLimitDefault,
		PageLimitMax:     cfg.Links.PageLimitMax,
		BaseURL:          cfg.Server.BaseURL,
	}, log.With("component", "links"))

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	users := service.NewUserService(a.Users, jwtManager)

	recorder := a.NewRecorder()

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled && a.Redis != nil {
		limiter = middleware.NewRateLimiter(a.Redis, cfg.RateLimit.Requests, cfg.RateLimit.Window, log)
	}

	router := handlers.NewAPIRouter(handlers.APIRoutes{
		Links:         handlers.NewLinkHandler(links),
		Auth:          handlers.NewAuthHandler(users, handlers.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}),
		Redirect:      handlers.NewRedirectHandler(res, recorder),
		Health:        a.NewHealthHandler(),
		Authenticator: middleware.NewAuthenticator(jwtManager, cfg.Auth.CookieName),
		RateLimiter:   limiter,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Log:           log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return linkCache.Listen(gctx) })
	g.Go(func() error {
		srv := app.NewServer(cfg.Server.APIPort, router, cfg.Server)
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
	st := recorder.Stats()
	log.Info("Clicks published=%d dropped=%d failed=%d", st.Published, st.Dropped, st.Failed)
}

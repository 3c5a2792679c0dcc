package handlers

import (
	"net/http"

	"github.com/elga-io/corgi/internal/logger"
	"github.com/elga-io/corgi/internal/middleware"
)

type APIRoutes struct {
	Links    *LinkHandler
	Auth     *AuthHandler
	Redirect *RedirectHandler
	Health   *HealthHandler

	Authenticator *middleware.Authenticator
	// RateLimiter guards the redirect route when set.
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Log         *logger.Logger
}

// NewAPIRouter serves the link API, the auth endpoints, the health check
// and the redirect route.
func NewAPIRouter(rt APIRoutes) http.Handler {
	mux := http.NewServeMux()
	optional, required := rt.Authenticator.Optional, rt.Authenticator.Required

	mux.Handle("POST /api/v1/links", optional(http.HandlerFunc(rt.Links.Create)))
	mux.Handle("GET /api/v1/links", required(http.HandlerFunc(rt.Links.List)))
	mux.Handle("GET /api/v1/links/{id}", optional(http.HandlerFunc(rt.Links.Get)))
	mux.Handle("PATCH /api/v1/links/{id}", required(http.HandlerFunc(rt.Links.Update)))
	mux.Handle("DELETE /api/v1/links/{id}", required(http.HandlerFunc(rt.Links.Delete)))
	mux.Handle("GET /api/v1/links/{id}/clicks", required(http.HandlerFunc(rt.Links.Clicks)))
	mux.Handle("GET /api/v1/links/{id}/stats", required(http.HandlerFunc(rt.Links.Stats)))
	mux.Handle("GET /api/v1/links/{id}/qrcode", optional(http.HandlerFunc(rt.Links.QRCode)))

	mux.HandleFunc("POST /api/auth/register", rt.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", rt.Auth.Login)
	mux.HandleFunc("POST /api/auth/logout", rt.Auth.Logout)
	mux.Handle("GET /api/auth/me", required(http.HandlerFunc(rt.Auth.Me)))
	mux.Handle("PATCH /api/auth/me", required(http.HandlerFunc(rt.Auth.UpdateMe)))

	if rt.Health != nil {
		mux.HandleFunc("GET /health", rt.Health.Check)
	}
	if rt.Redirect != nil {
		mux.Handle("GET /{domain}/{keyword}", limited(rt.RateLimiter, http.HandlerFunc(rt.Redirect.HandleRedirect)))
	}

	return middleware.Chain(
		middleware.RequestID(rt.Log),
		middleware.Recovery,
		middleware.Logging,
		middleware.CORS(rt.CORSOrigins),
	)(mux)
}

// NewRedirectRouter serves only the redirect route and the health check.
func NewRedirectRouter(redirect *RedirectHandler, health *HealthHandler, limiter *middleware.RateLimiter, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{domain}/{keyword}", limited(limiter, http.HandlerFunc(redirect.HandleRedirect)))
	if health != nil {
		mux.HandleFunc("GET /health", health.Check)
	}

	return middleware.Chain(
		middleware.RequestID(log),
		middleware.Recovery,
		middleware.Logging,
	)(mux)
}

func limited(rl *middleware.RateLimiter, h http.Handler) http.Handler {
	if rl == nil {
		return h
	}
	return rl.Middleware(h)
}

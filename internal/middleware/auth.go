package middleware

import (
	"net/http"
	"strings"

	"github.com/elga-io/corgi/internal/auth"
	"github.com/elga-io/corgi/internal/httpx"
)

// Authenticator reads a JWT from the Authorization header or, failing
// that, the session cookie.
type Authenticator struct {
	jwt        *auth.JWTManager
	cookieName string
}

func NewAuthenticator(jwt *auth.JWTManager, cookieName string) *Authenticator {
	return &Authenticator{jwt: jwt, cookieName: cookieName}
}

func (a *Authenticator) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return strings.TrimSpace(h)
	}
	if c, err := r.Cookie(a.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// Optional lets anonymous requests through. A credential that is present
// but invalid is still rejected.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.token(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.jwt.ValidateToken(token)
		if err != nil {
			httpx.LoggerFrom(r.Context()).Debug("Rejected token: %v", err)
			httpx.WriteStatus(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := httpx.WithUserID(r.Context(), claims.UserID)
		ctx = httpx.WithLogger(ctx, httpx.LoggerFrom(ctx).With("user_id", claims.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Required rejects anonymous requests.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return a.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpx.UserIDFrom(r.Context()) == "" {
			httpx.WriteStatus(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/events"
	"github.com/elga-io/corgi/internal/httpx"
	"github.com/elga-io/corgi/internal/resolver"
)

// ClickRecorder accepts click events without blocking.
type ClickRecorder interface {
	Record(e *events.ClickEvent) bool
}

type RedirectHandler struct {
	resolver *resolver.Resolver
	clicks   ClickRecorder
}

// NewRedirectHandler builds the redirect endpoint. clicks may be nil.
func NewRedirectHandler(res *resolver.Resolver, clicks ClickRecorder) *RedirectHandler {
	return &RedirectHandler{resolver: res, clicks: clicks}
}

// HandleRedirect serves GET /{domain}/{keyword}. Unknown, inactive and
// deleted codes all answer 404; the click is queued after the lookup and
// never delays or fails the redirect.
func (h *RedirectHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	domain, keyword := r.PathValue("domain"), r.PathValue("keyword")

	target, err := h.resolver.Resolve(r.Context(), domain, keyword)
	if err != nil {
		if errx.KindOf(err) == errx.NotFound {
			if errors.Is(err, resolver.ErrInactive) {
				httpx.LoggerFrom(r.Context()).Debug("Inactive link %s/%s requested", domain, keyword)
			}
			httpx.WriteStatus(w, r, http.StatusNotFound, "short link not found")
			return
		}
		httpx.WriteError(w, r, err)
		return
	}

	if h.clicks != nil && r.Method == http.MethodGet {
		h.clicks.Record(&events.ClickEvent{
			LinkID:    target.LinkID,
			Domain:    target.Domain,
			Keyword:   target.Keyword,
			IP:        httpx.ClientIP(r),
			UserAgent: r.UserAgent(),
			Referer:   r.Referer(),
		})
	}

	w.Header().Set("Cache-Control", "private, no-cache")
	http.Redirect(w, r, target.URL, http.StatusFound)
}

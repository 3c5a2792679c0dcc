package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/models"
)

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind errx.Kind) int {
	switch kind {
	case errx.Invalid:
		return http.StatusBadRequest
	case errx.Unauthorized:
		return http.StatusUnauthorized
	case errx.Forbidden:
		return http.StatusForbidden
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Conflict:
		return http.StatusConflict
	case errx.ResourceExhausted, errx.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData wraps v in the {"data": ...} envelope.
func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, models.DataResponse{Data: v})
}

type suggester interface {
	SuggestedKeywords() []string
}

// WriteError renders err in the error envelope. Internal failures are
// logged and reported with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errx.KindOf(err)
	status := StatusOf(kind)

	msg := errx.Message(err)
	if status == http.StatusInternalServerError {
		LoggerFrom(r.Context()).Error("%s %s failed: %v", r.Method, r.URL.Path, err)
		msg = http.StatusText(status)
	} else if status == http.StatusServiceUnavailable {
		LoggerFrom(r.Context()).Warn("%s %s unavailable: %v", r.Method, r.URL.Path, err)
	}

	resp := models.ErrorResponse{
		ID:      RequestIDFrom(r.Context()),
		URL:     r.URL.Path,
		Status:  status,
		Message: msg,
		Field:   errx.FieldOf(err),
	}
	var s suggester
	if errors.As(err, &s) {
		resp.Suggestions = s.SuggestedKeywords()
	}
	WriteJSON(w, status, resp)
}

// WriteStatus renders a bare status in the error envelope.
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteJSON(w, status, models.ErrorResponse{
		ID:      RequestIDFrom(r.Context()),
		URL:     r.URL.Path,
		Status:  status,
		Message: msg,
	})
}

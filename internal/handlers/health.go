package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/elga-io/corgi/internal/httpx"
)

type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
	// Stats, when set, adds details to a healthy component.
	Stats func(ctx context.Context) any
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Stats  any    `json:"stats,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthHandler(timeout time.Duration, checks ...HealthCheck) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Check runs every component check concurrently and answers 503 if any
// of them fails.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res := healthResponse{Status: "ok", Components: make([]componentStatus, len(h.checks))}
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := componentStatus{Name: c.Name, Status: "ok"}
			if err := c.Check(ctx); err != nil {
				st.Status, st.Error = "down", err.Error()
			} else if c.Stats != nil {
				st.Stats = c.Stats(ctx)
			}
			res.Components[i] = st
		}()
	}
	wg.Wait()

	status := http.StatusOK
	for _, c := range res.Components {
		if c.Status != "ok" {
			res.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	httpx.WriteJSON(w, status, res)
}

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/cloverville/internal/clock"
)

// checkTimeout bounds the readiness checks of one request.
const checkTimeout = 5 * time.Second

// Status represents a health check result.
type Status struct {
	Status        string            `json:"status"`
	Version       string            `json:"version,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
	LastPublished string            `json:"last_published,omitempty"`
	Timestamp     string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu            sync.RWMutex
	ready         bool
	lastPublished time.Time

	version  string
	checkers []Checker
	clock    clock.Clock
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, version string, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, version: version, clock: clk}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// MarkPublished records the time of the last successful publish.
func (h *Handler) MarkPublished(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPublished = t
}

// Mount registers /healthz and /readyz on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.status("ok", nil))
	}
}

// ReadinessHandler returns HTTP 200 if the service is ready and every
// checker passes.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, h.status("not_ready", nil))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		checks := make(map[string]string, len(h.checkers))
		allOK := true
		for _, c := range h.checkers {
			if err := c.Check(ctx); err != nil {
				checks[c.Name] = err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
		}

		if !allOK {
			writeJSON(w, http.StatusServiceUnavailable, h.status("not_ready", checks))
			return
		}
		writeJSON(w, http.StatusOK, h.status("ready", checks))
	}
}

func (h *Handler) status(s string, checks map[string]string) Status {
	h.mu.RLock()
	last := h.lastPublished
	h.mu.RUnlock()

	st := Status{
		Status:    s,
		Version:   h.version,
		Checks:    checks,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
	}
	if !last.IsZero() {
		st.LastPublished = last.UTC().Format(time.RFC3339)
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package heartbeat serves the endpoint devices probe to classify their link.
//
// The heartbeat answers 204 with no body and Cache-Control: no-store so that
// neither the device nor an intermediary can answer a probe from cache.
package heartbeat

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/attendsync/internal/logging"
)

// Path is the heartbeat route.
const Path = "/api/heartbeat"

// ReadyPath is the readiness route.
const ReadyPath = "/api/ready"

// DefaultReadyTimeout bounds one readiness check.
const DefaultReadyTimeout = 2 * time.Second

// Pinger checks a dependency the server needs to be ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds heartbeat settings.
type Config struct {
	// Ready is checked by the readiness route. Nil means always ready.
	Ready        Pinger
	ReadyTimeout time.Duration
}

// Handler serves the heartbeat and readiness routes.
type Handler struct {
	ready   Pinger
	timeout time.Duration
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &Handler{ready: cfg.Ready, timeout: cfg.ReadyTimeout}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Head(Path, h.Heartbeat)
	r.Get(Path, h.Heartbeat)
	r.Get(ReadyPath, h.Ready)
}

// Router returns a router serving only the heartbeat routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// Heartbeat handles HEAD|GET /api/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// Ready handles GET /api/ready: 204 when the dependency answers, 503 when not.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.ready.Ping(ctx); err != nil {
			logging.Warn("Readiness check failed", map[string]interface{}{"error": err.Error()})
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/attendsync/internal/heartbeat"
)

// RouterConfig selects the routes served by NewRouter. Nil members are not
// mounted.
type RouterConfig struct {
	Heartbeat *heartbeat.Handler
	Sync      *SyncHandler
	Hub       *Hub
	// Metrics serves GET /metrics.
	Metrics http.Handler
	// Timeout bounds non-WebSocket requests. Zero disables it.
	Timeout time.Duration
}

// NewRouter builds the local API router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		if cfg.Timeout > 0 {
			r.Use(middleware.Timeout(cfg.Timeout))
		}
		if cfg.Heartbeat != nil {
			cfg.Heartbeat.Mount(r)
		}
		if cfg.Sync != nil {
			r.Route("/api/sync", func(r chi.Router) {
				r.Get("/status", cfg.Sync.GetStatus)
				r.Post("/now", cfg.Sync.SyncNow)
			})
		}
		if cfg.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", cfg.Metrics)
		}
	})
	return r
}

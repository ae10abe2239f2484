// Package httptransport assembles the process router.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"identify/pkg/platform/httputil"
	"identify/pkg/platform/middleware/request"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Pinger reports whether the store behind the service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves.
type Deps struct {
	Logger   *slog.Logger
	Identify Registrar
	Store    Pinger
	Gatherer prometheus.Gatherer
}

const healthTimeout = 2 * time.Second

// NewRouter wires /healthz, /metrics, and the identify routes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", healthz(deps))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	deps.Identify.Register(r)
	return r
}

func healthz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if deps.Store != nil {
			if err := deps.Store.Ping(ctx); err != nil {
				deps.Logger.WarnContext(ctx, "health check failed",
					"request_id", request.GetRequestID(ctx),
					"error", err.Error(),
				)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

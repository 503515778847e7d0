package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store   Pinger
	logger  *slog.Logger
	version string
	started time.Time
}

func NewHealthHandler(store Pinger, version string, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		store:   store,
		logger:  logger.With(slog.String("handler", "health")),
		version: version,
		started: time.Now().UTC(),
	}
}

// Routes returns the chi router for the health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Liveness)
	r.Get("/live", h.Liveness)
	r.Get("/ready", h.Readiness)
	return r
}

// Liveness handles GET /api/health. It reports process health only.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"version":   h.version,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// Readiness handles GET /api/health/ready. It checks the database.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "readiness check failed",
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]any{
			"status": "unavailable",
			"checks": map[string]string{"database": err.Error()},
		})
		return
	}

	render.JSON(w, r, map[string]any{
		"status": "ready",
		"checks": map[string]string{"database": "ok"},
	})
}

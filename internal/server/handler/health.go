package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// pingTimeout bounds each dependency check.
const pingTimeout = 2 * time.Second

// ConfigReader is the slice of the engine the health check needs.
type ConfigReader interface {
	PlatformConfig(ctx context.Context) (domain.PlatformConfig, error)
}

// Dependency is a named dependency check such as a Redis or Postgres ping.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	cfg    ConfigReader
	deps   []Dependency
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Every dependency is pinged on
// each request.
func NewHealthHandler(cfg ConfigReader, logger *slog.Logger, deps ...Dependency) *HealthHandler {
	return &HealthHandler{cfg: cfg, deps: deps, logger: logHandler(logger, "health")}
}

// HealthCheck reports liveness, each dependency ping and whether the ledger
// answers. The pause flag is included so operators can see an emergency stop
// at a glance.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if len(h.deps) > 0 {
		checks := make(map[string]string, len(h.deps))
		for _, d := range h.deps {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := d.Ping(pctx)
			cancel()
			if err != nil {
				h.logger.WarnContext(ctx, "health: dependency down",
					slog.String("dependency", d.Name),
					slog.String("error", err.Error()),
				)
				checks[d.Name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[d.Name] = "up"
		}
		body["checks"] = checks
	}

	cfg, err := h.cfg.PlatformConfig(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "health: ledger unavailable", slog.String("error", err.Error()))
		status = http.StatusServiceUnavailable
	} else {
		body["paused"] = cfg.Paused
	}

	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

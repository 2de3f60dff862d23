package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/cadence/internal/api/response"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

// Pinger is any dependency whose reachability is reported by /api/health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports a gauge such as active generations or open connections.
type Counter func() int

// HealthDeps are the inputs to the health handler. Nil fields are skipped.
type HealthDeps struct {
	Version     string
	Checks      map[string]Pinger
	Active      Counter
	Connections Counter
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/health. Any failed
// check turns the response into a 503 with the same body.
func NewHealthHandler(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := models.HealthResponse{
			Status:     "ok",
			Version:    deps.Version,
			Components: make(map[string]string, len(deps.Checks)),
		}

		for name, p := range deps.Checks {
			if err := p.Ping(r.Context()); err != nil {
				body.Components[name] = "degraded"
				body.Status = "degraded"
				continue
			}
			body.Components[name] = "ok"
		}
		if deps.Active != nil {
			body.ActiveGenerations = deps.Active()
		}
		if deps.Connections != nil {
			body.Connections = deps.Connections()
		}

		status := http.StatusOK
		if body.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		response.JSON(w, status, body)
	}
}

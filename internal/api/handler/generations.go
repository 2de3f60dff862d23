package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/cadence/internal/api/response"
	"github.com/kiranshivaraju/cadence/internal/generation"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

// SnapshotReader returns the last known update of a generation.
type SnapshotReader interface {
	Latest(ctx context.Context, id string) (*models.GenerationUpdate, error)
}

// NewGetGenerationHandler returns an http.HandlerFunc for
// GET /api/generations/{id}.
func NewGetGenerationHandler(snapshots SnapshotReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "id is required")
			return
		}

		u, err := snapshots.Latest(r.Context(), id)
		if err != nil {
			if errors.Is(err, generation.ErrSnapshotNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "Generation not found")
				return
			}
			slog.Error("failed to load generation snapshot", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred")
			return
		}

		response.Update(w, u)
	}
}

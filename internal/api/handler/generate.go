package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/cadence/internal/api/response"
	"github.com/kiranshivaraju/cadence/internal/generation"
	"github.com/kiranshivaraju/cadence/internal/intake"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

const maxGenerateBody = 64 << 10

// NewGenerateHandler returns an http.HandlerFunc for POST /api/generate.
// It only creates the record; progress starts when the client sends
// start-generation over the realtime channel.
func NewGenerateHandler(faults generation.FaultInjector, now func() time.Time) http.HandlerFunc {
	if faults == nil {
		faults = generation.NoFaults{}
	}
	if now == nil {
		now = time.Now
	}

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)

		var req models.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodeInvalidRequest, "Request body too large")
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body")
			return
		}

		raw, ok := req.Prompt.(string)
		if !ok {
			raw = ""
		}

		gen, err := intake.NewGeneration(raw, now())
		if err != nil {
			var verr *intake.ValidationError
			if errors.As(err, &verr) {
				response.Error(w, http.StatusBadRequest, "", verr.Message)
				return
			}
			slog.Error("failed to create generation", "error", err)
			response.Error(w, http.StatusInternalServerError, "", "Failed to start generation")
			return
		}

		if f := faults.Inspect(gen.Prompt); f.Kind == generation.FaultCredits {
			slog.Info("generation refused", "job_id", gen.ID, "reason", "insufficient_credits")
			response.Error(w, http.StatusPaymentRequired, response.CodeInsufficientCredits, f.Message)
			return
		}

		slog.Info("generation created", "job_id", gen.ID)
		response.Generation(w, gen)
	}
}

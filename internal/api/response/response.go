package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/cadence/pkg/models"
)

// Error codes used in error bodies.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInsufficientCredits = models.CodeInsufficientCredits
	CodeNotFound            = "not_found"
	CodeRateLimited         = "rate_limit_exceeded"
	CodeInternal            = "internal_error"
	CodeNotImplemented      = "not_implemented"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

// Generation writes a 200 {success:true, generation}.
func Generation(w http.ResponseWriter, g *models.Generation) {
	writeJSON(w, http.StatusOK, models.GenerateResponse{Success: true, Generation: g})
}

// Update writes a 200 {success:true, update}.
func Update(w http.ResponseWriter, u *models.GenerationUpdate) {
	writeJSON(w, http.StatusOK, models.UpdateResponse{Success: true, Update: u})
}

// Error writes {error, code}. code may be empty.
func Error(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response body", "error", err)
	}
}

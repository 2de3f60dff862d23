package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/cadence/internal/api/middleware"
	"github.com/kiranshivaraju/cadence/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler        http.HandlerFunc
	GenerateHandler      http.HandlerFunc
	GetGenerationHandler http.HandlerFunc
	Socket               http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS(deps.AllowedOrigins))

	// Realtime upgrade; the hub checks origins itself.
	if deps.Socket != nil {
		r.Method(http.MethodGet, "/socket", deps.Socket)
	} else {
		r.Get("/socket", orNotImplemented(nil))
	}

	// Public health check
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/generate", orNotImplemented(deps.GenerateHandler))
		r.Get("/api/generations/{id}", orNotImplemented(deps.GetGenerationHandler))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Not found")
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented")
	}
}

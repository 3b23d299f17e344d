package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/blindreview/redactor/internal/api/middleware"
	"github.com/blindreview/redactor/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitRedaction http.HandlerFunc
	RedactionStatus http.HandlerFunc

	ListConfigs     http.HandlerFunc
	GetActiveConfig http.HandlerFunc
	GetConfig       http.HandlerFunc
	CreateConfig    http.HandlerFunc
	ActivateConfig  http.HandlerFunc

	BlindReviewInfo http.HandlerFunc
	RecordExposure  http.HandlerFunc
	RecordOutcome   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/redact", orNotImplemented(deps.SubmitRedaction))
		r.Get("/api/v1/redact/{jurisdictionID}/{caseID}", orNotImplemented(deps.RedactionStatus))

		r.Get("/api/v1/review/{jurisdictionID}/{caseID}", orNotImplemented(deps.BlindReviewInfo))
		r.Post("/api/v1/exposure", orNotImplemented(deps.RecordExposure))
		r.Post("/api/v1/outcome", orNotImplemented(deps.RecordOutcome))

		// Experiment configuration is admin-only.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Get("/api/v1/config", orNotImplemented(deps.ListConfigs))
			r.Get("/api/v1/config/active", orNotImplemented(deps.GetActiveConfig))
			r.Get("/api/v1/config/{version}", orNotImplemented(deps.GetConfig))
			r.Post("/api/v1/config", orNotImplemented(deps.CreateConfig))
			r.Post("/api/v1/config/{version}/activate", orNotImplemented(deps.ActivateConfig))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

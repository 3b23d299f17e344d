// Package handler contains the HTTP handlers behind the chi router. Handlers
// decode and validate requests, call the owning service, and map sentinel
// errors to response envelopes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/blindreview/redactor/internal/api/response"
	"github.com/blindreview/redactor/internal/job"
	"github.com/blindreview/redactor/pkg/models"
)

// Redactor defines the orchestrator surface the redaction handlers depend on.
type Redactor interface {
	Submit(ctx context.Context, req models.RedactionRequest) ([]models.RedactionResult, error)
	Status(ctx context.Context, jurisdictionID, caseID, subjectID string) (*models.RedactionStatus, error)
}

// NewSubmitRedactionHandler returns the handler for POST /api/v1/redact.
// Acceptance is fire-and-forget: a 201 means the jobs are queued, not done.
func NewSubmitRedactionHandler(svc Redactor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RedactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		results, err := svc.Submit(r.Context(), req)
		if err != nil {
			var ve *job.ValidationError
			if errors.As(err, &ve) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", ve.Reason, nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Created(w, models.RedactionStatus{
			JurisdictionID: req.JurisdictionID,
			CaseID:         req.CaseID,
			Requests:       results,
		})
	}
}

// NewRedactionStatusHandler returns the handler for
// GET /api/v1/redact/{jurisdictionID}/{caseID}.
func NewRedactionStatusHandler(svc Redactor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jurisdictionID := chi.URLParam(r, "jurisdictionID")
		caseID := chi.URLParam(r, "caseID")
		subjectID := r.URL.Query().Get("subject_id")

		status, err := svc.Status(r.Context(), jurisdictionID, caseID, subjectID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, status)
	}
}

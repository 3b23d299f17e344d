package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blindreview/redactor/internal/api/response"
	"github.com/blindreview/redactor/internal/experiment"
	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

// AliasLookup resolves a case's masked-subject table.
type AliasLookup interface {
	Lookup(ctx context.Context, jurisdictionID, caseID string) ([]models.MaskedSubject, error)
}

// EventRecorder persists research events.
type EventRecorder interface {
	RecordExposure(ctx context.Context, exposure *models.Exposure) error
	RecordOutcome(ctx context.Context, outcome *models.Outcome) error
}

// NewBlindReviewInfoHandler returns the handler for
// GET /api/v1/review/{jurisdictionID}/{caseID}. Blind review is required
// whenever an experiment config is active.
func NewBlindReviewInfoHandler(aliases AliasLookup, configs ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jurisdictionID := chi.URLParam(r, "jurisdictionID")
		caseID := chi.URLParam(r, "caseID")

		masked, err := aliases.Lookup(r.Context(), jurisdictionID, caseID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if masked == nil {
			masked = []models.MaskedSubject{}
		}

		required := true
		if _, err := configs.GetActive(r.Context()); err != nil {
			if errors.Is(err, experiment.ErrExperimentNotStarted) || errors.Is(err, store.ErrNoActiveConfig) {
				required = false
			} else {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
				return
			}
		}

		response.JSON(w, models.BlindReviewInfo{
			JurisdictionID:      jurisdictionID,
			CaseID:              caseID,
			BlindReviewRequired: required,
			MaskedSubjects:      masked,
		})
	}
}

type exposureRequest struct {
	JurisdictionID   string                `json:"jurisdictionId"`
	CaseID           string                `json:"caseId"`
	SubjectID        string                `json:"subjectId"`
	ReviewerMaskedID string                `json:"reviewingAttorneyMaskedId"`
	DocumentIDs      []string              `json:"documentIds"`
	Protocol         models.ReviewProtocol `json:"protocol"`
}

func (req exposureRequest) validate() string {
	switch {
	case req.JurisdictionID == "":
		return "jurisdictionId is required"
	case req.CaseID == "":
		return "caseId is required"
	case req.SubjectID == "":
		return "subjectId is required"
	case req.Protocol != models.ProtocolBlindReview && req.Protocol != models.ProtocolFinalReview:
		return "protocol must be BLIND_REVIEW or FINAL_REVIEW"
	}
	return ""
}

// NewRecordExposureHandler returns the handler for POST /api/v1/exposure.
func NewRecordExposureHandler(events EventRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req exposureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if msg := req.validate(); msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		exposure := &models.Exposure{
			ID:               uuid.New(),
			JurisdictionID:   req.JurisdictionID,
			CaseID:           req.CaseID,
			SubjectID:        req.SubjectID,
			ReviewerMaskedID: req.ReviewerMaskedID,
			DocumentIDs:      req.DocumentIDs,
			Protocol:         req.Protocol,
			CreatedAt:        time.Now().UTC(),
		}
		if err := events.RecordExposure(r.Context(), exposure); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.Created(w, exposure)
	}
}

type outcomeRequest struct {
	exposureRequest
	Decision      string                   `json:"decision"`
	Explanation   *string                  `json:"explanation,omitempty"`
	Disqualifiers []string                 `json:"disqualifiers,omitempty"`
	Timestamps    *models.ReviewTimestamps `json:"timestamps"`
}

// NewRecordOutcomeHandler returns the handler for POST /api/v1/outcome.
func NewRecordOutcomeHandler(events EventRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req outcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if msg := req.validate(); msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}
		if req.Decision == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "decision is required", nil)
			return
		}
		if req.Timestamps == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "timestamps are required", nil)
			return
		}

		outcome := &models.Outcome{
			ID:               uuid.New(),
			JurisdictionID:   req.JurisdictionID,
			CaseID:           req.CaseID,
			SubjectID:        req.SubjectID,
			ReviewerMaskedID: req.ReviewerMaskedID,
			DocumentIDs:      req.DocumentIDs,
			Protocol:         req.Protocol,
			Decision:         req.Decision,
			Explanation:      req.Explanation,
			Disqualifiers:    req.Disqualifiers,
			PageOpenAt:       req.Timestamps.PageOpen,
			DecisionAt:       req.Timestamps.Decision,
			CreatedAt:        time.Now().UTC(),
		}
		if err := events.RecordOutcome(r.Context(), outcome); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.Created(w, outcome)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blindreview/redactor/internal/api/response"
	"github.com/blindreview/redactor/internal/experiment"
	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

// ConfigService defines the experiment service surface the config handlers
// depend on.
type ConfigService interface {
	Create(ctx context.Context, params experiment.CreateParams) (*models.ExperimentConfig, error)
	Activate(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error)
	Get(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error)
	GetActive(ctx context.Context) (*models.ExperimentConfig, error)
	List(ctx context.Context) ([]*models.ExperimentConfig, error)
}

// NewListConfigsHandler returns the handler for GET /api/v1/config.
func NewListConfigsHandler(svc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configs, err := svc.List(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if configs == nil {
			configs = []*models.ExperimentConfig{}
		}
		response.JSON(w, configs)
	}
}

// NewGetActiveConfigHandler returns the handler for GET /api/v1/config/active.
// Before any document has been processed a missing active config is 424, so
// deployment tooling can tell "not started yet" from "misconfigured".
func NewGetActiveConfigHandler(svc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svc.GetActive(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, experiment.ErrExperimentNotStarted):
				response.Error(w, http.StatusFailedDependency, "EXPERIMENT_NOT_STARTED",
					"No documents have been processed yet", nil)
			case errors.Is(err, store.ErrNoActiveConfig):
				response.Error(w, http.StatusNotFound, "NO_ACTIVE_CONFIG",
					"No experiment config is active", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}
		response.JSON(w, cfg)
	}
}

// NewGetConfigHandler returns the handler for GET /api/v1/config/{version}.
func NewGetConfigHandler(svc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := uuid.Parse(chi.URLParam(r, "version"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"version must be a UUID", nil)
			return
		}
		cfg, err := svc.Get(r.Context(), version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "CONFIG_NOT_FOUND",
					"No config with that version", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, cfg)
	}
}

// NewCreateConfigHandler returns the handler for POST /api/v1/config.
func NewCreateConfigHandler(svc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Blob        string  `json:"blob"`
			Parent      *string `json:"parent,omitempty"`
			Name        *string `json:"name,omitempty"`
			Description *string `json:"description,omitempty"`
			Author      *string `json:"author,omitempty"`
			Activate    bool    `json:"activate,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Blob == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "blob is required", nil)
			return
		}

		params := experiment.CreateParams{
			Blob:        req.Blob,
			Name:        req.Name,
			Description: req.Description,
			Author:      req.Author,
			Activate:    req.Activate,
		}
		if req.Parent != nil {
			parent, err := uuid.Parse(*req.Parent)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"parent must be a UUID", nil)
				return
			}
			params.Parent = &parent
		}

		cfg, err := svc.Create(r.Context(), params)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusBadRequest, "PARENT_NOT_FOUND",
					"Parent version does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.Created(w, cfg)
	}
}

// NewActivateConfigHandler returns the handler for
// POST /api/v1/config/{version}/activate.
func NewActivateConfigHandler(svc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := uuid.Parse(chi.URLParam(r, "version"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"version must be a UUID", nil)
			return
		}
		cfg, err := svc.Activate(r.Context(), version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "CONFIG_NOT_FOUND",
					"No config with that version", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.Created(w, cfg)
	}
}

// Package experiment manages versioned experiment configurations. Versions
// are append-only; at most one is active at a time.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

// ErrExperimentNotStarted distinguishes "no config yet, nothing processed"
// from "no active config" once the experiment is underway.
var ErrExperimentNotStarted = errors.New("experiment has not started")

// CreateParams carries the caller-supplied fields of a new config version.
type CreateParams struct {
	Blob        string
	Parent      *uuid.UUID
	Name        *string
	Description *string
	Author      *string
	Activate    bool
}

// Service wraps the store with config validation rules.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Create appends a new config version. The parent, when given, must be an
// existing version.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.ExperimentConfig, error) {
	if params.Blob == "" {
		return nil, fmt.Errorf("config blob is required")
	}
	if params.Parent != nil {
		if _, err := s.store.GetConfig(ctx, *params.Parent); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("parent version %s: %w", params.Parent, store.ErrNotFound)
			}
			return nil, err
		}
	}

	now := time.Now().UTC()
	cfg := &models.ExperimentConfig{
		Version:     uuid.New(),
		Blob:        params.Blob,
		Parent:      params.Parent,
		Name:        params.Name,
		Description: params.Description,
		Author:      params.Author,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("create config version: %w", err)
	}
	if params.Activate {
		if err := s.store.ActivateConfig(ctx, cfg.Version); err != nil {
			return nil, fmt.Errorf("activate new config version: %w", err)
		}
		cfg.Active = true
	}
	return cfg, nil
}

// Activate makes version the single active config.
func (s *Service) Activate(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error) {
	if err := s.store.ActivateConfig(ctx, version); err != nil {
		return nil, err
	}
	return s.store.GetConfig(ctx, version)
}

// Get returns one config version.
func (s *Service) Get(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error) {
	return s.store.GetConfig(ctx, version)
}

// List returns all config versions, oldest first.
func (s *Service) List(ctx context.Context) ([]*models.ExperimentConfig, error) {
	return s.store.ListConfigs(ctx)
}

// GetActive returns the active config. With no active config the error tells
// the caller whether the experiment ever started: ErrExperimentNotStarted
// before the first processed document, store.ErrNoActiveConfig after.
func (s *Service) GetActive(ctx context.Context) (*models.ExperimentConfig, error) {
	cfg, err := s.store.GetActiveConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, store.ErrNoActiveConfig) {
		return nil, err
	}
	n, countErr := s.store.CountCompletedJobs(ctx)
	if countErr != nil {
		return nil, countErr
	}
	if n == 0 {
		return nil, ErrExperimentNotStarted
	}
	return nil, store.ErrNoActiveConfig
}

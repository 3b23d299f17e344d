// Package store is the data access layer. All database operations go through
// the Store interface; Postgres backs production and MemoryStore backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/blindreview/redactor/pkg/models"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrDuplicateKey   = errors.New("duplicate key violation")
	ErrConflict       = errors.New("lost claim race")
	ErrNoActiveConfig = errors.New("no active experiment config")
)

// JobFilter narrows ListJobs.
type JobFilter struct {
	JurisdictionID string
	CaseID         string
	SubjectID      string
}

// Store is the data access interface.
type Store interface {
	Ping(ctx context.Context) error

	// API keys.
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// Redaction jobs. CreateJob returns ErrDuplicateKey when another
	// non-terminal job exists for the same (jurisdiction, case, document).
	CreateJob(ctx context.Context, job *models.RedactionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.RedactionJob, error)
	FindActiveJob(ctx context.Context, jurisdictionID, caseID, documentID string) (*models.RedactionJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.RedactionJob, error)
	// ClaimJob atomically transitions a QUEUED job to PROCESSING under a
	// lease, incrementing its attempt count. Exactly one concurrent caller
	// wins; the rest get ErrConflict. The returned job's LeaseExpiresAt is
	// the claim token the winner must present to finalize or requeue.
	ClaimJob(ctx context.Context, id uuid.UUID, lease time.Duration) (*models.RedactionJob, error)
	// CompleteJob, FailJob, and RequeueJob only apply when the job is still
	// PROCESSING under the caller's claim; a worker whose lease was reaped
	// and re-claimed gets ErrConflict instead of clobbering the new owner.
	CompleteJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, result *models.RedactedDocument) error
	FailJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, errMsg string) error
	// RequeueJob returns a PROCESSING job to QUEUED so another attempt can
	// claim it.
	RequeueJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, detail string) error
	// ReleaseExpiredLeases requeues PROCESSING jobs whose lease lapsed and
	// that still have retry budget, and forces the rest to ERROR. Returns
	// the IDs that were requeued so the caller can re-enqueue them.
	ReleaseExpiredLeases(ctx context.Context, maxAttempts int) ([]uuid.UUID, error)
	CountCompletedJobs(ctx context.Context) (int, error)
	RecordCallbackAttempt(ctx context.Context, attempt *models.CallbackAttempt) error

	// Per-case masked-subject aliases. Saving is first-write-wins so an
	// alias never changes once assigned within a case.
	SaveMaskedSubjects(ctx context.Context, jurisdictionID, caseID string, subjects []models.MaskedSubject) error
	GetMaskedSubjects(ctx context.Context, jurisdictionID, caseID string) ([]models.MaskedSubject, error)

	// Experiment configuration versions (append-only).
	CreateConfig(ctx context.Context, cfg *models.ExperimentConfig) error
	GetConfig(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error)
	GetActiveConfig(ctx context.Context) (*models.ExperimentConfig, error)
	ListConfigs(ctx context.Context) ([]*models.ExperimentConfig, error)
	// ActivateConfig transactionally activates version and deactivates every
	// other version. ErrNotFound leaves the active version unchanged.
	ActivateConfig(ctx context.Context, version uuid.UUID) error

	// Research event logging.
	RecordExposure(ctx context.Context, exposure *models.Exposure) error
	RecordOutcome(ctx context.Context, outcome *models.Outcome) error
}

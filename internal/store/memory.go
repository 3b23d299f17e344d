package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blindreview/redactor/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local development. It keeps
// the same claim and activation semantics as PostgresStore, including the
// single-winner ClaimJob race.
type MemoryStore struct {
	mu       sync.Mutex
	apiKeys  map[uuid.UUID]*models.APIKey
	jobs     map[uuid.UUID]*models.RedactionJob
	attempts []*models.CallbackAttempt
	aliases  map[string]string // "jur/case/subject" -> alias
	configs  map[uuid.UUID]*models.ExperimentConfig
	events   struct {
		exposures []*models.Exposure
		outcomes  []*models.Outcome
	}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apiKeys: make(map[uuid.UUID]*models.APIKey),
		jobs:    make(map[uuid.UUID]*models.RedactionJob),
		aliases: make(map[string]string),
		configs: make(map[uuid.UUID]*models.ExperimentConfig),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.apiKeys[id]; ok {
		now := time.Now()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

// --- Redaction Jobs ---

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.RedactionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.JurisdictionID == job.JurisdictionID && j.CaseID == job.CaseID &&
			j.DocumentID == job.DocumentID && !j.Status.Terminal() {
			return ErrDuplicateKey
		}
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.RedactionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) FindActiveJob(ctx context.Context, jurisdictionID, caseID, documentID string) (*models.RedactionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.RedactionJob
	for _, j := range s.jobs {
		if j.JurisdictionID == jurisdictionID && j.CaseID == caseID &&
			j.DocumentID == documentID && !j.Status.Terminal() {
			if found == nil || j.CreatedAt.After(found.CreatedAt) {
				found = j
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.RedactionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*models.RedactionJob
	for _, j := range s.jobs {
		if j.JurisdictionID != filter.JurisdictionID || j.CaseID != filter.CaseID {
			continue
		}
		if filter.SubjectID != "" && !jobHasSubject(j, filter.SubjectID) {
			continue
		}
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return jobs, nil
}

func jobHasSubject(j *models.RedactionJob, subjectID string) bool {
	for _, sub := range j.MaskedSubjects {
		if sub.SubjectID == subjectID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ClaimJob(ctx context.Context, id uuid.UUID, lease time.Duration) (*models.RedactionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != models.JobQueued {
		return nil, ErrConflict
	}
	now := time.Now()
	expires := now.Add(lease)
	j.Status = models.JobProcessing
	j.Attempts++
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) CompleteJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, result *models.RedactedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !ownsClaim(j, claimedUntil) {
		return ErrConflict
	}
	j.Status = models.JobComplete
	j.Result = result
	j.Error = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FailJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !ownsClaim(j, claimedUntil) {
		return ErrConflict
	}
	j.Status = models.JobError
	j.Error = &errMsg
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RequeueJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !ownsClaim(j, claimedUntil) {
		return ErrConflict
	}
	j.Status = models.JobQueued
	j.StatusDetail = &detail
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

// ownsClaim reports whether the job is still PROCESSING under the lease the
// caller claimed it with.
func ownsClaim(j *models.RedactionJob, claimedUntil time.Time) bool {
	return j.Status == models.JobProcessing &&
		j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Equal(claimedUntil)
}

func (s *MemoryStore) ReleaseExpiredLeases(ctx context.Context, maxAttempts int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var requeued []uuid.UUID
	for _, j := range s.jobs {
		if j.Status != models.JobProcessing || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		if j.Attempts < maxAttempts {
			j.Status = models.JobQueued
			requeued = append(requeued, j.ID)
		} else {
			j.Status = models.JobError
			msg := "retry budget exhausted"
			j.Error = &msg
		}
	}
	return requeued, nil
}

func (s *MemoryStore) CountCompletedJobs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordCallbackAttempt(ctx context.Context, attempt *models.CallbackAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.attempts = append(s.attempts, &cp)
	return nil
}

// CallbackAttempts returns recorded attempts for a job, oldest first.
func (s *MemoryStore) CallbackAttempts(jobID uuid.UUID) []*models.CallbackAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CallbackAttempt
	for _, a := range s.attempts {
		if a.JobID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// --- Masked subjects ---

func aliasKey(jurisdictionID, caseID, subjectID string) string {
	return jurisdictionID + "\x00" + caseID + "\x00" + subjectID
}

func (s *MemoryStore) SaveMaskedSubjects(ctx context.Context, jurisdictionID, caseID string, subjects []models.MaskedSubject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subjects {
		key := aliasKey(jurisdictionID, caseID, sub.SubjectID)
		if _, ok := s.aliases[key]; !ok {
			s.aliases[key] = sub.Alias
		}
	}
	return nil
}

func (s *MemoryStore) GetMaskedSubjects(ctx context.Context, jurisdictionID, caseID string) ([]models.MaskedSubject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := jurisdictionID + "\x00" + caseID + "\x00"
	subjects := []models.MaskedSubject{}
	for key, alias := range s.aliases {
		if strings.HasPrefix(key, prefix) {
			subjects = append(subjects, models.MaskedSubject{
				SubjectID: strings.TrimPrefix(key, prefix),
				Alias:     alias,
			})
		}
	}
	sort.Slice(subjects, func(a, b int) bool { return subjects[a].Alias < subjects[b].Alias })
	return subjects, nil
}

// --- Experiment configs ---

func (s *MemoryStore) CreateConfig(ctx context.Context, cfg *models.ExperimentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[cfg.Version]; ok {
		return ErrDuplicateKey
	}
	cp := *cfg
	s.configs[cfg.Version] = &cp
	return nil
}

func (s *MemoryStore) GetConfig(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[version]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) GetActiveConfig(ctx context.Context) (*models.ExperimentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.configs {
		if cfg.Active {
			cp := *cfg
			return &cp, nil
		}
	}
	return nil, ErrNoActiveConfig
}

func (s *MemoryStore) ListConfigs(ctx context.Context) ([]*models.ExperimentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var configs []*models.ExperimentConfig
	for _, cfg := range s.configs {
		cp := *cfg
		configs = append(configs, &cp)
	}
	sort.Slice(configs, func(a, b int) bool { return configs[a].CreatedAt.Before(configs[b].CreatedAt) })
	return configs, nil
}

func (s *MemoryStore) ActivateConfig(ctx context.Context, version uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.configs[version]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	for _, cfg := range s.configs {
		if cfg.Active {
			cfg.Active = false
			cfg.UpdatedAt = now
		}
	}
	target.Active = true
	target.UpdatedAt = now
	return nil
}

// --- Research events ---

func (s *MemoryStore) RecordExposure(ctx context.Context, exposure *models.Exposure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exposure
	s.events.exposures = append(s.events.exposures, &cp)
	return nil
}

func (s *MemoryStore) RecordOutcome(ctx context.Context, outcome *models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *outcome
	s.events.outcomes = append(s.events.outcomes, &cp)
	return nil
}

var _ Store = (*MemoryStore)(nil)

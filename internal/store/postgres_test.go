package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("redactor_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func seedJob(t *testing.T, s store.Store, documentID string) *models.RedactionJob {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &models.RedactionJob{
		ID:             uuid.New(),
		JurisdictionID: "CA",
		CaseID:         "case-1",
		DocumentID:     documentID,
		Document: models.Document{
			DocumentID:     documentID,
			AttachmentType: models.AttachmentText,
			Content:        "The narrative text.",
		},
		MaskedSubjects: []models.MaskedSubject{{SubjectID: "subj-1", Alias: "Person A"}},
		Placeholders:   map[string]string{"John Doe": "Person A"},
		Status:         models.JobQueued,
		CallbackURL:    "https://cms.example.com/callback",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	assert.NoError(t, s.Ping(context.Background()))
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "br_abcd",
		Scopes:    []string{"redact", "review"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "br_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"redact", "review"}, keys[0].Scopes)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	key := &models.APIKey{
		ID: id, Name: "dup1", KeyHash: "h1", KeyPrefix: "br_dup1",
		Scopes: []string{"redact"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key2 := &models.APIKey{
		ID: id, Name: "dup2", KeyHash: "h2", KeyPrefix: "br_dup2",
		Scopes: []string{"redact"}, CreatedAt: now, UpdatedAt: now,
	}
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key2), store.ErrDuplicateKey)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID: uuid.New(), Name: "usage-key", KeyHash: "hash", KeyPrefix: "br_used",
		Scopes: []string{"redact"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "br_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

// --- Redaction Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := seedJob(t, s, "doc-1")

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, got.Status)
	assert.Equal(t, "The narrative text.", got.Document.Content)
	assert.Equal(t, "Person A", got.Placeholders["John Doe"])
	require.Len(t, got.MaskedSubjects, 1)
	assert.Equal(t, "subj-1", got.MaskedSubjects[0].SubjectID)
	assert.Nil(t, got.Result)
	assert.Zero(t, got.Attempts)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_DuplicateActiveDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-dup")

	dup := *job
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateJob(ctx, &dup), store.ErrDuplicateKey)

	// Once the first job is terminal the document can be resubmitted.
	claimed, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job.ID, *claimed.LeaseExpiresAt, &models.RedactedDocument{}))
	assert.NoError(t, s.CreateJob(ctx, &dup))
}

func TestJob_ClaimTransitionsAndLeases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-claim")

	claimed, err := s.ClaimJob(ctx, job.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.LeaseExpiresAt)
	assert.True(t, claimed.LeaseExpiresAt.After(time.Now()))

	// Second claim loses.
	_, err = s.ClaimJob(ctx, job.ID, 5*time.Minute)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.ClaimJob(ctx, uuid.New(), 5*time.Minute)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_CompleteStoresResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-complete")
	claimed, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)

	result := &models.RedactedDocument{
		Original: "John Doe left.",
		Redacted: "⟦Person A⟧ left.",
		Annotations: []models.Annotation{{
			OriginalSpan: models.Span{Start: 0, End: 8},
			RedactedSpan: models.Span{Start: 0, End: 14},
			Valid:        true,
		}},
	}
	require.NoError(t, s.CompleteJob(ctx, job.ID, *claimed.LeaseExpiresAt, result))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, result.Redacted, got.Result.Redacted)
	require.Len(t, got.Result.Annotations, 1)
	assert.True(t, got.Result.Annotations[0].Valid)
	assert.Nil(t, got.LeaseExpiresAt)
}

func TestJob_CompleteRequiresProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := seedJob(t, s, "doc-guard")
	err := s.CompleteJob(context.Background(), job.ID, time.Now(), &models.RedactedDocument{})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestJob_StaleClaimCannotFinalize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-stale")

	// Worker A claims, then stalls past its lease; the reaper releases it
	// and worker B re-claims.
	stale, err := s.ClaimJob(ctx, job.ID, -time.Second)
	require.NoError(t, err)
	requeued, err := s.ReleaseExpiredLeases(ctx, 3)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	fresh, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)

	// Worker A wakes up; its stale lease no longer authorizes any mutation.
	err = s.CompleteJob(ctx, job.ID, *stale.LeaseExpiresAt, &models.RedactedDocument{})
	assert.ErrorIs(t, err, store.ErrConflict)
	err = s.FailJob(ctx, job.ID, *stale.LeaseExpiresAt, "late failure")
	assert.ErrorIs(t, err, store.ErrConflict)
	err = s.RequeueJob(ctx, job.ID, *stale.LeaseExpiresAt, "late retry")
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.Status)

	// Worker B still owns the job.
	require.NoError(t, s.CompleteJob(ctx, job.ID, *fresh.LeaseExpiresAt, &models.RedactedDocument{}))
}

func TestJob_FailRecordsError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-fail")
	claimed, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, job.ID, *claimed.LeaseExpiresAt, "document could not be fetched"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "document could not be fetched", *got.Error)
}

func TestJob_RequeuePreservesAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-requeue")
	first, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.RequeueJob(ctx, job.ID, *first.LeaseExpiresAt, "model timeout"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StatusDetail)
	assert.Equal(t, "model timeout", *got.StatusDetail)

	claimed, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
}

func TestJob_ReleaseExpiredLeases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	// Lapsed lease with retry budget left: requeued.
	fresh := seedJob(t, s, "doc-lapsed")
	_, err := s.ClaimJob(ctx, fresh.ID, -time.Second)
	require.NoError(t, err)

	// Lapsed lease with budget exhausted: forced to ERROR.
	spent := seedJob(t, s, "doc-spent")
	for i := 0; i < 3; i++ {
		claimed, err := s.ClaimJob(ctx, spent.ID, -time.Second)
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, s.RequeueJob(ctx, spent.ID, *claimed.LeaseExpiresAt, "retry"))
		}
	}

	// Healthy lease: untouched.
	healthy := seedJob(t, s, "doc-healthy")
	_, err = s.ClaimJob(ctx, healthy.ID, time.Hour)
	require.NoError(t, err)

	requeued, err := s.ReleaseExpiredLeases(ctx, 3)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, fresh.ID, requeued[0])

	got, err := s.GetJob(ctx, spent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobError, got.Status)

	got, err = s.GetJob(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.Status)
}

func TestJob_FindActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-active")

	got, err := s.FindActiveJob(ctx, "CA", "case-1", "doc-active")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = s.FindActiveJob(ctx, "CA", "case-1", "doc-absent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_ListFiltersBySubject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	withSubject := seedJob(t, s, "doc-s1")

	now := time.Now().UTC().Truncate(time.Microsecond)
	other := &models.RedactionJob{
		ID: uuid.New(), JurisdictionID: "CA", CaseID: "case-1", DocumentID: "doc-s2",
		Document: models.Document{
			DocumentID: "doc-s2", AttachmentType: models.AttachmentText, Content: "text",
		},
		MaskedSubjects: []models.MaskedSubject{{SubjectID: "subj-2", Alias: "Person B"}},
		Placeholders:   map[string]string{"Jane Roe": "Person B"},
		Status:         models.JobQueued,
		CreatedAt:      now.Add(time.Millisecond), UpdatedAt: now.Add(time.Millisecond),
	}
	require.NoError(t, s.CreateJob(ctx, other))

	jobs, err := s.ListJobs(ctx, store.JobFilter{JurisdictionID: "CA", CaseID: "case-1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobs(ctx, store.JobFilter{
		JurisdictionID: "CA", CaseID: "case-1", SubjectID: "subj-1",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, withSubject.ID, jobs[0].ID)
}

func TestJob_CountCompleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	n, err := s.CountCompletedJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	job := seedJob(t, s, "doc-count")
	claimed, err := s.ClaimJob(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job.ID, *claimed.LeaseExpiresAt, &models.RedactedDocument{}))

	n, err = s.CountCompletedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJob_RecordCallbackAttempt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := seedJob(t, s, "doc-cb")
	require.NoError(t, s.RecordCallbackAttempt(ctx, &models.CallbackAttempt{
		ID: uuid.New(), JobID: job.ID, StatusCode: 503,
		ResponseBody: "unavailable", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.RecordCallbackAttempt(ctx, &models.CallbackAttempt{
		ID: uuid.New(), JobID: job.ID, StatusCode: 200, CreatedAt: time.Now().UTC(),
	}))

	var n int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM callback_attempts WHERE job_id = $1`, job.ID).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// --- Masked Subject Tests ---

func TestMaskedSubjects_FirstWriteWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.SaveMaskedSubjects(ctx, "CA", "case-1", []models.MaskedSubject{
		{SubjectID: "subj-1", Alias: "Person A"},
	}))
	require.NoError(t, s.SaveMaskedSubjects(ctx, "CA", "case-1", []models.MaskedSubject{
		{SubjectID: "subj-1", Alias: "Person Z"},
		{SubjectID: "subj-2", Alias: "Person B"},
	}))

	subjects, err := s.GetMaskedSubjects(ctx, "CA", "case-1")
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "Person A", subjects[0].Alias)
	assert.Equal(t, "subj-1", subjects[0].SubjectID)
	assert.Equal(t, "Person B", subjects[1].Alias)
}

func TestMaskedSubjects_ScopedToCase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.SaveMaskedSubjects(ctx, "CA", "case-1", []models.MaskedSubject{
		{SubjectID: "subj-1", Alias: "Person A"},
	}))

	subjects, err := s.GetMaskedSubjects(ctx, "CA", "case-other")
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

// --- Experiment Config Tests ---

func TestConfig_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := s.GetActiveConfig(ctx)
	assert.ErrorIs(t, err, store.ErrNoActiveConfig)

	now := time.Now().UTC().Truncate(time.Microsecond)
	v1 := &models.ExperimentConfig{
		Version: uuid.New(), Blob: `{"rate": 0.5}`, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateConfig(ctx, v1))

	v2 := &models.ExperimentConfig{
		Version: uuid.New(), Blob: `{"rate": 0.7}`, Parent: &v1.Version,
		CreatedAt: now.Add(time.Millisecond), UpdatedAt: now.Add(time.Millisecond),
	}
	require.NoError(t, s.CreateConfig(ctx, v2))

	require.NoError(t, s.ActivateConfig(ctx, v1.Version))
	active, err := s.GetActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.Version, active.Version)

	// Switching the active version deactivates the prior one atomically.
	require.NoError(t, s.ActivateConfig(ctx, v2.Version))
	active, err = s.GetActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.Version, active.Version)

	prev, err := s.GetConfig(ctx, v1.Version)
	require.NoError(t, err)
	assert.False(t, prev.Active)

	configs, err := s.ListConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, v1.Version, configs[0].Version)
	require.NotNil(t, configs[1].Parent)
	assert.Equal(t, v1.Version, *configs[1].Parent)
}

func TestConfig_ActivateNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.ActivateConfig(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfig_DuplicateVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	cfg := &models.ExperimentConfig{Version: uuid.New(), Blob: "{}", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateConfig(ctx, cfg))
	assert.ErrorIs(t, s.CreateConfig(ctx, cfg), store.ErrDuplicateKey)
}

// --- Research Event Tests ---

func TestEvents_RecordExposureAndOutcome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.RecordExposure(ctx, &models.Exposure{
		ID: uuid.New(), JurisdictionID: "CA", CaseID: "case-1", SubjectID: "subj-1",
		ReviewerMaskedID: "rev-77", DocumentIDs: []string{"doc-1", "doc-2"},
		Protocol: models.ProtocolBlindReview, CreatedAt: now,
	}))

	explanation := "insufficient evidence"
	require.NoError(t, s.RecordOutcome(ctx, &models.Outcome{
		ID: uuid.New(), JurisdictionID: "CA", CaseID: "case-1", SubjectID: "subj-1",
		ReviewerMaskedID: "rev-77", DocumentIDs: []string{"doc-1"},
		Protocol: models.ProtocolBlindReview, Decision: "DECLINE",
		Explanation: &explanation, Disqualifiers: []string{"SUSPECT_KNOWN"},
		PageOpenAt: now.Add(-time.Hour), DecisionAt: now, CreatedAt: now,
	}))

	var exposures, outcomes int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM exposures`).Scan(&exposures))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&outcomes))
	assert.Equal(t, 1, exposures)
	assert.Equal(t, 1, outcomes)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blindreview/redactor/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Redaction Jobs ---

const jobColumns = `id, jurisdiction_id, case_id, document_id, document, masked_subjects,
	placeholders, status, status_detail, result, error, callback_url, target_blob_url,
	output_format, attempts, lease_expires_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.RedactionJob, error) {
	var (
		j               models.RedactionJob
		docRaw          []byte
		subjectsRaw     []byte
		placeholdersRaw []byte
		resultRaw       []byte
	)
	err := row.Scan(&j.ID, &j.JurisdictionID, &j.CaseID, &j.DocumentID, &docRaw, &subjectsRaw,
		&placeholdersRaw, &j.Status, &j.StatusDetail, &resultRaw, &j.Error, &j.CallbackURL,
		&j.TargetBlobURL, &j.OutputFormat, &j.Attempts, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(docRaw, &j.Document); err != nil {
		return nil, fmt.Errorf("decode job document: %w", err)
	}
	if err := json.Unmarshal(subjectsRaw, &j.MaskedSubjects); err != nil {
		return nil, fmt.Errorf("decode job masked subjects: %w", err)
	}
	if err := json.Unmarshal(placeholdersRaw, &j.Placeholders); err != nil {
		return nil, fmt.Errorf("decode job placeholders: %w", err)
	}
	if resultRaw != nil {
		j.Result = &models.RedactedDocument{}
		if err := json.Unmarshal(resultRaw, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.RedactionJob) error {
	docRaw, err := json.Marshal(job.Document)
	if err != nil {
		return fmt.Errorf("encode job document: %w", err)
	}
	subjectsRaw, err := json.Marshal(job.MaskedSubjects)
	if err != nil {
		return fmt.Errorf("encode job masked subjects: %w", err)
	}
	placeholdersRaw, err := json.Marshal(job.Placeholders)
	if err != nil {
		return fmt.Errorf("encode job placeholders: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO redaction_jobs
		 (id, jurisdiction_id, case_id, document_id, document, masked_subjects, placeholders,
		  status, callback_url, target_blob_url, output_format, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13)`,
		job.ID, job.JurisdictionID, job.CaseID, job.DocumentID, docRaw, subjectsRaw, placeholdersRaw,
		job.Status, job.CallbackURL, job.TargetBlobURL, job.OutputFormat, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.RedactionJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM redaction_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindActiveJob(ctx context.Context, jurisdictionID, caseID, documentID string) (*models.RedactionJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM redaction_jobs
		 WHERE jurisdiction_id = $1 AND case_id = $2 AND document_id = $3
		   AND status IN ('QUEUED', 'PROCESSING')
		 ORDER BY created_at DESC LIMIT 1`,
		jurisdictionID, caseID, documentID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.RedactionJob, error) {
	conditions := []string{"jurisdiction_id = $1", "case_id = $2"}
	args := []any{filter.JurisdictionID, filter.CaseID}
	if filter.SubjectID != "" {
		conditions = append(conditions, "masked_subjects @> $3")
		subjectMatch, _ := json.Marshal([]map[string]string{{"subjectId": filter.SubjectID}})
		args = append(args, subjectMatch)
	}
	query := `SELECT ` + jobColumns + ` FROM redaction_jobs WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.RedactionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID, lease time.Duration) (*models.RedactionJob, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE redaction_jobs
		 SET status = 'PROCESSING', attempts = attempts + 1,
		     lease_expires_at = NOW() + $2::interval, updated_at = NOW()
		 WHERE id = $1 AND status = 'QUEUED'
		 RETURNING `+jobColumns,
		id, lease.String())
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the job doesn't exist or another worker won the race.
		var status models.JobStatus
		err := s.pool.QueryRow(ctx, `SELECT status FROM redaction_jobs WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, result *models.RedactedDocument) error {
	resultRaw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE redaction_jobs
		 SET status = 'COMPLETE', result = $2, error = NULL,
		     lease_expires_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'PROCESSING' AND lease_expires_at = $3`,
		id, resultRaw, claimedUntil)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE redaction_jobs
		 SET status = 'ERROR', error = $2, lease_expires_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'PROCESSING' AND lease_expires_at = $3`,
		id, errMsg, claimedUntil)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) RequeueJob(ctx context.Context, id uuid.UUID, claimedUntil time.Time, detail string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE redaction_jobs
		 SET status = 'QUEUED', status_detail = $2, lease_expires_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'PROCESSING' AND lease_expires_at = $3`,
		id, detail, claimedUntil)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ReleaseExpiredLeases(ctx context.Context, maxAttempts int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE redaction_jobs
		 SET status = 'QUEUED', lease_expires_at = NULL, updated_at = NOW()
		 WHERE status = 'PROCESSING' AND lease_expires_at < NOW() AND attempts < $1
		 RETURNING id`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("release expired leases: %w", err)
	}
	defer rows.Close()

	var requeued []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan requeued job id: %w", err)
		}
		requeued = append(requeued, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE redaction_jobs
		 SET status = 'ERROR', error = 'retry budget exhausted', lease_expires_at = NULL, updated_at = NOW()
		 WHERE status = 'PROCESSING' AND lease_expires_at < NOW() AND attempts >= $1`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("expire exhausted jobs: %w", err)
	}
	return requeued, nil
}

func (s *PostgresStore) CountCompletedJobs(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM redaction_jobs WHERE status IN ('COMPLETE', 'ERROR')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed jobs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) RecordCallbackAttempt(ctx context.Context, attempt *models.CallbackAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO callback_attempts (id, job_id, status_code, response_body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		attempt.ID, attempt.JobID, attempt.StatusCode, attempt.ResponseBody, attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("record callback attempt: %w", err)
	}
	return nil
}

// --- Masked subjects ---

func (s *PostgresStore) SaveMaskedSubjects(ctx context.Context, jurisdictionID, caseID string, subjects []models.MaskedSubject) error {
	for _, sub := range subjects {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO case_aliases (jurisdiction_id, case_id, subject_id, alias, created_at)
			 VALUES ($1, $2, $3, $4, NOW())
			 ON CONFLICT (jurisdiction_id, case_id, subject_id) DO NOTHING`,
			jurisdictionID, caseID, sub.SubjectID, sub.Alias)
		if err != nil {
			return fmt.Errorf("save masked subject %s: %w", sub.SubjectID, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetMaskedSubjects(ctx context.Context, jurisdictionID, caseID string) ([]models.MaskedSubject, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subject_id, alias FROM case_aliases
		 WHERE jurisdiction_id = $1 AND case_id = $2 ORDER BY alias ASC`,
		jurisdictionID, caseID)
	if err != nil {
		return nil, fmt.Errorf("get masked subjects: %w", err)
	}
	defer rows.Close()

	subjects := []models.MaskedSubject{}
	for rows.Next() {
		var sub models.MaskedSubject
		if err := rows.Scan(&sub.SubjectID, &sub.Alias); err != nil {
			return nil, fmt.Errorf("scan masked subject: %w", err)
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}

// --- Experiment configs ---

const configColumns = `version, blob, active, parent, name, description, author, created_at, updated_at`

func scanConfig(row pgx.Row) (*models.ExperimentConfig, error) {
	var c models.ExperimentConfig
	err := row.Scan(&c.Version, &c.Blob, &c.Active, &c.Parent, &c.Name,
		&c.Description, &c.Author, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg *models.ExperimentConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO experiment_configs (version, blob, active, parent, name, description, author, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cfg.Version, cfg.Blob, cfg.Active, cfg.Parent, cfg.Name, cfg.Description,
		cfg.Author, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create config: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConfig(ctx context.Context, version uuid.UUID) (*models.ExperimentConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM experiment_configs WHERE version = $1`, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) GetActiveConfig(ctx context.Context) (*models.ExperimentConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM experiment_configs WHERE active LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveConfig
	}
	if err != nil {
		return nil, fmt.Errorf("get active config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) ListConfigs(ctx context.Context) ([]*models.ExperimentConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM experiment_configs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.ExperimentConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *PostgresStore) ActivateConfig(ctx context.Context, version uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activate config: %w", err)
	}
	defer tx.Rollback(ctx)

	// Deactivate first: the partial unique index on active forbids two
	// active rows even transiently within the transaction.
	_, err = tx.Exec(ctx,
		`UPDATE experiment_configs SET active = FALSE, updated_at = NOW()
		 WHERE active AND version <> $1`, version)
	if err != nil {
		return fmt.Errorf("deactivate prior config: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE experiment_configs SET active = TRUE, updated_at = NOW() WHERE version = $1`, version)
	if err != nil {
		return fmt.Errorf("activate config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// --- Research events ---

func (s *PostgresStore) RecordExposure(ctx context.Context, exposure *models.Exposure) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exposures (id, jurisdiction_id, case_id, subject_id, reviewer_masked_id, document_ids, protocol, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		exposure.ID, exposure.JurisdictionID, exposure.CaseID, exposure.SubjectID,
		exposure.ReviewerMaskedID, exposure.DocumentIDs, exposure.Protocol, exposure.CreatedAt)
	if err != nil {
		return fmt.Errorf("record exposure: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, outcome *models.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes
		 (id, jurisdiction_id, case_id, subject_id, reviewer_masked_id, document_ids,
		  protocol, decision, explanation, disqualifiers, page_open_at, decision_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		outcome.ID, outcome.JurisdictionID, outcome.CaseID, outcome.SubjectID,
		outcome.ReviewerMaskedID, outcome.DocumentIDs, outcome.Protocol, outcome.Decision,
		outcome.Explanation, outcome.Disqualifiers, outcome.PageOpenAt, outcome.DecisionAt,
		outcome.CreatedAt)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)

// Package job owns the redaction job lifecycle: submission, worker
// processing under a lease, and callback delivery.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blindreview/redactor/internal/alias"
	"github.com/blindreview/redactor/internal/cache"
	"github.com/blindreview/redactor/internal/queue"
	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

const statusCacheTTL = time.Hour

// ValidationError marks a rejected submission; the API maps it to 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Orchestrator accepts redaction requests and answers status queries.
type Orchestrator struct {
	store   store.Store
	queue   queue.Queue
	cache   cache.Cache
	aliases *alias.Service
}

func NewOrchestrator(st store.Store, q queue.Queue, c cache.Cache, aliases *alias.Service) *Orchestrator {
	return &Orchestrator{store: st, queue: q, cache: c, aliases: aliases}
}

// Submit validates the request, creates one queued job per document, and
// returns immediately; processing happens in the worker pool. Resubmitting a
// document that already has a non-terminal job reuses that job rather than
// creating a second one.
func (o *Orchestrator) Submit(ctx context.Context, req models.RedactionRequest) ([]models.RedactionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	masked, err := o.aliases.Assign(ctx, req.JurisdictionID, req.CaseID, req.Subjects)
	if err != nil {
		return nil, fmt.Errorf("assign subject aliases: %w", err)
	}
	placeholders := alias.Placeholders(req.Subjects, masked)

	results := make([]models.RedactionResult, 0, len(req.Objects))
	for _, obj := range req.Objects {
		job, err := o.submitOne(ctx, req, obj, masked, placeholders)
		if err != nil {
			return nil, err
		}
		results = append(results, models.ResultFromJob(job))
	}
	return results, nil
}

func (o *Orchestrator) submitOne(ctx context.Context, req models.RedactionRequest, obj models.RedactionTarget,
	masked []models.MaskedSubject, placeholders map[string]string) (*models.RedactionJob, error) {

	format := req.OutputFormat
	if format == "" {
		format = models.FormatText
	}

	now := time.Now().UTC()
	job := &models.RedactionJob{
		ID:             uuid.New(),
		JurisdictionID: req.JurisdictionID,
		CaseID:         req.CaseID,
		DocumentID:     obj.Document.DocumentID,
		Document:       obj.Document,
		MaskedSubjects: masked,
		Placeholders:   placeholders,
		Status:         models.JobQueued,
		CallbackURL:    obj.CallbackURL,
		OutputFormat:   format,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if obj.TargetBlobURL != "" {
		job.TargetBlobURL = &obj.TargetBlobURL
	}

	err := o.store.CreateJob(ctx, job)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, findErr := o.store.FindActiveJob(ctx, req.JurisdictionID, req.CaseID, obj.Document.DocumentID)
		if findErr != nil {
			return nil, fmt.Errorf("find existing job for document %s: %w", obj.Document.DocumentID, findErr)
		}
		slog.Info("reusing active job for resubmitted document",
			"job_id", existing.ID, "document_id", obj.Document.DocumentID)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create job for document %s: %w", obj.Document.DocumentID, err)
	}

	if err := o.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	o.mirrorStatus(ctx, job.ID, job.Status)
	return job, nil
}

// Status reports every job for a case, optionally narrowed to one subject.
func (o *Orchestrator) Status(ctx context.Context, jurisdictionID, caseID, subjectID string) (*models.RedactionStatus, error) {
	jobs, err := o.store.ListJobs(ctx, store.JobFilter{
		JurisdictionID: jurisdictionID,
		CaseID:         caseID,
		SubjectID:      subjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	status := &models.RedactionStatus{
		JurisdictionID: jurisdictionID,
		CaseID:         caseID,
		Requests:       make([]models.RedactionResult, 0, len(jobs)),
	}
	for _, job := range jobs {
		status.Requests = append(status.Requests, models.ResultFromJob(job))
	}
	return status, nil
}

func (o *Orchestrator) mirrorStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetJobStatus(ctx, jobID, string(status), statusCacheTTL); err != nil {
		slog.Warn("mirror job status to cache", "job_id", jobID, "error", err)
	}
}

func validateRequest(req models.RedactionRequest) error {
	if req.JurisdictionID == "" {
		return invalid("jurisdictionId is required")
	}
	if req.CaseID == "" {
		return invalid("caseId is required")
	}
	if len(req.Subjects) == 0 {
		return invalid("at least one subject is required")
	}
	if len(req.Objects) == 0 {
		return invalid("at least one document is required")
	}
	switch req.OutputFormat {
	case "", models.FormatText, models.FormatJSON, models.FormatHTML:
	default:
		return invalid("unsupported outputFormat %q", req.OutputFormat)
	}
	for _, sub := range req.Subjects {
		if sub.Person.SubjectID == "" {
			return invalid("every subject needs a subjectId")
		}
		if len(sub.Person.Names()) == 0 {
			return invalid("subject %s has no names", sub.Person.SubjectID)
		}
	}
	seen := make(map[string]bool, len(req.Objects))
	for _, obj := range req.Objects {
		if err := obj.Document.Validate(); err != nil {
			return &ValidationError{Reason: err.Error()}
		}
		if seen[obj.Document.DocumentID] {
			return invalid("duplicate documentId %s in request", obj.Document.DocumentID)
		}
		seen[obj.Document.DocumentID] = true
	}
	return nil
}

package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blindreview/redactor/internal/alias"
	"github.com/blindreview/redactor/internal/cache"
	"github.com/blindreview/redactor/internal/fetch"
	"github.com/blindreview/redactor/internal/pipeline"
	"github.com/blindreview/redactor/internal/queue"
	"github.com/blindreview/redactor/internal/stage"
	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

// PoolConfig sizes the worker pool and its retry behavior.
type PoolConfig struct {
	Workers        int
	Lease          time.Duration
	MaxAttempts    int
	ReaperInterval time.Duration
}

// Pool runs redaction jobs: dequeue, claim under a lease, fetch content, run
// the pipeline, write the terminal state, deliver the callback. A reaper
// goroutine requeues jobs whose worker died mid-lease.
type Pool struct {
	cfg       PoolConfig
	store     store.Store
	queue     queue.Queue
	cache     cache.Cache
	engine    *pipeline.Engine
	fetcher   *fetch.Fetcher
	callbacks *CallbackSender
	uploader  *Uploader
}

func NewPool(cfg PoolConfig, st store.Store, q queue.Queue, c cache.Cache,
	engine *pipeline.Engine, fetcher *fetch.Fetcher, callbacks *CallbackSender, uploader *Uploader) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{
		cfg:       cfg,
		store:     st,
		queue:     q,
		cache:     c,
		engine:    engine,
		fetcher:   fetcher,
		callbacks: callbacks,
		uploader:  uploader,
	}
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.workerLoop(ctx, n)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reaperLoop(ctx)
	}()
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, n int) {
	log := slog.With("worker", n)
	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.process(ctx, log, id)
	}
}

func (p *Pool) process(ctx context.Context, log *slog.Logger, id uuid.UUID) {
	job, err := p.store.ClaimJob(ctx, id, p.cfg.Lease)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		// Another worker holds it, or it already reached a terminal state.
		log.Debug("skipping unclaimable job", "job_id", id, "reason", err)
		return
	}
	if err != nil {
		log.Error("claim failed", "job_id", id, "error", err)
		return
	}
	log = log.With("job_id", job.ID, "document_id", job.DocumentID)
	p.mirrorStatus(ctx, job.ID, models.JobProcessing)

	runCtx, cancel := context.WithDeadline(ctx, time.Now().Add(p.cfg.Lease))
	result, err := p.redact(runCtx, job)
	cancel()
	if err != nil {
		p.handleFailure(ctx, log, job, err)
		return
	}

	if err := p.store.CompleteJob(ctx, job.ID, claimedUntil(job), result); err != nil {
		log.Error("complete failed", "error", err)
		return
	}
	job.Status = models.JobComplete
	job.Result = result
	p.mirrorStatus(ctx, job.ID, models.JobComplete)
	log.Info("job complete",
		"attempts", job.Attempts, "valid_ratio", fmt.Sprintf("%.4f", result.ValidRatio()))
	p.upload(ctx, log, job)
	p.deliver(ctx, log, job)
}

// upload pushes the rendered result to the job's target blob URL, if any.
func (p *Pool) upload(ctx context.Context, log *slog.Logger, job *models.RedactionJob) {
	if p.uploader == nil || job.TargetBlobURL == nil {
		return
	}
	if err := p.uploader.Upload(ctx, job); err != nil {
		// The job stays COMPLETE and pollable; failed uploads don't unwind it.
		log.Warn("result upload failed", "target_blob_url", *job.TargetBlobURL, "error", err)
	}
}

// claimedUntil extracts the lease token ClaimJob returned with the job; the
// store requires it on every post-claim mutation so a worker whose lease was
// reaped and re-claimed cannot clobber the new owner.
func claimedUntil(job *models.RedactionJob) time.Time {
	if job.LeaseExpiresAt == nil {
		return time.Time{}
	}
	return *job.LeaseExpiresAt
}

// redact resolves the document's content and runs it through the pipeline.
func (p *Pool) redact(ctx context.Context, job *models.RedactionJob) (*models.RedactedDocument, error) {
	raw, err := p.fetcher.Fetch(ctx, job.Document)
	if err != nil {
		return nil, &stage.Error{Capability: "fetch", Recoverable: true, Err: err}
	}

	var in stage.Payload
	switch p.engine.InputKind() {
	case stage.KindBytes:
		in = stage.BytesPayload(raw)
	case stage.KindText:
		in = stage.TextPayload(string(raw))
	default:
		return nil, fmt.Errorf("pipeline expects unsupported input kind %q", p.engine.InputKind())
	}

	rc := &stage.RunContext{
		JurisdictionID: job.JurisdictionID,
		CaseID:         job.CaseID,
		DocumentID:     job.DocumentID,
		Placeholders:   job.Placeholders,
		Subjects:       alias.SubjectAliases(job.MaskedSubjects),
	}
	return p.engine.Run(ctx, in, rc)
}

// handleFailure requeues recoverable failures while attempts remain, and
// finalizes everything else as ERROR.
func (p *Pool) handleFailure(ctx context.Context, log *slog.Logger, job *models.RedactionJob, cause error) {
	var se *stage.Error
	recoverable := errors.As(cause, &se) && se.Recoverable

	if recoverable && job.Attempts < p.cfg.MaxAttempts {
		log.Warn("job failed, requeueing", "attempts", job.Attempts, "error", cause)
		if err := p.store.RequeueJob(ctx, job.ID, claimedUntil(job), cause.Error()); err != nil {
			log.Error("requeue failed", "error", err)
			return
		}
		p.mirrorStatus(ctx, job.ID, models.JobQueued)
		if err := p.queue.Enqueue(ctx, job.ID); err != nil {
			// The reaper will pick it up once the stale lease window passes.
			log.Error("re-enqueue failed", "error", err)
		}
		return
	}

	log.Error("job failed terminally", "attempts", job.Attempts, "error", cause)
	if err := p.store.FailJob(ctx, job.ID, claimedUntil(job), cause.Error()); err != nil {
		log.Error("fail update failed", "error", err)
		return
	}
	msg := cause.Error()
	job.Status = models.JobError
	job.Error = &msg
	p.mirrorStatus(ctx, job.ID, models.JobError)
	p.deliver(ctx, log, job)
}

func (p *Pool) deliver(ctx context.Context, log *slog.Logger, job *models.RedactionJob) {
	if p.callbacks == nil {
		return
	}
	if err := p.callbacks.Deliver(ctx, job); err != nil {
		// Delivery exhaustion never un-finalizes the job; callers can poll.
		log.Warn("callback delivery gave up", "callback_url", job.CallbackURL, "error", err)
	}
}

func (p *Pool) reaperLoop(ctx context.Context) {
	interval := p.cfg.ReaperInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, err := p.store.ReleaseExpiredLeases(ctx, p.cfg.MaxAttempts)
			if err != nil {
				slog.Error("lease reaper sweep failed", "error", err)
				continue
			}
			for _, id := range requeued {
				slog.Warn("requeueing job with expired lease", "job_id", id)
				p.mirrorStatus(ctx, id, models.JobQueued)
				if err := p.queue.Enqueue(ctx, id); err != nil {
					slog.Error("re-enqueue of expired job failed", "job_id", id, "error", err)
				}
			}
		}
	}
}

func (p *Pool) mirrorStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetJobStatus(ctx, jobID, string(status), statusCacheTTL); err != nil {
		slog.Warn("mirror job status to cache", "job_id", jobID, "error", err)
	}
}

package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

const (
	callbackTimeout  = 30 * time.Second
	responseSnippet  = 1024
	defaultMaxElapse = 5 * time.Minute
)

// CallbackSender POSTs terminal job results to the caller's callback URL with
// exponential backoff. Every attempt is recorded for audit.
type CallbackSender struct {
	client     *http.Client
	store      store.Store
	maxElapsed time.Duration
}

func NewCallbackSender(client *http.Client, st store.Store, maxElapsed time.Duration) *CallbackSender {
	if client == nil {
		client = &http.Client{Timeout: callbackTimeout}
	}
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapse
	}
	return &CallbackSender{client: client, store: st, maxElapsed: maxElapsed}
}

// Deliver sends the job's terminal result. Jobs without a callback URL are a
// no-op. Only COMPLETE and ERROR jobs are deliverable.
func (c *CallbackSender) Deliver(ctx context.Context, job *models.RedactionJob) error {
	if job.CallbackURL == "" {
		return nil
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is not terminal (%s)", job.ID, job.Status)
	}

	body, err := json.Marshal(models.ResultFromJob(job))
	if err != nil {
		return fmt.Errorf("encode callback body: %w", err)
	}

	op := func() error {
		status, snippet, err := c.post(ctx, job.CallbackURL, body)
		c.record(ctx, job.ID, status, snippet)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			return nil
		}
		if status >= 400 && status < 500 {
			return backoff.Permanent(fmt.Errorf("callback rejected with status %d", status))
		}
		return fmt.Errorf("callback returned status %d", status)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("deliver callback for job %s: %w", job.ID, err)
	}
	return nil
}

func (c *CallbackSender) post(ctx context.Context, url string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", backoff.Permanent(fmt.Errorf("build callback request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippet))
	return resp.StatusCode, string(snippet), nil
}

func (c *CallbackSender) record(ctx context.Context, jobID uuid.UUID, status int, snippet string) {
	attempt := &models.CallbackAttempt{
		ID:           uuid.New(),
		JobID:        jobID,
		StatusCode:   status,
		ResponseBody: snippet,
		CreatedAt:    time.Now().UTC(),
	}
	// Audit only; a failed insert must not abort delivery.
	_ = c.store.RecordCallbackAttempt(ctx, attempt)
}

package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blindreview/redactor/pkg/models"
)

const uploadTimeout = 60 * time.Second

// Uploader PUTs the rendered result of a completed job to the caller's target
// blob URL, typically a pre-signed storage URL. Upload failures never
// un-finalize the job; the result stays pollable through the status endpoint.
type Uploader struct {
	client     *http.Client
	maxElapsed time.Duration
}

func NewUploader(client *http.Client, maxElapsed time.Duration) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: uploadTimeout}
	}
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapse
	}
	return &Uploader{client: client, maxElapsed: maxElapsed}
}

// Upload renders the job's result in its requested output format and PUTs it
// to the target blob URL. Jobs without a target URL or without a result are a
// no-op.
func (u *Uploader) Upload(ctx context.Context, job *models.RedactionJob) error {
	if job.TargetBlobURL == nil || *job.TargetBlobURL == "" {
		return nil
	}
	if job.Status != models.JobComplete || job.Result == nil {
		return nil
	}

	body, contentType, err := renderResult(job.Result, job.OutputFormat)
	if err != nil {
		return fmt.Errorf("render result for job %s: %w", job.ID, err)
	}

	op := func() error {
		status, err := u.put(ctx, *job.TargetBlobURL, contentType, body)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			return nil
		}
		if status >= 400 && status < 500 {
			return backoff.Permanent(fmt.Errorf("blob store rejected upload with status %d", status))
		}
		return fmt.Errorf("blob store returned status %d", status)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = u.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("upload result for job %s: %w", job.ID, err)
	}
	return nil
}

func (u *Uploader) put(ctx context.Context, url, contentType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("build upload request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(body))

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// renderResult serializes the redacted document in the requested format. An
// empty format falls back to plain text.
func renderResult(doc *models.RedactedDocument, format models.OutputFormat) ([]byte, string, error) {
	switch format {
	case models.FormatText, "":
		return []byte(doc.Redacted), "text/plain; charset=utf-8", nil
	case models.FormatJSON:
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("encode redacted document: %w", err)
		}
		return raw, "application/json", nil
	case models.FormatHTML:
		return renderHTML(doc), "text/html; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("unsupported output format %q", format)
	}
}

// renderHTML wraps each valid redacted span in <mark> so reviewers can see
// what was masked. Annotations arrive in document order from reassembly.
func renderHTML(doc *models.RedactedDocument) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><body><pre>")
	pos := 0
	for _, a := range doc.Annotations {
		if !a.Valid || a.RedactedSpan.Start < pos || a.RedactedSpan.End > len(doc.Redacted) {
			continue
		}
		b.WriteString(html.EscapeString(doc.Redacted[pos:a.RedactedSpan.Start]))
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(doc.Redacted[a.RedactedSpan.Start:a.RedactedSpan.End]))
		b.WriteString("</mark>")
		pos = a.RedactedSpan.End
	}
	b.WriteString(html.EscapeString(doc.Redacted[pos:]))
	b.WriteString("</pre></body></html>\n")
	return []byte(b.String())
}

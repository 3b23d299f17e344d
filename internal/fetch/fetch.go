// Package fetch resolves a document's raw content according to its
// attachment type: inline text, inline base64, or an HTTP(S) link.
package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blindreview/redactor/pkg/models"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 32 << 20 // 32 MiB
	maxRetryElapsed = 2 * time.Minute
)

// Fetcher resolves document content to raw bytes.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher. A nil client gets a default with a request timeout.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Fetcher{client: client, maxBytes: defaultMaxBytes}
}

// Fetch returns the document's raw content bytes.
func (f *Fetcher) Fetch(ctx context.Context, doc models.Document) ([]byte, error) {
	switch doc.AttachmentType {
	case models.AttachmentText:
		return []byte(doc.Content), nil
	case models.AttachmentBase64:
		raw, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("document %s: decode base64 content: %w", doc.DocumentID, err)
		}
		return raw, nil
	case models.AttachmentLink:
		return f.download(ctx, doc)
	default:
		return nil, fmt.Errorf("document %s: unsupported attachment type %q", doc.DocumentID, doc.AttachmentType)
	}
}

// download retrieves a LINK document with exponential backoff. Signed blob
// URLs expire, so transient failures are worth retrying promptly.
func (f *Fetcher) download(ctx context.Context, doc models.Document) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("fetch returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if int64(len(body)) > f.maxBytes {
			return backoff.Permanent(fmt.Errorf("document exceeds %d byte limit", f.maxBytes))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.DocumentID, err)
	}
	return body, nil
}

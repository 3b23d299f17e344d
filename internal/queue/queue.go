// Package queue is the work distribution layer between the API and the
// worker pool. Redis backs production and MemoryQueue backs tests.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrClosed is returned by Dequeue after the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue hands job IDs from producers to workers. Enqueue never blocks on
// consumers; Dequeue blocks until a job is available, the context is
// cancelled, or the queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	Dequeue(ctx context.Context) (uuid.UUID, error)
	Close() error
}

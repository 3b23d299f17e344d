package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is a channel-backed Queue for tests and local development.
type MemoryQueue struct {
	ch     chan uuid.UUID
	once   sync.Once
	closed chan struct{}
}

// NewMemoryQueue creates a MemoryQueue holding at most size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:     make(chan uuid.UUID, size),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	select {
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- jobID:
		return nil
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-q.closed:
		return uuid.Nil, ErrClosed
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case id := <-q.ch:
		return id, nil
	}
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)

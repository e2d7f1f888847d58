// Package intake owns the path from a filesystem creation event to a sent
// notification: the bounded queue, admission policies, the per-file
// pipeline, the worker pool and the controller tying them together.
package intake

import (
	"context"
	"sync"
	"time"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
)

// Queue errors. Compare with errors.Is.
var (
	ErrQueueFull   = docerrors.ErrQueueFull(0)
	ErrQueueClosed = docerrors.NewResourceError(docerrors.ErrCodeQueueClosed, "intake queue is closed")
)

// FileEvent is one PDF waiting to be processed.
type FileEvent struct {
	ID           string
	Path         string
	DiscoveredAt time.Time
}

// Queue is a bounded FIFO of file events. Enqueue never blocks.
type Queue struct {
	items     chan FileEvent
	watermark int
	onHigh    func(depth int)

	mu     sync.Mutex
	above  bool
	closed bool
}

// NewQueue creates a queue. onHigh is called once each time occupancy rises
// above watermark; it re-arms when occupancy falls back to the watermark.
func NewQueue(capacity, watermark int, onHigh func(depth int)) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items:     make(chan FileEvent, capacity),
		watermark: watermark,
		onHigh:    onHigh,
	}
}

// Enqueue adds ev or fails fast with ErrQueueFull or ErrQueueClosed.
func (q *Queue) Enqueue(ev FileEvent) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	select {
	case q.items <- ev:
	default:
		q.mu.Unlock()
		return docerrors.ErrQueueFull(cap(q.items))
	}

	depth := len(q.items)
	fire := false
	if q.watermark > 0 && depth > q.watermark && !q.above {
		q.above = true
		fire = q.onHigh != nil
	}
	q.mu.Unlock()

	if fire {
		q.onHigh(depth)
	}
	return nil
}

// Dequeue waits up to timeout for an event. It returns false on timeout or
// when ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (FileEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-q.items:
		q.mu.Lock()
		if len(q.items) <= q.watermark {
			q.above = false
		}
		q.mu.Unlock()
		return ev, true
	case <-timer.C:
		return FileEvent{}, false
	case <-ctx.Done():
		return FileEvent{}, false
	}
}

// Close rejects further enqueues. Queued events can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the current occupancy.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the capacity.
func (q *Queue) Cap() int { return cap(q.items) }

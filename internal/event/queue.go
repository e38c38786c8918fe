package event

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// DefaultCapacity is the dispatcher queue size.
const DefaultCapacity = 20

// ErrNilEvent is returned when a producer submits a nil event.
var ErrNilEvent = errors.New("event: nil event")

// Sink is the producer side of the queue.
type Sink interface {
	// TrySend enqueues without blocking and reports whether the event was
	// accepted. Used from edge-handler context.
	TrySend(e Event) bool

	// Send blocks until the event is enqueued or ctx is done.
	Send(ctx context.Context, e Event) error
}

// Queue is a fixed-capacity, multi-producer single-consumer FIFO of events.
type Queue struct {
	ch       chan Event
	dropped  atomic.Uint64
	overflow atomic.Bool // true while drops have not yet been followed by a successful send
	logger   *slog.Logger
	onDrop   func(Event)
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

// OnDrop registers a hook called for each dropped event. Must be set before
// producers start.
func (q *Queue) OnDrop(fn func(Event)) {
	q.onDrop = fn
}

// TrySend enqueues e if there is room and drops it otherwise.
func (q *Queue) TrySend(e Event) bool {
	if e == nil {
		return false
	}
	select {
	case q.ch <- e:
		q.overflow.Store(false)
		return true
	default:
	}
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop(e)
	}
	// Log once per overflow episode.
	if q.overflow.CompareAndSwap(false, true) {
		q.logger.Warn("event queue full, dropping", "kind", e.Kind(), "capacity", cap(q.ch))
	}
	return false
}

// Send enqueues e, waiting for space as long as ctx allows.
func (q *Queue) Send(ctx context.Context, e Event) error {
	if e == nil {
		return ErrNilEvent
	}
	select {
	case q.ch <- e:
		q.overflow.Store(false)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an event is available or ctx is done.
func (q *Queue) Receive(ctx context.Context) (Event, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns the number of events discarded by TrySend.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

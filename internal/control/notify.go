package control

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sweeney/presence-sensor/internal/logic"
)

// OccupancyNotifier receives occupancy changes from the dispatcher. Notify
// must not block.
type OccupancyNotifier interface {
	Notify(change logic.OccupancyChange)
}

// OccupancyFunc delivers a change to one downstream consumer.
type OccupancyFunc func(ctx context.Context, change logic.OccupancyChange) error

type namedSink struct {
	name string
	fn   OccupancyFunc
}

// Fanout delivers occupancy changes to several consumers from its own
// goroutine so slow consumers never stall the dispatcher. Changes that do
// not fit in the buffer are dropped and counted.
type Fanout struct {
	ch      chan logic.OccupancyChange
	sinks   []namedSink
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewFanout creates a notifier buffering up to capacity changes.
func NewFanout(capacity int, logger *slog.Logger) *Fanout {
	if capacity <= 0 {
		capacity = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{ch: make(chan logic.OccupancyChange, capacity), logger: logger}
}

// Add registers a consumer. Must be called before Run.
func (f *Fanout) Add(name string, fn OccupancyFunc) {
	f.sinks = append(f.sinks, namedSink{name: name, fn: fn})
}

// Notify queues change for delivery.
func (f *Fanout) Notify(change logic.OccupancyChange) {
	select {
	case f.ch <- change:
	default:
		f.dropped.Add(1)
		f.logger.Warn("occupancy notification dropped", "occupied", change.Occupied, "session", change.SessionID)
	}
}

// Dropped returns the number of changes dropped on a full buffer.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}

// Run delivers changes until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-f.ch:
			for _, s := range f.sinks {
				if err := s.fn(ctx, change); err != nil {
					f.logger.Warn("occupancy delivery failed", "sink", s.name, "error", err)
				}
			}
		}
	}
}

package control

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/presence-sensor/internal/event"
)

// Stopper is a cancellable one-shot timer. *time.Timer implements it.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the production value.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// GraceTimer is the single-shot occupancy grace timer.
//
// Every Arm and Cancel bumps a generation counter. Expiry only posts a
// GracePeriodExpired carrying its generation; the dispatcher calls Accept
// to discard expiries from timers that were re-armed or cancelled after
// they fired.
type GraceTimer struct {
	sink  event.Sink
	after AfterFunc

	mu    sync.Mutex
	gen   uint64
	armed bool
	timer Stopper
}

// NewGraceTimer creates a disarmed timer posting expiries to sink.
func NewGraceTimer(sink event.Sink, after AfterFunc) *GraceTimer {
	if after == nil {
		after = realAfterFunc
	}
	return &GraceTimer{sink: sink, after: after}
}

// Arm starts the timer for d, replacing any armed timer.
func (g *GraceTimer) Arm(ctx context.Context, d time.Duration) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	g.gen++
	g.armed = true
	gen := g.gen
	g.timer = g.after(d, func() {
		// Blocks while the queue is full; expiries are never dropped.
		_ = g.sink.Send(ctx, event.GracePeriodExpired{Generation: gen})
	})
	return gen
}

// Cancel disarms the timer. An expiry already in the queue becomes stale.
func (g *GraceTimer) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return
	}
	g.stopLocked()
	g.gen++
	g.armed = false
}

// Accept reports whether an expiry for gen is current, and disarms the
// timer if so.
func (g *GraceTimer) Accept(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed || gen != g.gen {
		return false
	}
	g.armed = false
	g.timer = nil
	return true
}

// Armed reports whether the timer is running.
func (g *GraceTimer) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Generation returns the current generation.
func (g *GraceTimer) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

func (g *GraceTimer) stopLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

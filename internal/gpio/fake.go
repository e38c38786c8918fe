package gpio

import (
	"errors"
	"sync"
	"time"

	"github.com/sweeney/presence-sensor/internal/event"
)

// FakeEdgeSource is a test double driven by Trigger.
type FakeEdgeSource struct {
	mu     sync.Mutex
	sink   event.Sink
	level  bool
	closed bool

	// StartError, if set, is returned by Start.
	StartError error

	// Now supplies edge timestamps. Defaults to time.Now.
	Now func() time.Time
}

// NewFakeEdgeSource creates a fake with the line at level.
func NewFakeEdgeSource(level bool) *FakeEdgeSource {
	return &FakeEdgeSource{level: level}
}

// Start records the sink.
func (f *FakeEdgeSource) Start(sink event.Sink) error {
	if f.StartError != nil {
		return f.StartError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sink != nil {
		return errors.New("fake edge source already started")
	}
	f.sink = sink
	return nil
}

// Trigger sets the line level and delivers an edge the way the real edge
// handler would. It reports whether the queue accepted the event.
func (f *FakeEdgeSource) Trigger(level bool) bool {
	f.mu.Lock()
	f.level = level
	sink := f.sink
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	f.mu.Unlock()
	if sink == nil {
		return false
	}
	return sink.TrySend(edge(level, now()))
}

// Level returns the last triggered level.
func (f *FakeEdgeSource) Level() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sink == nil {
		return false, ErrNotStarted
	}
	return f.level, nil
}

// Close marks the source as closed.
func (f *FakeEdgeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeEdgeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeOutput records output line writes.
type FakeOutput struct {
	mu     sync.Mutex
	states []bool
	closed bool

	// SetError, if set, is returned by Set.
	SetError error
}

// Set records the state.
func (f *FakeOutput) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.mu.Lock()
	f.states = append(f.states, on)
	f.mu.Unlock()
	return nil
}

// States returns the recorded writes in order.
func (f *FakeOutput) States() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.states))
	copy(out, f.states)
	return out
}

// Close marks the line as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

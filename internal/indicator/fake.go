package indicator

import (
	"sync"
	"time"
)

// Call is one recorded actuator command.
type Call struct {
	Ramp     bool
	Percent  float64
	Duration time.Duration
}

// FakeActuator records actuator commands for test assertions.
type FakeActuator struct {
	mu    sync.Mutex
	calls []Call

	// Notify receives a copy of every call if non-nil. Sends never block.
	Notify chan Call

	// Err, if set, is returned by every command.
	Err error
}

// NewFakeActuator creates a FakeActuator with a buffered notify channel.
func NewFakeActuator() *FakeActuator {
	return &FakeActuator{Notify: make(chan Call, 256)}
}

// SetDuty records an immediate duty change.
func (f *FakeActuator) SetDuty(percent float64) error {
	f.record(Call{Percent: percent})
	return f.Err
}

// RampDuty records a ramp.
func (f *FakeActuator) RampDuty(target float64, d time.Duration) error {
	f.record(Call{Ramp: true, Percent: target, Duration: d})
	return f.Err
}

// Calls returns a copy of the recorded calls.
func (f *FakeActuator) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeActuator) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.Notify != nil {
		select {
		case f.Notify <- c:
		default:
		}
	}
}

// RecordingSetter records pattern assignments without rendering them.
type RecordingSetter struct {
	mu    sync.Mutex
	specs []Spec
}

// SetPattern records spec.
func (r *RecordingSetter) SetPattern(spec Spec) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()
}

// Specs returns the recorded assignments in order.
func (r *RecordingSetter) Specs() []Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Last returns the most recent assignment and whether there was one.
func (r *RecordingSetter) Last() (Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.specs) == 0 {
		return Spec{}, false
	}
	return r.specs[len(r.specs)-1], true
}

package mqtt

import (
	"sync"

	"github.com/sweeney/presence-sensor/internal/logic"
)

// FakePublisher records published messages for test assertions. It is safe
// for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	statuses       []bool
	changes        []logic.OccupancyChange
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	closed         bool
	connected      bool

	// PublishError, if set, is returned by PublishStatus and PublishOccupancy.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishStatus records the status flag.
func (f *FakePublisher) PublishStatus(occupied bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.statuses = append(f.statuses, occupied)
	return nil
}

// PublishOccupancy records the change and its payload.
func (f *FakePublisher) PublishOccupancy(change logic.OccupancyChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(change)
	if err != nil {
		return err
	}
	f.changes = append(f.changes, change)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// Statuses returns the recorded status flags.
func (f *FakePublisher) Statuses() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.statuses...)
}

// Changes returns the recorded occupancy changes.
func (f *FakePublisher) Changes() []logic.OccupancyChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.OccupancyChange(nil), f.changes...)
}

// Payloads returns the recorded occupancy payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = nil
	f.changes = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.closed = false
	f.connected = false
	f.PublishError = nil
	f.PublishSystemError = nil
}

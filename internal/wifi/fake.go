package wifi

import (
	"context"
	"sync"

	"github.com/sweeney/presence-sensor/internal/event"
)

// FakeStack records connection requests and lets tests inject link events.
type FakeStack struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	associated  bool
	sink        event.Sink

	// ConnectError, if set, is returned by Connect.
	ConnectError error
}

// Connect records the request.
func (f *FakeStack) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.ConnectError
}

// Disconnect records the request.
func (f *FakeStack) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

// IsAssociated returns the value set by SetAssociated.
func (f *FakeStack) IsAssociated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.associated
}

// SetAssociated sets the association flag.
func (f *FakeStack) SetAssociated(v bool) {
	f.mu.Lock()
	f.associated = v
	f.mu.Unlock()
}

// Run records sink and blocks until ctx is cancelled.
func (f *FakeStack) Run(ctx context.Context, sink event.Sink) error {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

// Emit delivers ev to the sink passed to Run. It reports false if Run has
// not been called or the queue is full.
func (f *FakeStack) Emit(ev event.Event) bool {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return false
	}
	return sink.TrySend(ev)
}

// Connects returns the number of Connect calls.
func (f *FakeStack) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Disconnects returns the number of Disconnect calls.
func (f *FakeStack) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

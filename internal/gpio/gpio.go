// Package gpio provides the presence sensor edge source and the LED output
// line. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/presence-sensor/internal/event"
)

// ErrNotStarted is returned by Level before Start has requested the line.
var ErrNotStarted = errors.New("gpio: edge source not started")

// EdgeSource watches the presence sensor line.
type EdgeSource interface {
	// Start requests the line and enqueues a PresenceEdge on every edge.
	// Edges that do not fit in the queue are dropped.
	Start(sink event.Sink) error

	// Level returns the raw line level.
	Level() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single output line.
type Output interface {
	Set(on bool) error
	Close() error
}

// Pin defaults (BCM numbering).
const (
	DefaultChip      = "gpiochip0"
	DefaultSensorPin = 4
	DefaultLEDPin    = 18
)

// Options configures the edge source.
type Options struct {
	Chip string
	Pin  int
	// Debounce is passed to the kernel line debouncer. Zero disables it.
	Debounce time.Duration
	// PullUp biases the input high, for open-collector sensors.
	PullUp bool
}

// edge builds the event for a raw level.
func edge(level bool, at time.Time) event.PresenceEdge {
	return event.PresenceEdge{Level: level, At: at}
}

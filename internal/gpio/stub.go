//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/presence-sensor/internal/event"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealEdgeSource is not available on non-Linux platforms.
type RealEdgeSource struct{}

// NewRealEdgeSource returns a source whose Start always fails.
func NewRealEdgeSource(Options) *RealEdgeSource {
	return &RealEdgeSource{}
}

// Start is not implemented on non-Linux platforms.
func (r *RealEdgeSource) Start(event.Sink) error { return errUnsupported }

// Level is not implemented on non-Linux platforms.
func (r *RealEdgeSource) Level() (bool, error) { return false, errUnsupported }

// Close is a no-op on non-Linux platforms.
func (r *RealEdgeSource) Close() error { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(string, int) (*RealOutput, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(bool) error { return errUnsupported }

// Close is a no-op on non-Linux platforms.
func (o *RealOutput) Close() error { return nil }

//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/presence-sensor/internal/event"
	"github.com/warthog618/go-gpiocdev"
)

// RealEdgeSource watches the sensor line through the GPIO character device.
type RealEdgeSource struct {
	opts Options

	mu   sync.Mutex
	line *gpiocdev.Line
}

// NewRealEdgeSource creates an edge source. The line is requested by Start.
func NewRealEdgeSource(opts Options) *RealEdgeSource {
	if opts.Chip == "" {
		opts.Chip = DefaultChip
	}
	return &RealEdgeSource{opts: opts}
}

// Start requests the line with edge detection on both edges.
func (r *RealEdgeSource) Start(sink event.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line != nil {
		return fmt.Errorf("sensor pin %d already requested", r.opts.Pin)
	}

	bias := gpiocdev.WithPullDown
	if r.opts.PullUp {
		bias = gpiocdev.WithPullUp
	}

	handler := func(evt gpiocdev.LineEvent) {
		// The edge type gives the level at the moment of the edge. Reading
		// the line again could observe a later bounce.
		level := evt.Type == gpiocdev.LineEventRisingEdge
		sink.TrySend(edge(level, time.Now()))
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		bias,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler),
	}
	if r.opts.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(r.opts.Debounce))
	}

	line, err := gpiocdev.RequestLine(r.opts.Chip, r.opts.Pin, opts...)
	if err != nil {
		return fmt.Errorf("request sensor pin %d: %w", r.opts.Pin, err)
	}
	r.line = line
	return nil
}

// Level returns the raw line level.
func (r *RealEdgeSource) Level() (bool, error) {
	r.mu.Lock()
	line := r.line
	r.mu.Unlock()
	if line == nil {
		return false, ErrNotStarted
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read sensor pin: %w", err)
	}
	return v != 0, nil
}

// Close releases the line. It reconfigures the pin to a plain input with
// pull-down before closing, matching the Pi boot default.
func (r *RealEdgeSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line == nil {
		return nil
	}
	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure sensor pin: %w", err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sensor pin: %w", err))
	}
	r.line = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealOutput is an output line used as an on/off LED driver.
type RealOutput struct {
	line *gpiocdev.Line
}

// NewRealOutput requests pin as an output, initially low.
func NewRealOutput(chip string, pin int) (*RealOutput, error) {
	if chip == "" {
		chip = DefaultChip
	}
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request LED pin %d: %w", pin, err)
	}
	return &RealOutput{line: line}, nil
}

// Set drives the line high when on.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set LED pin: %w", err)
	}
	return nil
}

// Close turns the LED off and releases the line.
func (o *RealOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("clear LED pin: %w", err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure LED pin: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close LED pin: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Package pwm implements the LED actuator: software duty ramps over a
// hardware PWM channel or a plain output line.
package pwm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for the LED channel.
const (
	DefaultFrequencyHz    = 1000
	DefaultMaxDutyPercent = 25.0
	DefaultRampStep       = 20 * time.Millisecond
)

// DutyWriter writes a physical duty cycle in percent.
type DutyWriter interface {
	WriteDuty(percent float64) error
}

// Ramper turns a DutyWriter into an indicator actuator. Logical duty 100%
// maps to maxDuty percent of the physical channel.
type Ramper struct {
	w       DutyWriter
	maxDuty float64
	step    time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	current float64 // logical duty, 0..100
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRamper creates a ramper. maxDuty outside (0,100] falls back to the default.
func NewRamper(w DutyWriter, maxDuty float64, logger *slog.Logger) *Ramper {
	if maxDuty <= 0 || maxDuty > 100 {
		maxDuty = DefaultMaxDutyPercent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ramper{w: w, maxDuty: maxDuty, step: DefaultRampStep, logger: logger}
}

// SetDuty cancels any active ramp and writes percent immediately.
func (r *Ramper) SetDuty(percent float64) error {
	r.stopRamp()
	percent = clamp(percent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.WriteDuty(r.physical(percent)); err != nil {
		return fmt.Errorf("write duty: %w", err)
	}
	r.current = percent
	return nil
}

// RampDuty starts a linear ramp from the current duty to target over d and
// returns immediately. A running ramp is cancelled first.
func (r *Ramper) RampDuty(target float64, d time.Duration) error {
	r.stopRamp()
	target = clamp(target)

	if d <= r.step {
		return r.SetDuty(target)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	from := r.current
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.runRamp(ctx, done, from, target, d)
	return nil
}

// Duty returns the logical duty last written.
func (r *Ramper) Duty() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close stops any ramp in progress.
func (r *Ramper) Close() {
	r.stopRamp()
}

func (r *Ramper) runRamp(ctx context.Context, done chan struct{}, from, to float64, d time.Duration) {
	defer close(done)

	steps := int(d / r.step)
	ticker := time.NewTicker(r.step)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		v := from + (to-from)*float64(i)/float64(steps)
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		err := r.w.WriteDuty(r.physical(v))
		if err == nil {
			r.current = v
		}
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("ramp step failed", "duty", v, "error", err)
			return
		}
	}
}

func (r *Ramper) stopRamp() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Ramper) physical(percent float64) float64 {
	return percent * r.maxDuty / 100
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

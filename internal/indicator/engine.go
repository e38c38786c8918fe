package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// minPeriod bounds timed waits so a zero duration cannot spin the loop.
const minPeriod = 10 * time.Millisecond

// Engine is the pattern rendering loop.
type Engine struct {
	act    Actuator
	logger *slog.Logger
	wake   chan struct{}

	mu   sync.Mutex
	spec Spec
	lit  bool // flash phase
}

// NewEngine creates an engine that starts in the Off pattern.
func NewEngine(act Actuator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		act:    act,
		logger: logger,
		wake:   make(chan struct{}, 1),
		spec:   OffSpec(),
	}
}

// SetPattern replaces the rendered pattern and preempts any wait in progress.
// Safe to call from any goroutine.
func (e *Engine) SetPattern(spec Spec) {
	e.mu.Lock()
	e.spec = spec
	switch spec.Pattern {
	case On:
		e.lit = true
	case Off, Flash:
		e.lit = false
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	e.logger.Info("indicator pattern set", "pattern", spec.Pattern.String(),
		"on_ms", spec.OnTime.Milliseconds(), "off_ms", spec.OffTime.Milliseconds())
}

// Current returns the pattern being rendered.
func (e *Engine) Current() Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec
}

// Run renders patterns until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for ctx.Err() == nil {
		e.step(ctx)
	}
}

// step renders one iteration of the current pattern.
func (e *Engine) step(ctx context.Context) {
	// A wake that arrived before the spec is read is already accounted for.
	select {
	case <-e.wake:
	default:
	}

	e.mu.Lock()
	spec := e.spec
	e.mu.Unlock()

	switch spec.Pattern {
	case Off:
		e.setDuty(DutyOff)
		e.wait(ctx, -1)

	case On:
		e.setDuty(DutyFull)
		e.wait(ctx, -1)

	case Flash:
		e.mu.Lock()
		e.lit = !e.lit
		lit := e.lit
		e.mu.Unlock()
		if lit {
			e.setDuty(DutyFull)
		} else {
			e.setDuty(DutyOff)
		}
		e.wait(ctx, period(spec.OnTime))

	case FadeIn:
		e.ramp(DutyFull, spec.OnTime)
		if e.wait(ctx, period(spec.OnTime)) {
			e.wait(ctx, -1)
		}

	case FadeOut:
		e.ramp(DutyOff, spec.OffTime)
		if e.wait(ctx, period(spec.OffTime)) {
			e.wait(ctx, -1)
		}

	case FadeInOut:
		e.ramp(DutyFull, spec.OnTime)
		if !e.wait(ctx, period(spec.OnTime)) {
			return
		}
		e.ramp(DutyOff, spec.OnTime)
		e.wait(ctx, period(spec.OnTime))

	default:
		e.logger.Error("unknown indicator pattern", "pattern", int(spec.Pattern))
		e.wait(ctx, -1)
	}
}

// wait blocks for d (forever if d < 0) and reports whether the full
// duration elapsed without a pattern change or cancellation.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		select {
		case <-e.wake:
		case <-ctx.Done():
		}
		return false
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.wake:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) setDuty(percent float64) {
	if err := e.act.SetDuty(percent); err != nil {
		e.logger.Warn("set duty failed", "percent", percent, "error", err)
	}
}

func (e *Engine) ramp(target float64, d time.Duration) {
	if err := e.act.RampDuty(target, d); err != nil {
		e.logger.Warn("ramp duty failed", "target", target, "duration", d, "error", err)
	}
}

func period(d time.Duration) time.Duration {
	if d < minPeriod {
		return minPeriod
	}
	return d
}

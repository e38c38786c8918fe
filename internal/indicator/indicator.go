// Package indicator renders timed lighting patterns on the status LED.
//
// A single Engine goroutine owns the actuator. SetPattern replaces the
// current pattern and wakes the engine so that no stale pattern keeps
// running after a change.
package indicator

import (
	"fmt"
	"time"
)

// Pattern identifies a lighting pattern.
type Pattern int

const (
	Off Pattern = iota
	On
	Flash
	FadeIn
	FadeOut
	FadeInOut
)

// String returns the pattern name.
func (p Pattern) String() string {
	switch p {
	case Off:
		return "off"
	case On:
		return "on"
	case Flash:
		return "flash"
	case FadeIn:
		return "fade-in"
	case FadeOut:
		return "fade-out"
	case FadeInOut:
		return "fade-in-out"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

// Spec is a pattern with its timing.
type Spec struct {
	Pattern Pattern
	OnTime  time.Duration
	OffTime time.Duration
}

// Duty levels in percent of the actuator's full brightness.
const (
	DutyOff  = 0.0
	DutyFull = 100.0
)

// Actuator drives the LED brightness.
type Actuator interface {
	// SetDuty sets the duty cycle immediately, cancelling any ramp.
	SetDuty(percent float64) error
	// RampDuty starts a linear ramp from the current duty to target over d
	// and returns without waiting for it to finish.
	RampDuty(target float64, d time.Duration) error
}

// Setter is implemented by anything that accepts pattern assignments.
type Setter interface {
	SetPattern(spec Spec)
}

// OffSpec returns the Off pattern.
func OffSpec() Spec { return Spec{Pattern: Off} }

// OnSpec returns the On pattern.
func OnSpec() Spec { return Spec{Pattern: On} }

// FlashSpec toggles the LED every on.
func FlashSpec(on time.Duration) Spec {
	return Spec{Pattern: Flash, OnTime: on}
}

// FadeInSpec ramps up over on, then holds.
func FadeInSpec(on time.Duration) Spec {
	return Spec{Pattern: FadeIn, OnTime: on}
}

// FadeOutSpec ramps down over off, then holds.
func FadeOutSpec(off time.Duration) Spec {
	return Spec{Pattern: FadeOut, OffTime: off}
}

// FadeInOutSpec breathes the LED. Both ramps use on; off is recorded but
// not used for timing.
func FadeInOutSpec(on, off time.Duration) Spec {
	return Spec{Pattern: FadeInOut, OnTime: on, OffTime: off}
}

package pwm

import "github.com/sweeney/presence-sensor/internal/gpio"

// LineWriter drives an on/off output line as a degenerate PWM channel.
// Pair it with a Ramper ceiling of 100 so full brightness reaches the
// switching threshold.
type LineWriter struct {
	out  gpio.Output
	last int // -1 unknown, 0 off, 1 on
}

// NewLineWriter wraps out.
func NewLineWriter(out gpio.Output) *LineWriter {
	return &LineWriter{out: out, last: -1}
}

// WriteDuty turns the line on at 50% and above. Unchanged states are not
// rewritten so ramps do not hammer the line.
func (l *LineWriter) WriteDuty(percent float64) error {
	state := 0
	if percent >= 50 {
		state = 1
	}
	if state == l.last {
		return nil
	}
	if err := l.out.Set(state == 1); err != nil {
		return err
	}
	l.last = state
	return nil
}

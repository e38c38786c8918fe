// Package logic contains the pure occupancy and connection state machines.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Compiled defaults for the detection settings.
const (
	DefaultDetectionEnabled   = true
	DefaultGracePeriodSeconds = 5
	DefaultMaxRetries         = 3
)

// ErrInvalidGracePeriod is returned for a grace period outside 1..MaxUint32 seconds.
var ErrInvalidGracePeriod = errors.New("logic: grace period must be a positive number of seconds")

// DetectionConfig holds the persisted detection settings.
type DetectionConfig struct {
	Enabled            bool
	GracePeriodSeconds uint32
}

// DefaultDetectionConfig returns the compiled-in defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Enabled:            DefaultDetectionEnabled,
		GracePeriodSeconds: DefaultGracePeriodSeconds,
	}
}

// GracePeriod returns the grace period as a duration.
func (c DetectionConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// ValidateGracePeriod checks an untrusted grace period value.
func ValidateGracePeriod(seconds int64) (uint32, error) {
	if seconds <= 0 || seconds > math.MaxUint32 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidGracePeriod, seconds)
	}
	return uint32(seconds), nil
}

// OccupancyChange describes a transition of the debounced occupancy signal.
type OccupancyChange struct {
	Timestamp time.Time
	Occupied  bool
	SessionID string
	// Duration is the session length; set only when occupancy ends.
	Duration time.Duration
}

// Decision is the outcome of feeding a presence level into Occupancy.
type Decision struct {
	ArmGrace    bool
	CancelGrace bool
	Change      *OccupancyChange
}

// Phase is the wireless connection phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseAssociated
	PhaseAcquired
	PhaseDisconnected
)

// String returns the phase name used in logs and status output.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseAssociated:
		return "ASSOCIATED"
	case PhaseAcquired:
		return "CONNECTED"
	case PhaseDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseIdle && p <= PhaseDisconnected
}

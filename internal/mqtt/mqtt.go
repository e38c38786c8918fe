// Package mqtt provides MQTT publishing and the configuration downlink,
// with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sweeney/presence-sensor/internal/logic"
)

// ErrNotConnected is returned when a message cannot be sent because the
// broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Topics names the topics the device publishes and subscribes to.
type Topics struct {
	// Status carries the bare occupancy flag: "true" or "false".
	Status string
	// Events carries occupancy change payloads.
	Events string
	// System carries lifecycle events and the last will.
	System string
	// ConfigPrefix is the root of the configuration downlink.
	ConfigPrefix string
}

// DefaultTopics returns the standard topic layout.
func DefaultTopics() Topics {
	return Topics{
		Status:       "presence/sensor/bodydet",
		Events:       "presence/sensor/events",
		System:       "presence/sensor/system",
		ConfigPrefix: "presence/config",
	}
}

// Subscription returns the wildcard filter for the configuration downlink.
func (t Topics) Subscription() string {
	return t.ConfigPrefix + "/#"
}

// EnabledTopic is the downlink topic for the detection flag.
func (t Topics) EnabledTopic() string {
	return t.ConfigPrefix + "/bodydet/enabled"
}

// DelayTopic is the downlink topic for the grace period.
func (t Topics) DelayTopic() string {
	return t.ConfigPrefix + "/bodydet/delay"
}

// Publisher publishes device state to MQTT.
type Publisher interface {
	// PublishStatus sends the current occupancy flag.
	PublishStatus(occupied bool) error

	// PublishOccupancy sends an occupancy change. Changes made while the
	// broker is unreachable are buffered and replayed on reconnect.
	PublishOccupancy(change logic.OccupancyChange) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// FormatStatusPayload returns the status topic payload.
func FormatStatusPayload(occupied bool) []byte {
	if occupied {
		return []byte("true")
	}
	return []byte("false")
}

// Occupancy event names.
const (
	EventOccupied = "OCCUPIED"
	EventVacant   = "VACANT"
)

// Payload represents the occupancy event payload structure.
type Payload struct {
	Occupancy OccupancyPayload `json:"occupancy"`
}

// OccupancyPayload contains the occupancy change details.
type OccupancyPayload struct {
	Timestamp       string  `json:"timestamp"`
	Event           string  `json:"event"`
	Occupied        bool    `json:"occupied"`
	Session         string  `json:"session"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// FormatPayload creates the JSON payload for an occupancy change.
func FormatPayload(change logic.OccupancyChange) ([]byte, error) {
	name := EventVacant
	if change.Occupied {
		name = EventOccupied
	}
	payload := Payload{
		Occupancy: OccupancyPayload{
			Timestamp:       change.Timestamp.UTC().Format(time.RFC3339),
			Event:           name,
			Occupied:        change.Occupied,
			Session:         change.SessionID,
			DurationSeconds: change.Duration.Seconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

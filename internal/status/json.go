package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string        `json:"event,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Occupancy       OccupancyJSON `json:"occupancy"`
	Detection       DetectionJSON `json:"detection"`
	Indicator       string        `json:"indicator"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	StartTime       string        `json:"start_time"`
	Timestamp       string        `json:"timestamp"`
	MQTT            MQTTStatus    `json:"mqtt"`
	Network         NetworkJSON   `json:"network"`
	Time            TimeJSON      `json:"time"`
	EventsProcessed uint64        `json:"events_processed"`
	LastEvent       string        `json:"last_event,omitempty"`
	QueueDropped    uint64        `json:"queue_dropped"`
	Config          ConfigJSON    `json:"config"`
}

// OccupancyJSON reports the debounced occupancy signal.
type OccupancyJSON struct {
	Occupied bool   `json:"occupied"`
	Session  string `json:"session,omitempty"`
	Since    string `json:"since,omitempty"`
}

// DetectionJSON reports the detection settings.
type DetectionJSON struct {
	Enabled            bool   `json:"enabled"`
	GracePeriodSeconds uint32 `json:"grace_period_seconds"`
	GraceArmed         bool   `json:"grace_armed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Interface  string `json:"interface"`
	IP         string `json:"ip,omitempty"`
	Phase      string `json:"phase"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// TimeJSON reports clock synchronisation.
type TimeJSON struct {
	Synced   bool   `json:"synced"`
	OffsetMs int64  `json:"offset_ms"`
	Server   string `json:"server,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SensorPin   int    `json:"sensor_pin"`
	ActiveLow   bool   `json:"active_low"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	occ := OccupancyJSON{Occupied: snap.Occupied, Session: snap.SessionID}
	if snap.Occupied && !snap.OccupiedSince.IsZero() {
		occ.Since = snap.OccupiedSince.UTC().Format(time.RFC3339)
	}
	indicator := snap.Indicator
	if indicator == "" {
		indicator = "off"
	}

	return StatusInner{
		Occupancy: occ,
		Detection: DetectionJSON{
			Enabled:            snap.DetectionEnabled,
			GracePeriodSeconds: snap.GracePeriodSeconds,
			GraceArmed:         snap.GraceArmed,
		},
		Indicator:     indicator,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Network: NetworkJSON{
			Interface:  snap.Network.Interface,
			IP:         snap.Network.IP,
			Phase:      snap.Network.Phase,
			RetryCount: snap.Network.RetryCount,
			MaxRetries: snap.Network.MaxRetries,
		},
		Time: TimeJSON{
			Synced:   snap.Time.Synced,
			OffsetMs: snap.Time.Offset.Milliseconds(),
			Server:   snap.Time.Server,
		},
		EventsProcessed: snap.EventsProcessed,
		LastEvent:       snap.LastEvent,
		QueueDropped:    snap.QueueDropped,
		Config: ConfigJSON{
			SensorPin:   snap.Config.SensorPin,
			ActiveLow:   snap.Config.ActiveLow,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Package status provides a thread-safe status tracker for the presence-sensor
// daemon. It is read by HTTP handlers, the WebSocket feed and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/presence-sensor/internal/control"
)

// NetworkInfo contains the wireless link state.
type NetworkInfo struct {
	Interface  string
	IP         string
	Phase      string
	RetryCount int
	MaxRetries int
}

// TimeInfo contains the clock synchronisation state.
type TimeInfo struct {
	Synced bool
	Offset time.Duration
	Server string
}

// Config contains daemon configuration for display.
type Config struct {
	SensorPin   int
	ActiveLow   bool
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Interface   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Occupied           bool
	SessionID          string
	OccupiedSince      time.Time
	DetectionEnabled   bool
	GracePeriodSeconds uint32
	GraceArmed         bool
	Indicator          string
	EventsProcessed    uint64
	LastEvent          string
	QueueDropped       uint64
	MQTTConnected      bool
	Network            NetworkInfo
	Time               TimeInfo
	StartTime          time.Time
	Now                time.Time
	Config             Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Network:   NetworkInfo{Interface: cfg.Interface, Phase: "IDLE"},
		},
		now: time.Now,
	}
}

// Update copies the dispatcher view and queue drop count into the snapshot.
func (t *Tracker) Update(v control.View, queueDropped uint64) {
	t.mu.Lock()
	t.snap.Occupied = v.Occupied
	t.snap.SessionID = v.SessionID
	t.snap.OccupiedSince = v.Since
	t.snap.DetectionEnabled = v.Enabled
	t.snap.GracePeriodSeconds = v.GracePeriodSeconds
	t.snap.GraceArmed = v.GraceArmed
	t.snap.Indicator = v.Pattern.Pattern.String()
	t.snap.EventsProcessed = v.EventsProcessed
	t.snap.LastEvent = v.LastEvent
	t.snap.QueueDropped = queueDropped
	t.snap.MQTTConnected = v.TransportConnected
	t.snap.Network.IP = v.Addr
	t.snap.Network.Phase = v.Phase.String()
	t.snap.Network.RetryCount = v.RetryCount
	t.snap.Network.MaxRetries = v.MaxRetries
	t.mu.Unlock()
}

// SetTime sets the clock synchronisation state.
func (t *Tracker) SetTime(info TimeInfo) {
	t.mu.Lock()
	t.snap.Time = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

// Package event defines the device events that flow through the dispatcher
// queue. Every producer (edge handler, network monitor, MQTT downlink, grace
// timer, HTTP API) submits one of these variants; only the dispatcher consumes.
package event

import "time"

// Event is a single device event. The set of variants is closed: only types
// in this package implement it.
type Event interface {
	// Kind returns a short stable name used for logging and metrics labels.
	Kind() string
	isEvent()
}

// PresenceEdge is emitted on every edge of the presence sensor line. Level is
// the raw pin level; polarity correction happens in the dispatcher.
type PresenceEdge struct {
	Level bool
	At    time.Time
}

// DetectionToggled enables or disables presence detection.
type DetectionToggled struct {
	Enabled bool
}

// GracePeriodChanged sets the grace period. Seconds is signed so that
// non-positive values from untrusted sources can be rejected downstream.
type GracePeriodChanged struct {
	Seconds int64
}

// GracePeriodExpired is posted by the grace timer. Generation identifies the
// arm that produced it so stale expiries can be discarded.
type GracePeriodExpired struct {
	Generation uint64
}

// NetworkStarted reports that association with the access point has begun.
type NetworkStarted struct{}

// NetworkAssociated reports a link-layer association without an address yet.
type NetworkAssociated struct{}

// NetworkAddressAcquired reports that the interface obtained an IP address.
type NetworkAddressAcquired struct {
	Addr string
}

// NetworkDisconnected reports loss of the wireless link.
type NetworkDisconnected struct {
	Reason string
}

// NetworkConnectRequested asks the dispatcher to bring the link up.
type NetworkConnectRequested struct{}

// NetworkDisconnectRequested asks the dispatcher to take the link down
// without automatic reconnection.
type NetworkDisconnectRequested struct{}

// TransportConnected reports that the MQTT session is up.
type TransportConnected struct{}

// TransportDisconnected reports that the MQTT session was lost.
type TransportDisconnected struct {
	Reason string
}

func (PresenceEdge) Kind() string               { return "presence_edge" }
func (DetectionToggled) Kind() string           { return "detection_toggled" }
func (GracePeriodChanged) Kind() string         { return "grace_period_changed" }
func (GracePeriodExpired) Kind() string         { return "grace_period_expired" }
func (NetworkStarted) Kind() string             { return "network_started" }
func (NetworkAssociated) Kind() string          { return "network_associated" }
func (NetworkAddressAcquired) Kind() string     { return "network_address_acquired" }
func (NetworkDisconnected) Kind() string        { return "network_disconnected" }
func (NetworkConnectRequested) Kind() string    { return "network_connect_requested" }
func (NetworkDisconnectRequested) Kind() string { return "network_disconnect_requested" }
func (TransportConnected) Kind() string         { return "transport_connected" }
func (TransportDisconnected) Kind() string      { return "transport_disconnected" }

func (PresenceEdge) isEvent()               {}
func (DetectionToggled) isEvent()           {}
func (GracePeriodChanged) isEvent()         {}
func (GracePeriodExpired) isEvent()         {}
func (NetworkStarted) isEvent()             {}
func (NetworkAssociated) isEvent()          {}
func (NetworkAddressAcquired) isEvent()     {}
func (NetworkDisconnected) isEvent()        {}
func (NetworkConnectRequested) isEvent()    {}
func (NetworkDisconnectRequested) isEvent() {}
func (TransportConnected) isEvent()         {}
func (TransportDisconnected) isEvent()      {}

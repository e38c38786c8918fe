package logic

import "time"

// Occupancy tracks the debounced occupancy signal.
//
// Presence sets detected immediately. Absence only asks for the grace timer
// to be armed; detected drops to false when the timer expires. Presence
// arriving while the timer is armed continues the current session.
type Occupancy struct {
	detected bool
	session  string
	since    time.Time
	newID    func() string
}

// NewOccupancy creates an unoccupied tracker. newID generates session IDs.
func NewOccupancy(newID func() string) *Occupancy {
	if newID == nil {
		newID = func() string { return "" }
	}
	return &Occupancy{newID: newID}
}

// Presence processes a polarity-corrected sensor level.
func (o *Occupancy) Presence(present bool, now time.Time) Decision {
	if !present {
		return Decision{ArmGrace: true}
	}

	d := Decision{CancelGrace: true}
	if !o.detected {
		o.detected = true
		o.session = o.newID()
		o.since = now
		d.Change = &OccupancyChange{
			Timestamp: now,
			Occupied:  true,
			SessionID: o.session,
		}
	}
	return d
}

// Expire ends the current session after the grace period. It returns nil if
// the space was already unoccupied.
func (o *Occupancy) Expire(now time.Time) *OccupancyChange {
	if !o.detected {
		return nil
	}
	change := &OccupancyChange{
		Timestamp: now,
		Occupied:  false,
		SessionID: o.session,
		Duration:  now.Sub(o.since),
	}
	o.detected = false
	o.session = ""
	o.since = time.Time{}
	return change
}

// Detected returns the current occupancy.
func (o *Occupancy) Detected() bool {
	return o.detected
}

// Session returns the ID of the current session, or "" when unoccupied.
func (o *Occupancy) Session() string {
	return o.session
}

// Since returns when the current session started.
func (o *Occupancy) Since() time.Time {
	return o.since
}

// CorrectPolarity converts a raw pin level into presence.
func CorrectPolarity(level, activeLow bool) bool {
	if activeLow {
		return !level
	}
	return level
}

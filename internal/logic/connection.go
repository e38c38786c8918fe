package logic

import "sync/atomic"

// Connector is the part of the network stack the connection policy drives.
type Connector interface {
	// Connect starts an association attempt. A nil error means the attempt
	// was accepted by the stack, not that the link is up.
	Connect() error
	// Disconnect tears the link down.
	Disconnect() error
	// IsAssociated reports whether the link layer is currently associated.
	IsAssociated() bool
}

// RetryResult describes what the policy did in response to a disconnect.
type RetryResult struct {
	Attempts  int
	Errors    []error
	Manual    bool // a manual disconnect suppressed reconnection
	Exhausted bool // the retry ceiling was reached without an accepted attempt
}

// ConnectionPolicy tracks the link phase and performs bounded automatic
// reconnection. All methods except MarkManualDisconnect and ManualPending
// must be called from the dispatcher goroutine.
type ConnectionPolicy struct {
	conn       Connector
	maxRetries int
	phase      Phase
	retryCount int
	manual     atomic.Bool
}

// NewConnectionPolicy creates a policy in the Idle phase.
func NewConnectionPolicy(conn Connector, maxRetries int) *ConnectionPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ConnectionPolicy{
		conn:       conn,
		maxRetries: maxRetries,
		phase:      PhaseIdle,
	}
}

// Started records that association has begun.
func (p *ConnectionPolicy) Started() {
	p.phase = PhaseConnecting
}

// Associated records a link-layer association without an address.
func (p *ConnectionPolicy) Associated() {
	p.phase = PhaseAssociated
}

// AddressAcquired records a usable connection and resets the retry budget.
func (p *ConnectionPolicy) AddressAcquired() {
	p.retryCount = 0
	p.phase = PhaseAcquired
}

// Disconnected records loss of the link and retries synchronously until an
// attempt is accepted, the ceiling is reached or a manual disconnect is seen.
// A pending manual disconnect is consumed.
func (p *ConnectionPolicy) Disconnected() RetryResult {
	p.phase = PhaseDisconnected

	var r RetryResult
	accepted := false
	for p.retryCount < p.maxRetries && !p.manual.Load() {
		p.retryCount++
		r.Attempts++
		if err := p.conn.Connect(); err != nil {
			r.Errors = append(r.Errors, err)
			continue
		}
		accepted = true
		break
	}

	r.Manual = p.manual.Swap(false)
	r.Exhausted = !r.Manual && !accepted && p.retryCount >= p.maxRetries
	return r
}

// RequestConnect starts a connection unless the link is already associated.
// It reports whether an attempt was made.
func (p *ConnectionPolicy) RequestConnect() (bool, error) {
	if p.conn.IsAssociated() {
		return false, nil
	}
	p.manual.Store(false)
	p.retryCount = 0
	p.phase = PhaseConnecting
	return true, p.conn.Connect()
}

// RequestDisconnect marks the disconnect as manual and tears the link down.
// An unassociated link produces no later Disconnected call to consume the
// flag, so in that case the flag is cleared and the phase set here.
func (p *ConnectionPolicy) RequestDisconnect() error {
	p.retryCount = 0
	if !p.conn.IsAssociated() {
		p.manual.Store(false)
		p.phase = PhaseDisconnected
		return p.conn.Disconnect()
	}
	p.manual.Store(true)
	return p.conn.Disconnect()
}

// MarkManualDisconnect sets the manual flag so an in-flight retry loop stops
// at its next iteration. Safe to call from any goroutine.
func (p *ConnectionPolicy) MarkManualDisconnect() {
	p.manual.Store(true)
}

// ClearManualDisconnect withdraws a flag set by MarkManualDisconnect whose
// request never reached the dispatcher. Safe to call from any goroutine.
func (p *ConnectionPolicy) ClearManualDisconnect() {
	p.manual.Store(false)
}

// ManualPending reports whether a manual disconnect is pending.
func (p *ConnectionPolicy) ManualPending() bool {
	return p.manual.Load()
}

// Phase returns the current phase.
func (p *ConnectionPolicy) Phase() Phase {
	return p.phase
}

// RetryCount returns the number of automatic attempts since the last
// acquired address.
func (p *ConnectionPolicy) RetryCount() int {
	return p.retryCount
}

// MaxRetries returns the retry ceiling.
func (p *ConnectionPolicy) MaxRetries() int {
	return p.maxRetries
}

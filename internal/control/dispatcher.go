// Package control runs the device control dispatcher: the single consumer
// of the event queue and sole owner of occupancy, detection settings,
// connection state and the grace timer.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/presence-sensor/internal/event"
	"github.com/sweeney/presence-sensor/internal/indicator"
	"github.com/sweeney/presence-sensor/internal/logic"
)

// Indicator patterns for each connection phase.
var (
	PatternConnecting   = indicator.FlashSpec(300 * time.Millisecond)
	PatternAssociated   = indicator.FlashSpec(100 * time.Millisecond)
	PatternConnected    = indicator.OnSpec()
	PatternDisconnected = indicator.FadeInOutSpec(time.Second, time.Second)
)

// ErrIntegrity is wrapped by integrity check failures.
var ErrIntegrity = errors.New("control: state integrity check failed")

// Queue is the consumer side of the event queue plus its producer side,
// which the grace timer and the disconnect fast path use.
type Queue interface {
	event.Sink
	Receive(ctx context.Context) (event.Event, error)
}

// Persister stores detection settings.
type Persister interface {
	SaveEnabled(enabled bool) error
	SaveGracePeriod(seconds uint32) error
}

// TimeSyncer starts clock synchronisation once the network is up.
type TimeSyncer interface {
	Start()
}

// Metrics receives dispatcher counters.
type Metrics interface {
	EventProcessed(kind string)
	GraceArmed()
	ConfigRejected(reason string)
	ConnectAttempts(n int)
	Occupancy(occupied bool)
}

// Config holds the static dispatcher settings.
type Config struct {
	// ActiveLow inverts the sensor level: low means presence.
	ActiveLow  bool
	MaxRetries int
	// Detection is the initial detection config, normally loaded from the
	// settings store.
	Detection logic.DetectionConfig
}

// Deps are the dispatcher's collaborators. Only Queue, Indicator and
// Connector are required.
type Deps struct {
	Queue     Queue
	Indicator indicator.Setter
	Connector logic.Connector

	Persister Persister
	Notifier  OccupancyNotifier
	TimeSync  TimeSyncer
	Metrics   Metrics
	Logger    *slog.Logger

	Now          func() time.Time
	AfterFunc    AfterFunc
	NewSessionID func() string
	// Fatal is called when the integrity check fails. Defaults to logging
	// and exiting with status 1.
	Fatal func(error)
}

// View is a read-only copy of the dispatcher state.
type View struct {
	Occupied           bool
	SessionID          string
	Since              time.Time
	Enabled            bool
	GracePeriodSeconds uint32
	GraceArmed         bool
	Phase              logic.Phase
	Addr               string
	RetryCount         int
	MaxRetries         int
	TransportConnected bool
	Pattern            indicator.Spec
	EventsProcessed    uint64
	LastEvent          string
	UpdatedAt          time.Time
}

// Dispatcher serialises all state changes through one goroutine.
type Dispatcher struct {
	queue     Queue
	indicator indicator.Setter
	persister Persister
	notifier  OccupancyNotifier
	timesync  TimeSyncer
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
	fatal     func(error)

	activeLow bool
	detection logic.DetectionConfig
	occupancy *logic.Occupancy
	policy    *logic.ConnectionPolicy
	timer     *GraceTimer

	transportUp bool
	addr        string
	// lastPresent is the most recent corrected sensor level, recorded even
	// while detection is disabled.
	lastPresent bool
	levelKnown  bool
	pattern     indicator.Spec
	processed   uint64

	view atomic.Pointer[View]
}

// New creates a dispatcher. Call Run to start consuming events.
func New(cfg Config, deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		queue:     deps.Queue,
		indicator: deps.Indicator,
		persister: deps.Persister,
		notifier:  deps.Notifier,
		timesync:  deps.TimeSync,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       deps.Now,
		fatal:     deps.Fatal,
		activeLow: cfg.ActiveLow,
		detection: cfg.Detection,
		policy:    logic.NewConnectionPolicy(deps.Connector, cfg.MaxRetries),
		timer:     NewGraceTimer(deps.Queue, deps.AfterFunc),
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.metrics == nil {
		d.metrics = nopMetrics{}
	}
	if d.fatal == nil {
		d.fatal = func(err error) {
			logger.Error("fatal", "error", err)
			os.Exit(1)
		}
	}
	newID := deps.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}
	d.occupancy = logic.NewOccupancy(newID)
	if d.detection.GracePeriodSeconds == 0 {
		d.detection.GracePeriodSeconds = logic.DefaultGracePeriodSeconds
	}
	d.publishView("")
	return d
}

// Run shows the disconnected pattern and consumes events until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.setPattern(PatternDisconnected)
	d.publishView("")
	d.logger.Info("dispatcher started",
		"enabled", d.detection.Enabled,
		"grace_period_s", d.detection.GracePeriodSeconds,
		"active_low", d.activeLow,
		"max_retries", d.policy.MaxRetries())

	for {
		ev, err := d.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.timer.Cancel()
				return nil
			}
			return fmt.Errorf("receive event: %w", err)
		}
		d.Handle(ctx, ev)
	}
}

// Handle processes one event. It must only be called from the goroutine
// running Run, or from tests that do not call Run.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.DetectionToggled:
		d.onDetectionToggled(ctx, e)
	case event.GracePeriodChanged:
		d.onGracePeriodChanged(e)
	case event.PresenceEdge:
		d.onPresenceEdge(ctx, e)
	case event.GracePeriodExpired:
		d.onGracePeriodExpired(e)
	case event.NetworkStarted:
		d.policy.Started()
		d.setPattern(PatternConnecting)
	case event.NetworkAssociated:
		d.policy.Associated()
		d.setPattern(PatternAssociated)
	case event.NetworkAddressAcquired:
		d.onAddressAcquired(e)
	case event.NetworkDisconnected:
		d.onDisconnected(e)
	case event.NetworkConnectRequested:
		d.onConnectRequested()
	case event.NetworkDisconnectRequested:
		d.onDisconnectRequested()
	case event.TransportConnected:
		d.transportUp = true
		d.logger.Info("transport connected")
	case event.TransportDisconnected:
		d.transportUp = false
		d.logger.Warn("transport disconnected", "reason", e.Reason)
	default:
		d.logger.Warn("unknown event dropped", "type", fmt.Sprintf("%T", ev))
		return
	}

	d.processed++
	d.metrics.EventProcessed(ev.Kind())
	d.publishView(ev.Kind())

	if err := d.checkIntegrity(); err != nil {
		d.fatal(err)
	}
}

// RequestDisconnect marks the next disconnect as manual, so a retry loop
// already in progress stops, and queues the disconnect itself. Safe to call
// from any goroutine.
func (d *Dispatcher) RequestDisconnect(ctx context.Context) error {
	d.policy.MarkManualDisconnect()
	if err := d.queue.Send(ctx, event.NetworkDisconnectRequested{}); err != nil {
		d.policy.ClearManualDisconnect()
		return fmt.Errorf("queue disconnect request: %w", err)
	}
	return nil
}

// View returns the most recently published state. Safe to call from any
// goroutine.
func (d *Dispatcher) View() View {
	return *d.view.Load()
}

func (d *Dispatcher) onDetectionToggled(ctx context.Context, e event.DetectionToggled) {
	wasEnabled := d.detection.Enabled
	d.detection.Enabled = e.Enabled
	if !e.Enabled {
		// Freeze occupancy where it is until detection is re-enabled.
		d.timer.Cancel()
	}
	d.logger.Info("detection toggled", "enabled", e.Enabled)
	if e.Enabled && !wasEnabled && d.levelKnown && d.lastPresent != d.occupancy.Detected() {
		// The sensor moved while detection was off and no edge will follow.
		d.evaluate(ctx, d.lastPresent, d.now())
	}
	if d.persister != nil {
		if err := d.persister.SaveEnabled(e.Enabled); err != nil {
			d.logger.Error("persist detection flag failed", "error", err)
		}
	}
}

func (d *Dispatcher) onGracePeriodChanged(e event.GracePeriodChanged) {
	secs, err := logic.ValidateGracePeriod(e.Seconds)
	if err != nil {
		d.metrics.ConfigRejected("grace_period")
		d.logger.Warn("grace period rejected", "seconds", e.Seconds,
			"kept", d.detection.GracePeriodSeconds, "error", err)
		return
	}
	d.detection.GracePeriodSeconds = secs
	d.logger.Info("grace period changed", "seconds", secs)
	if d.persister != nil {
		if err := d.persister.SaveGracePeriod(secs); err != nil {
			d.logger.Error("persist grace period failed", "error", err)
		}
	}
}

func (d *Dispatcher) onPresenceEdge(ctx context.Context, e event.PresenceEdge) {
	present := logic.CorrectPolarity(e.Level, d.activeLow)
	d.lastPresent = present
	d.levelKnown = true
	if !d.detection.Enabled {
		d.logger.Debug("presence edge ignored, detection disabled", "level", e.Level)
		return
	}
	at := e.At
	if at.IsZero() {
		at = d.now()
	}
	d.evaluate(ctx, present, at)
}

func (d *Dispatcher) evaluate(ctx context.Context, present bool, at time.Time) {
	dec := d.occupancy.Presence(present, at)

	if dec.CancelGrace {
		d.timer.Cancel()
	}
	if dec.ArmGrace {
		gen := d.timer.Arm(ctx, d.detection.GracePeriod())
		d.metrics.GraceArmed()
		d.logger.Debug("grace timer armed", "seconds", d.detection.GracePeriodSeconds, "generation", gen)
	}
	if dec.Change != nil {
		d.report(*dec.Change)
	}
}

func (d *Dispatcher) onGracePeriodExpired(e event.GracePeriodExpired) {
	if !d.timer.Accept(e.Generation) {
		d.logger.Debug("stale grace expiry ignored", "generation", e.Generation)
		return
	}
	if change := d.occupancy.Expire(d.now()); change != nil {
		d.report(*change)
	}
}

func (d *Dispatcher) onAddressAcquired(e event.NetworkAddressAcquired) {
	d.policy.AddressAcquired()
	d.addr = e.Addr
	d.setPattern(PatternConnected)
	d.logger.Info("network connected", "addr", e.Addr)
	if d.timesync != nil {
		d.timesync.Start()
	}
}

func (d *Dispatcher) onDisconnected(e event.NetworkDisconnected) {
	r := d.policy.Disconnected()
	d.addr = ""
	d.setPattern(PatternDisconnected)
	d.metrics.ConnectAttempts(r.Attempts)

	switch {
	case r.Manual:
		d.logger.Info("network disconnected manually", "reason", e.Reason)
	case r.Exhausted:
		d.logger.Warn("network disconnected, retries exhausted",
			"reason", e.Reason, "retries", d.policy.RetryCount(), "errors", len(r.Errors))
	default:
		d.logger.Info("network disconnected, reconnecting",
			"reason", e.Reason, "retry", d.policy.RetryCount(), "max", d.policy.MaxRetries())
	}
	for _, err := range r.Errors {
		d.logger.Debug("connect attempt failed", "error", err)
	}
}

func (d *Dispatcher) onDisconnectRequested() {
	if err := d.policy.RequestDisconnect(); err != nil {
		d.logger.Warn("disconnect failed", "error", err)
	}
	if d.policy.Phase() == logic.PhaseDisconnected {
		// The link was already down: no disconnect event will follow.
		d.addr = ""
		d.setPattern(PatternDisconnected)
	}
	d.logger.Info("manual disconnect requested")
}

func (d *Dispatcher) onConnectRequested() {
	attempted, err := d.policy.RequestConnect()
	if !attempted {
		d.logger.Info("connect requested while associated, ignoring")
		return
	}
	d.setPattern(PatternConnecting)
	if err != nil {
		d.logger.Warn("connect failed", "error", err)
	}
}

func (d *Dispatcher) report(change logic.OccupancyChange) {
	d.metrics.Occupancy(change.Occupied)
	d.logger.Info("occupancy changed",
		"occupied", change.Occupied,
		"session", change.SessionID,
		"duration_s", change.Duration.Seconds())
	if d.notifier != nil {
		d.notifier.Notify(change)
	}
}

func (d *Dispatcher) setPattern(spec indicator.Spec) {
	d.pattern = spec
	d.indicator.SetPattern(spec)
}

func (d *Dispatcher) checkIntegrity() error {
	switch {
	case d.detection.GracePeriodSeconds == 0:
		return fmt.Errorf("%w: grace period is zero", ErrIntegrity)
	case d.policy.RetryCount() > d.policy.MaxRetries():
		return fmt.Errorf("%w: retry count %d exceeds %d", ErrIntegrity, d.policy.RetryCount(), d.policy.MaxRetries())
	case !d.policy.Phase().Valid():
		return fmt.Errorf("%w: invalid phase %d", ErrIntegrity, int(d.policy.Phase()))
	case d.timer.Armed() && !d.detection.Enabled:
		return fmt.Errorf("%w: grace timer armed while detection is disabled", ErrIntegrity)
	case !d.occupancy.Detected() && d.occupancy.Session() != "":
		return fmt.Errorf("%w: session %q open while unoccupied", ErrIntegrity, d.occupancy.Session())
	}
	return nil
}

func (d *Dispatcher) publishView(lastEvent string) {
	d.view.Store(&View{
		Occupied:           d.occupancy.Detected(),
		SessionID:          d.occupancy.Session(),
		Since:              d.occupancy.Since(),
		Enabled:            d.detection.Enabled,
		GracePeriodSeconds: d.detection.GracePeriodSeconds,
		GraceArmed:         d.timer.Armed(),
		Phase:              d.policy.Phase(),
		Addr:               d.addr,
		RetryCount:         d.policy.RetryCount(),
		MaxRetries:         d.policy.MaxRetries(),
		TransportConnected: d.transportUp,
		Pattern:            d.pattern,
		EventsProcessed:    d.processed,
		LastEvent:          lastEvent,
		UpdatedAt:          d.now(),
	})
}

type nopMetrics struct{}

func (nopMetrics) EventProcessed(string) {}
func (nopMetrics) GraceArmed()           {}
func (nopMetrics) ConfigRejected(string) {}
func (nopMetrics) ConnectAttempts(int)   {}
func (nopMetrics) Occupancy(bool)        {}

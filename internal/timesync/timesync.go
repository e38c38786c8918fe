// Package timesync checks the local clock against NTP servers once the
// network is up.
//
// It does not step the system clock; that is left to the OS time daemon.
// It records the measured offset and reports whether the clock looks set.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"

	"github.com/sweeney/presence-sensor/internal/status"
)

// DefaultServers are queried in order until one answers.
var DefaultServers = []string{
	"time.ustc.edu.cn",
	"ntp.tuna.tsinghua.edu.cn",
	"time.windows.com",
	"pool.ntp.org",
}

// Defaults for the sync loop.
const (
	DefaultRetryInterval  = 30 * time.Second
	DefaultResyncInterval = time.Hour
	queryTimeout          = 5 * time.Second
	// minValidYear is the earliest year a set clock can report.
	minValidYear = 2020
)

// ErrNoServers is returned when every server failed.
var ErrNoServers = errors.New("timesync: no server answered")

// QueryFunc measures the clock offset against host.
type QueryFunc func(host string) (time.Duration, error)

// Options configures a Syncer. Zero values select defaults.
type Options struct {
	Servers        []string
	RetryInterval  time.Duration
	ResyncInterval time.Duration
	Query          QueryFunc
	Now            func() time.Time
	Logger         *slog.Logger
}

// Syncer runs clock checks in the background after Start.
type Syncer struct {
	ctx     context.Context
	servers []string
	retry   time.Duration
	resync  time.Duration
	query   QueryFunc
	now     func() time.Time
	logger  *slog.Logger

	started atomic.Bool
	done    chan struct{}

	mu     sync.RWMutex
	synced bool
	offset time.Duration
	server string
	last   time.Time
}

// New creates a syncer whose background work stops when ctx is cancelled.
func New(ctx context.Context, opts Options) *Syncer {
	s := &Syncer{
		ctx:     ctx,
		servers: opts.Servers,
		retry:   opts.RetryInterval,
		resync:  opts.ResyncInterval,
		query:   opts.Query,
		now:     opts.Now,
		logger:  opts.Logger,
		done:    make(chan struct{}),
	}
	if len(s.servers) == 0 {
		s.servers = DefaultServers
	}
	if s.retry <= 0 {
		s.retry = DefaultRetryInterval
	}
	if s.resync <= 0 {
		s.resync = DefaultResyncInterval
	}
	if s.query == nil {
		s.query = ntpQuery
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start begins background synchronisation. Later calls do nothing.
func (s *Syncer) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.loop()
}

// Done is closed when the background loop exits.
func (s *Syncer) Done() <-chan struct{} {
	return s.done
}

// SyncOnce queries the servers in order and records the first valid answer.
func (s *Syncer) SyncOnce() error {
	var errs []error
	for _, host := range s.servers {
		offset, err := s.query(host)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
			continue
		}
		s.mu.Lock()
		s.synced = true
		s.offset = offset
		s.server = host
		s.last = s.now()
		s.mu.Unlock()

		s.logger.Info("clock checked", "server", host, "offset_ms", offset.Milliseconds())
		if offset > time.Second || offset < -time.Second {
			s.logger.Warn("local clock is off", "offset", offset)
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNoServers, errors.Join(errs...))
}

// Synced reports whether any server has answered.
func (s *Syncer) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// Offset returns the last measured offset.
func (s *Syncer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// ClockSet reports whether the local clock looks set.
func (s *Syncer) ClockSet() bool {
	return s.now().Year() >= minValidYear
}

// Info returns the state for status output.
func (s *Syncer) Info() status.TimeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return status.TimeInfo{Synced: s.synced, Offset: s.offset, Server: s.server}
}

func (s *Syncer) loop() {
	defer close(s.done)
	if !s.ClockSet() {
		s.logger.Warn("local clock not set", "now", s.now())
	}
	for {
		wait := s.resync
		if err := s.SyncOnce(); err != nil {
			s.logger.Warn("clock check failed", "error", err)
			wait = s.retry
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func ntpQuery(host string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: queryTimeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

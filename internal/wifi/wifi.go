// Package wifi drives the wireless interface and reports link transitions
// as device events.
//
// The Linux implementation asks wpa_supplicant (through wpa_cli) to
// associate or disconnect and learns the outcome by polling the interface's
// operstate and IPv4 addresses.
package wifi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sweeney/presence-sensor/internal/event"
)

// Defaults for the Linux stack.
const (
	DefaultInterface    = "wlan0"
	DefaultPollInterval = time.Second
	DefaultSysfsRoot    = "/sys/class/net"
	commandTimeout      = 5 * time.Second
)

// Stack is the network stack collaborator of the connection policy.
type Stack interface {
	Connect() error
	Disconnect() error
	IsAssociated() bool
	// Run reports link transitions to sink until ctx is cancelled.
	Run(ctx context.Context, sink event.Sink) error
}

// linkState is the interface state derived from one poll.
type linkState int

const (
	linkUnknown linkState = iota
	linkDown
	linkStarted
	linkAssociated
	linkAcquired
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// AddrLookup returns the IPv4 addresses of an interface.
type AddrLookup func(iface string) ([]string, error)

// Options configures a LinuxStack. Zero values select defaults.
type Options struct {
	Interface    string
	PollInterval time.Duration
	SysfsRoot    string
	Runner       CommandRunner
	Addrs        AddrLookup
	Logger       *slog.Logger
}

// LinuxStack manages a wpa_supplicant controlled interface.
type LinuxStack struct {
	iface    string
	interval time.Duration
	sysRoot  string
	run      CommandRunner
	addrs    AddrLookup
	logger   *slog.Logger

	associated atomic.Bool
	state      linkState
}

// NewLinuxStack creates a stack for opts.Interface.
func NewLinuxStack(opts Options) *LinuxStack {
	s := &LinuxStack{
		iface:    opts.Interface,
		interval: opts.PollInterval,
		sysRoot:  opts.SysfsRoot,
		run:      opts.Runner,
		addrs:    opts.Addrs,
		logger:   opts.Logger,
	}
	if s.iface == "" {
		s.iface = DefaultInterface
	}
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.sysRoot == "" {
		s.sysRoot = DefaultSysfsRoot
	}
	if s.run == nil {
		s.run = execRunner
	}
	if s.addrs == nil {
		s.addrs = interfaceAddrs
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Connect asks wpa_supplicant to (re)associate. A nil error means the
// request was accepted.
func (s *LinuxStack) Connect() error {
	return s.wpaCLI("reconnect")
}

// Disconnect asks wpa_supplicant to drop the association and stay down.
func (s *LinuxStack) Disconnect() error {
	return s.wpaCLI("disconnect")
}

// IsAssociated reports whether the last poll saw the link up.
func (s *LinuxStack) IsAssociated() bool {
	return s.associated.Load()
}

// Run polls the interface until ctx is cancelled.
func (s *LinuxStack) Run(ctx context.Context, sink event.Sink) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx, sink); err != nil && ctx.Err() == nil {
			s.logger.Warn("network poll failed", "iface", s.iface, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll reads the interface once and emits events for any transition.
func (s *LinuxStack) poll(ctx context.Context, sink event.Sink) error {
	operstate, err := s.operstate()
	if err != nil {
		return err
	}

	next := linkDown
	addr := ""
	switch operstate {
	case "up", "unknown":
		next = linkAssociated
		addrs, err := s.addrs(s.iface)
		if err != nil {
			return fmt.Errorf("list addresses: %w", err)
		}
		if len(addrs) > 0 {
			next = linkAcquired
			addr = addrs[0]
		}
	case "dormant":
		next = linkStarted
	}

	prev := s.state
	if next == prev {
		return nil
	}
	s.state = next
	s.associated.Store(next >= linkAssociated)
	s.logger.Debug("link transition", "iface", s.iface, "operstate", operstate)

	for _, ev := range transition(prev, next, operstate, addr) {
		if err := sink.Send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// transition returns the events for a change from prev to next.
func transition(prev, next linkState, operstate, addr string) []event.Event {
	switch next {
	case linkDown:
		if prev == linkUnknown {
			return nil
		}
		return []event.Event{event.NetworkDisconnected{Reason: operstate}}
	case linkStarted:
		return []event.Event{event.NetworkStarted{}}
	case linkAssociated:
		return []event.Event{event.NetworkAssociated{}}
	case linkAcquired:
		if prev == linkAssociated {
			return []event.Event{event.NetworkAddressAcquired{Addr: addr}}
		}
		return []event.Event{event.NetworkAssociated{}, event.NetworkAddressAcquired{Addr: addr}}
	}
	return nil
}

func (s *LinuxStack) operstate() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.sysRoot, s.iface, "operstate"))
	if err != nil {
		return "", fmt.Errorf("read operstate: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *LinuxStack) wpaCLI(cmd string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out, err := s.run(ctx, "wpa_cli", "-i", s.iface, cmd)
	if err != nil {
		return fmt.Errorf("wpa_cli %s: %w", cmd, err)
	}
	if !bytes.Contains(out, []byte("OK")) {
		return fmt.Errorf("wpa_cli %s: %w: %s", cmd, ErrRejected, strings.TrimSpace(string(out)))
	}
	return nil
}

// ErrRejected is returned when wpa_supplicant refuses a command.
var ErrRejected = errors.New("command rejected")

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func interfaceAddrs(iface string) ([]string, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out, nil
}

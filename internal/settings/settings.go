// Package settings persists the detection configuration across restarts.
//
// Values are stored as opaque byte strings under short keys: a one-byte
// enabled flag and a big-endian 32-bit grace period.
package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweeney/presence-sensor/internal/logic"
)

// Storage keys.
const (
	KeyEnabled     = "bodydet"
	KeyGracePeriod = "bodydetdelay"
)

// ErrNotFound is returned by Get for a key that was never written.
var ErrNotFound = errors.New("settings: key not found")

// Store is a durable key/value store.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Load reads the detection config. Missing or malformed keys fall back to
// defaults, which are written back so the next boot finds them.
func Load(store Store, defaults logic.DetectionConfig, logger *slog.Logger) (logic.DetectionConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := defaults
	p := NewPersister(store)

	raw, err := store.Get(KeyEnabled)
	switch {
	case err == nil && len(raw) == 1:
		cfg.Enabled = raw[0] != 0
	case err == nil || errors.Is(err, ErrNotFound):
		logger.Info("detection flag not stored, using default", "enabled", defaults.Enabled)
		if err := p.SaveEnabled(defaults.Enabled); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("load %s: %w", KeyEnabled, err)
	}

	raw, err = store.Get(KeyGracePeriod)
	switch {
	case err == nil && len(raw) == 4 && binary.BigEndian.Uint32(raw) > 0:
		cfg.GracePeriodSeconds = binary.BigEndian.Uint32(raw)
	case err == nil || errors.Is(err, ErrNotFound):
		logger.Info("grace period not stored, using default", "seconds", defaults.GracePeriodSeconds)
		if err := p.SaveGracePeriod(defaults.GracePeriodSeconds); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("load %s: %w", KeyGracePeriod, err)
	}

	return cfg, nil
}

// Persister writes individual settings.
type Persister struct {
	store Store
}

// NewPersister wraps store.
func NewPersister(store Store) *Persister {
	return &Persister{store: store}
}

// SaveEnabled stores the detection flag.
func (p *Persister) SaveEnabled(enabled bool) error {
	b := []byte{0}
	if enabled {
		b[0] = 1
	}
	if err := p.store.Set(KeyEnabled, b); err != nil {
		return fmt.Errorf("save %s: %w", KeyEnabled, err)
	}
	return nil
}

// SaveGracePeriod stores the grace period in seconds.
func (p *Persister) SaveGracePeriod(seconds uint32) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seconds)
	if err := p.store.Set(KeyGracePeriod, b); err != nil {
		return fmt.Errorf("save %s: %w", KeyGracePeriod, err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and for running without a
// database file.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string][]byte

	// SetError, if set, is returned by Set.
	SetError error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(key string, value []byte) error {
	if s.SetError != nil {
		return s.SetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}

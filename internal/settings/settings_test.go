package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sweeney/presence-sensor/internal/logic"
)

func TestLoadAppliesAndPersistsDefaults(t *testing.T) {
	s := NewMemoryStore()
	cfg, err := Load(s, logic.DefaultDetectionConfig(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Enabled || cfg.GracePeriodSeconds != 5 {
		t.Errorf("cfg: got %+v, want enabled with 5s", cfg)
	}

	raw, err := s.Get(KeyEnabled)
	if err != nil || len(raw) != 1 || raw[0] != 1 {
		t.Errorf("%s: got %v (%v), want [1]", KeyEnabled, raw, err)
	}
	raw, err = s.Get(KeyGracePeriod)
	if err != nil || len(raw) != 4 || raw[3] != 5 {
		t.Errorf("%s: got %v (%v), want [0 0 0 5]", KeyGracePeriod, raw, err)
	}
}

func TestLoadReadsStoredValues(t *testing.T) {
	s := NewMemoryStore()
	p := NewPersister(s)
	p.SaveEnabled(false)
	p.SaveGracePeriod(42)

	cfg, err := Load(s, logic.DefaultDetectionConfig(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Enabled {
		t.Error("Enabled: got true, want false")
	}
	if cfg.GracePeriodSeconds != 42 {
		t.Errorf("GracePeriodSeconds: got %d, want 42", cfg.GracePeriodSeconds)
	}
}

func TestLoadReplacesMalformedValues(t *testing.T) {
	s := NewMemoryStore()
	s.Set(KeyEnabled, []byte{1, 2})
	s.Set(KeyGracePeriod, []byte{0, 0, 0, 0})

	cfg, err := Load(s, logic.DefaultDetectionConfig(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != logic.DefaultDetectionConfig() {
		t.Errorf("cfg: got %+v, want defaults", cfg)
	}
	raw, _ := s.Get(KeyGracePeriod)
	if raw[3] != 5 {
		t.Errorf("grace period not rewritten: %v", raw)
	}
}

type failingStore struct{ err error }

func (f failingStore) Get(string) ([]byte, error) { return nil, f.err }
func (f failingStore) Set(string, []byte) error   { return f.err }

func TestLoadPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := Load(failingStore{err: boom}, logic.DefaultDetectionConfig(), nil)
	if !errors.Is(err, boom) {
		t.Errorf("err: got %v, want %v", err, boom)
	}
}

func TestPersisterSetError(t *testing.T) {
	s := NewMemoryStore()
	s.SetError = errors.New("read-only")
	if err := NewPersister(s).SaveEnabled(true); err == nil {
		t.Error("expected error")
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	if _, err := NewMemoryStore().Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSQLiteGracePeriodRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "settings.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := s.Get(KeyGracePeriod); !errors.Is(err, ErrNotFound) {
		t.Errorf("fresh Get: got %v, want ErrNotFound", err)
	}
	if err := NewPersister(s).SaveGracePeriod(7); err != nil {
		t.Fatalf("SaveGracePeriod: %v", err)
	}
	if err := NewPersister(s).SaveEnabled(false); err != nil {
		t.Fatalf("SaveEnabled: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	cfg, err := Load(s, logic.DefaultDetectionConfig(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GracePeriodSeconds != 7 {
		t.Errorf("GracePeriodSeconds: got %d, want 7", cfg.GracePeriodSeconds)
	}
	if cfg.Enabled {
		t.Error("Enabled: got true, want false")
	}
}

func TestSQLiteOverwrite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	s.Set("k", []byte("a"))
	s.Set("k", []byte("b"))
	v, err := s.Get("k")
	if err != nil || string(v) != "b" {
		t.Errorf("Get: got %q (%v), want \"b\"", v, err)
	}
}

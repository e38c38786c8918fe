package logic

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

func TestNewOccupancy(t *testing.T) {
	o := NewOccupancy(nil)
	if o.Detected() {
		t.Error("new tracker should not be occupied")
	}
	if o.Session() != "" {
		t.Errorf("expected empty session, got %q", o.Session())
	}
}

func TestPresenceStartsSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOccupancy(sequentialIDs())

	d := o.Presence(true, now)
	if !o.Detected() {
		t.Fatal("expected detected=true after presence")
	}
	if !d.CancelGrace {
		t.Error("presence should cancel the grace timer")
	}
	if d.ArmGrace {
		t.Error("presence should not arm the grace timer")
	}
	if d.Change == nil {
		t.Fatal("expected an occupancy change")
	}
	if !d.Change.Occupied {
		t.Error("expected Occupied=true")
	}
	if d.Change.SessionID != "session-1" {
		t.Errorf("SessionID: got %q, want session-1", d.Change.SessionID)
	}
	if !d.Change.Timestamp.Equal(now) {
		t.Errorf("Timestamp: got %v, want %v", d.Change.Timestamp, now)
	}
	if !o.Since().Equal(now) {
		t.Errorf("Since: got %v, want %v", o.Since(), now)
	}
}

func TestRepeatedPresenceIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOccupancy(sequentialIDs())

	o.Presence(true, now)
	for i := 1; i <= 5; i++ {
		d := o.Presence(true, now.Add(time.Duration(i)*time.Second))
		if d.Change != nil {
			t.Errorf("iteration %d: unexpected change %+v", i, d.Change)
		}
		if !d.CancelGrace {
			t.Errorf("iteration %d: presence should still cancel the grace timer", i)
		}
	}
	if o.Session() != "session-1" {
		t.Errorf("session should be unchanged, got %q", o.Session())
	}
}

func TestAbsenceArmsGraceWithoutClearing(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOccupancy(sequentialIDs())
	o.Presence(true, now)

	d := o.Presence(false, now.Add(time.Second))
	if !d.ArmGrace {
		t.Error("absence should arm the grace timer")
	}
	if d.CancelGrace {
		t.Error("absence should not cancel the grace timer")
	}
	if d.Change != nil {
		t.Errorf("absence should not change occupancy, got %+v", d.Change)
	}
	if !o.Detected() {
		t.Error("detected should stay true until the grace period expires")
	}
}

func TestAbsenceWhenUnoccupiedStillArms(t *testing.T) {
	o := NewOccupancy(sequentialIDs())
	d := o.Presence(false, time.Now())
	if !d.ArmGrace {
		t.Error("absence should arm the grace timer even when unoccupied")
	}
	if o.Detected() {
		t.Error("should remain unoccupied")
	}
}

func TestExpireEndsSession(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOccupancy(sequentialIDs())
	o.Presence(true, start)
	o.Presence(false, start.Add(10*time.Second))

	change := o.Expire(start.Add(15 * time.Second))
	if change == nil {
		t.Fatal("expected a change on expiry")
	}
	if change.Occupied {
		t.Error("expected Occupied=false")
	}
	if change.SessionID != "session-1" {
		t.Errorf("SessionID: got %q, want session-1", change.SessionID)
	}
	if change.Duration != 15*time.Second {
		t.Errorf("Duration: got %v, want 15s", change.Duration)
	}
	if o.Detected() {
		t.Error("expected detected=false after expiry")
	}
	if o.Session() != "" {
		t.Errorf("session should be cleared, got %q", o.Session())
	}
}

func TestExpireWhenUnoccupied(t *testing.T) {
	o := NewOccupancy(sequentialIDs())
	if change := o.Expire(time.Now()); change != nil {
		t.Errorf("expected nil change, got %+v", change)
	}
}

func TestPresenceDuringGraceContinuesSession(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOccupancy(sequentialIDs())
	o.Presence(true, start)
	o.Presence(false, start.Add(time.Second))

	d := o.Presence(true, start.Add(2*time.Second))
	if d.Change != nil {
		t.Errorf("re-detection during grace should not start a new session, got %+v", d.Change)
	}
	if !d.CancelGrace {
		t.Error("re-detection should cancel the grace timer")
	}
	if o.Session() != "session-1" {
		t.Errorf("session: got %q, want session-1", o.Session())
	}
	if !o.Since().Equal(start) {
		t.Errorf("session start should be preserved, got %v", o.Since())
	}
}

func TestNewSessionAfterExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := NewOccupancy(sequentialIDs())
	o.Presence(true, start)
	o.Expire(start.Add(time.Minute))

	d := o.Presence(true, start.Add(2*time.Minute))
	if d.Change == nil || d.Change.SessionID != "session-2" {
		t.Errorf("expected new session-2, got %+v", d.Change)
	}
}

func TestCorrectPolarity(t *testing.T) {
	tests := []struct {
		level, activeLow, want bool
	}{
		{level: true, activeLow: false, want: true},
		{level: false, activeLow: false, want: false},
		{level: true, activeLow: true, want: false},
		{level: false, activeLow: true, want: true},
	}
	for _, tt := range tests {
		if got := CorrectPolarity(tt.level, tt.activeLow); got != tt.want {
			t.Errorf("CorrectPolarity(%v, %v) = %v, want %v", tt.level, tt.activeLow, got, tt.want)
		}
	}
}

func TestValidateGracePeriod(t *testing.T) {
	valid := []int64{1, 5, 7, 3600, math.MaxUint32}
	for _, s := range valid {
		got, err := ValidateGracePeriod(s)
		if err != nil {
			t.Errorf("ValidateGracePeriod(%d): unexpected error %v", s, err)
		}
		if int64(got) != s {
			t.Errorf("ValidateGracePeriod(%d) = %d", s, got)
		}
	}

	invalid := []int64{0, -1, -3600, math.MaxUint32 + 1}
	for _, s := range invalid {
		if _, err := ValidateGracePeriod(s); !errors.Is(err, ErrInvalidGracePeriod) {
			t.Errorf("ValidateGracePeriod(%d): got %v, want ErrInvalidGracePeriod", s, err)
		}
	}
}

func TestDefaultDetectionConfig(t *testing.T) {
	cfg := DefaultDetectionConfig()
	if !cfg.Enabled {
		t.Error("detection should be enabled by default")
	}
	if cfg.GracePeriodSeconds != 5 {
		t.Errorf("GracePeriodSeconds: got %d, want 5", cfg.GracePeriodSeconds)
	}
	if cfg.GracePeriod() != 5*time.Second {
		t.Errorf("GracePeriod: got %v, want 5s", cfg.GracePeriod())
	}
}

func TestPhaseString(t *testing.T) {
	want := map[Phase]string{
		PhaseIdle:         "IDLE",
		PhaseConnecting:   "CONNECTING",
		PhaseAssociated:   "ASSOCIATED",
		PhaseAcquired:     "CONNECTED",
		PhaseDisconnected: "DISCONNECTED",
	}
	for p, s := range want {
		if p.String() != s {
			t.Errorf("%d.String() = %q, want %q", int(p), p.String(), s)
		}
		if !p.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Phase(42).Valid() {
		t.Error("Phase(42) should be invalid")
	}
}

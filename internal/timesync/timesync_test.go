package timesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedQuery struct {
	mu      sync.Mutex
	results map[string]time.Duration
	calls   []string
}

func (q *scriptedQuery) query(host string) (time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, host)
	if off, ok := q.results[host]; ok {
		return off, nil
	}
	return 0, errors.New("timeout")
}

func (q *scriptedQuery) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

func TestSyncOnceUsesFirstAnsweringServer(t *testing.T) {
	q := &scriptedQuery{results: map[string]time.Duration{"b": 40 * time.Millisecond, "c": time.Second}}
	s := New(context.Background(), Options{Servers: []string{"a", "b", "c"}, Query: q.query})

	if err := s.SyncOnce(); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if !s.Synced() {
		t.Error("expected Synced")
	}
	if s.Offset() != 40*time.Millisecond {
		t.Errorf("Offset: got %v, want 40ms", s.Offset())
	}
	if info := s.Info(); info.Server != "b" {
		t.Errorf("Server: got %q, want b", info.Server)
	}
	if len(q.calls) != 2 {
		t.Errorf("queries: got %v, want [a b]", q.calls)
	}
}

func TestSyncOnceAllFail(t *testing.T) {
	q := &scriptedQuery{}
	s := New(context.Background(), Options{Servers: []string{"a", "b"}, Query: q.query})
	err := s.SyncOnce()
	if !errors.Is(err, ErrNoServers) {
		t.Errorf("got %v, want ErrNoServers", err)
	}
	if s.Synced() {
		t.Error("should not be synced")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	q := &scriptedQuery{results: map[string]time.Duration{"a": 0}}
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, Options{Servers: []string{"a"}, Query: q.query, ResyncInterval: time.Hour})

	s.Start()
	s.Start()
	s.Start()

	deadline := time.Now().Add(time.Second)
	for !s.Synced() {
		if time.Now().After(deadline) {
			t.Fatal("never synced")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-s.Done()

	if n := q.callCount(); n != 1 {
		t.Errorf("queries: got %d, want 1", n)
	}
}

func TestRetriesAfterFailure(t *testing.T) {
	q := &scriptedQuery{}
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, Options{Servers: []string{"a"}, Query: q.query, RetryInterval: 5 * time.Millisecond})
	s.Start()

	deadline := time.Now().Add(time.Second)
	for q.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("did not retry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-s.Done()
}

func TestClockSet(t *testing.T) {
	s := New(context.Background(), Options{Now: func() time.Time { return time.Date(1970, 1, 1, 0, 0, 10, 0, time.UTC) }})
	if s.ClockSet() {
		t.Error("1970 is not a set clock")
	}
	s = New(context.Background(), Options{Now: func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }})
	if !s.ClockSet() {
		t.Error("2020 is a set clock")
	}
}

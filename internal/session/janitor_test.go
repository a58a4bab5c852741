package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls []time.Time
}

func (s *countingSweeper) Sweep(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, now)
	return 1
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestJanitor_StartStop(t *testing.T) {
	sweeper := &countingSweeper{}
	j := NewJanitor(JanitorConfig{Interval: 10 * time.Millisecond}, sweeper, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sweeper.count() < 3 {
		t.Errorf("sweeps = %d, want at least 3", sweeper.count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	after := sweeper.count()
	time.Sleep(50 * time.Millisecond)
	if sweeper.count() != after {
		t.Error("janitor kept sweeping after Stop")
	}
}

func TestJanitor_PassesClock(t *testing.T) {
	sweeper := &countingSweeper{}
	j := NewJanitor(JanitorConfig{Interval: time.Hour}, sweeper, nil)

	fixed := time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }
	j.ctx = context.Background()

	j.sweep()

	if sweeper.count() != 1 || !sweeper.calls[0].Equal(fixed) {
		t.Errorf("sweep calls = %v, want [%v]", sweeper.calls, fixed)
	}
}

func TestJanitor_DefaultInterval(t *testing.T) {
	j := NewJanitor(JanitorConfig{}, &countingSweeper{}, nil)
	if j.cfg.Interval != 10*time.Minute {
		t.Errorf("Interval = %v, want 10m", j.cfg.Interval)
	}
}

func TestJanitor_EvictsIdleSessions(t *testing.T) {
	f := newFixture(t)
	s, _, err := f.reg.Start(context.Background(), "u1", 42)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	j := NewJanitor(JanitorConfig{Interval: time.Hour}, f.reg, nil)
	j.now = func() time.Time { return s.CreatedAt.Add(45 * time.Minute) }
	j.ctx = context.Background()

	j.sweep()

	if f.reg.Len() != 0 {
		t.Errorf("Len = %d, want 0 after sweep", f.reg.Len())
	}
}

package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/gridrelay/internal/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func setup(checkAPI bool) (*Watchdog, *Liveness, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	l := &Liveness{now: clock.now}
	l.Reset()
	w := New(Config{
		Interval:       10 * time.Second,
		StallThreshold: 10 * time.Second,
		MaxStrikes:     3,
		CheckAPI:       checkAPI,
	}, l, nil)
	w.now = clock.now
	return w, l, clock
}

func TestCheck_ProducerStall(t *testing.T) {
	w, l, clock := setup(true)

	step := func() error {
		clock.t = clock.t.Add(10 * time.Second)
		l.MarkDelivered()
		return w.Check()
	}

	// Age equal to the threshold is not stale.
	if err := step(); err != nil {
		t.Fatalf("check 1: %v", err)
	}
	if p, _ := w.Strikes(); p != 0 {
		t.Fatalf("age == threshold must not strike, got %d", p)
	}

	for i := 2; i <= 3; i++ {
		if err := step(); err != nil {
			t.Fatalf("check %d should not be fatal: %v", i, err)
		}
	}
	if p, _ := w.Strikes(); p != 2 {
		t.Fatalf("expected 2 strikes, got %d", p)
	}

	err := step()

	var fe *errors.FatalError
	if !errors.As(err, &fe) || fe.Component != "watchdog" || !errors.Is(err, errors.ErrStall) {
		t.Fatalf("expected watchdog stall, got %v", err)
	}
	if fe.ExitCode() != errors.ExitRestart {
		t.Errorf("expected restart exit code, got %d", fe.ExitCode())
	}
}

func TestCheck_RecoveryResetsStrikes(t *testing.T) {
	w, l, clock := setup(false)

	clock.t = clock.t.Add(11 * time.Second)
	w.Check()
	clock.t = clock.t.Add(11 * time.Second)
	w.Check()
	if p, _ := w.Strikes(); p != 2 {
		t.Fatalf("expected 2 strikes, got %d", p)
	}

	l.MarkRead()
	if err := w.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p, _ := w.Strikes(); p != 0 {
		t.Errorf("expected strikes reset, got %d", p)
	}
}

func TestCheck_APIStall(t *testing.T) {
	w, l, clock := setup(true)

	var err error
	for i := 0; i < 3; i++ {
		clock.t = clock.t.Add(11 * time.Second)
		l.MarkRead()
		err = w.Check()
	}
	if !errors.Is(err, errors.ErrStall) {
		t.Fatalf("expected api stall, got %v", err)
	}
	if p, a := w.Strikes(); p != 0 || a != 3 {
		t.Errorf("unexpected strikes producer=%d api=%d", p, a)
	}
}

func TestCheck_APIDisabled(t *testing.T) {
	w, l, clock := setup(false)

	for i := 0; i < 5; i++ {
		clock.t = clock.t.Add(11 * time.Second)
		l.MarkRead()
		if err := w.Check(); err != nil {
			t.Fatalf("api check disabled, got %v", err)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := New(Config{Interval: time.Millisecond, StallThreshold: time.Hour, MaxStrikes: 3}, NewLiveness(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}

func TestRun_ReturnsFatal(t *testing.T) {
	l := NewLiveness()
	w := New(Config{Interval: time.Millisecond, StallThreshold: time.Nanosecond, MaxStrikes: 2}, l, nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.IsFatal(err) {
			t.Errorf("expected fatal error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
}

package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "drillbot/pkg/logx"
)

// waitNext polls until cron has computed the first activation.
func waitNext(t *testing.T, s *Service) time.Time {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n := s.Next(); !n.IsZero() {
			return n
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Next never became available")
	return time.Time{}
}

func TestSpec(t *testing.T) {
	if got := Spec(40 * time.Minute); got != "@every 40m0s" {
		t.Fatalf("Spec = %q", got)
	}
}

func TestStartRejectsZeroInterval(t *testing.T) {
	s := New(Config{}, func(context.Context) error { return nil }, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if !s.Next().IsZero() {
		t.Fatal("service must not be running")
	}
}

func TestServiceRunsJob(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	s := New(Config{Interval: time.Second, Location: time.UTC}, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case done <- struct{}{}:
		default:
		}
		return errors.New("boom")
	}, logx.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitNext(t, s)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	last, err := s.Last()
	if last.IsZero() || err == nil {
		t.Fatalf("Last() = %v, %v; want recorded failing run", last, err)
	}
	if !s.Next().IsZero() {
		t.Fatal("Next should be zero after Stop")
	}
}

func TestApplyReschedules(t *testing.T) {
	s := New(Config{Interval: time.Hour, Location: time.UTC}, func(context.Context) error { return nil }, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	before := waitNext(t, s)
	if err := s.Apply(Config{Interval: 2 * time.Hour, Location: time.UTC}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	after := waitNext(t, s)
	if !after.After(before) {
		t.Fatalf("Next after Apply = %v, want later than %v", after, before)
	}
}

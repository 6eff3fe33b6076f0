package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"taskfleet/internal/registry"
	logx "taskfleet/pkg/logx"
)

func TestAddRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func(context.Context, registry.TaskDefinition, time.Time) {}, logx.Nop())
	err := s.Add(registry.TaskDefinition{ID: "bad", Schedule: "not-a-schedule"})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Mars/Olympus"}, func(context.Context, registry.TaskDefinition, time.Time) {}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for bad timezone")
	}
}

func TestIntervalScheduleFires(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	fire := func(_ context.Context, def registry.TaskDefinition, _ time.Time) {
		if def.ID == "heartbeat" {
			fired.Add(1)
		}
	}
	s := New(Config{}, fire, logx.Nop())
	// cron's @every floors at one second; use the minimum to keep this quick.
	if err := s.Add(registry.TaskDefinition{ID: "heartbeat", Schedule: "1s"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.After(3 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("schedule never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if next := s.Next(); len(next) != 1 {
		t.Fatalf("Next() = %v, want one entry", next)
	}
}

func TestStopPreventsFurtherFirings(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	s := New(Config{}, func(context.Context, registry.TaskDefinition, time.Time) { fired.Add(1) }, logx.Nop())
	if err := s.Add(registry.TaskDefinition{ID: "tick", Schedule: "1s"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("schedule never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}
	s.Stop(context.Background())

	before := fired.Load()
	time.Sleep(1200 * time.Millisecond)
	if after := fired.Load(); after != before {
		t.Fatalf("fired %d times after Stop", after-before)
	}
}

package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"incident-engine/config"
	"incident-engine/core/utils"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) SweepStale(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func enabledConfig(schedule string) config.IncidentsConfig {
	return config.IncidentsConfig{SweepEnabled: true, SweepSchedule: schedule}
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	target := &countingSweeper{}
	s := NewScheduler(enabledConfig("@every 1s"), target, utils.NewDiscardLogger())
	s.StartWithContext(context.Background())
	if !s.Running() {
		t.Fatalf("scheduler should be running")
	}
	deadline := time.Now().Add(5 * time.Second)
	for target.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.StopWithContext(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if target.calls.Load() == 0 {
		t.Fatalf("expected at least one sweep")
	}
	if s.Running() {
		t.Fatalf("scheduler should be stopped")
	}
}

func TestSchedulerDisabledDoesNothing(t *testing.T) {
	target := &countingSweeper{}
	s := NewScheduler(config.IncidentsConfig{SweepEnabled: false, SweepSchedule: "@every 1s"}, target, nil)
	s.StartWithContext(context.Background())
	if s.Running() {
		t.Fatalf("disabled scheduler must not start")
	}
	if err := s.StopWithContext(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(enabledConfig("every now and then"), &countingSweeper{}, utils.NewDiscardLogger())
	if err := s.Validate(); err == nil {
		t.Fatalf("expected schedule validation error")
	}
	s.StartWithContext(context.Background())
	if s.Running() {
		t.Fatalf("invalid schedule must not start")
	}
}

func TestRunOnceReturnsSweepError(t *testing.T) {
	target := &countingSweeper{err: errors.New("db gone")}
	s := NewScheduler(enabledConfig("@every 1m"), target, utils.NewDiscardLogger())
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if target.calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", target.calls.Load())
	}
}

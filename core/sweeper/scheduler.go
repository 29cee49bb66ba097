package sweeper

import (
	"context"
	"fmt"
	"sync"

	"incident-engine/config"
	"incident-engine/core/utils"

	"github.com/robfig/cron/v3"
)

// Sweeper is the part of the incident manager the scheduler drives.
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Scheduler periodically forces quiet incidents back to level 0 so operators
// see fresh state even when nobody is tailing.
type Scheduler struct {
	cfg    config.IncidentsConfig
	target Sweeper
	logger *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(cfg config.IncidentsConfig, target Sweeper, logger *utils.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, target: target, logger: logger}
}

// Validate parses the configured schedule without starting anything.
func (s *Scheduler) Validate() error {
	if s == nil || !s.cfg.SweepEnabled {
		return nil
	}
	if _, err := cron.ParseStandard(s.cfg.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}
	return nil
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if s == nil || s.target == nil || !s.cfg.SweepEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.SweepSchedule, func() { _ = s.RunOnce(runCtx) }); err != nil {
		cancel()
		if s.logger != nil {
			s.logger.Errorf("sweeper disabled: invalid schedule %q: %v", s.cfg.SweepSchedule, err)
		}
		return
	}
	s.cron = c
	s.cancel = cancel
	s.running = true
	c.Start()
	if s.logger != nil {
		s.logger.Printf("incident sweeper started schedule=%q", s.cfg.SweepSchedule)
	}
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	wasRunning := s.running
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	stopped := c.Stop()
	cancel()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s == nil || s.target == nil {
		return nil
	}
	n, err := s.target.SweepStale(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("incident sweep failed: %v", err)
		}
		return err
	}
	if n > 0 && s.logger != nil {
		s.logger.Printf("incident sweep reset=%d", n)
	}
	return nil
}

func (s *Scheduler) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

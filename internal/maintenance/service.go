// Package maintenance runs scheduled housekeeping: pruning the render ledger
// on a cron expression.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Pruner removes ledger entries older than the cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds maintenance configuration
type Config struct {
	Schedule  string        // standard 5-field cron expression
	Retention time.Duration // how much render history to keep
	Pruner    Pruner
	Sessions  func() int // optional, reports active sessions at each run
	Logger    zerolog.Logger
	Clock     clockwork.Clock
}

// Service wakes on the cron schedule and prunes old render history.
type Service struct {
	schedule  cron.Schedule
	retention time.Duration
	pruner    Pruner
	sessions  func() int
	logger    zerolog.Logger
	clock     clockwork.Clock

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a maintenance service from the given config.
func New(cfg Config) (*Service, error) {
	if cfg.Pruner == nil {
		return nil, fmt.Errorf("pruner is required")
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Schedule, err)
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Service{
		schedule:  schedule,
		retention: cfg.Retention,
		pruner:    cfg.Pruner,
		sessions:  cfg.Sessions,
		logger:    cfg.Logger.With().Str("component", "maintenance").Logger(),
		clock:     cfg.Clock,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the scheduler loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().Dur("retention", s.retention).Msg("Maintenance scheduler started")
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)

		select {
		case <-s.clock.After(next.Sub(now)):
			s.runOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	cutoff := s.clock.Now().Add(-s.retention)

	pruned, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Ledger prune failed")
		return
	}

	evt := s.logger.Info().Int64("pruned", pruned).Time("cutoff", cutoff)
	if s.sessions != nil {
		evt = evt.Int("activeSessions", s.sessions())
	}
	evt.Msg("Maintenance run complete")
}

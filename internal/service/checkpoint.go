package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Checkpoint verifies the ledger invariants and re-saves the snapshot when
// the last write-through failed. It returns the invariant violation, if any.
func (s *Service) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.CheckInvariants(); err != nil {
		s.log.WithError(err).Error("ledger invariant violated")
		return err
	}
	if s.dirty {
		s.persistLocked(ctx, "checkpoint")
		if s.dirty {
			return fmt.Errorf("checkpoint: snapshot still dirty")
		}
		s.log.Info("dirty snapshot persisted by checkpoint")
	}
	return nil
}

// StartCheckpoints schedules Checkpoint on a cron spec such as "@every 1m".
func (s *Service) StartCheckpoints(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("checkpoints already running")
	}
	cronLog := cron.PrintfLogger(s.log.WithField("job", "checkpoint"))
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(schedule, func() {
		_ = s.Checkpoint(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule checkpoint %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", schedule).Info("checkpoint job started")
	return nil
}

// Close stops the checkpoint job and runs a final checkpoint.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	return s.Checkpoint(ctx)
}

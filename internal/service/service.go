// Package service wraps a ledger for concurrent callers. It delivers
// operations one at a time, writes a snapshot through to the store after
// every successful mutation and records metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/metrics"
	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/internal/storage"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

const saveTimeout = 10 * time.Second

// Options carries the collaborators of a Service. Store and Metrics are optional.
type Options struct {
	Store   storage.SnapshotStore
	Metrics *metrics.Metrics
	Events  events.EventLogger
	Logger  *logger.Logger
}

// Service serialises access to one Ledger.
type Service struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	store  storage.SnapshotStore
	m      *metrics.Metrics
	events events.EventLogger
	log    *logger.Logger

	dirty bool
	cron  *cron.Cron
}

// New wraps l. opts.Events must be the logger l emits into for Events to see them.
func New(l *ledger.Ledger, opts Options) *Service {
	if opts.Events == nil {
		opts.Events = events.NoOpLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("service")
	}
	s := &Service{
		ledger: l,
		store:  opts.Store,
		m:      opts.Metrics,
		events: opts.Events,
		log:    opts.Logger,
	}
	s.updateGauges()
	return s
}

// LoadState reads the persisted state, or returns a fresh state of generation
// gen when the store is empty. A stored generation newer than gen is refused.
func LoadState(ctx context.Context, store storage.SnapshotStore, gen schema.Generation, log *logger.Logger) (*ledger.State, error) {
	if store == nil {
		return ledger.NewState(gen), nil
	}
	snap, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return ledger.NewState(gen), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Generation > gen {
		return nil, fmt.Errorf("stored generation %d is newer than configured generation %d", snap.Generation, gen)
	}
	if snap.Generation < gen && log != nil {
		log.WithField("stored", snap.Generation.Version()).
			WithField("configured", gen.Version()).
			Warn("stored ledger runs an older generation; upgrade it through the upgrade operation")
	}
	return ledger.Restore(snap)
}

// Events returns the event log the ledger emits into.
func (s *Service) Events() events.EventLogger { return s.events }

// Dirty reports whether the last write-through failed and has not been retried.
func (s *Service) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Ping checks the store when it is backed by a server.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(storage.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// mutate runs fn under the lock and persists the state when it succeeds.
func (s *Service) mutate(ctx context.Context, op ledger.Op, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := fn()
	s.record(op, err, time.Since(start))
	if err != nil {
		return err
	}
	s.persistLocked(ctx, "write_through")
	return nil
}

// read runs fn under the lock without persisting.
func (s *Service) read(op ledger.Op, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := fn()
	s.record(op, err, time.Since(start))
	return err
}

func (s *Service) record(op ledger.Op, err error, d time.Duration) {
	if s.m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = ledger.CodeOf(err)
	}
	s.m.RecordOperation(string(op), result, d)
}

// persistLocked saves a snapshot. A failed save marks the service dirty and
// leaves the retry to the checkpoint job; the operation itself has already
// committed.
func (s *Service) persistLocked(ctx context.Context, trigger string) {
	defer s.updateGauges()
	if s.store == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	err := s.store.Save(saveCtx, s.ledger.Snapshot())
	if s.m != nil {
		s.m.RecordSnapshotSave(trigger, err == nil)
	}
	if err != nil {
		s.dirty = true
		s.log.WithError(err).
			WithField("trigger", trigger).
			WithField("request_id", events.RequestIDFrom(ctx)).
			Error("snapshot save failed; state marked dirty")
		return
	}
	s.dirty = false
}

func (s *Service) updateGauges() {
	if s.m == nil {
		return
	}
	st := s.ledger.State()
	s.m.SetLedger(st.TotalDeposits, len(st.Accounts), uint8(st.Generation))
	s.m.SetDirty(s.dirty)
}

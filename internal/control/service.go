// Package control implements the control-plane operations: it is the only
// component that mutates both the store and the registry, and it guarantees
// the two are changed together for any given check id.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hazz-dev/beacon/internal/check"
)

var (
	// ErrInvalidCheck marks validation failures; nothing is persisted.
	ErrInvalidCheck = errors.New("invalid check definition")
	// ErrAlreadyRunning is returned by Enable when the registry already has
	// an entry for the id. Enabling an enabled check is a client error, not
	// a silent no-op: silent success would hide the caller's stale view.
	ErrAlreadyRunning = errors.New("check is already running")
	// ErrNotRunning is returned by Disable when no entry was running.
	ErrNotRunning = errors.New("check is not running")
)

// Store is the slice of storage the control service needs.
type Store interface {
	CreateCheck(ctx context.Context, c *check.Check) error
	GetCheck(ctx context.Context, id int64) (*check.Check, error)
	ListChecks(ctx context.Context, enabled bool, limit int) ([]*check.Check, error)
	EnabledChecks(ctx context.Context) ([]*check.Check, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteCheck(ctx context.Context, id int64) (*check.Check, error)
	ListResults(ctx context.Context, checkID int64, limit int) ([]check.Result, error)
}

// Registry is the live-task side of the control plane.
type Registry interface {
	Start(c *check.Check) error
	Stop(id int64) bool
	Running(id int64) bool
	Snapshot() []int64
}

const defaultLimit = 10

// Service turns client requests into coordinated store + registry mutations.
//
// A single mutex serializes Create/Enable/Disable/Delete across all ids and
// is held across the store write and the registry change, so no operation
// ever observes the pair half-updated. Check cardinality is small enough
// that a global lock costs nothing. The store is always written first: after
// a crash between the two steps, the store is the source of truth and the
// startup reconciliation pass rebuilds the registry from it.
type Service struct {
	mu    sync.Mutex
	store Store
	reg   Registry
	log   *zap.Logger
}

// New creates a Service. Pass nil logger to discard logs.
func New(store Store, reg Registry, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, reg: reg, log: log}
}

// Create validates and persists a new definition (the store assigns the id),
// then starts its registry task. If the task cannot start, the definition
// stays persisted with enabled=true and the error is surfaced; the next
// process start reconciles it.
func (s *Service) Create(ctx context.Context, c *check.Check) (*check.Check, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCheck, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = 0
	c.Enabled = true
	if err := s.store.CreateCheck(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("check created",
		zap.Int64("check_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("target", c.Target),
	)

	if err := s.reg.Start(c); err != nil {
		s.log.Error("check stored but not started", zap.Int64("check_id", c.ID), zap.Error(err))
		return c, fmt.Errorf("check %d stored but not started: %w", c.ID, err)
	}
	return c, nil
}

// Get returns the definition for id.
func (s *Service) Get(ctx context.Context, id int64) (*check.Check, error) {
	return s.store.GetCheck(ctx, id)
}

// List returns at most limit definitions matching the enabled filter.
func (s *Service) List(ctx context.Context, enabled bool, limit int) ([]*check.Check, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.store.ListChecks(ctx, enabled, limit)
}

// ListResults returns up to limit results for a check, most recent first.
func (s *Service) ListResults(ctx context.Context, id int64, limit int) ([]check.Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.store.ListResults(ctx, id, limit)
}

// Delete stops the registry task if one is running (deleting a disabled
// check is valid) and removes the row, returning the deleted definition.
func (s *Service) Delete(ctx context.Context, id int64) (*check.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reg.Stop(id) {
		s.log.Info("check task stopped for deletion", zap.Int64("check_id", id))
	}
	c, err := s.store.DeleteCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("check deleted", zap.Int64("check_id", id))
	return c, nil
}

// Enable persists enabled=true and starts the registry task. The flag is
// written before the registry is consulted so a crash in between leaves the
// store declaring the desired state for the next reconciliation.
func (s *Service) Enable(ctx context.Context, id int64) (*check.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.GetCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetEnabled(ctx, id, true); err != nil {
		return nil, err
	}
	if s.reg.Running(id) {
		return nil, fmt.Errorf("check %d: %w", id, ErrAlreadyRunning)
	}

	c.Enabled = true
	if err := s.reg.Start(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Disable persists enabled=false and stops the registry task. Disabling a
// check that is not running is rejected, symmetric with Enable.
func (s *Service) Disable(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	if !s.reg.Stop(id) {
		return fmt.Errorf("check %d: %w", id, ErrNotRunning)
	}
	return nil
}

// Reconcile starts a registry task for every definition with enabled=true.
// Called on process start, before control-plane traffic is accepted, so the
// registry converges to the store's declared state. A check that fails to
// start (for example an unreadable script) is logged and skipped rather than
// aborting the rest.
func (s *Service) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checks, err := s.store.EnabledChecks(ctx)
	if err != nil {
		return fmt.Errorf("fetching enabled checks: %w", err)
	}
	for _, c := range checks {
		if err := s.reg.Start(c); err != nil {
			s.log.Error("failed to start check during reconciliation",
				zap.Int64("check_id", c.ID), zap.Error(err))
			continue
		}
	}
	s.log.Info("reconciliation complete",
		zap.Int("enabled", len(checks)),
		zap.Int("running", len(s.reg.Snapshot())),
	)
	return nil
}

// Snapshot exposes the registry's active ids for diagnostics.
func (s *Service) Snapshot() []int64 {
	return s.reg.Snapshot()
}

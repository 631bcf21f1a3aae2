// Package registry is the single source of truth for which checks are
// currently executing on a timer. It owns one goroutine per registered check
// and the cancellation handle for each; nothing else ever holds a reference
// to a running task.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/beacon/internal/check"
	"github.com/hazz-dev/beacon/internal/metrics"
	"github.com/hazz-dev/beacon/internal/probe"
)

// ResultStore is the slice of storage the registry needs to record outcomes.
type ResultStore interface {
	InsertResult(ctx context.Context, r *check.Result) error
	LastResult(ctx context.Context, checkID int64) (*check.Result, error)
}

// ProberFactory builds a Prober for a check definition.
type ProberFactory interface {
	New(c *check.Check) (probe.Prober, error)
}

// Registry maps check ids to running periodic tasks and provides atomic
// start/stop primitives to the control service. At most one entry exists per
// id; the control service enforces that precondition under its own lock.
type Registry struct {
	store    ResultStore
	factory  ProberFactory
	log      *zap.Logger
	onResult func(cur check.Result, prev *check.Result)

	mu      sync.Mutex
	entries map[int64]*entry
	closed  bool
	wg      sync.WaitGroup
}

type entry struct {
	cancel context.CancelFunc
}

// New creates an empty Registry. Pass nil logger to discard logs.
func New(store ResultStore, factory ProberFactory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		store:   store,
		factory: factory,
		log:     log,
		entries: make(map[int64]*entry),
	}
}

// SetOnResult sets the callback invoked after each execution with the new
// result and the previous one (nil on a check's first execution).
func (r *Registry) SetOnResult(fn func(cur check.Result, prev *check.Result)) {
	r.onResult = fn
}

// Start begins the periodic execution loop for a fully-resolved definition.
// The first execution fires immediately; subsequent ones fire once per
// interval regardless of how long executions take. Starting an id that is
// already registered is a caller bug and returns an error.
func (r *Registry) Start(c *check.Check) error {
	p, err := r.factory.New(c)
	if err != nil {
		return fmt.Errorf("building prober for check %d: %w", c.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("registry is closed")
	}
	if _, ok := r.entries[c.ID]; ok {
		return fmt.Errorf("check %d is already registered", c.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.entries[c.ID] = &entry{cancel: cancel}
	metrics.ActiveChecks.Inc()

	r.wg.Add(1)
	go r.run(ctx, *c, p)

	r.log.Info("check started",
		zap.Int64("check_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.Duration("interval", c.Interval),
	)
	return nil
}

// Stop cancels and removes the entry for id, reporting whether one existed.
// An execution already dispatched may still complete and write its result.
func (r *Registry) Stop(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	e.cancel()
	metrics.ActiveChecks.Dec()
	r.log.Info("check stopped", zap.Int64("check_id", id))
	return true
}

// Running reports whether an entry exists for id.
func (r *Registry) Running(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Snapshot returns the sorted set of currently registered ids. Diagnostics
// only; correctness never depends on it.
func (r *Registry) Snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close stops every entry and waits for all loops and in-flight executions
// to drain. The registry cannot be reused afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for id, e := range r.entries {
		e.cancel()
		delete(r.entries, id)
		metrics.ActiveChecks.Dec()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Registry) run(ctx context.Context, c check.Check, p probe.Prober) {
	defer r.wg.Done()

	// First execution fires immediately.
	r.dispatch(ctx, c, p)

	t := time.NewTicker(c.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.dispatch(ctx, c, p)
		}
	}
}

// dispatch hands one execution to its own goroutine so a slow probe never
// delays this check's next tick or any other check. Overlapping executions
// of the same check are accepted behavior.
func (r *Registry) dispatch(ctx context.Context, c check.Check, p probe.Prober) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(ctx, c, p)
	}()
}

func (r *Registry) execute(ctx context.Context, c check.Check, p probe.Prober) {
	var prev *check.Result
	if r.onResult != nil {
		var err error
		prev, err = r.store.LastResult(ctx, c.ID)
		if err != nil {
			r.log.Warn("fetching previous result", zap.Int64("check_id", c.ID), zap.Error(err))
		}
	}

	start := time.Now()
	msg, probeErr := p.Probe(ctx)
	elapsed := time.Since(start)
	if elapsed < 0 {
		r.log.Error("clock moved backwards, clamping elapsed time to zero",
			zap.Int64("check_id", c.ID))
		elapsed = 0
	}

	res := check.Result{
		CheckID:   c.ID,
		StartedAt: start,
		Elapsed:   elapsed,
		Pass:      probeErr == nil,
		Message:   msg,
	}
	outcome := "pass"
	if probeErr != nil {
		res.Message = probeErr.Error()
		outcome = "fail"
		r.log.Warn("check failed",
			zap.Int64("check_id", c.ID),
			zap.Duration("elapsed", elapsed),
			zap.String("error", res.Message),
		)
	} else {
		r.log.Info("check passed",
			zap.Int64("check_id", c.ID),
			zap.Duration("elapsed", elapsed),
		)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(c.Kind), outcome).Inc()
	metrics.ProbeDuration.WithLabelValues(string(c.Kind)).Observe(elapsed.Seconds())

	// A failed write loses this tick's result; the next tick writes again.
	if err := r.store.InsertResult(ctx, &res); err != nil {
		metrics.ResultWriteFailures.Inc()
		r.log.Error("unable to write result", zap.Int64("check_id", c.ID), zap.Error(err))
	}

	if r.onResult != nil {
		r.onResult(res, prev)
	}
}

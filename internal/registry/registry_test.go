package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/beacon/internal/check"
	"github.com/hazz-dev/beacon/internal/probe"
	"github.com/hazz-dev/beacon/internal/registry"
)

// memStore records inserted results in memory.
type memStore struct {
	mu      sync.Mutex
	results []check.Result
}

func (s *memStore) InsertResult(_ context.Context, r *check.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.results) + 1)
	s.results = append(s.results, *r)
	return nil
}

func (s *memStore) LastResult(_ context.Context, checkID int64) (*check.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].CheckID == checkID {
			r := s.results[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *memStore) last() check.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

// stubProber counts invocations and can simulate a slow or failing probe.
type stubProber struct {
	calls atomic.Int32
	delay time.Duration
	msg   string
	err   error
}

func (p *stubProber) Probe(ctx context.Context) (string, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	return p.msg, p.err
}

type stubFactory struct {
	p   probe.Prober
	err error
}

func (f stubFactory) New(*check.Check) (probe.Prober, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.p, nil
}

func testCheck(id int64, interval time.Duration) *check.Check {
	return &check.Check{
		ID:       id,
		Kind:     check.KindHTTP,
		Target:   "https://example.com",
		Interval: interval,
		Enabled:  true,
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartExecutesImmediately(t *testing.T) {
	store := &memStore{}
	reg := registry.New(store, stubFactory{p: &stubProber{msg: "ok"}}, nil)
	defer reg.Close()

	// A long interval proves the first execution does not wait for a tick.
	if err := reg.Start(testCheck(1, time.Hour)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return store.count() >= 1 },
		"no result recorded before the first interval elapsed")

	r := store.last()
	if !r.Pass {
		t.Error("expected a passing result")
	}
	if r.Message != "ok" {
		t.Errorf("message = %q, want %q", r.Message, "ok")
	}
	if r.CheckID != 1 {
		t.Errorf("check id = %d, want 1", r.CheckID)
	}
}

func TestPeriodicExecution(t *testing.T) {
	store := &memStore{}
	reg := registry.New(store, stubFactory{p: &stubProber{}}, nil)
	defer reg.Close()

	if err := reg.Start(testCheck(1, 20*time.Millisecond)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return store.count() >= 3 },
		"expected at least 3 executions on a 20ms interval")
}

func TestStopHaltsExecutions(t *testing.T) {
	store := &memStore{}
	reg := registry.New(store, stubFactory{p: &stubProber{}}, nil)
	defer reg.Close()

	if err := reg.Start(testCheck(1, 20*time.Millisecond)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return store.count() >= 2 }, "check never executed")

	if !reg.Stop(1) {
		t.Fatal("Stop reported no entry for a running check")
	}
	if reg.Running(1) {
		t.Error("Running(1) = true after Stop")
	}

	// Allow any already-dispatched execution to land, then verify quiescence.
	time.Sleep(50 * time.Millisecond)
	before := store.count()
	time.Sleep(100 * time.Millisecond)
	if after := store.count(); after != before {
		t.Errorf("results kept arriving after Stop: %d -> %d", before, after)
	}
}

func TestStopUnknownID(t *testing.T) {
	reg := registry.New(&memStore{}, stubFactory{p: &stubProber{}}, nil)
	defer reg.Close()

	if reg.Stop(99) {
		t.Error("Stop(99) = true for an id that was never started")
	}
}

func TestStartDuplicateID(t *testing.T) {
	reg := registry.New(&memStore{}, stubFactory{p: &stubProber{}}, nil)
	defer reg.Close()

	if err := reg.Start(testCheck(1, time.Hour)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := reg.Start(testCheck(1, time.Hour)); err == nil {
		t.Fatal("expected error starting a duplicate id")
	}
}

func TestStartFactoryError(t *testing.T) {
	reg := registry.New(&memStore{}, stubFactory{err: errors.New("no such script")}, nil)
	defer reg.Close()

	if err := reg.Start(testCheck(1, time.Hour)); err == nil {
		t.Fatal("expected factory error to propagate")
	}
	if reg.Running(1) {
		t.Error("failed Start must not leave an entry behind")
	}
}

func TestSlowProbeDoesNotStallTicks(t *testing.T) {
	store := &memStore{}
	p := &stubProber{delay: 250 * time.Millisecond}
	reg := registry.New(store, stubFactory{p: p}, nil)
	defer reg.Close()

	// Probe takes 5 intervals. Each tick must still dispatch.
	if err := reg.Start(testCheck(1, 50*time.Millisecond)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return p.calls.Load() >= 4 },
		"ticks stalled behind a slow probe")
}

func TestFailedProbeRecordsFailure(t *testing.T) {
	store := &memStore{}
	p := &stubProber{err: errors.New("503 Service Unavailable")}
	reg := registry.New(store, stubFactory{p: p}, nil)
	defer reg.Close()

	if err := reg.Start(testCheck(1, time.Hour)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return store.count() >= 1 }, "no result recorded")

	r := store.last()
	if r.Pass {
		t.Error("expected a failing result")
	}
	if r.Message != "503 Service Unavailable" {
		t.Errorf("message = %q, want the probe error text", r.Message)
	}
}

func TestSnapshot(t *testing.T) {
	reg := registry.New(&memStore{}, stubFactory{p: &stubProber{}}, nil)
	defer reg.Close()

	for _, id := range []int64{3, 1, 2} {
		if err := reg.Start(testCheck(id, time.Hour)); err != nil {
			t.Fatalf("Start(%d): %v", id, err)
		}
	}
	reg.Stop(2)

	got := reg.Snapshot()
	want := []int64{1, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestOnResultSeesPrevious(t *testing.T) {
	store := &memStore{}
	reg := registry.New(store, stubFactory{p: &stubProber{}}, nil)
	defer reg.Close()

	type pair struct {
		cur  check.Result
		prev *check.Result
	}
	var mu sync.Mutex
	var seen []pair
	reg.SetOnResult(func(cur check.Result, prev *check.Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, pair{cur, prev})
	})

	if err := reg.Start(testCheck(1, 20*time.Millisecond)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, "callback fired fewer than twice")
	reg.Close()

	mu.Lock()
	defer mu.Unlock()
	if seen[0].prev != nil {
		t.Error("first callback should carry a nil previous result")
	}
	if seen[1].prev == nil {
		t.Error("second callback should carry the previous result")
	}
}

func TestCloseStopsEverythingAndRejectsStart(t *testing.T) {
	store := &memStore{}
	reg := registry.New(store, stubFactory{p: &stubProber{}}, nil)

	for id := int64(1); id <= 3; id++ {
		if err := reg.Start(testCheck(id, 20*time.Millisecond)); err != nil {
			t.Fatalf("Start(%d): %v", id, err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return store.count() >= 3 }, "checks never executed")

	reg.Close()

	if len(reg.Snapshot()) != 0 {
		t.Error("entries remain after Close")
	}
	before := store.count()
	time.Sleep(80 * time.Millisecond)
	if after := store.count(); after != before {
		t.Errorf("results kept arriving after Close: %d -> %d", before, after)
	}
	if err := reg.Start(testCheck(9, time.Hour)); err == nil {
		t.Error("Start after Close should fail")
	}
}

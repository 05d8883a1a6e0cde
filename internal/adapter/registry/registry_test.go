package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yunze7373/traffic-tool/internal/domain/mocks"
)

func newTestRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestRegistry_AddRemove(t *testing.T) {
	r := newTestRegistry()

	a := &mocks.MockSubscriber{SubID: "a"}
	b := &mocks.MockSubscriber{SubID: "b"}

	r.Add(a)
	r.Add(b)
	if got := r.Count(); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	// Adding the same identity again is a no-op.
	r.Add(a)
	if got := r.Count(); got != 2 {
		t.Errorf("expected idempotent add, got count %d", got)
	}

	r.Remove(a)
	if got := r.Count(); got != 1 {
		t.Errorf("expected count 1 after remove, got %d", got)
	}

	// Removing an unregistered subscriber is a no-op.
	r.Remove(a)
	if got := r.Count(); got != 1 {
		t.Errorf("expected remove of unknown subscriber to be a no-op, got count %d", got)
	}
}

func TestRegistry_GaugeTracksMembership(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_active_subscribers"})
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)), gauge)

	a := &mocks.MockSubscriber{SubID: "a"}
	b := &mocks.MockSubscriber{SubID: "b"}

	r.Add(a)
	r.Add(b)
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("gauge = %v after two adds, want 2", got)
	}

	// Idempotent re-add leaves the gauge untouched.
	r.Add(a)
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("gauge = %v after idempotent add, want 2", got)
	}

	r.Remove(a)
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("gauge = %v after remove, want 1", got)
	}

	r.Remove(a)
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("gauge = %v after no-op remove, want 1", got)
	}
}

func TestRegistry_SnapshotIsPointInTime(t *testing.T) {
	r := newTestRegistry()
	r.Add(&mocks.MockSubscriber{SubID: "a"})
	r.Add(&mocks.MockSubscriber{SubID: "b"})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected snapshot of 2, got %d", len(snap))
	}

	// Mutations after the snapshot must not affect it.
	r.Add(&mocks.MockSubscriber{SubID: "c"})
	r.Remove(snap[0])
	if len(snap) != 2 {
		t.Errorf("snapshot changed after registry mutation: %d entries", len(snap))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := &mocks.MockSubscriber{SubID: fmt.Sprintf("sub-%d", i)}
			for j := 0; j < 100; j++ {
				r.Add(sub)
				_ = r.Snapshot()
				_ = r.Count()
				if j%2 == 0 {
					r.Remove(sub)
				}
			}
		}(i)
	}
	wg.Wait()

	// Odd final iterations leave each worker's subscriber registered.
	if got := r.Count(); got != workers {
		t.Errorf("expected %d subscribers after interleaved ops, got %d", workers, got)
	}
}

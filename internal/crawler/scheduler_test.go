package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

func testCandidates(n int) []domain.PeerKey {
	keys := make([]domain.PeerKey, n)
	for i := range keys {
		keys[i] = domain.PeerKey{IP: fmt.Sprintf("10.0.%d.%d", i/250, i%250+1), Port: 8333, Chain: "pix"}
	}
	return keys
}

func TestScheduleProbesEveryCandidate(t *testing.T) {
	candidates := testCandidates(20)
	sched := &Scheduler{Workers: 4}

	var mu sync.Mutex
	probed := make(map[domain.PeerKey]bool)

	outcomes := sched.Schedule(context.Background(), candidates, func(ctx context.Context, key domain.PeerKey) domain.ProbeOutcome {
		mu.Lock()
		probed[key] = true
		mu.Unlock()
		return domain.ProbeOutcome{Peer: key, Status: domain.StatusUp}
	})

	if len(outcomes) != len(candidates) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(candidates))
	}
	if len(probed) != len(candidates) {
		t.Errorf("probed %d distinct candidates, want %d", len(probed), len(candidates))
	}
}

func TestScheduleBoundsConcurrency(t *testing.T) {
	const workers = 3
	candidates := testCandidates(30)
	sched := &Scheduler{Workers: workers}

	var inflight, peak int64
	outcomes := sched.Schedule(context.Background(), candidates, func(ctx context.Context, key domain.PeerKey) domain.ProbeOutcome {
		n := atomic.AddInt64(&inflight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		return domain.ProbeOutcome{Peer: key, Status: domain.StatusDown}
	})

	if len(outcomes) != len(candidates) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(candidates))
	}
	if got := atomic.LoadInt64(&peak); got > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", got, workers)
	}
}

func TestScheduleCancelledMidCycle(t *testing.T) {
	candidates := testCandidates(20)
	sched := &Scheduler{Workers: 2}

	ctx, cancel := context.WithCancel(context.Background())
	var started int64

	outcomes := sched.Schedule(ctx, candidates, func(ctx context.Context, key domain.PeerKey) domain.ProbeOutcome {
		if atomic.AddInt64(&started, 1) == 2 {
			cancel()
		}
		return domain.ProbeOutcome{Peer: key, Status: domain.StatusUp}
	})

	// Every candidate still reports a terminal outcome; those that never ran
	// carry the cancellation marker.
	if len(outcomes) != len(candidates) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(candidates))
	}
	skipped := 0
	for _, o := range outcomes {
		if o.Failure == domain.FailureCancelled {
			skipped++
			if o.Status != domain.StatusPending {
				t.Errorf("skipped outcome has status %q, want %q", o.Status, domain.StatusPending)
			}
		}
	}
	if skipped == 0 {
		t.Error("expected at least one skipped outcome after cancellation")
	}
}

func TestScheduleEmpty(t *testing.T) {
	sched := &Scheduler{Workers: 4}
	outcomes := sched.Schedule(context.Background(), nil, func(ctx context.Context, key domain.PeerKey) domain.ProbeOutcome {
		t.Fatal("perPeer called with no candidates")
		return domain.ProbeOutcome{}
	})
	if len(outcomes) != 0 {
		t.Errorf("got %d outcomes, want 0", len(outcomes))
	}
}

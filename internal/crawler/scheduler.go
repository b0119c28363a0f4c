package crawler

import (
	"context"
	"sync"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// ─── Connection Scheduler ───────────────────────────────────────────────────
// A fixed-size worker pool draining a queue of candidates. The pool holds no
// peer state between cycles: only the queue and the in-flight workers.

// Scheduler bounds how many probe attempts are in flight at once.
type Scheduler struct {
	Workers int
}

// Schedule fans candidates out to at most Workers concurrent perPeer calls
// and blocks until every candidate has a terminal outcome. When ctx is
// cancelled, no new work is dispatched; in-flight attempts finish under
// their own deadlines and undispatched candidates report a cancelled
// outcome. No goroutines outlive the call.
func (s *Scheduler) Schedule(ctx context.Context, candidates []domain.PeerKey, perPeer func(context.Context, domain.PeerKey) domain.ProbeOutcome) []domain.ProbeOutcome {
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}
	if len(candidates) == 0 {
		return nil
	}

	queue := make(chan domain.PeerKey)
	results := make(chan domain.ProbeOutcome, len(candidates))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for key := range queue {
				// Check again at pickup: dispatch may have stopped between
				// enqueue and this worker becoming free.
				if ctx.Err() != nil {
					results <- skippedOutcome(key)
					continue
				}
				results <- perPeer(ctx, key)
			}
		}()
	}

	// Feed the queue; on cancellation, drain the remainder as skipped.
	dispatched := 0
feed:
	for _, key := range candidates {
		select {
		case queue <- key:
			dispatched++
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)

	for _, key := range candidates[dispatched:] {
		results <- skippedOutcome(key)
	}

	wg.Wait()
	close(results)

	outcomes := make([]domain.ProbeOutcome, 0, len(candidates))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// skippedOutcome marks a candidate that never ran because the cycle shut
// down. Skips carry no classification and are not persisted.
func skippedOutcome(key domain.PeerKey) domain.ProbeOutcome {
	return domain.ProbeOutcome{
		Peer:    key,
		Status:  domain.StatusPending,
		Failure: domain.FailureCancelled,
		Err:     domain.ErrCycleCancelled,
	}
}

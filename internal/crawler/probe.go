package crawler

import (
	"context"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
	"github.com/pixwatch/pixwatch/internal/protocol"
)

// ─── Per-peer probe loop ────────────────────────────────────────────────────

// HandshakeFunc runs one handshake attempt. *protocol.Client.Attempt
// satisfies it; tests script sequences of results.
type HandshakeFunc func(ctx context.Context, addr string, offerVersion int32, timeout time.Duration) protocol.AttemptResult

// SleepFunc waits for the backoff delay, returning false when the context
// was cancelled first. Injected so retry timing is testable without clocks.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Prober drives the retry loop for a single peer within a cycle: handshake
// attempts under the retry policy, walking the protocol version ladder on
// failure.
type Prober struct {
	Attempt HandshakeFunc
	Policy  RetryPolicy
	Ladder  []int32

	// ConnectTimeout applies to peers that have never completed a
	// handshake; ExtendedTimeout once one is on record.
	ConnectTimeout  time.Duration
	ExtendedTimeout time.Duration

	Sleep SleepFunc
	Now   func() time.Time
}

// Probe produces the terminal outcome for one peer. hadSuccess selects the
// per-attempt timeout budget. Cancellation mid-loop returns the best-known
// classification from the attempts that did run.
func (p *Prober) Probe(ctx context.Context, key domain.PeerKey, hadSuccess bool) domain.ProbeOutcome {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}

	timeout := p.ConnectTimeout
	if hadSuccess {
		timeout = p.ExtendedTimeout
	}

	outcome := domain.ProbeOutcome{
		Peer:   key,
		Status: domain.StatusDown,
	}

	for attempt := 1; ; attempt++ {
		version := OfferedVersion(p.Ladder, attempt)
		res := p.Attempt(ctx, key.Address(), version, timeout)

		outcome.Attempts = attempt
		outcome.ObservedAt = now()

		if res.Failure == domain.FailureCancelled {
			// An aborted dial is not an observation. Keep the best-known
			// classification from earlier attempts, if any.
			if attempt == 1 {
				outcome.Status = domain.StatusPending
				outcome.Failure = domain.FailureCancelled
				outcome.Err = res.Err
			}
			return outcome
		}

		outcome.Status = res.Status
		outcome.Failure = res.Failure
		outcome.Err = res.Err
		if res.ResponseTime > 0 {
			outcome.ResponseTime = res.ResponseTime
		}
		// Anything past a refused connection counts as having reached the
		// peer, completed handshake or not.
		if res.Failure != domain.FailureConnect && res.Failure != domain.FailureCancelled {
			outcome.Reached = true
		}

		if res.Status == domain.StatusUp {
			outcome.Announced = res.Announced
			outcome.Failure = domain.FailureNone
			outcome.Err = nil
			return outcome
		}

		decision := p.Policy.Decide(attempt, res.Failure)
		if !decision.Retry {
			return outcome
		}
		if !sleep(ctx, decision.Delay) {
			// Cancelled during backoff: report the classification we have.
			return outcome
		}
	}
}

// Package crawler implements the discovery engine: seed resolution, the
// bounded connection scheduler, per-peer retry policy, and the scan
// orchestrator that drives full network sweeps.
package crawler

import (
	"math"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// ─── Retry/Backoff Controller ───────────────────────────────────────────────
// Deterministic and side-effect free: no clocks, no sleeps. Callers own the
// waiting so tests can verify the exponential series directly.

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy struct {
	MaxRetries   int           // attempts per cycle, not retries after the first
	InitialDelay time.Duration // base of the exponential series
	Multiplier   float64       // per-attempt growth factor
}

// RetryDecision is the controller's verdict after one failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// DelayFor returns the backoff before attempt n+1, given that attempt n
// (1-based) failed: InitialDelay × Multiplier^(n−1).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(p.Multiplier, float64(attempt-1))
	return time.Duration(float64(p.InitialDelay) * factor)
}

// Decide is consulted between attempts for the same peer. Cancellation and
// exhausted budgets stop; everything else retries after the computed delay.
func (p RetryPolicy) Decide(attempt int, failure domain.FailureKind) RetryDecision {
	if failure == domain.FailureNone || failure == domain.FailureCancelled {
		return RetryDecision{}
	}
	if attempt >= p.MaxRetries {
		return RetryDecision{}
	}
	return RetryDecision{Retry: true, Delay: p.DelayFor(attempt)}
}

// OfferedVersion selects the protocol version for an attempt (1-based) from
// the chain's version ladder: the first attempt offers the primary version,
// each failed attempt advances to the next fallback, cycling when the
// ladder is shorter than the retry budget.
func OfferedVersion(ladder []int32, attempt int) int32 {
	if len(ladder) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	return ladder[(attempt-1)%len(ladder)]
}

package crawler

import (
	"testing"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

func TestDelayForSeries(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 2 * time.Second,
		Multiplier:   3,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 6 * time.Second},
		{3, 18 * time.Second},
		{4, 54 * time.Second},
		{0, 2 * time.Second}, // clamped to the first attempt
	}

	for _, tt := range tests {
		got := policy.DelayFor(tt.attempt)
		if got != tt.want {
			t.Errorf("DelayFor(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		Multiplier:   3,
	}

	tests := []struct {
		name      string
		attempt   int
		failure   domain.FailureKind
		wantRetry bool
		wantDelay time.Duration
	}{
		{"first timeout retries", 1, domain.FailureTimeout, true, 2 * time.Second},
		{"second timeout retries longer", 2, domain.FailureTimeout, true, 6 * time.Second},
		{"budget exhausted", 3, domain.FailureTimeout, false, 0},
		{"beyond budget", 4, domain.FailureTimeout, false, 0},
		{"success never retries", 1, domain.FailureNone, false, 0},
		{"cancellation never retries", 1, domain.FailureCancelled, false, 0},
		{"rejection retries", 1, domain.FailureRejected, true, 2 * time.Second},
		{"connect failure retries", 2, domain.FailureConnect, true, 6 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Decide(tt.attempt, tt.failure)
			if d.Retry != tt.wantRetry {
				t.Errorf("Decide(%d, %v).Retry = %v, want %v", tt.attempt, tt.failure, d.Retry, tt.wantRetry)
			}
			if d.Delay != tt.wantDelay {
				t.Errorf("Decide(%d, %v).Delay = %s, want %s", tt.attempt, tt.failure, d.Delay, tt.wantDelay)
			}
		})
	}
}

func TestOfferedVersionCyclesLadder(t *testing.T) {
	ladder := []int32{70017, 70016, 70015}

	tests := []struct {
		attempt int
		want    int32
	}{
		{1, 70017},
		{2, 70016},
		{3, 70015},
		{4, 70017}, // ladder shorter than the retry budget cycles
		{5, 70016},
		{0, 70017}, // clamped
	}

	for _, tt := range tests {
		if got := OfferedVersion(ladder, tt.attempt); got != tt.want {
			t.Errorf("OfferedVersion(%d) = %d, want %d", tt.attempt, got, tt.want)
		}
	}

	if got := OfferedVersion(nil, 1); got != 0 {
		t.Errorf("OfferedVersion(empty, 1) = %d, want 0", got)
	}
}

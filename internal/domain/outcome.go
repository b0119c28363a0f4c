package domain

import "time"

// ─── Probe outcomes ─────────────────────────────────────────────────────────

// FailureKind classifies why a probe attempt did not end in a completed
// handshake. It drives retry and fallback policy.
type FailureKind int

const (
	FailureNone      FailureKind = iota
	FailureConnect               // refused / unreachable → down
	FailureTimeout               // TCP open, protocol silent → reachable
	FailureRejected              // peer rejected the offered protocol version
	FailureParse                 // handshake done, user agent unparseable
	FailureCancelled             // cycle cancelled before a classification
)

// String returns the failure kind label used in logs and metrics.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureConnect:
		return "connect"
	case FailureTimeout:
		return "timeout"
	case FailureRejected:
		return "rejected"
	case FailureParse:
		return "parse"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProbeOutcome is the terminal result of probing one peer within a cycle,
// after all retries.
type ProbeOutcome struct {
	Peer     PeerKey
	Status   Status
	Failure  FailureKind
	Attempts int

	// Reached reports whether any attempt got protocol-level contact with
	// the peer (handshake completed, or open-but-silent). Connection
	// refusals never count as reached.
	Reached bool

	// Announced is non-nil only for a completed, parseable handshake
	// (or unparseable when the chain allows saving those as reachable).
	Announced *AnnouncedState

	ResponseTime time.Duration // 0 when no attempt produced a sample
	ObservedAt   time.Time
	Err          error
}

// ResponseMs returns the response time as a nullable millisecond sample.
func (o ProbeOutcome) ResponseMs() *float64 {
	if o.ResponseTime <= 0 {
		return nil
	}
	ms := float64(o.ResponseTime.Microseconds()) / 1000.0
	return &ms
}

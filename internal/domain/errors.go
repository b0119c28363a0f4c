package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Probe failures
	ErrConnectFailure    = errors.New("connection refused or unreachable")
	ErrHandshakeTimeout  = errors.New("handshake timed out at protocol level")
	ErrHandshakeRejected = errors.New("peer rejected offered protocol version")
	ErrParseFailure      = errors.New("unrecognized client identification string")

	// Discovery
	ErrResolutionFailure = errors.New("dns seed resolution failed")
	ErrNoCandidates      = errors.New("no candidates: all seeds failed and registry is empty")

	// Persistence
	ErrRegistryWriteFailure = errors.New("registry write failed")
	ErrRegistryUnavailable  = errors.New("registry unavailable: halting new cycles")
	ErrPeerNotFound         = errors.New("peer not found")

	// Orchestration
	ErrCycleRunning   = errors.New("scan cycle already running")
	ErrCycleCancelled = errors.New("scan cycle cancelled")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownChain  = errors.New("unknown chain")
)

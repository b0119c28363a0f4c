package protocol

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// ─── Handshake state machine ────────────────────────────────────────────────

// State is the position of one handshake attempt. Failed is absorbing and
// reachable from every step.
type State int

const (
	StateConnecting State = iota
	StateVersionSent
	StateAwaitingPeerVersion
	StateAwaitingVerack
	StateEstablished
	StateFailed
)

// String returns the state label used in logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateVersionSent:
		return "version-sent"
	case StateAwaitingPeerVersion:
		return "awaiting-peer-version"
	case StateAwaitingVerack:
		return "awaiting-verack"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Dialer abstracts the transport so tests can inject pipes or refusing
// dialers. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client performs the wire-level version negotiation against one peer and
// classifies the outcome. It is stateless across attempts and safe for
// concurrent use by scheduler workers.
type Client struct {
	Magic     [4]byte
	UserAgent string // our own identification string
	Parser    *AgentParser
	Dialer    Dialer

	// RequireVersion downgrades Established outcomes with an unparseable
	// identification string to reachable, without announced state.
	RequireVersion bool
}

// AttemptResult is the classification of a single handshake attempt.
type AttemptResult struct {
	State        State
	Status       domain.Status
	Failure      domain.FailureKind
	Announced    *domain.AnnouncedState
	ResponseTime time.Duration
	Err          error
}

// Attempt runs one handshake against addr, offering offerVersion. Every
// step carries its own deadline of timeout; a peer that accepts TCP but
// never completes the protocol within its windows classifies as reachable,
// a refused connection as down.
func (c *Client) Attempt(ctx context.Context, addr string, offerVersion int32, timeout time.Duration) AttemptResult {
	state := StateConnecting
	started := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return failed(domain.FailureCancelled, domain.StatusDown, ctx.Err())
		}
		return failed(domain.FailureConnect, domain.StatusDown, domain.ErrConnectFailure)
	}
	defer conn.Close()

	// Send our version.
	local := VersionMsg{
		ProtocolVersion: offerVersion,
		Timestamp:       time.Now().Unix(),
		Nonce:           nonceFromTime(),
		UserAgent:       c.UserAgent,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	payload := encodeVersion(local, conn.RemoteAddr(), conn.LocalAddr())
	if err := writeMessage(conn, c.Magic, cmdVersion, payload); err != nil {
		return classifyIOError(err)
	}
	state = StateVersionSent

	// Await the peer's version under its own read deadline.
	state = StateAwaitingPeerVersion
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	peerVersion, res, done := c.awaitCommand(conn, cmdVersion)
	if done {
		return res
	}
	responseTime := time.Since(started)

	// Acknowledge, then await their verack.
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := writeMessage(conn, c.Magic, cmdVerack, nil); err != nil {
		return classifyIOError(err)
	}
	state = StateAwaitingVerack
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if _, res, done := c.awaitCommand(conn, cmdVerack); done {
		return res
	}
	state = StateEstablished

	announced := &domain.AnnouncedState{
		ProtocolVersion: peerVersion.ProtocolVersion,
		UserAgent:       peerVersion.UserAgent,
		Services:        peerVersion.Services,
		Height:          int64(peerVersion.StartHeight),
	}
	name, version, ok := c.Parser.Parse(peerVersion.UserAgent)
	if ok {
		announced.ClientName = name
		announced.ClientVersion = version
	} else if c.RequireVersion {
		// Completed handshake, unusable identity: liveness without a
		// classifiable client. Announced state is not persisted.
		return AttemptResult{
			State:        state,
			Status:       domain.StatusReachable,
			Failure:      domain.FailureParse,
			ResponseTime: responseTime,
			Err:          domain.ErrParseFailure,
		}
	}

	return AttemptResult{
		State:        state,
		Status:       domain.StatusUp,
		Announced:    announced,
		ResponseTime: responseTime,
	}
}

// awaitCommand reads framed messages until want arrives, a reject arrives,
// or the step's read deadline passes. Unsolicited traffic (ping, addr, inv)
// is skipped.
func (c *Client) awaitCommand(conn net.Conn, want string) (VersionMsg, AttemptResult, bool) {
	for {
		command, payload, err := readMessage(conn, c.Magic)
		if err != nil {
			return VersionMsg{}, classifyIOError(err), true
		}

		switch command {
		case want:
			if want == cmdVersion {
				msg, err := decodeVersion(payload)
				if err != nil {
					return VersionMsg{}, failed(domain.FailureTimeout, domain.StatusReachable, err), true
				}
				return msg, AttemptResult{}, false
			}
			return VersionMsg{}, AttemptResult{}, false
		case cmdReject:
			reason := "version rejected"
			if rej, err := decodeReject(payload); err == nil && rej.Reason != "" {
				reason = rej.Reason
			}
			res := failed(domain.FailureRejected, domain.StatusReachable, domain.ErrHandshakeRejected)
			res.Err = errors.Join(res.Err, errors.New(reason))
			return VersionMsg{}, res, true
		}
	}
}

// classifyIOError maps transport errors mid-handshake: the TCP session was
// open, so protocol silence is reachable, not down.
func classifyIOError(err error) AttemptResult {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failed(domain.FailureTimeout, domain.StatusReachable, domain.ErrHandshakeTimeout)
	}
	return failed(domain.FailureTimeout, domain.StatusReachable, err)
}

func failed(kind domain.FailureKind, status domain.Status, err error) AttemptResult {
	return AttemptResult{
		State:   StateFailed,
		Status:  status,
		Failure: kind,
		Err:     err,
	}
}

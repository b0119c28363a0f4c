// Package domain holds the pure data model for the crawler.
// No infrastructure imports: types and sentinel errors only.
package domain

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// ─── Status ─────────────────────────────────────────────────────────────────

// Status is the lifecycle state of a peer, set only by probe classification.
type Status string

const (
	StatusPending   Status = "pending"   // known but never probed
	StatusUp        Status = "up"        // handshake completed
	StatusDown      Status = "down"      // unreachable / connection refused
	StatusReachable Status = "reachable" // TCP open but no protocol confirmation
)

// Valid reports whether s is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUp, StatusDown, StatusReachable:
		return true
	}
	return false
}

// ─── Tier ───────────────────────────────────────────────────────────────────

// Tier is the derived health classification. Never set directly by a probe;
// always recomputed from metrics.
type Tier string

const (
	TierDiamond  Tier = "diamond"
	TierGold     Tier = "gold"
	TierSilver   Tier = "silver"
	TierBronze   Tier = "bronze"
	TierStandard Tier = "standard"
)

// ─── Connection type ────────────────────────────────────────────────────────

// ConnType is derived from the address family.
type ConnType string

const (
	ConnIPv4  ConnType = "ipv4"
	ConnIPv6  ConnType = "ipv6"
	ConnOnion ConnType = "onion"
)

// ConnTypeFor derives the connection type from a host string.
func ConnTypeFor(host string) ConnType {
	if strings.HasSuffix(host, ".onion") {
		return ConnOnion
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return ConnIPv6
	}
	return ConnIPv4
}

// ─── Peer ───────────────────────────────────────────────────────────────────

// PeerKey uniquely identifies a peer: one endpoint on one chain.
type PeerKey struct {
	IP    string
	Port  int
	Chain string
}

// Address returns the canonical "ip:port" form.
func (k PeerKey) Address() string {
	return net.JoinHostPort(k.IP, strconv.Itoa(k.Port))
}

// AnnouncedState holds the fields a peer reports during a successful
// handshake. All nil/zero until the first completed handshake.
type AnnouncedState struct {
	ProtocolVersion int32
	UserAgent       string // raw identification string, e.g. "/pixd:1.18.0/"
	ClientName      string // parsed from UserAgent
	ClientVersion   string // parsed semantic version, e.g. "1.18.0"
	Services        uint64
	Height          int64
}

// GeoInfo is enrichment supplied by the external GeoIP collaborator.
// All fields stay empty when lookup fails: enrichment never blocks
// classification.
type GeoInfo struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
	Timezone  string
	ISP       string
	Org       string
	ASN       string
}

// Peer is one network endpoint on one chain, with its last-known state and
// derived metrics. Metric fields are mutated only by the scoring engine.
type Peer struct {
	PeerKey

	// Announced state. Announced is nil until the first successful handshake.
	Announced        *AnnouncedState
	IsCurrentVersion bool

	Geo      *GeoInfo
	ConnType ConnType

	// Lifecycle. StatusChangedAt moves only on an actual transition.
	Status          Status
	PreviousStatus  Status
	StatusChangedAt time.Time

	// Metrics, owned by the scoring engine.
	Uptime       float64  // 7-day online ratio, percent
	LatencyAvg   *float64 // ms, nil when no online sample in window
	Reliability  float64  // all-time online ratio, percent
	PixScore     float64
	Rank         *int     // dense over status=up, nil otherwise
	Tier         Tier
	PreviousTier Tier

	// Externally supplied; opaque to the engine.
	Verified bool

	// Bookkeeping.
	FirstSeen time.Time // set once, on creation
	LastSeen  time.Time // updated on every successful probe
	TimesSeen int64     // attempts that actually reached the peer
}

// ─── ProbeSnapshot ──────────────────────────────────────────────────────────

// ProbeSnapshot is one immutable observation of one probe attempt.
// Append-only; removed only by age-based pruning of its peer.
type ProbeSnapshot struct {
	ID         int64
	Peer       PeerKey
	Timestamp  time.Time
	IsOnline   bool
	ResponseMs *float64 // nil when the attempt produced no timing sample
	Height     *int64   // nil when the peer announced no height
}

// ─── NetworkSnapshot ────────────────────────────────────────────────────────

// NetworkSnapshot is one aggregate record per scan cycle, used only for
// historical trend display.
type NetworkSnapshot struct {
	ID        int64
	Chain     string
	CycleID   string
	Timestamp time.Time

	TotalPeers     int
	UpCount        int
	DownCount      int
	ReachableCount int
	PendingCount   int

	DiamondCount  int
	GoldCount     int
	SilverCount   int
	BronzeCount   int
	StandardCount int

	AvgUptime       float64
	AvgLatencyMs    *float64
	AvgScore        float64
	DominantVersion string // most common parsed client version among up peers
}

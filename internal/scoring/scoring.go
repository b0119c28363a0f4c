// Package scoring derives per-peer health metrics from probe history:
// windowed uptime, latency, all-time reliability, the composite pix score,
// tier classification, and the global rank. Every function here is a pure
// computation over its inputs, so re-running on identical history always
// yields identical results.
package scoring

import (
	"sort"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// MetricsWindow is the trailing window over which uptime and latency are
// computed. Reliability deliberately ignores it and uses all-time history.
const MetricsWindow = 7 * 24 * time.Hour

// Composite score policy. Tunable weights: the algorithm below never
// inlines these.
const (
	// ScoreMax clamps the composite score.
	ScoreMax = 1000.0
	ScoreMin = 0.0

	// Weights of the three components. Must sum to 1.
	UptimeWeight      = 0.5
	LatencyWeight     = 0.3
	ReliabilityWeight = 0.2

	// LatencyCeilingMs caps how much measured latency can hurt the score.
	LatencyCeilingMs = 100.0
	// MissingLatencyPenaltyMs is charged when no latency sample exists.
	MissingLatencyPenaltyMs = 500.0
)

// Tier thresholds, evaluated in order by Tier (first match wins).
const (
	DiamondMinUptime    = 99.9
	DiamondMinAgeDays   = 90
	DiamondMaxLatencyMs = 50.0

	GoldMinUptime    = 99.0
	GoldMinAgeDays   = 60
	GoldMaxLatencyMs = 100.0

	SilverMinUptime  = 95.0
	SilverMinAgeDays = 30

	BronzeMinUptime = 90.0
)

// Metrics is the derived field set for one peer.
type Metrics struct {
	Uptime      float64
	LatencyAvg  *float64
	Reliability float64
	PixScore    float64
}

// Compute derives a peer's metrics from its probe history. window holds the
// snapshots inside MetricsWindow; allTotal/allOnline are all-time counts.
// A peer with an empty window has zero uptime.
func Compute(window []domain.ProbeSnapshot, allTotal, allOnline int64) Metrics {
	var m Metrics

	if len(window) > 0 {
		online := 0
		latSum := 0.0
		latN := 0
		for _, s := range window {
			if !s.IsOnline {
				continue
			}
			online++
			if s.ResponseMs != nil {
				latSum += *s.ResponseMs
				latN++
			}
		}
		m.Uptime = 100 * float64(online) / float64(len(window))
		if latN > 0 {
			avg := latSum / float64(latN)
			m.LatencyAvg = &avg
		}
	}

	if allTotal > 0 {
		m.Reliability = 100 * float64(allOnline) / float64(allTotal)
	}

	m.PixScore = compositeScore(m.Uptime, m.LatencyAvg, m.Reliability)
	return m
}

// compositeScore combines the three components under the policy weights.
// Latency enters as a 0–100 "goodness" term: a missing sample is charged
// MissingLatencyPenaltyMs, which zeroes the term.
func compositeScore(uptime float64, latencyAvg *float64, reliability float64) float64 {
	latencyMs := MissingLatencyPenaltyMs
	if latencyAvg != nil {
		latencyMs = *latencyAvg
	}
	if latencyMs > LatencyCeilingMs {
		latencyMs = LatencyCeilingMs
	}
	latencyTerm := LatencyCeilingMs - latencyMs

	score := UptimeWeight*uptime + LatencyWeight*latencyTerm + ReliabilityWeight*reliability
	// Components are percentages; scale to the 0–1000 scoreboard range.
	score *= ScoreMax / 100.0

	if score > ScoreMax {
		score = ScoreMax
	}
	if score < ScoreMin {
		score = ScoreMin
	}
	return score
}

// TierFor classifies a peer from its current metrics. Rules are evaluated
// in order; the first whose conditions all hold wins. Verification status is
// externally supplied and treated as opaque.
func TierFor(p domain.Peer, now time.Time) domain.Tier {
	ageDays := now.Sub(p.FirstSeen).Hours() / 24
	up := p.Status == domain.StatusUp
	lat := func(max float64) bool { return p.LatencyAvg != nil && *p.LatencyAvg < max }

	switch {
	case up && p.Verified && p.Uptime >= DiamondMinUptime && ageDays >= DiamondMinAgeDays && lat(DiamondMaxLatencyMs):
		return domain.TierDiamond
	case up && p.IsCurrentVersion && p.Uptime >= GoldMinUptime && ageDays >= GoldMinAgeDays && lat(GoldMaxLatencyMs):
		return domain.TierGold
	case up && p.Verified && p.Uptime >= SilverMinUptime && ageDays >= SilverMinAgeDays:
		return domain.TierSilver
	case up && p.Verified && p.Uptime >= BronzeMinUptime:
		return domain.TierBronze
	default:
		return domain.TierStandard
	}
}

// AssignRanks sets Rank on every peer in place: a dense 1..N sequence over
// peers with status up, ordered by score desc, uptime desc, latency asc
// (nil latency last), then address asc for determinism. Peers not up get a
// nil rank.
func AssignRanks(peers []domain.Peer) {
	idx := make([]int, 0, len(peers))
	for i := range peers {
		if peers[i].Status == domain.StatusUp {
			idx = append(idx, i)
		} else {
			peers[i].Rank = nil
		}
	}

	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := &peers[idx[a]], &peers[idx[b]]
		if pa.PixScore != pb.PixScore {
			return pa.PixScore > pb.PixScore
		}
		if pa.Uptime != pb.Uptime {
			return pa.Uptime > pb.Uptime
		}
		la, lb := pa.LatencyAvg, pb.LatencyAvg
		switch {
		case la != nil && lb != nil && *la != *lb:
			return *la < *lb
		case la != nil && lb == nil:
			return true
		case la == nil && lb != nil:
			return false
		}
		return pa.Address() < pb.Address()
	})

	for pos, i := range idx {
		rank := pos + 1
		peers[i].Rank = &rank
	}
}

// Apply recomputes one peer's derived fields in place: metrics, score, and
// tier (recording previous_tier on an actual change). Rank is assigned
// separately once all peers are scored.
func Apply(p *domain.Peer, window []domain.ProbeSnapshot, allTotal, allOnline int64, now time.Time) {
	m := Compute(window, allTotal, allOnline)
	p.Uptime = m.Uptime
	p.LatencyAvg = m.LatencyAvg
	p.Reliability = m.Reliability
	p.PixScore = m.PixScore

	tier := TierFor(*p, now)
	if tier != p.Tier {
		p.PreviousTier = p.Tier
		p.Tier = tier
	}
}

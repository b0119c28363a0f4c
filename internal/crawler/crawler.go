package crawler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixwatch/pixwatch/internal/domain"
	"github.com/pixwatch/pixwatch/internal/geoip"
	"github.com/pixwatch/pixwatch/internal/infra/metrics"
	"github.com/pixwatch/pixwatch/internal/protocol"
	"github.com/pixwatch/pixwatch/internal/scoring"
)

// ─── Scan Orchestrator ──────────────────────────────────────────────────────

// Store is the persistence contract the engine consumes: keyed upserts and
// append-only inserts, nothing more. *sqlite.DB satisfies it.
type Store interface {
	Ping() error
	UpsertPeer(p domain.Peer) error
	ListPeers(chain string) ([]domain.Peer, error)
	UpdateMetricsBatch(peers []domain.Peer) error
	InsertProbeSnapshot(s domain.ProbeSnapshot) error
	ProbeWindow(key domain.PeerKey, since time.Time) ([]domain.ProbeSnapshot, error)
	ProbeTotals(key domain.PeerKey) (total, online int64, err error)
	PrunePeersBefore(chain string, cutoff time.Time) (int64, error)
	InsertNetworkSnapshot(ns domain.NetworkSnapshot) error
}

// ChainSpec is the per-chain slice of configuration the engine needs,
// already decoded and compiled.
type ChainSpec struct {
	Name           string
	Magic          [4]byte
	Ladder         []int32 // ordered protocol versions to offer
	CurrentVersion string
	DefaultPort    int
	Seeds          []string
	DNSSeeds       []string
	Parser         *protocol.AgentParser
}

// Config is the engine's immutable per-cycle configuration snapshot.
type Config struct {
	ScanInterval          time.Duration
	Workers               int
	ConnectTimeout        time.Duration
	ExtendedTimeout       time.Duration
	Retry                 RetryPolicy
	PruneAfter            time.Duration
	RequireVersionForSave bool
	UserAgent             string
}

// CycleReport summarizes one chain's sweep within a cycle.
type CycleReport struct {
	CycleID    string        `json:"cycle_id"`
	Chain      string        `json:"chain"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Probed     int           `json:"probed"`
	Skipped    int           `json:"skipped"`
	Up         int           `json:"up"`
	Down       int           `json:"down"`
	Reachable  int           `json:"reachable"`
	Pruned     int           `json:"pruned"`
	Degraded   bool          `json:"degraded"`
}

// Crawler drives full network sweeps on a fixed cadence: discover → probe →
// persist → score → prune → aggregate. Never runs two cycles concurrently.
type Crawler struct {
	cfg    Config
	chains []ChainSpec
	store  Store

	// Seams for tests and optional collaborators.
	Geo    geoip.Provider // nil disables enrichment
	Lookup LookupFunc
	Dialer protocol.Dialer
	Sleep  SleepFunc
	Now    func() time.Time

	cycleMu sync.Mutex // held for the duration of a cycle

	statusMu      sync.Mutex
	lastReports   []CycleReport
	lastCompleted time.Time
}

// New creates a crawler over the given chains and store.
func New(cfg Config, chains []ChainSpec, store Store) *Crawler {
	resolver := &net.Resolver{}
	return &Crawler{
		cfg:    cfg,
		chains: chains,
		store:  store,
		Lookup: resolver.LookupHost,
		Dialer: &net.Dialer{},
		Now:    time.Now,
	}
}

// Run executes cycles on the configured cadence until ctx is cancelled.
// A trigger that arrives while a cycle is still running is skipped, never
// queued twice. Loss of the store halts scheduling (fail closed).
func (c *Crawler) Run(ctx context.Context) error {
	log.Printf("[crawler] starting: %d chain(s), interval %s, %d workers",
		len(c.chains), c.cfg.ScanInterval, c.cfg.Workers)

	// First sweep immediately on start.
	if _, err := c.RunCycle(ctx); errors.Is(err, domain.ErrRegistryUnavailable) {
		return err
	}

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := c.RunCycle(ctx)
			switch {
			case errors.Is(err, domain.ErrRegistryUnavailable):
				return err
			case errors.Is(err, domain.ErrCycleRunning):
				// Already counted by RunCycle.
			case err != nil:
				log.Printf("[crawler] cycle error: %v", err)
			}
		}
	}
}

// RunCycle performs one full sweep over every configured chain. Returns
// ErrCycleRunning when a cycle is already in flight and
// ErrRegistryUnavailable when the store cannot be reached at all.
func (c *Crawler) RunCycle(ctx context.Context) ([]CycleReport, error) {
	if !c.cycleMu.TryLock() {
		metrics.CyclesSkipped.Inc()
		log.Printf("[crawler] scan trigger skipped: cycle already running")
		return nil, domain.ErrCycleRunning
	}
	defer c.cycleMu.Unlock()

	if err := c.store.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}

	reports := make([]CycleReport, 0, len(c.chains))
	for _, chain := range c.chains {
		if ctx.Err() != nil {
			break
		}
		report := c.runChainCycle(ctx, chain)
		reports = append(reports, report)
	}

	c.statusMu.Lock()
	c.lastReports = reports
	c.lastCompleted = c.now()
	c.statusMu.Unlock()
	return reports, nil
}

func (c *Crawler) runChainCycle(ctx context.Context, chain ChainSpec) CycleReport {
	started := c.now()
	report := CycleReport{
		CycleID:   uuid.NewString(),
		Chain:     chain.Name,
		StartedAt: started,
	}
	log.Printf("[crawler] %s: cycle %s starting", chain.Name, report.CycleID)

	known, err := c.store.ListPeers(chain.Name)
	if err != nil {
		log.Printf("[crawler] %s: list peers: %v", chain.Name, err)
	}
	knownByKey := make(map[domain.PeerKey]domain.Peer, len(known))
	for _, p := range known {
		knownByKey[p.PeerKey] = p
	}

	seeds := ResolveSeeds(ctx, chain, c.Lookup)
	candidates := MergeCandidates(seeds, known)
	report.Candidates = len(candidates)

	if len(candidates) == 0 {
		// All seed sources failed and the registry is empty. Degraded, not
		// fatal: the next cycle retries resolution from scratch.
		report.Degraded = true
		report.Duration = c.now().Sub(started)
		log.Printf("[crawler] %s: degraded cycle: no candidates", chain.Name)
		metrics.CyclesTotal.WithLabelValues(chain.Name, "true").Inc()
		return report
	}

	client := &protocol.Client{
		Magic:          chain.Magic,
		UserAgent:      c.cfg.UserAgent,
		Parser:         chain.Parser,
		Dialer:         c.Dialer,
		RequireVersion: c.cfg.RequireVersionForSave,
	}
	prober := &Prober{
		Attempt:         client.Attempt,
		Policy:          c.cfg.Retry,
		Ladder:          chain.Ladder,
		ConnectTimeout:  c.cfg.ConnectTimeout,
		ExtendedTimeout: c.cfg.ExtendedTimeout,
		Sleep:           c.Sleep,
		Now:             c.Now,
	}
	sched := &Scheduler{Workers: c.cfg.Workers}

	outcomes := sched.Schedule(ctx, candidates, func(ctx context.Context, key domain.PeerKey) domain.ProbeOutcome {
		existing, ok := knownByKey[key]
		hadSuccess := ok && !existing.LastSeen.IsZero()
		return prober.Probe(ctx, key, hadSuccess)
	})

	now := c.now()
	for _, o := range outcomes {
		metrics.ProbeAttempts.WithLabelValues(chain.Name).Add(float64(o.Attempts))

		if o.Failure == domain.FailureCancelled {
			// Skipped by shutdown or cancelled before any observation.
			report.Skipped++
			continue
		}
		report.Probed++
		switch o.Status {
		case domain.StatusUp:
			report.Up++
			metrics.HandshakeLatency.WithLabelValues(chain.Name).Observe(o.ResponseTime.Seconds())
		case domain.StatusDown:
			report.Down++
		case domain.StatusReachable:
			report.Reachable++
		}
		metrics.ProbesTotal.WithLabelValues(chain.Name, string(o.Status)).Inc()

		c.persistOutcome(ctx, chain, knownByKey, o)
	}

	c.scorePass(chain, now)

	pruned, err := c.store.PrunePeersBefore(chain.Name, now.Add(-c.cfg.PruneAfter))
	if err != nil {
		log.Printf("[crawler] %s: prune: %v", chain.Name, err)
	} else if pruned > 0 {
		metrics.PeersPruned.WithLabelValues(chain.Name).Add(float64(pruned))
		log.Printf("[crawler] %s: pruned %d stale peer(s)", chain.Name, pruned)
	}
	report.Pruned = int(pruned)

	c.recordNetworkSnapshot(chain.Name, report.CycleID, now)

	report.Duration = c.now().Sub(started)
	metrics.CycleDuration.WithLabelValues(chain.Name).Observe(report.Duration.Seconds())
	metrics.CyclesTotal.WithLabelValues(chain.Name, "false").Inc()
	log.Printf("[crawler] %s: cycle %s done in %s: %d probed (%d up, %d reachable, %d down), %d skipped",
		chain.Name, report.CycleID, report.Duration.Round(time.Millisecond),
		report.Probed, report.Up, report.Reachable, report.Down, report.Skipped)
	return report
}

// persistOutcome applies one terminal outcome to the registry and appends
// its probe snapshot. A write failure drops this attempt's classification
// without corrupting the cycle; the peer is probed again next cycle.
func (c *Crawler) persistOutcome(ctx context.Context, chain ChainSpec, known map[domain.PeerKey]domain.Peer, o domain.ProbeOutcome) {
	var existing *domain.Peer
	if p, ok := known[o.Peer]; ok {
		existing = &p
	}
	updated := ApplyOutcome(existing, o, chain.CurrentVersion)

	if c.Geo != nil && updated.Geo == nil && updated.Status != domain.StatusDown {
		geoCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		info, err := c.Geo.Lookup(geoCtx, updated.IP)
		cancel()
		if err != nil {
			log.Printf("[crawler] %s: geoip %s: %v", chain.Name, updated.IP, err)
		} else {
			updated.Geo = info
		}
	}

	if err := c.store.UpsertPeer(updated); err != nil {
		metrics.RegistryWriteFailures.Inc()
		log.Printf("[crawler] %s: %v", chain.Name, err)
		return
	}

	snap := domain.ProbeSnapshot{
		Peer:       o.Peer,
		Timestamp:  o.ObservedAt,
		IsOnline:   o.Status == domain.StatusUp,
		ResponseMs: o.ResponseMs(),
	}
	if o.Announced != nil {
		h := o.Announced.Height
		snap.Height = &h
	}
	if err := c.store.InsertProbeSnapshot(snap); err != nil {
		metrics.RegistryWriteFailures.Inc()
		log.Printf("[crawler] %s: %v", chain.Name, err)
	}
}

// scorePass recomputes every peer's metrics from snapshot history, assigns
// ranks, and writes the batch. Runs as an explicit post-ingestion step so
// its cost is visible and it is independently testable.
func (c *Crawler) scorePass(chain ChainSpec, now time.Time) {
	peers, err := c.store.ListPeers(chain.Name)
	if err != nil {
		log.Printf("[crawler] %s: score pass: %v", chain.Name, err)
		return
	}

	windowStart := now.Add(-scoring.MetricsWindow)
	for i := range peers {
		window, err := c.store.ProbeWindow(peers[i].PeerKey, windowStart)
		if err != nil {
			log.Printf("[crawler] %s: window %s: %v", chain.Name, peers[i].Address(), err)
			continue
		}
		total, online, err := c.store.ProbeTotals(peers[i].PeerKey)
		if err != nil {
			log.Printf("[crawler] %s: totals %s: %v", chain.Name, peers[i].Address(), err)
			continue
		}
		scoring.Apply(&peers[i], window, total, online, now)
	}

	scoring.AssignRanks(peers)

	if err := c.store.UpdateMetricsBatch(peers); err != nil {
		metrics.RegistryWriteFailures.Inc()
		log.Printf("[crawler] %s: %v", chain.Name, err)
	}
}

// recordNetworkSnapshot aggregates the registry into one history row and
// refreshes the registry gauges.
func (c *Crawler) recordNetworkSnapshot(chain, cycleID string, now time.Time) {
	peers, err := c.store.ListPeers(chain)
	if err != nil {
		log.Printf("[crawler] %s: network snapshot: %v", chain, err)
		return
	}

	ns := BuildNetworkSnapshot(chain, cycleID, peers, now)
	if err := c.store.InsertNetworkSnapshot(ns); err != nil {
		metrics.RegistryWriteFailures.Inc()
		log.Printf("[crawler] %s: %v", chain, err)
	}

	for _, status := range []domain.Status{domain.StatusPending, domain.StatusUp, domain.StatusDown, domain.StatusReachable} {
		metrics.PeersByStatus.WithLabelValues(chain, string(status)).Set(float64(countByStatus(peers, status)))
	}
	for _, tier := range []domain.Tier{domain.TierDiamond, domain.TierGold, domain.TierSilver, domain.TierBronze, domain.TierStandard} {
		metrics.PeersByTier.WithLabelValues(chain, string(tier)).Set(float64(countByTier(peers, tier)))
	}
}

// LastReports returns the reports from the most recent completed cycle.
func (c *Crawler) LastReports() []CycleReport {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	out := make([]CycleReport, len(c.lastReports))
	copy(out, c.lastReports)
	return out
}

// LastCompleted returns when the most recent cycle finished (zero before
// the first).
func (c *Crawler) LastCompleted() time.Time {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.lastCompleted
}

func (c *Crawler) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ─── Outcome application ────────────────────────────────────────────────────

// ApplyOutcome folds one terminal probe outcome into a peer's registry row.
// existing is nil for a never-seen peer. Status bookkeeping moves only on an
// actual transition; times_seen counts only attempts that reached the peer.
func ApplyOutcome(existing *domain.Peer, o domain.ProbeOutcome, currentVersion string) domain.Peer {
	now := o.ObservedAt
	var p domain.Peer
	if existing != nil {
		p = *existing
	} else {
		p = domain.Peer{
			PeerKey:   o.Peer,
			Status:    domain.StatusPending,
			Tier:      domain.TierStandard,
			ConnType:  domain.ConnTypeFor(o.Peer.IP),
			FirstSeen: now,
		}
	}

	if o.Status != p.Status {
		p.PreviousStatus = p.Status
		p.StatusChangedAt = now
		p.Status = o.Status
	}

	if o.Reached {
		p.TimesSeen++
	}

	if o.Status == domain.StatusUp {
		p.LastSeen = now
		if o.Announced != nil {
			p.Announced = o.Announced
			p.IsCurrentVersion = protocol.IsCurrentVersion(o.Announced.ClientVersion, currentVersion)
		}
	}
	return p
}

// BuildNetworkSnapshot aggregates the registry state into one history row.
func BuildNetworkSnapshot(chain, cycleID string, peers []domain.Peer, now time.Time) domain.NetworkSnapshot {
	ns := domain.NetworkSnapshot{
		Chain:      chain,
		CycleID:    cycleID,
		Timestamp:  now,
		TotalPeers: len(peers),
	}

	var uptimeSum, scoreSum, latSum float64
	latN := 0
	versions := make(map[string]int)

	for _, p := range peers {
		switch p.Status {
		case domain.StatusUp:
			ns.UpCount++
		case domain.StatusDown:
			ns.DownCount++
		case domain.StatusReachable:
			ns.ReachableCount++
		default:
			ns.PendingCount++
		}
		switch p.Tier {
		case domain.TierDiamond:
			ns.DiamondCount++
		case domain.TierGold:
			ns.GoldCount++
		case domain.TierSilver:
			ns.SilverCount++
		case domain.TierBronze:
			ns.BronzeCount++
		default:
			ns.StandardCount++
		}

		uptimeSum += p.Uptime
		scoreSum += p.PixScore
		if p.LatencyAvg != nil {
			latSum += *p.LatencyAvg
			latN++
		}
		if p.Status == domain.StatusUp && p.Announced != nil && p.Announced.ClientVersion != "" {
			versions[p.Announced.ClientVersion]++
		}
	}

	if len(peers) > 0 {
		ns.AvgUptime = uptimeSum / float64(len(peers))
		ns.AvgScore = scoreSum / float64(len(peers))
	}
	if latN > 0 {
		avg := latSum / float64(latN)
		ns.AvgLatencyMs = &avg
	}

	// Dominant version: highest count, lexicographic tie-break for
	// determinism.
	type vc struct {
		version string
		count   int
	}
	ordered := make([]vc, 0, len(versions))
	for v, n := range versions {
		ordered = append(ordered, vc{v, n})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].version < ordered[j].version
	})
	if len(ordered) > 0 {
		ns.DominantVersion = ordered[0].version
	}
	return ns
}

func countByStatus(peers []domain.Peer, status domain.Status) int {
	n := 0
	for _, p := range peers {
		if p.Status == status {
			n++
		}
	}
	return n
}

func countByTier(peers []domain.Peer, tier domain.Tier) int {
	n := 0
	for _, p := range peers {
		if p.Tier == tier {
			n++
		}
	}
	return n
}

package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

var baseTime = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePeer(ip string) domain.Peer {
	lat := 42.5
	rank := 3
	return domain.Peer{
		PeerKey: domain.PeerKey{IP: ip, Port: 8333, Chain: "pix"},
		Announced: &domain.AnnouncedState{
			ProtocolVersion: 70017,
			UserAgent:       "/pixd:1.18.0/",
			ClientName:      "pixd",
			ClientVersion:   "1.18.0",
			Services:        1,
			Height:          812345,
		},
		IsCurrentVersion: true,
		Geo: &domain.GeoInfo{
			Country:  "Iceland",
			City:     "Reykjavik",
			Latitude: 64.1,
			ISP:      "example-isp",
		},
		ConnType:        domain.ConnIPv4,
		Status:          domain.StatusUp,
		PreviousStatus:  domain.StatusPending,
		StatusChangedAt: baseTime,
		Uptime:          99.5,
		LatencyAvg:      &lat,
		Reliability:     97.0,
		PixScore:        880,
		Rank:            &rank,
		Tier:            domain.TierGold,
		Verified:        true,
		FirstSeen:       baseTime.Add(-90 * 24 * time.Hour),
		LastSeen:        baseTime,
		TimesSeen:       120,
	}
}

// The driver takes pragmas via _pragma=name(value) query parameters and
// ignores unknown ones, so verify they actually applied.
func TestOpenAppliesPragmas(t *testing.T) {
	db := openTestDB(t)

	var fk int
	if err := db.db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1 (prune cascade depends on it)", fk)
	}

	var mode string
	if err := db.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestUpsertAndGetPeer(t *testing.T) {
	db := openTestDB(t)
	want := samplePeer("192.0.2.1")

	if err := db.UpsertPeer(want); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	got, err := db.GetPeer(want.PeerKey)
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}

	if got.Status != want.Status || got.Tier != want.Tier || got.PixScore != want.PixScore {
		t.Errorf("got status=%q tier=%q score=%v, want %q %q %v",
			got.Status, got.Tier, got.PixScore, want.Status, want.Tier, want.PixScore)
	}
	if got.Announced == nil || *got.Announced != *want.Announced {
		t.Errorf("announced = %+v, want %+v", got.Announced, want.Announced)
	}
	if got.Geo == nil || got.Geo.Country != "Iceland" || got.Geo.Latitude != 64.1 {
		t.Errorf("geo = %+v", got.Geo)
	}
	if got.LatencyAvg == nil || *got.LatencyAvg != *want.LatencyAvg {
		t.Errorf("latency = %v, want %v", got.LatencyAvg, want.LatencyAvg)
	}
	if got.Rank == nil || *got.Rank != 3 {
		t.Errorf("rank = %v, want 3", got.Rank)
	}
	if !got.FirstSeen.Equal(want.FirstSeen) || !got.LastSeen.Equal(want.LastSeen) {
		t.Errorf("seen = %v/%v, want %v/%v", got.FirstSeen, got.LastSeen, want.FirstSeen, want.LastSeen)
	}
	if got.TimesSeen != 120 || !got.Verified || !got.IsCurrentVersion {
		t.Errorf("bookkeeping = seen %d verified %v current %v", got.TimesSeen, got.Verified, got.IsCurrentVersion)
	}
}

func TestUpsertPreservesFirstSeen(t *testing.T) {
	db := openTestDB(t)
	p := samplePeer("192.0.2.1")
	original := p.FirstSeen

	if err := db.UpsertPeer(p); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	p.FirstSeen = baseTime // later write claims a newer first_seen
	p.TimesSeen = 121
	if err := db.UpsertPeer(p); err != nil {
		t.Fatalf("UpsertPeer update: %v", err)
	}

	got, err := db.GetPeer(p.PeerKey)
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if !got.FirstSeen.Equal(original) {
		t.Errorf("first_seen = %v after update, want the original %v", got.FirstSeen, original)
	}
	if got.TimesSeen != 121 {
		t.Errorf("times_seen = %d, want the updated 121", got.TimesSeen)
	}
}

func TestGetPeerNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetPeer(domain.PeerKey{IP: "203.0.113.9", Port: 1, Chain: "pix"})
	if !errors.Is(err, domain.ErrPeerNotFound) {
		t.Errorf("err = %v, want ErrPeerNotFound", err)
	}
}

func TestListPeersOrderedByScore(t *testing.T) {
	db := openTestDB(t)

	for i, score := range []float64{200, 900, 550} {
		p := samplePeer("192.0.2." + string(rune('1'+i)))
		p.PixScore = score
		if err := db.UpsertPeer(p); err != nil {
			t.Fatalf("UpsertPeer: %v", err)
		}
	}
	other := samplePeer("192.0.2.9")
	other.Chain = "other"
	if err := db.UpsertPeer(other); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	peers, err := db.ListPeers("pix")
	if err != nil {
		t.Fatalf("ListPeers: %v", err)
	}
	if len(peers) != 3 {
		t.Fatalf("got %d peers, want 3 (chains must not bleed)", len(peers))
	}
	for i := 1; i < len(peers); i++ {
		if peers[i].PixScore > peers[i-1].PixScore {
			t.Errorf("list not ordered by score: %v before %v", peers[i-1].PixScore, peers[i].PixScore)
		}
	}
}

func TestUpdateMetricsBatch(t *testing.T) {
	db := openTestDB(t)
	a, b := samplePeer("192.0.2.1"), samplePeer("192.0.2.2")
	for _, p := range []domain.Peer{a, b} {
		if err := db.UpsertPeer(p); err != nil {
			t.Fatalf("UpsertPeer: %v", err)
		}
	}

	one := 1
	a.PixScore, a.Rank, a.Tier = 999, &one, domain.TierDiamond
	a.PreviousTier = domain.TierGold
	b.PixScore, b.Rank = 100, nil
	b.Tier = domain.TierStandard

	if err := db.UpdateMetricsBatch([]domain.Peer{a, b}); err != nil {
		t.Fatalf("UpdateMetricsBatch: %v", err)
	}

	gotA, _ := db.GetPeer(a.PeerKey)
	if gotA.PixScore != 999 || gotA.Tier != domain.TierDiamond || gotA.PreviousTier != domain.TierGold {
		t.Errorf("a = score %v tier %q prev %q", gotA.PixScore, gotA.Tier, gotA.PreviousTier)
	}
	gotB, _ := db.GetPeer(b.PeerKey)
	if gotB.Rank != nil {
		t.Errorf("b.rank = %v, want nil", *gotB.Rank)
	}
}

func TestProbeWindowAndTotals(t *testing.T) {
	db := openTestDB(t)
	p := samplePeer("192.0.2.1")
	if err := db.UpsertPeer(p); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	ms := 40.0
	height := int64(812345)
	inserts := []domain.ProbeSnapshot{
		{Peer: p.PeerKey, Timestamp: baseTime.Add(-10 * 24 * time.Hour), IsOnline: true, ResponseMs: &ms},
		{Peer: p.PeerKey, Timestamp: baseTime.Add(-2 * time.Hour), IsOnline: true, ResponseMs: &ms, Height: &height},
		{Peer: p.PeerKey, Timestamp: baseTime.Add(-time.Hour), IsOnline: false},
	}
	for _, s := range inserts {
		if err := db.InsertProbeSnapshot(s); err != nil {
			t.Fatalf("InsertProbeSnapshot: %v", err)
		}
	}

	window, err := db.ProbeWindow(p.PeerKey, baseTime.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("ProbeWindow: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("window holds %d snapshots, want 2 (the old one excluded)", len(window))
	}
	if !window[0].Timestamp.Before(window[1].Timestamp) {
		t.Error("window not ordered oldest first")
	}
	if window[0].ResponseMs == nil || *window[0].ResponseMs != 40 {
		t.Errorf("response_ms = %v, want 40", window[0].ResponseMs)
	}
	if window[0].Height == nil || *window[0].Height != height {
		t.Errorf("height = %v, want %d", window[0].Height, height)
	}
	if window[1].ResponseMs != nil {
		t.Errorf("offline snapshot carries response_ms %v, want nil", *window[1].ResponseMs)
	}

	total, online, err := db.ProbeTotals(p.PeerKey)
	if err != nil {
		t.Fatalf("ProbeTotals: %v", err)
	}
	if total != 3 || online != 2 {
		t.Errorf("totals = %d/%d, want 3 total 2 online", total, online)
	}
}

func TestPruneCascadesHistory(t *testing.T) {
	db := openTestDB(t)

	stale := samplePeer("192.0.2.1")
	stale.LastSeen = baseTime.Add(-169 * time.Hour)
	fresh := samplePeer("192.0.2.2")
	fresh.LastSeen = baseTime.Add(-167 * time.Hour)
	never := samplePeer("192.0.2.3") // no successful probe, ages by first_seen
	never.LastSeen = time.Time{}
	never.FirstSeen = baseTime.Add(-200 * time.Hour)

	for _, p := range []domain.Peer{stale, fresh, never} {
		if err := db.UpsertPeer(p); err != nil {
			t.Fatalf("UpsertPeer: %v", err)
		}
		if err := db.InsertProbeSnapshot(domain.ProbeSnapshot{
			Peer: p.PeerKey, Timestamp: baseTime, IsOnline: true,
		}); err != nil {
			t.Fatalf("InsertProbeSnapshot: %v", err)
		}
	}

	pruned, err := db.PrunePeersBefore("pix", baseTime.Add(-168*time.Hour))
	if err != nil {
		t.Fatalf("PrunePeersBefore: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned %d peers, want 2", pruned)
	}

	if _, err := db.GetPeer(stale.PeerKey); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Error("stale peer survived pruning")
	}
	if _, err := db.GetPeer(fresh.PeerKey); err != nil {
		t.Errorf("fresh peer pruned: %v", err)
	}

	total, _, err := db.ProbeTotals(stale.PeerKey)
	if err != nil {
		t.Fatalf("ProbeTotals: %v", err)
	}
	if total != 0 {
		t.Errorf("pruned peer still has %d snapshots, want 0 (cascade)", total)
	}
}

func TestNetworkSnapshotRoundtrip(t *testing.T) {
	db := openTestDB(t)

	if ns, err := db.LatestNetworkSnapshot("pix"); err != nil || ns != nil {
		t.Fatalf("empty table: ns=%v err=%v, want nil/nil", ns, err)
	}

	lat := 45.5
	first := domain.NetworkSnapshot{
		Chain: "pix", CycleID: "cycle-1", Timestamp: baseTime.Add(-time.Hour),
		TotalPeers: 10, UpCount: 6, DownCount: 3, ReachableCount: 1,
		GoldCount: 2, StandardCount: 8,
		AvgUptime: 80.5, AvgLatencyMs: &lat, AvgScore: 600, DominantVersion: "1.18.0",
	}
	second := first
	second.CycleID = "cycle-2"
	second.Timestamp = baseTime
	second.UpCount = 7

	for _, ns := range []domain.NetworkSnapshot{first, second} {
		if err := db.InsertNetworkSnapshot(ns); err != nil {
			t.Fatalf("InsertNetworkSnapshot: %v", err)
		}
	}

	got, err := db.LatestNetworkSnapshot("pix")
	if err != nil {
		t.Fatalf("LatestNetworkSnapshot: %v", err)
	}
	if got == nil || got.CycleID != "cycle-2" || got.UpCount != 7 {
		t.Errorf("latest = %+v, want cycle-2", got)
	}
	if got.AvgLatencyMs == nil || *got.AvgLatencyMs != lat {
		t.Errorf("avg latency = %v, want %v", got.AvgLatencyMs, lat)
	}
	if got.DominantVersion != "1.18.0" {
		t.Errorf("dominant version = %q, want 1.18.0", got.DominantVersion)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pixwatch/pixwatch/internal/crawler"
	"github.com/pixwatch/pixwatch/internal/domain"
	"github.com/pixwatch/pixwatch/internal/health"
)

// fakeRegistry backs the API without a database.
type fakeRegistry struct {
	peers    []domain.Peer
	snapshot *domain.NetworkSnapshot
	err      error
}

func (f *fakeRegistry) Ping() error { return nil }

func (f *fakeRegistry) ListPeers(chain string) ([]domain.Peer, error) {
	return f.peers, f.err
}

func (f *fakeRegistry) LatestNetworkSnapshot(chain string) (*domain.NetworkSnapshot, error) {
	return f.snapshot, f.err
}

// The crawler.Store surface, unused by these tests.
func (f *fakeRegistry) UpsertPeer(domain.Peer) error                   { return nil }
func (f *fakeRegistry) UpdateMetricsBatch([]domain.Peer) error         { return nil }
func (f *fakeRegistry) InsertProbeSnapshot(domain.ProbeSnapshot) error { return nil }
func (f *fakeRegistry) ProbeWindow(domain.PeerKey, time.Time) ([]domain.ProbeSnapshot, error) {
	return nil, nil
}
func (f *fakeRegistry) ProbeTotals(domain.PeerKey) (int64, int64, error) { return 0, 0, nil }
func (f *fakeRegistry) PrunePeersBefore(string, time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeRegistry) InsertNetworkSnapshot(domain.NetworkSnapshot) error { return nil }

func testServer(t *testing.T, reg *fakeRegistry) *Server {
	t.Helper()
	eng := crawler.New(crawler.Config{ScanInterval: time.Minute, Workers: 1}, nil, reg)
	checker := health.NewChecker(reg, t.TempDir(), eng.LastCompleted, 0)
	return NewServer(reg, eng, checker, []string{"pix"})
}

func doGet(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPeersEndpoint(t *testing.T) {
	lat := 42.0
	rank := 1
	reg := &fakeRegistry{peers: []domain.Peer{{
		PeerKey:    domain.PeerKey{IP: "192.0.2.1", Port: 8333, Chain: "pix"},
		Status:     domain.StatusUp,
		Tier:       domain.TierGold,
		PixScore:   900,
		Uptime:     99.5,
		LatencyAvg: &lat,
		Rank:       &rank,
		Announced: &domain.AnnouncedState{
			UserAgent:     "/pixd:1.18.0/",
			ClientName:    "pixd",
			ClientVersion: "1.18.0",
			Height:        812345,
		},
		ConnType:  domain.ConnIPv4,
		FirstSeen: time.Now().Add(-time.Hour),
		LastSeen:  time.Now(),
		TimesSeen: 12,
	}}}

	rec := doGet(t, testServer(t, reg).Handler(), "/api/peers?chain=pix")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var body struct {
		Chain string         `json:"chain"`
		Count int            `json:"count"`
		Peers []peerResponse `json:"peers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Chain != "pix" || body.Count != 1 {
		t.Errorf("chain=%q count=%d", body.Chain, body.Count)
	}
	p := body.Peers[0]
	if p.Address != "192.0.2.1:8333" || p.Status != "up" || p.Tier != "gold" {
		t.Errorf("peer = %+v", p)
	}
	if p.Rank == nil || *p.Rank != 1 {
		t.Errorf("rank = %v, want 1", p.Rank)
	}
	if p.ClientName != "pixd" || p.ClientVersion != "1.18.0" {
		t.Errorf("agent = %q %q", p.ClientName, p.ClientVersion)
	}
	if p.Height == nil || *p.Height != 812345 {
		t.Errorf("height = %v", p.Height)
	}
}

func TestPeersEndpointDefaultsSingleChain(t *testing.T) {
	rec := doGet(t, testServer(t, &fakeRegistry{}).Handler(), "/api/peers")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (single configured chain implied)", rec.Code)
	}
}

func TestPeersEndpointStoreError(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("boom")}
	rec := doGet(t, testServer(t, reg).Handler(), "/api/peers?chain=pix")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestNetworkEndpoint(t *testing.T) {
	reg := &fakeRegistry{snapshot: &domain.NetworkSnapshot{
		Chain: "pix", CycleID: "c1", TotalPeers: 4, UpCount: 2,
	}}
	rec := doGet(t, testServer(t, reg).Handler(), "/api/network?chain=pix")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var ns domain.NetworkSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &ns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ns.TotalPeers != 4 || ns.UpCount != 2 {
		t.Errorf("snapshot = %+v", ns)
	}
}

func TestNetworkEndpointEmpty(t *testing.T) {
	rec := doGet(t, testServer(t, &fakeRegistry{}).Handler(), "/api/network?chain=pix")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before the first cycle", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := doGet(t, testServer(t, &fakeRegistry{}).Handler(), "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Chains        []string   `json:"chains"`
		LastCompleted *time.Time `json:"last_completed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Chains) != 1 || body.Chains[0] != "pix" {
		t.Errorf("chains = %v", body.Chains)
	}
	if body.LastCompleted != nil {
		t.Errorf("last_completed = %v before any cycle, want null", body.LastCompleted)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, &fakeRegistry{})
	handler := srv.Handler()

	// Before the checker runs there are no statuses, so everything passes
	// vacuously.
	rec := doGet(t, handler, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	srv := testServer(t, &fakeRegistry{})
	rec := doGet(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with metrics disabled", rec.Code)
	}

	srv.EnableMetrics()
	rec = doGet(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with metrics enabled", rec.Code)
	}
}

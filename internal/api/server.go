// Package api provides the read-only HTTP status surface of the crawler
// daemon: health, cycle status, the peer registry, and Prometheus metrics.
// The public dashboard reads the store directly; this surface exists for
// operators of the engine process.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixwatch/pixwatch/internal/crawler"
	"github.com/pixwatch/pixwatch/internal/domain"
	"github.com/pixwatch/pixwatch/internal/health"
)

// Registry is the read-only slice of the store the API needs.
type Registry interface {
	ListPeers(chain string) ([]domain.Peer, error)
	LatestNetworkSnapshot(chain string) (*domain.NetworkSnapshot, error)
}

// Server is the pixwatch HTTP status server.
type Server struct {
	registry       Registry
	engine         *crawler.Crawler
	checker        *health.Checker
	chains         []string
	metricsEnabled bool
}

// NewServer creates a status server over the given collaborators.
func NewServer(registry Registry, engine *crawler.Crawler, checker *health.Checker, chains []string) *Server {
	return &Server{
		registry: registry,
		engine:   engine,
		checker:  checker,
		chains:   chains,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/peers", s.handlePeers)
		r.Get("/network", s.handleNetwork)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.checker.Statuses()
	code := http.StatusOK
	if !s.checker.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy": s.checker.IsHealthy(),
		"checks":  statuses,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last := s.engine.LastCompleted()
	var completed *time.Time
	if !last.IsZero() {
		completed = &last
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chains":         s.chains,
		"last_completed": completed,
		"last_cycles":    s.engine.LastReports(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	chain := r.URL.Query().Get("chain")
	if chain == "" && len(s.chains) == 1 {
		chain = s.chains[0]
	}
	if chain == "" {
		writeError(w, http.StatusBadRequest, "chain query parameter required")
		return
	}

	peers, err := s.registry.ListPeers(chain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]peerResponse, 0, len(peers))
	for _, p := range peers {
		out = append(out, toPeerResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain": chain,
		"count": len(out),
		"peers": out,
	})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	chain := r.URL.Query().Get("chain")
	if chain == "" && len(s.chains) == 1 {
		chain = s.chains[0]
	}
	if chain == "" {
		writeError(w, http.StatusBadRequest, "chain query parameter required")
		return
	}

	ns, err := s.registry.LatestNetworkSnapshot(chain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ns == nil {
		writeError(w, http.StatusNotFound, "no network snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// ─── Response shapes ────────────────────────────────────────────────────────

type peerResponse struct {
	Address          string     `json:"address"`
	Chain            string     `json:"chain"`
	Status           string     `json:"status"`
	Tier             string     `json:"tier"`
	Rank             *int       `json:"rank"`
	PixScore         float64    `json:"pix_score"`
	Uptime           float64    `json:"uptime"`
	LatencyAvg       *float64   `json:"latency_avg"`
	Reliability      float64    `json:"reliability"`
	UserAgent        string     `json:"user_agent,omitempty"`
	ClientName       string     `json:"client_name,omitempty"`
	ClientVersion    string     `json:"client_version,omitempty"`
	Height           *int64     `json:"height,omitempty"`
	IsCurrentVersion bool       `json:"is_current_version"`
	ConnType         string     `json:"conn_type"`
	Country          string     `json:"country,omitempty"`
	City             string     `json:"city,omitempty"`
	Verified         bool       `json:"verified"`
	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         *time.Time `json:"last_seen"`
	TimesSeen        int64      `json:"times_seen"`
}

func toPeerResponse(p domain.Peer) peerResponse {
	resp := peerResponse{
		Address:          p.Address(),
		Chain:            p.Chain,
		Status:           string(p.Status),
		Tier:             string(p.Tier),
		Rank:             p.Rank,
		PixScore:         p.PixScore,
		Uptime:           p.Uptime,
		LatencyAvg:       p.LatencyAvg,
		Reliability:      p.Reliability,
		IsCurrentVersion: p.IsCurrentVersion,
		ConnType:         string(p.ConnType),
		Verified:         p.Verified,
		FirstSeen:        p.FirstSeen,
		TimesSeen:        p.TimesSeen,
	}
	if a := p.Announced; a != nil {
		resp.UserAgent = a.UserAgent
		resp.ClientName = a.ClientName
		resp.ClientVersion = a.ClientVersion
		h := a.Height
		resp.Height = &h
	}
	if g := p.Geo; g != nil {
		resp.Country = g.Country
		resp.City = g.City
	}
	if !p.LastSeen.IsZero() {
		ls := p.LastSeen
		resp.LastSeen = &ls
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

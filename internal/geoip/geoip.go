// Package geoip enriches peers with geographic and network metadata.
// Enrichment is best-effort: a failed lookup leaves the fields empty and
// never blocks classification.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// Provider resolves an IP to geographic metadata.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error)
}

// ─── HTTP provider ──────────────────────────────────────────────────────────

// HTTPProvider queries an ip-api-style JSON endpoint.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvider creates a provider against endpoint, e.g.
// "http://ip-api.com/json".
func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// apiResponse mirrors the ip-api JSON field set.
type apiResponse struct {
	Status     string  `json:"status"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Timezone   string  `json:"timezone"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
	Message    string  `json:"message"`
}

// Lookup fetches enrichment for one IP.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/"+ip, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip: unexpected status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geoip: decode: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geoip: lookup failed: %s", body.Message)
	}

	return &domain.GeoInfo{
		Country:   body.Country,
		Region:    body.RegionName,
		City:      body.City,
		Latitude:  body.Lat,
		Longitude: body.Lon,
		Timezone:  body.Timezone,
		ISP:       body.ISP,
		Org:       body.Org,
		ASN:       body.AS,
	}, nil
}

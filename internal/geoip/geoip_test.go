package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProviderLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/192.0.2.1" {
			t.Errorf("path = %q, want /192.0.2.1", r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","country":"Iceland","regionName":"Capital",
			"city":"Reykjavik","lat":64.1,"lon":-21.9,"timezone":"Atlantic/Reykjavik",
			"isp":"example-isp","org":"example-org","as":"AS64500"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	info, err := p.Lookup(context.Background(), "192.0.2.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Country != "Iceland" || info.City != "Reykjavik" || info.ASN != "AS64500" {
		t.Errorf("info = %+v", info)
	}
	if info.Latitude != 64.1 || info.Longitude != -21.9 {
		t.Errorf("coords = %v,%v", info.Latitude, info.Longitude)
	}
}

func TestHTTPProviderLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"private range"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	if _, err := p.Lookup(context.Background(), "10.0.0.1"); err == nil {
		t.Error("lookup of a private address succeeded, want error")
	}
}

func TestHTTPProviderBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	if _, err := p.Lookup(context.Background(), "192.0.2.1"); err == nil {
		t.Error("lookup with HTTP 429 succeeded, want error")
	}
}

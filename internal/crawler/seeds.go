package crawler

import (
	"context"
	"log"
	"net"
	"strconv"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// ─── Seed Resolver ──────────────────────────────────────────────────────────

// LookupFunc resolves a hostname to address records. *net.Resolver's
// LookupHost satisfies it; tests inject fixed maps.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// ResolveSeeds turns a chain's literal seeds and DNS seeds into a
// deduplicated candidate set. A failing DNS seed is logged and skipped -
// never fatal; the remaining seeds still resolve.
func ResolveSeeds(ctx context.Context, chain ChainSpec, lookup LookupFunc) []domain.PeerKey {
	seen := make(map[domain.PeerKey]bool)
	var candidates []domain.PeerKey

	add := func(ip string, port int) {
		key := domain.PeerKey{IP: ip, Port: port, Chain: chain.Name}
		if !seen[key] {
			seen[key] = true
			candidates = append(candidates, key)
		}
	}

	for _, seed := range chain.Seeds {
		host, portStr, err := net.SplitHostPort(seed)
		if err != nil {
			// Bare IP without port falls back to the chain default.
			add(seed, chain.DefaultPort)
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("[seeds] %s: invalid literal seed %q, skipping", chain.Name, seed)
			continue
		}
		add(host, port)
	}

	for _, host := range chain.DNSSeeds {
		addrs, err := lookup(ctx, host)
		if err != nil {
			log.Printf("[seeds] %s: dns seed %s: %v (%v)", chain.Name, host, err, domain.ErrResolutionFailure)
			continue
		}
		for _, addr := range addrs {
			add(addr, chain.DefaultPort)
		}
	}

	return candidates
}

// MergeCandidates unions the seed-derived set with every peer already in
// the registry, so previously discovered peers are always re-probed.
func MergeCandidates(seeds []domain.PeerKey, known []domain.Peer) []domain.PeerKey {
	seen := make(map[domain.PeerKey]bool, len(seeds))
	merged := make([]domain.PeerKey, 0, len(seeds)+len(known))
	for _, k := range seeds {
		if !seen[k] {
			seen[k] = true
			merged = append(merged, k)
		}
	}
	for _, p := range known {
		if !seen[p.PeerKey] {
			seen[p.PeerKey] = true
			merged = append(merged, p.PeerKey)
		}
	}
	return merged
}

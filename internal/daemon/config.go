// Package daemon manages the pixwatch daemon lifecycle and configuration.
package daemon

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// Config holds all daemon configuration. Loaded once, snapshotted per cycle:
// a reload takes effect on the next cycle, never mid-cycle.
type Config struct {
	Crawler CrawlerConfig `toml:"crawler"`
	Chains  []ChainConfig `toml:"chain"`
	API     APIConfig     `toml:"api"`
	GeoIP   GeoIPConfig   `toml:"geoip"`
	Logging LoggingConfig `toml:"logging"`
}

// CrawlerConfig controls scan cadence, concurrency, timeouts and retries.
type CrawlerConfig struct {
	ScanIntervalMinutes      int     `toml:"scan_interval_minutes"`
	MaxConcurrentConnections int     `toml:"max_concurrent_connections"`
	ConnectionTimeoutSeconds float64 `toml:"connection_timeout_seconds"`
	ExtendedTimeoutSeconds   float64 `toml:"extended_timeout_seconds"`
	MaxRetries               int     `toml:"max_retries"`
	InitialRetryDelaySeconds float64 `toml:"initial_retry_delay_seconds"`
	RetryBackoffMultiplier   float64 `toml:"retry_backoff_multiplier"`
	PruneAfterHours          int     `toml:"prune_after_hours"`
	RequireVersionForSave    bool    `toml:"require_version_for_save"`
}

// ScanInterval returns the cycle cadence as a duration.
func (c CrawlerConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMinutes) * time.Minute
}

// ConnectionTimeout is the per-attempt deadline for peers that have never
// completed a handshake.
func (c CrawlerConfig) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds * float64(time.Second))
}

// ExtendedTimeout is the per-attempt deadline once a peer has a successful
// handshake on record.
func (c CrawlerConfig) ExtendedTimeout() time.Duration {
	return time.Duration(c.ExtendedTimeoutSeconds * float64(time.Second))
}

// InitialRetryDelay is the base of the exponential backoff series.
func (c CrawlerConfig) InitialRetryDelay() time.Duration {
	return time.Duration(c.InitialRetryDelaySeconds * float64(time.Second))
}

// PruneAfter is the inactivity threshold before peer eviction.
func (c CrawlerConfig) PruneAfter() time.Duration {
	return time.Duration(c.PruneAfterHours) * time.Hour
}

// ChainConfig describes one monitored chain: wire parameters, seeds, and
// user agent recognition patterns.
type ChainConfig struct {
	Name                     string   `toml:"name"`
	MagicBytes               string   `toml:"magic_bytes"` // 4 bytes, hex
	ProtocolVersion          int32    `toml:"protocol_version"`
	FallbackProtocolVersions []int32  `toml:"fallback_protocol_versions"`
	CurrentVersion           string   `toml:"current_version"` // e.g. "1.18.0"
	DefaultPort              int      `toml:"default_port"`
	Seeds                    []string `toml:"seeds"`     // literal ip:port
	DNSSeeds                 []string `toml:"dns_seeds"` // hostnames
	UserAgentPatterns        []string `toml:"user_agent_patterns"`
}

// Magic decodes the chain's network magic.
func (c ChainConfig) Magic() ([4]byte, error) {
	var magic [4]byte
	raw, err := hex.DecodeString(c.MagicBytes)
	if err != nil {
		return magic, fmt.Errorf("chain %s: decode magic_bytes: %w", c.Name, err)
	}
	if len(raw) != 4 {
		return magic, fmt.Errorf("chain %s: magic_bytes must be 4 bytes, got %d", c.Name, len(raw))
	}
	copy(magic[:], raw)
	return magic, nil
}

// VersionLadder returns the ordered protocol versions to offer: the primary
// version first, then each fallback not already present.
func (c ChainConfig) VersionLadder() []int32 {
	ladder := []int32{c.ProtocolVersion}
	seen := map[int32]bool{c.ProtocolVersion: true}
	for _, v := range c.FallbackProtocolVersions {
		if !seen[v] {
			ladder = append(ladder, v)
			seen[v] = true
		}
	}
	return ladder
}

// APIConfig controls the read-only HTTP status server.
type APIConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Prometheus bool   `toml:"prometheus"`
}

// GeoIPConfig controls the enrichment provider.
type GeoIPConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns sensible defaults for a single-chain deployment.
func DefaultConfig() Config {
	return Config{
		Crawler: CrawlerConfig{
			ScanIntervalMinutes:      15,
			MaxConcurrentConnections: 50,
			ConnectionTimeoutSeconds: 5,
			ExtendedTimeoutSeconds:   15,
			MaxRetries:               3,
			InitialRetryDelaySeconds: 2,
			RetryBackoffMultiplier:   3,
			PruneAfterHours:          168, // one week
			RequireVersionForSave:    true,
		},
		Chains: []ChainConfig{
			{
				Name:                     "pix",
				MagicBytes:               "f9c4b9d4",
				ProtocolVersion:          70017,
				FallbackProtocolVersions: []int32{70016, 70015},
				CurrentVersion:           "1.18.0",
				DefaultPort:              8333,
				DNSSeeds:                 []string{"dnsseed.pixnet.example.org"},
				UserAgentPatterns:        []string{`^/([A-Za-z][\w.-]*):(\d+)\.(\d+)\.(\d+)`},
			},
		},
		API: APIConfig{
			Host:       "127.0.0.1",
			Port:       9732,
			Prometheus: true,
		},
		GeoIP: GeoIPConfig{
			Enabled:        false,
			Endpoint:       "http://ip-api.com/json",
			TimeoutSeconds: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(pixwatchHome(), "pixwatch.log"),
		},
	}
}

// LoadConfig reads config from ~/.pixwatch/config.toml, falling back to
// defaults when no file exists. The result is always validated: an invalid
// config fails closed before any network activity starts.
func LoadConfig() (Config, error) {
	return loadConfigFile(filepath.Join(pixwatchHome(), "config.toml"))
}

func loadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.pixwatch/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(pixwatchHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate checks every knob the crawler depends on. Any violation is fatal
// at load time: the engine never starts a cycle on a bad config.
func (c Config) Validate() error {
	cr := c.Crawler
	switch {
	case cr.ScanIntervalMinutes <= 0:
		return fmt.Errorf("%w: scan_interval_minutes must be positive", domain.ErrInvalidConfig)
	case cr.MaxConcurrentConnections <= 0:
		return fmt.Errorf("%w: max_concurrent_connections must be positive", domain.ErrInvalidConfig)
	case cr.ConnectionTimeoutSeconds <= 0:
		return fmt.Errorf("%w: connection_timeout_seconds must be positive", domain.ErrInvalidConfig)
	case cr.ExtendedTimeoutSeconds < cr.ConnectionTimeoutSeconds:
		return fmt.Errorf("%w: extended_timeout_seconds must be >= connection_timeout_seconds", domain.ErrInvalidConfig)
	case cr.MaxRetries < 1:
		return fmt.Errorf("%w: max_retries must be at least 1", domain.ErrInvalidConfig)
	case cr.InitialRetryDelaySeconds <= 0:
		return fmt.Errorf("%w: initial_retry_delay_seconds must be positive", domain.ErrInvalidConfig)
	case cr.RetryBackoffMultiplier < 1:
		return fmt.Errorf("%w: retry_backoff_multiplier must be >= 1", domain.ErrInvalidConfig)
	case cr.PruneAfterHours <= 0:
		return fmt.Errorf("%w: prune_after_hours must be positive", domain.ErrInvalidConfig)
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("%w: at least one [[chain]] is required", domain.ErrInvalidConfig)
	}
	names := make(map[string]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.Name == "" {
			return fmt.Errorf("%w: chain name is required", domain.ErrInvalidConfig)
		}
		if names[chain.Name] {
			return fmt.Errorf("%w: duplicate chain %q", domain.ErrInvalidConfig, chain.Name)
		}
		names[chain.Name] = true
		if _, err := chain.Magic(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
		if chain.ProtocolVersion <= 0 {
			return fmt.Errorf("%w: chain %s: protocol_version must be positive", domain.ErrInvalidConfig, chain.Name)
		}
		if chain.DefaultPort < 1 || chain.DefaultPort > 65535 {
			return fmt.Errorf("%w: chain %s: default_port out of range", domain.ErrInvalidConfig, chain.Name)
		}
		if len(chain.Seeds) == 0 && len(chain.DNSSeeds) == 0 {
			return fmt.Errorf("%w: chain %s: no seeds or dns_seeds configured", domain.ErrInvalidConfig, chain.Name)
		}
		for _, pat := range chain.UserAgentPatterns {
			if _, err := regexp.Compile(pat); err != nil {
				return fmt.Errorf("%w: chain %s: user_agent_pattern %q: %v", domain.ErrInvalidConfig, chain.Name, pat, err)
			}
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api port out of range", domain.ErrInvalidConfig)
	}
	return nil
}

// Chain looks up a chain config by name.
func (c Config) Chain(name string) (ChainConfig, error) {
	for _, chain := range c.Chains {
		if chain.Name == name {
			return chain, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: %s", domain.ErrUnknownChain, name)
}

// pixwatchHome returns the pixwatch data directory.
func pixwatchHome() string {
	if env := os.Getenv("PIXWATCH_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pixwatch")
}

// Home is exported for use by other packages.
func Home() string {
	return pixwatchHome()
}

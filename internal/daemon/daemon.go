package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixwatch/pixwatch/internal/api"
	"github.com/pixwatch/pixwatch/internal/crawler"
	"github.com/pixwatch/pixwatch/internal/geoip"
	"github.com/pixwatch/pixwatch/internal/health"
	_ "github.com/pixwatch/pixwatch/internal/infra/metrics" // Register Prometheus metrics
	"github.com/pixwatch/pixwatch/internal/infra/sqlite"
	"github.com/pixwatch/pixwatch/internal/protocol"
)

// Version is the build version, set by the CLI entry point.
var Version = "dev"

// Daemon is the pixwatch runtime. It wires together the registry store, the
// crawl engine, health checks, and the status API.
type Daemon struct {
	Config  Config
	DB      *sqlite.DB
	Crawler *crawler.Crawler
	Health  *health.Checker
	Server  *api.Server
	cancel  context.CancelFunc
}

// New loads the config and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600); err == nil {
			log.SetOutput(io.MultiWriter(os.Stderr, f))
		} else {
			log.Printf("[daemon] log file %s: %v (logging to stderr only)", cfg.Logging.File, err)
		}
	}

	db, err := sqlite.Open(pixwatchHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	chains, err := BuildChainSpecs(cfg.Chains)
	if err != nil {
		db.Close()
		return nil, err
	}

	eng := crawler.New(crawler.Config{
		ScanInterval:    cfg.Crawler.ScanInterval(),
		Workers:         cfg.Crawler.MaxConcurrentConnections,
		ConnectTimeout:  cfg.Crawler.ConnectionTimeout(),
		ExtendedTimeout: cfg.Crawler.ExtendedTimeout(),
		Retry: crawler.RetryPolicy{
			MaxRetries:   cfg.Crawler.MaxRetries,
			InitialDelay: cfg.Crawler.InitialRetryDelay(),
			Multiplier:   cfg.Crawler.RetryBackoffMultiplier,
		},
		PruneAfter:            cfg.Crawler.PruneAfter(),
		RequireVersionForSave: cfg.Crawler.RequireVersionForSave,
		UserAgent:             fmt.Sprintf("/pixwatch:%s/", Version),
	}, chains, db)

	if cfg.GeoIP.Enabled {
		eng.Geo = geoip.NewHTTPProvider(cfg.GeoIP.Endpoint,
			time.Duration(cfg.GeoIP.TimeoutSeconds)*time.Second)
	}

	// A cycle is stale once three intervals have passed without completing.
	checker := health.NewChecker(db, pixwatchHome(), eng.LastCompleted, 3*cfg.Crawler.ScanInterval())

	chainNames := make([]string, len(cfg.Chains))
	for i, c := range cfg.Chains {
		chainNames[i] = c.Name
	}
	srv := api.NewServer(db, eng, checker, chainNames)
	if cfg.API.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		DB:      db,
		Crawler: eng,
		Health:  checker,
		Server:  srv,
	}, nil
}

// BuildChainSpecs decodes and compiles the per-chain configuration into the
// form the engine consumes.
func BuildChainSpecs(chains []ChainConfig) ([]crawler.ChainSpec, error) {
	specs := make([]crawler.ChainSpec, 0, len(chains))
	for _, c := range chains {
		magic, err := c.Magic()
		if err != nil {
			return nil, err
		}
		parser, err := protocol.NewAgentParser(c.UserAgentPatterns)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", c.Name, err)
		}
		specs = append(specs, crawler.ChainSpec{
			Name:           c.Name,
			Magic:          magic,
			Ladder:         c.VersionLadder(),
			CurrentVersion: c.CurrentVersion,
			DefaultPort:    c.DefaultPort,
			Seeds:          c.Seeds,
			DNSSeeds:       c.DNSSeeds,
			Parser:         parser,
		})
	}
	return specs, nil
}

// Serve starts the crawl loop and the HTTP server, blocking until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	crawlErr := make(chan error, 1)
	go func() {
		crawlErr <- d.Crawler.Run(ctx)
	}()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		case err := <-crawlErr:
			// Loss of the registry store halts the whole daemon.
			if err != nil {
				fmt.Fprintf(os.Stderr, "pixwatch: crawl loop: %v\n", err)
			}
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("pixwatch serving on http://%s\n", addr)
	if d.Config.API.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// Package sqlite provides SQLite-based persistent storage for pixwatch:
// the peer registry plus the append-only probe and network history tables.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/pixwatch.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "pixwatch.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Peer registry, keyed by (ip, port, chain). Row upserts are atomic
		// per key; the engine relies on that instead of its own locking.
		`CREATE TABLE IF NOT EXISTS peers (
			ip                 TEXT NOT NULL,
			port               INTEGER NOT NULL,
			chain              TEXT NOT NULL,

			protocol_version   INTEGER,
			user_agent         TEXT,
			client_name        TEXT,
			client_version     TEXT,
			services           INTEGER,
			height             INTEGER,
			is_current_version BOOLEAN NOT NULL DEFAULT 0,

			country   TEXT,
			region    TEXT,
			city      TEXT,
			latitude  REAL,
			longitude REAL,
			timezone  TEXT,
			isp       TEXT,
			org       TEXT,
			asn       TEXT,
			conn_type TEXT NOT NULL DEFAULT 'ipv4',

			status            TEXT NOT NULL DEFAULT 'pending',
			previous_status   TEXT,
			status_changed_at INTEGER,

			uptime        REAL NOT NULL DEFAULT 0,
			latency_avg   REAL,
			reliability   REAL NOT NULL DEFAULT 0,
			pix_score     REAL NOT NULL DEFAULT 0,
			rank          INTEGER,
			tier          TEXT NOT NULL DEFAULT 'standard',
			previous_tier TEXT,

			verified   BOOLEAN NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_seen  INTEGER,
			times_seen INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (ip, port, chain)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_peers_status ON peers(chain, status)`,
		`CREATE INDEX IF NOT EXISTS idx_peers_seen ON peers(chain, last_seen)`,

		// Append-only probe history. Pruning a peer cascades here.
		`CREATE TABLE IF NOT EXISTS probe_snapshots (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ip          TEXT NOT NULL,
			port        INTEGER NOT NULL,
			chain       TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			is_online   BOOLEAN NOT NULL,
			response_ms REAL,
			height      INTEGER,
			FOREIGN KEY (ip, port, chain)
				REFERENCES peers(ip, port, chain) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_probe_peer_ts
			ON probe_snapshots(ip, port, chain, timestamp)`,

		// Append-only network history, one row per scan cycle.
		`CREATE TABLE IF NOT EXISTS network_snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			chain           TEXT NOT NULL,
			cycle_id        TEXT NOT NULL,
			timestamp       INTEGER NOT NULL,
			total_peers     INTEGER NOT NULL,
			up_count        INTEGER NOT NULL,
			down_count      INTEGER NOT NULL,
			reachable_count INTEGER NOT NULL,
			pending_count   INTEGER NOT NULL,
			diamond_count   INTEGER NOT NULL,
			gold_count      INTEGER NOT NULL,
			silver_count    INTEGER NOT NULL,
			bronze_count    INTEGER NOT NULL,
			standard_count  INTEGER NOT NULL,
			avg_uptime      REAL NOT NULL,
			avg_latency_ms  REAL,
			avg_score       REAL NOT NULL,
			dominant_version TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_network_chain_ts
			ON network_snapshots(chain, timestamp)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

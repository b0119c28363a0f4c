package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// ─── Probe History ──────────────────────────────────────────────────────────

// InsertProbeSnapshot appends one immutable probe observation.
func (d *DB) InsertProbeSnapshot(s domain.ProbeSnapshot) error {
	_, err := d.db.Exec(
		`INSERT INTO probe_snapshots (ip, port, chain, timestamp, is_online, response_ms, height)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Peer.IP, s.Peer.Port, s.Peer.Chain,
		s.Timestamp.Unix(), s.IsOnline, nullableFloat(s.ResponseMs), nullableInt64(s.Height),
	)
	if err != nil {
		return fmt.Errorf("%w: snapshot %s: %v", domain.ErrRegistryWriteFailure, s.Peer.Address(), err)
	}
	return nil
}

// ProbeWindow returns a peer's snapshots at or after since, oldest first.
func (d *DB) ProbeWindow(key domain.PeerKey, since time.Time) ([]domain.ProbeSnapshot, error) {
	rows, err := d.db.Query(
		`SELECT id, timestamp, is_online, response_ms, height
		 FROM probe_snapshots
		 WHERE ip = ? AND port = ? AND chain = ? AND timestamp >= ?
		 ORDER BY timestamp ASC`,
		key.IP, key.Port, key.Chain, since.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.ProbeSnapshot
	for rows.Next() {
		var (
			s          domain.ProbeSnapshot
			ts         int64
			responseMs sql.NullFloat64
			height     sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &ts, &s.IsOnline, &responseMs, &height); err != nil {
			return nil, err
		}
		s.Peer = key
		s.Timestamp = time.Unix(ts, 0)
		if responseMs.Valid {
			v := responseMs.Float64
			s.ResponseMs = &v
		}
		if height.Valid {
			h := height.Int64
			s.Height = &h
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// ProbeTotals returns a peer's all-time snapshot counts (total, online).
// Feeds the reliability metric, which is not windowed.
func (d *DB) ProbeTotals(key domain.PeerKey) (total, online int64, err error) {
	err = d.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(is_online), 0)
		 FROM probe_snapshots WHERE ip = ? AND port = ? AND chain = ?`,
		key.IP, key.Port, key.Chain,
	).Scan(&total, &online)
	return total, online, err
}

// ─── Network History ────────────────────────────────────────────────────────

// InsertNetworkSnapshot appends one aggregate record for a scan cycle.
func (d *DB) InsertNetworkSnapshot(ns domain.NetworkSnapshot) error {
	_, err := d.db.Exec(
		`INSERT INTO network_snapshots (chain, cycle_id, timestamp,
			total_peers, up_count, down_count, reachable_count, pending_count,
			diamond_count, gold_count, silver_count, bronze_count, standard_count,
			avg_uptime, avg_latency_ms, avg_score, dominant_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ns.Chain, ns.CycleID, ns.Timestamp.Unix(),
		ns.TotalPeers, ns.UpCount, ns.DownCount, ns.ReachableCount, ns.PendingCount,
		ns.DiamondCount, ns.GoldCount, ns.SilverCount, ns.BronzeCount, ns.StandardCount,
		ns.AvgUptime, nullableFloat(ns.AvgLatencyMs), ns.AvgScore, ns.DominantVersion,
	)
	if err != nil {
		return fmt.Errorf("%w: network snapshot %s: %v", domain.ErrRegistryWriteFailure, ns.Chain, err)
	}
	return nil
}

// LatestNetworkSnapshot returns the most recent aggregate record for a chain,
// or nil when none has been written yet.
func (d *DB) LatestNetworkSnapshot(chain string) (*domain.NetworkSnapshot, error) {
	row := d.db.QueryRow(
		`SELECT id, chain, cycle_id, timestamp,
			total_peers, up_count, down_count, reachable_count, pending_count,
			diamond_count, gold_count, silver_count, bronze_count, standard_count,
			avg_uptime, avg_latency_ms, avg_score, dominant_version
		 FROM network_snapshots WHERE chain = ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`, chain,
	)

	var (
		ns         domain.NetworkSnapshot
		ts         int64
		avgLatency sql.NullFloat64
	)
	err := row.Scan(&ns.ID, &ns.Chain, &ns.CycleID, &ts,
		&ns.TotalPeers, &ns.UpCount, &ns.DownCount, &ns.ReachableCount, &ns.PendingCount,
		&ns.DiamondCount, &ns.GoldCount, &ns.SilverCount, &ns.BronzeCount, &ns.StandardCount,
		&ns.AvgUptime, &avgLatency, &ns.AvgScore, &ns.DominantVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ns.Timestamp = time.Unix(ts, 0)
	if avgLatency.Valid {
		v := avgLatency.Float64
		ns.AvgLatencyMs = &v
	}
	return &ns, nil
}

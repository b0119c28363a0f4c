package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pixwatch/pixwatch/internal/domain"
)

// ─── Peer Registry ──────────────────────────────────────────────────────────

const peerColumns = `ip, port, chain,
	protocol_version, user_agent, client_name, client_version, services, height, is_current_version,
	country, region, city, latitude, longitude, timezone, isp, org, asn, conn_type,
	status, previous_status, status_changed_at,
	uptime, latency_avg, reliability, pix_score, rank, tier, previous_tier,
	verified, first_seen, last_seen, times_seen`

// UpsertPeer inserts or fully updates a peer row, keyed by (ip, port, chain).
// first_seen is written only on insert: an existing row keeps its original.
func (d *DB) UpsertPeer(p domain.Peer) error {
	var (
		protoVersion sql.NullInt64
		userAgent    sql.NullString
		clientName   sql.NullString
		clientVer    sql.NullString
		services     sql.NullInt64
		height       sql.NullInt64
	)
	if a := p.Announced; a != nil {
		protoVersion = sql.NullInt64{Int64: int64(a.ProtocolVersion), Valid: true}
		userAgent = nullableString(a.UserAgent)
		clientName = nullableString(a.ClientName)
		clientVer = nullableString(a.ClientVersion)
		services = sql.NullInt64{Int64: int64(a.Services), Valid: true}
		height = sql.NullInt64{Int64: a.Height, Valid: true}
	}

	geo := p.Geo
	if geo == nil {
		geo = &domain.GeoInfo{}
	}
	var lat, lon sql.NullFloat64
	if p.Geo != nil {
		lat = sql.NullFloat64{Float64: geo.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: geo.Longitude, Valid: true}
	}

	var rank sql.NullInt64
	if p.Rank != nil {
		rank = sql.NullInt64{Int64: int64(*p.Rank), Valid: true}
	}

	_, err := d.db.Exec(
		`INSERT INTO peers (`+peerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ip, port, chain) DO UPDATE SET
			protocol_version=excluded.protocol_version,
			user_agent=excluded.user_agent,
			client_name=excluded.client_name,
			client_version=excluded.client_version,
			services=excluded.services,
			height=excluded.height,
			is_current_version=excluded.is_current_version,
			country=excluded.country,
			region=excluded.region,
			city=excluded.city,
			latitude=excluded.latitude,
			longitude=excluded.longitude,
			timezone=excluded.timezone,
			isp=excluded.isp,
			org=excluded.org,
			asn=excluded.asn,
			conn_type=excluded.conn_type,
			status=excluded.status,
			previous_status=excluded.previous_status,
			status_changed_at=excluded.status_changed_at,
			uptime=excluded.uptime,
			latency_avg=excluded.latency_avg,
			reliability=excluded.reliability,
			pix_score=excluded.pix_score,
			rank=excluded.rank,
			tier=excluded.tier,
			previous_tier=excluded.previous_tier,
			verified=excluded.verified,
			last_seen=excluded.last_seen,
			times_seen=excluded.times_seen`,
		p.IP, p.Port, p.Chain,
		protoVersion, userAgent, clientName, clientVer, services, height, p.IsCurrentVersion,
		nullableString(geo.Country), nullableString(geo.Region), nullableString(geo.City),
		lat, lon,
		nullableString(geo.Timezone), nullableString(geo.ISP), nullableString(geo.Org), nullableString(geo.ASN),
		string(p.ConnType),
		string(p.Status), nullableString(string(p.PreviousStatus)), nullableUnix(p.StatusChangedAt),
		p.Uptime, nullableFloat(p.LatencyAvg), p.Reliability, p.PixScore,
		rank, string(p.Tier), nullableString(string(p.PreviousTier)),
		p.Verified, p.FirstSeen.Unix(), nullableUnix(p.LastSeen), p.TimesSeen,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", domain.ErrRegistryWriteFailure, p.Address(), err)
	}
	return nil
}

// GetPeer retrieves a single peer by key. Returns ErrPeerNotFound when absent.
func (d *DB) GetPeer(key domain.PeerKey) (*domain.Peer, error) {
	row := d.db.QueryRow(
		`SELECT `+peerColumns+` FROM peers WHERE ip = ? AND port = ? AND chain = ?`,
		key.IP, key.Port, key.Chain,
	)
	p, err := scanPeer(row)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPeerNotFound
	}
	return p, nil
}

// ListPeers returns all peers for a chain, best score first.
func (d *DB) ListPeers(chain string) ([]domain.Peer, error) {
	rows, err := d.db.Query(
		`SELECT `+peerColumns+` FROM peers WHERE chain = ?
		 ORDER BY pix_score DESC, uptime DESC, ip ASC, port ASC`, chain,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []domain.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, *p)
	}
	return peers, rows.Err()
}

// UpdateMetrics writes only the scoring-engine-owned fields of one peer.
func (d *DB) UpdateMetrics(p domain.Peer) error {
	var rank sql.NullInt64
	if p.Rank != nil {
		rank = sql.NullInt64{Int64: int64(*p.Rank), Valid: true}
	}
	_, err := d.db.Exec(
		`UPDATE peers SET uptime = ?, latency_avg = ?, reliability = ?,
			pix_score = ?, rank = ?, tier = ?, previous_tier = ?
		 WHERE ip = ? AND port = ? AND chain = ?`,
		p.Uptime, nullableFloat(p.LatencyAvg), p.Reliability,
		p.PixScore, rank, string(p.Tier), nullableString(string(p.PreviousTier)),
		p.IP, p.Port, p.Chain,
	)
	if err != nil {
		return fmt.Errorf("%w: metrics %s: %v", domain.ErrRegistryWriteFailure, p.Address(), err)
	}
	return nil
}

// UpdateMetricsBatch writes metric fields for many peers in one transaction.
func (d *DB) UpdateMetricsBatch(peers []domain.Peer) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrRegistryWriteFailure, err)
	}
	stmt, err := tx.Prepare(
		`UPDATE peers SET uptime = ?, latency_avg = ?, reliability = ?,
			pix_score = ?, rank = ?, tier = ?, previous_tier = ?
		 WHERE ip = ? AND port = ? AND chain = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: prepare: %v", domain.ErrRegistryWriteFailure, err)
	}
	defer stmt.Close()

	for _, p := range peers {
		var rank sql.NullInt64
		if p.Rank != nil {
			rank = sql.NullInt64{Int64: int64(*p.Rank), Valid: true}
		}
		if _, err := stmt.Exec(
			p.Uptime, nullableFloat(p.LatencyAvg), p.Reliability,
			p.PixScore, rank, string(p.Tier), nullableString(string(p.PreviousTier)),
			p.IP, p.Port, p.Chain,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: metrics %s: %v", domain.ErrRegistryWriteFailure, p.Address(), err)
		}
	}
	return tx.Commit()
}

// PrunePeersBefore deletes peers whose last activity predates cutoff and
// returns how many were removed. Probe history cascades via foreign key.
// Peers that never had a successful probe fall back to first_seen.
func (d *DB) PrunePeersBefore(chain string, cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(
		`DELETE FROM peers WHERE chain = ? AND COALESCE(last_seen, first_seen) < ?`,
		chain, cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", domain.ErrRegistryWriteFailure, err)
	}
	return res.RowsAffected()
}

// ─── Scanning ───────────────────────────────────────────────────────────────

func scanPeer(s scanner) (*domain.Peer, error) {
	var (
		p domain.Peer

		protoVersion sql.NullInt64
		userAgent    sql.NullString
		clientName   sql.NullString
		clientVer    sql.NullString
		services     sql.NullInt64
		height       sql.NullInt64

		country, region, city   sql.NullString
		lat, lon                sql.NullFloat64
		timezone, isp, org, asn sql.NullString
		connType                string
		status, prevStatus      sql.NullString
		statusChangedAt         sql.NullInt64
		latencyAvg              sql.NullFloat64
		rank                    sql.NullInt64
		tier, prevTier          sql.NullString
		firstSeen               int64
		lastSeen                sql.NullInt64
	)

	err := s.Scan(
		&p.IP, &p.Port, &p.Chain,
		&protoVersion, &userAgent, &clientName, &clientVer, &services, &height, &p.IsCurrentVersion,
		&country, &region, &city, &lat, &lon, &timezone, &isp, &org, &asn, &connType,
		&status, &prevStatus, &statusChangedAt,
		&p.Uptime, &latencyAvg, &p.Reliability, &p.PixScore, &rank, &tier, &prevTier,
		&p.Verified, &firstSeen, &lastSeen, &p.TimesSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	if protoVersion.Valid {
		p.Announced = &domain.AnnouncedState{
			ProtocolVersion: int32(protoVersion.Int64),
			UserAgent:       userAgent.String,
			ClientName:      clientName.String,
			ClientVersion:   clientVer.String,
			Services:        uint64(services.Int64),
			Height:          height.Int64,
		}
	}
	if lat.Valid || country.Valid {
		p.Geo = &domain.GeoInfo{
			Country:   country.String,
			Region:    region.String,
			City:      city.String,
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
			Timezone:  timezone.String,
			ISP:       isp.String,
			Org:       org.String,
			ASN:       asn.String,
		}
	}
	p.ConnType = domain.ConnType(connType)
	p.Status = domain.Status(status.String)
	p.PreviousStatus = domain.Status(prevStatus.String)
	if statusChangedAt.Valid {
		p.StatusChangedAt = time.Unix(statusChangedAt.Int64, 0)
	}
	if latencyAvg.Valid {
		v := latencyAvg.Float64
		p.LatencyAvg = &v
	}
	if rank.Valid {
		r := int(rank.Int64)
		p.Rank = &r
	}
	p.Tier = domain.Tier(tier.String)
	p.PreviousTier = domain.Tier(prevTier.String)
	p.FirstSeen = time.Unix(firstSeen, 0)
	if lastSeen.Valid {
		p.LastSeen = time.Unix(lastSeen.Int64, 0)
	}
	return &p, nil
}

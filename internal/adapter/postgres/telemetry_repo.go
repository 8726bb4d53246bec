package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"lumitrack/internal/domain"
)

var _ domain.UserRepository = (*DB)(nil)
var _ domain.TelemetryRepository = (*DB)(nil)

// Append upserts a batch into the samples table inside one transaction, so a
// batch either lands wholly or not at all. Duplicate timestamps overwrite in
// place; ON CONFLICT keeps the incoming row, matching last-write-wins.
func (d *DB) Append(ctx context.Context, dancerID string, channel domain.Channel, samples []domain.SensorSample) (domain.AppendResult, error) {
	if err := domain.ValidateBatch(dancerID, channel, samples); err != nil {
		return domain.AppendResult{}, err
	}
	if len(samples) == 0 {
		return domain.AppendResult{}, nil
	}

	// Within-call duplicates collapse to the last occurrence up front: a
	// statement may not touch the same (dancer, channel, ts) row twice in
	// one transaction even with ON CONFLICT.
	incoming := make([]domain.SensorSample, 0, len(samples))
	for _, s := range samples {
		if n := len(incoming); n > 0 && incoming[n-1].Timestamp == s.Timestamp {
			incoming[n-1] = s
			continue
		}
		incoming = append(incoming, s)
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return domain.AppendResult{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (dancer_id, channel, ts, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (dancer_id, channel, ts) DO UPDATE SET data = EXCLUDED.data
		 RETURNING (xmax = 0)`)
	if err != nil {
		return domain.AppendResult{}, err
	}
	defer stmt.Close() //nolint:errcheck

	var res domain.AppendResult
	for _, s := range incoming {
		var inserted bool
		err := stmt.QueryRowContext(ctx, s.DancerID, string(s.Channel), s.Timestamp,
			pq.Array(s.Data)).Scan(&inserted)
		if err != nil {
			return domain.AppendResult{}, fmt.Errorf("append %s/%s ts=%d: %w", s.DancerID, s.Channel, s.Timestamp, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Overwritten++
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.AppendResult{}, err
	}
	return res, nil
}

// ReadAll returns the full stream for the key in timestamp order.
func (d *DB) ReadAll(ctx context.Context, dancerID string, channel domain.Channel) ([]domain.SensorSample, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT ts, data FROM samples WHERE dancer_id = $1 AND channel = $2 ORDER BY ts",
		dancerID, string(channel))
	if err != nil {
		return nil, err
	}
	return d.scanSamples(rows, dancerID, channel)
}

// ReadRange returns samples with fromTs <= ts < toTs in timestamp order.
func (d *DB) ReadRange(ctx context.Context, dancerID string, channel domain.Channel, fromTs, toTs int64) ([]domain.SensorSample, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT ts, data FROM samples WHERE dancer_id = $1 AND channel = $2 AND ts >= $3 AND ts < $4 ORDER BY ts",
		dancerID, string(channel), fromTs, toTs)
	if err != nil {
		return nil, err
	}
	return d.scanSamples(rows, dancerID, channel)
}

// Keys lists every (dancer, channel) partition holding data.
func (d *DB) Keys(ctx context.Context) ([]domain.PartitionKey, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT DISTINCT dancer_id, channel FROM samples")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var keys []domain.PartitionKey
	for rows.Next() {
		var dancerID, channel string
		if err := rows.Scan(&dancerID, &channel); err != nil {
			return nil, err
		}
		keys = append(keys, domain.PartitionKey{DancerID: dancerID, Channel: domain.Channel(channel)})
	}
	return keys, rows.Err()
}

func (d *DB) scanSamples(rows *sql.Rows, dancerID string, channel domain.Channel) ([]domain.SensorSample, error) {
	defer rows.Close() //nolint:errcheck

	out := []domain.SensorSample{}
	for rows.Next() {
		s := domain.SensorSample{DancerID: dancerID, Channel: channel}
		var data pq.Float64Array
		if err := rows.Scan(&s.Timestamp, &data); err != nil {
			return nil, err
		}
		s.Data = []float64(data)
		out = append(out, s)
	}
	return out, rows.Err()
}

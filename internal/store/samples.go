// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/bindctl/internal/model"
)

// RecordHealthSamples persists a batch of probe results.
func (t *Tx) RecordHealthSamples(samples []model.HealthSample) error {
	if len(samples) == 0 {
		return nil
	}
	stmt, err := t.tx.Prepare(`
		INSERT INTO health_samples (forwarder_id, server_ip, ts, ok, response_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapDBErr(err)
	}
	defer stmt.Close()

	for _, s := range samples {
		var ms any
		if s.ResponseMs != nil {
			ms = *s.ResponseMs
		}
		if _, err := stmt.Exec(s.ForwarderID, s.ServerIP, s.TS.Unix(), s.OK, ms, s.Error); err != nil {
			return wrapDBErr(err)
		}
	}
	return nil
}

// HealthWindow is an aggregate over one forwarder's samples in a time range.
type HealthWindow struct {
	ForwarderID int64   `json:"forwarder_id"`
	Samples     int     `json:"samples"`
	Failures    int     `json:"failures"`
	FailRate    float64 `json:"fail_rate"`
	AvgMs       float64 `json:"avg_ms"`
	MaxMs       int64   `json:"max_ms"`
}

// AggregateHealthWindow computes failure rate and latency over [from, to].
func (t *Tx) AggregateHealthWindow(forwarderID int64, from, to time.Time) (*HealthWindow, error) {
	w := &HealthWindow{ForwarderID: forwarderID}
	var avg sql.NullFloat64
	var max sql.NullInt64
	err := t.tx.QueryRow(`
		SELECT COUNT(*),
			SUM(CASE WHEN ok THEN 0 ELSE 1 END),
			AVG(CASE WHEN ok THEN response_ms END),
			MAX(CASE WHEN ok THEN response_ms END)
		FROM health_samples
		WHERE forwarder_id = ? AND ts >= ? AND ts <= ?`,
		forwarderID, from.Unix(), to.Unix()).Scan(&w.Samples, &w.Failures, &avg, &max)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	if w.Samples > 0 {
		w.FailRate = float64(w.Failures) / float64(w.Samples)
	}
	if avg.Valid {
		w.AvgMs = avg.Float64
	}
	if max.Valid {
		w.MaxMs = max.Int64
	}
	return w, nil
}

// ListHealthSamples returns samples for a forwarder in a window, newest first.
func (t *Tx) ListHealthSamples(forwarderID int64, from, to time.Time, limit int) ([]model.HealthSample, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := t.tx.Query(`
		SELECT id, forwarder_id, server_ip, ts, ok, response_ms, error
		FROM health_samples
		WHERE forwarder_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT ?`,
		forwarderID, from.Unix(), to.Unix(), limit)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var samples []model.HealthSample
	for rows.Next() {
		var s model.HealthSample
		var ts int64
		var ms sql.NullInt64
		if err := rows.Scan(&s.ID, &s.ForwarderID, &s.ServerIP, &ts, &s.OK, &ms, &s.Error); err != nil {
			return nil, wrapDBErr(err)
		}
		s.TS = time.Unix(ts, 0).UTC()
		if ms.Valid {
			v := ms.Int64
			s.ResponseMs = &v
		}
		samples = append(samples, s)
	}
	return samples, wrapDBErr(rows.Err())
}

// DownsampleHealthSamples replaces raw samples older than rawWindow with one
// hourly aggregate row per (forwarder, server, hour) and deletes everything
// past the retention horizon. Returns rows removed.
func (t *Tx) DownsampleHealthSamples(now time.Time, rawWindow, retention time.Duration) (int64, error) {
	horizon := now.Add(-retention).Unix()
	rawCutoff := now.Add(-rawWindow).Unix()

	// Hourly aggregates for the band between retention horizon and raw cutoff.
	if _, err := t.tx.Exec(`
		INSERT INTO health_samples (forwarder_id, server_ip, ts, ok, response_ms, error, downsampled)
		SELECT forwarder_id, server_ip, (ts / 3600) * 3600,
			(SUM(CASE WHEN ok THEN 0 ELSE 1 END) = 0),
			CAST(AVG(CASE WHEN ok THEN response_ms END) AS INTEGER),
			'', 1
		FROM health_samples
		WHERE ts < ? AND ts >= ? AND downsampled = 0
		GROUP BY forwarder_id, server_ip, ts / 3600`,
		rawCutoff, horizon); err != nil {
		return 0, wrapDBErr(err)
	}

	res, err := t.tx.Exec(`
		DELETE FROM health_samples
		WHERE (ts < ? AND downsampled = 0) OR ts < ?`,
		rawCutoff, horizon)
	if err != nil {
		return 0, wrapDBErr(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

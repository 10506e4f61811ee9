// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

const forwarderCols = `id, name, domain, additional_domains, type, servers, forward_policy,
	hc_enabled, hc_interval_s, hc_timeout_s, hc_retries, priority, weight,
	is_active, health_status, last_checked_at, created_at, updated_at, version`

func scanForwarder(row interface{ Scan(...any) error }) (*model.Forwarder, error) {
	var f model.Forwarder
	var domains, servers string
	var lastChecked sql.NullInt64
	var created, updated int64
	err := row.Scan(&f.ID, &f.Name, &f.Domain, &domains, &f.Type, &servers, &f.ForwardPolicy,
		&f.HealthCheck.Enabled, &f.HealthCheck.IntervalS, &f.HealthCheck.TimeoutS,
		&f.HealthCheck.Retries, &f.Priority, &f.Weight, &f.IsActive, &f.HealthStatus,
		&lastChecked, &created, &updated, &f.Version)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(domains), &f.AdditionalDomains)
	json.Unmarshal([]byte(servers), &f.Servers)
	if lastChecked.Valid {
		ts := time.Unix(lastChecked.Int64, 0).UTC()
		f.LastCheckedAt = &ts
	}
	f.CreatedAt = time.Unix(created, 0).UTC()
	f.UpdatedAt = time.Unix(updated, 0).UTC()
	return &f, nil
}

func jsonServers(v []model.ForwarderServer) string {
	if v == nil {
		v = []model.ForwarderServer{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateForwarder inserts a forwarder and returns its id.
func (t *Tx) CreateForwarder(f *model.Forwarder) (int64, error) {
	now := time.Now().Unix()
	res, err := t.tx.Exec(`
		INSERT INTO forwarders (name, domain, additional_domains, type, servers,
			forward_policy, hc_enabled, hc_interval_s, hc_timeout_s, hc_retries,
			priority, weight, is_active, health_status, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		f.Name, f.Domain, jsonArr(f.AdditionalDomains), f.Type, jsonServers(f.Servers),
		f.ForwardPolicy, f.HealthCheck.Enabled, f.HealthCheck.IntervalS,
		f.HealthCheck.TimeoutS, f.HealthCheck.Retries, f.Priority, f.Weight,
		f.IsActive, model.HealthUnknown, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Errorf(errors.KindConflict, "forwarder %q already exists", f.Name)
		}
		return 0, wrapDBErr(err)
	}
	return res.LastInsertId()
}

// GetForwarder fetches a forwarder by id.
func (t *Tx) GetForwarder(id int64) (*model.Forwarder, error) {
	f, err := scanForwarder(t.tx.QueryRow(`SELECT `+forwarderCols+` FROM forwarders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "forwarder %d not found", id)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return f, nil
}

// ListForwarders returns forwarders ordered by priority then name.
func (t *Tx) ListForwarders(activeOnly bool) ([]*model.Forwarder, error) {
	query := `SELECT ` + forwarderCols + ` FROM forwarders`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority, name`

	rows, err := t.tx.Query(query)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var fwds []*model.Forwarder
	for rows.Next() {
		f, err := scanForwarder(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		fwds = append(fwds, f)
	}
	return fwds, wrapDBErr(rows.Err())
}

// UpdateForwarder writes back a forwarder guarded by its version counter.
// Health status fields are deliberately excluded; they belong to the monitor.
func (t *Tx) UpdateForwarder(f *model.Forwarder) error {
	res, err := t.tx.Exec(`
		UPDATE forwarders SET domain = ?, additional_domains = ?, type = ?, servers = ?,
			forward_policy = ?, hc_enabled = ?, hc_interval_s = ?, hc_timeout_s = ?,
			hc_retries = ?, priority = ?, weight = ?, is_active = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		f.Domain, jsonArr(f.AdditionalDomains), f.Type, jsonServers(f.Servers),
		f.ForwardPolicy, f.HealthCheck.Enabled, f.HealthCheck.IntervalS,
		f.HealthCheck.TimeoutS, f.HealthCheck.Retries, f.Priority, f.Weight,
		f.IsActive, time.Now().Unix(), f.ID, f.Version)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return versionConflict(t, "forwarders", f.ID)
	}
	f.Version++
	return nil
}

// SetForwarderHealth updates the monitor-owned health columns without
// touching the version counter, so concurrent operator edits never conflict
// with probe results.
func (t *Tx) SetForwarderHealth(id int64, status model.HealthStatus, checkedAt time.Time) error {
	res, err := t.tx.Exec(`UPDATE forwarders SET health_status = ?, last_checked_at = ? WHERE id = ?`,
		status, checkedAt.Unix(), id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "forwarder %d not found", id)
	}
	return nil
}

// DeleteForwarder removes a forwarder; samples cascade.
func (t *Tx) DeleteForwarder(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM forwarders WHERE id = ?`, id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "forwarder %d not found", id)
	}
	return nil
}

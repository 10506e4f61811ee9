// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

const zoneCols = `id, name, type, email, serial, refresh, retry, expire, minimum,
	is_active, masters, forwarders, created_by, created_at, updated_at, version`

func scanZone(row interface{ Scan(...any) error }) (*model.Zone, error) {
	var z model.Zone
	var masters, forwarders string
	var created, updated int64
	err := row.Scan(&z.ID, &z.Name, &z.Type, &z.Email, &z.Serial, &z.Refresh, &z.Retry,
		&z.Expire, &z.Minimum, &z.IsActive, &masters, &forwarders, &z.CreatedBy,
		&created, &updated, &z.Version)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(masters), &z.Masters)
	json.Unmarshal([]byte(forwarders), &z.Forwarders)
	z.CreatedAt = time.Unix(created, 0).UTC()
	z.UpdatedAt = time.Unix(updated, 0).UTC()
	return &z, nil
}

func jsonArr(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateZone inserts a zone and returns its id.
func (t *Tx) CreateZone(z *model.Zone) (int64, error) {
	now := time.Now().Unix()
	res, err := t.tx.Exec(`
		INSERT INTO zones (name, type, email, serial, refresh, retry, expire, minimum,
			is_active, masters, forwarders, created_by, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		z.Name, z.Type, z.Email, z.Serial, z.Refresh, z.Retry, z.Expire, z.Minimum,
		z.IsActive, jsonArr(z.Masters), jsonArr(z.Forwarders), z.CreatedBy, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Errorf(errors.KindConflict, "zone %q already exists", z.Name)
		}
		return 0, wrapDBErr(err)
	}
	return res.LastInsertId()
}

// GetZone fetches a zone by id.
func (t *Tx) GetZone(id int64) (*model.Zone, error) {
	z, err := scanZone(t.tx.QueryRow(`SELECT `+zoneCols+` FROM zones WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "zone %d not found", id)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return z, nil
}

// GetZoneByName fetches a zone by its unique name.
func (t *Tx) GetZoneByName(name string) (*model.Zone, error) {
	z, err := scanZone(t.tx.QueryRow(`SELECT `+zoneCols+` FROM zones WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "zone %q not found", name)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return z, nil
}

// ZoneFilter narrows ListZones results.
type ZoneFilter struct {
	Type       model.ZoneType
	ActiveOnly bool
}

// ListZones returns zones matching the filter.
func (t *Tx) ListZones(f ZoneFilter, opts ListOpts) ([]*model.Zone, error) {
	query := `SELECT ` + zoneCols + ` FROM zones`
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.ActiveOnly {
		conds = append(conds, "is_active = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += opts.clause(map[string]string{"name": "name", "updated_at": "updated_at"}, "name")

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var zones []*model.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		zones = append(zones, z)
	}
	return zones, wrapDBErr(rows.Err())
}

// UpdateZone writes back a zone guarded by its version counter.
func (t *Tx) UpdateZone(z *model.Zone) error {
	res, err := t.tx.Exec(`
		UPDATE zones SET type = ?, email = ?, serial = ?, refresh = ?, retry = ?,
			expire = ?, minimum = ?, is_active = ?, masters = ?, forwarders = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		z.Type, z.Email, z.Serial, z.Refresh, z.Retry, z.Expire, z.Minimum,
		z.IsActive, jsonArr(z.Masters), jsonArr(z.Forwarders),
		time.Now().Unix(), z.ID, z.Version)
	if err != nil {
		return wrapDBErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return versionConflict(t, "zones", z.ID)
	}
	z.Version++
	return nil
}

// DeleteZone removes a zone; records cascade.
func (t *Tx) DeleteZone(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM zones WHERE id = ?`, id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "zone %d not found", id)
	}
	return nil
}

// versionConflict distinguishes a stale version from a missing row.
func versionConflict(t *Tx, table string, id int64) error {
	var n int
	if err := t.tx.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err == nil && n == 0 {
		return errors.Errorf(errors.KindNotFound, "%s row %d not found", table, id)
	}
	return errors.Errorf(errors.KindConflict, "%s row %d was modified concurrently", table, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

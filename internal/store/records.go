// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

const recordCols = `id, zone_id, name, type, value, ttl, priority, weight, port,
	is_active, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*model.Record, error) {
	var r model.Record
	var created, updated int64
	err := row.Scan(&r.ID, &r.ZoneID, &r.Name, &r.Type, &r.Value, &r.TTL,
		&r.Priority, &r.Weight, &r.Port, &r.IsActive, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	return &r, nil
}

// CreateRecord inserts a record and returns its id.
func (t *Tx) CreateRecord(r *model.Record) (int64, error) {
	now := time.Now().Unix()
	res, err := t.tx.Exec(`
		INSERT INTO records (zone_id, name, type, value, ttl, priority, weight, port,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ZoneID, r.Name, r.Type, r.Value, r.TTL, r.Priority, r.Weight, r.Port,
		r.IsActive, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Errorf(errors.KindConflict,
				"duplicate record %s %s %s", r.Name, r.Type, r.Value)
		}
		return 0, wrapDBErr(err)
	}
	return res.LastInsertId()
}

// GetRecord fetches a record by id.
func (t *Tx) GetRecord(id int64) (*model.Record, error) {
	r, err := scanRecord(t.tx.QueryRow(`SELECT `+recordCols+` FROM records WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "record %d not found", id)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return r, nil
}

// ListRecords returns all records of a zone, ordered by name then type for
// deterministic rendering.
func (t *Tx) ListRecords(zoneID int64, activeOnly bool) ([]*model.Record, error) {
	query := `SELECT ` + recordCols + ` FROM records WHERE zone_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY name, type, value`

	rows, err := t.tx.Query(query, zoneID)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		records = append(records, r)
	}
	return records, wrapDBErr(rows.Err())
}

// ListRecordsByName returns active and inactive records at one owner name.
func (t *Tx) ListRecordsByName(zoneID int64, name string) ([]*model.Record, error) {
	rows, err := t.tx.Query(`SELECT `+recordCols+` FROM records WHERE zone_id = ? AND name = ?`, zoneID, name)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		records = append(records, r)
	}
	return records, wrapDBErr(rows.Err())
}

// UpdateRecord writes back a record.
func (t *Tx) UpdateRecord(r *model.Record) error {
	res, err := t.tx.Exec(`
		UPDATE records SET name = ?, type = ?, value = ?, ttl = ?, priority = ?,
			weight = ?, port = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.Type, r.Value, r.TTL, r.Priority, r.Weight, r.Port, r.IsActive,
		time.Now().Unix(), r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Errorf(errors.KindConflict,
				"duplicate record %s %s %s", r.Name, r.Type, r.Value)
		}
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "record %d not found", r.ID)
	}
	return nil
}

// DeleteRecord removes a record.
func (t *Tx) DeleteRecord(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "record %d not found", id)
	}
	return nil
}

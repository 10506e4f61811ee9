// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"time"

	"grimm.is/bindctl/internal/model"
)

// AppendAuditEntry writes one append-only audit row. There is no update or
// delete path for audit entries.
func (t *Tx) AppendAuditEntry(e *model.AuditEntry) (int64, error) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	res, err := t.tx.Exec(`
		INSERT INTO audit_entries (ts, actor, action, target_kind, target_id,
			before_hash, after_hash, success, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS.Unix(), e.Actor, e.Action, e.TargetKind, e.TargetID,
		e.BeforeHash, e.AfterHash, e.Success, e.Note)
	if err != nil {
		return 0, wrapDBErr(err)
	}
	return res.LastInsertId()
}

// ListAuditEntries returns entries newest first.
func (t *Tx) ListAuditEntries(limit, offset int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(`
		SELECT id, ts, actor, action, target_kind, target_id, before_hash,
			after_hash, success, note
		FROM audit_entries ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.TargetKind,
			&e.TargetID, &e.BeforeHash, &e.AfterHash, &e.Success, &e.Note); err != nil {
			return nil, wrapDBErr(err)
		}
		e.TS = time.Unix(ts, 0).UTC()
		entries = append(entries, &e)
	}
	return entries, wrapDBErr(rows.Err())
}

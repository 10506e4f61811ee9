// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

const feedCols = `id, name, url, format, category, rpz_zone, update_frequency_s, enabled,
	last_status, last_attempt_at, last_success_at, etag, last_modified, rule_count, version`

func scanFeed(row interface{ Scan(...any) error }) (*model.ThreatFeed, error) {
	var f model.ThreatFeed
	var attempt, success sql.NullInt64
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.Format, &f.Category, &f.RPZZone,
		&f.UpdateFrequencyS, &f.Enabled, &f.LastStatus, &attempt, &success,
		&f.ETag, &f.LastModified, &f.RuleCount, &f.Version)
	if err != nil {
		return nil, err
	}
	if attempt.Valid {
		ts := time.Unix(attempt.Int64, 0).UTC()
		f.LastAttemptAt = &ts
	}
	if success.Valid {
		ts := time.Unix(success.Int64, 0).UTC()
		f.LastSuccessAt = &ts
	}
	return &f, nil
}

// CreateThreatFeed inserts a feed and returns its id.
func (t *Tx) CreateThreatFeed(f *model.ThreatFeed) (int64, error) {
	res, err := t.tx.Exec(`
		INSERT INTO threat_feeds (name, url, format, category, rpz_zone,
			update_frequency_s, enabled, last_status, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		f.Name, f.URL, f.Format, f.Category, f.RPZZone, f.UpdateFrequencyS,
		f.Enabled, model.FeedNever)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Errorf(errors.KindConflict, "feed %q already exists", f.Name)
		}
		return 0, wrapDBErr(err)
	}
	return res.LastInsertId()
}

// GetThreatFeed fetches a feed by id.
func (t *Tx) GetThreatFeed(id int64) (*model.ThreatFeed, error) {
	f, err := scanFeed(t.tx.QueryRow(`SELECT `+feedCols+` FROM threat_feeds WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "feed %d not found", id)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return f, nil
}

// ListThreatFeeds returns feeds ordered by name.
func (t *Tx) ListThreatFeeds(enabledOnly bool) ([]*model.ThreatFeed, error) {
	query := `SELECT ` + feedCols + ` FROM threat_feeds`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := t.tx.Query(query)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var feeds []*model.ThreatFeed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		feeds = append(feeds, f)
	}
	return feeds, wrapDBErr(rows.Err())
}

// UpdateThreatFeed writes back operator-editable feed fields guarded by the
// version counter.
func (t *Tx) UpdateThreatFeed(f *model.ThreatFeed) error {
	res, err := t.tx.Exec(`
		UPDATE threat_feeds SET url = ?, format = ?, category = ?, rpz_zone = ?,
			update_frequency_s = ?, enabled = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		f.URL, f.Format, f.Category, f.RPZZone, f.UpdateFrequencyS, f.Enabled,
		f.ID, f.Version)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return versionConflict(t, "threat_feeds", f.ID)
	}
	f.Version++
	return nil
}

// FeedRefreshState carries the ingestor-owned columns.
type FeedRefreshState struct {
	Status       model.FeedStatus
	AttemptAt    time.Time
	SuccessAt    *time.Time // nil leaves the previous success timestamp
	ETag         string
	LastModified string
	RuleCount    int
}

// SetFeedRefreshState updates the ingestor-owned columns without touching
// the version counter.
func (t *Tx) SetFeedRefreshState(id int64, st FeedRefreshState) error {
	var success any
	if st.SuccessAt != nil {
		success = st.SuccessAt.Unix()
	}
	res, err := t.tx.Exec(`
		UPDATE threat_feeds SET last_status = ?, last_attempt_at = ?,
			last_success_at = COALESCE(?, last_success_at),
			etag = ?, last_modified = ?, rule_count = ?
		WHERE id = ?`,
		st.Status, st.AttemptAt.Unix(), success, st.ETag, st.LastModified,
		st.RuleCount, id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "feed %d not found", id)
	}
	return nil
}

// DeleteThreatFeed removes a feed. The caller is responsible for removing
// the feed's rules in the same transaction.
func (t *Tx) DeleteThreatFeed(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM threat_feeds WHERE id = ?`, id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "feed %d not found", id)
	}
	return nil
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"strings"
	"time"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/model"
)

const rpzCols = `id, rpz_zone, domain, action, redirect_target, category, source, is_active, created_at`

func scanRPZRule(row interface{ Scan(...any) error }) (*model.RPZRule, error) {
	var r model.RPZRule
	var created int64
	err := row.Scan(&r.ID, &r.RPZZone, &r.Domain, &r.Action, &r.RedirectTarget,
		&r.Category, &r.Source, &r.IsActive, &created)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	return &r, nil
}

// EnsureRPZZone registers a policy zone if it is not known yet.
func (t *Tx) EnsureRPZZone(name string, priority int) error {
	_, err := t.tx.Exec(`INSERT INTO rpz_zones (name, priority) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`, name, priority)
	return wrapDBErr(err)
}

// ListRPZZones returns policy zones ordered by priority then name.
func (t *Tx) ListRPZZones() ([]model.RPZZone, error) {
	rows, err := t.tx.Query(`SELECT name, priority FROM rpz_zones ORDER BY priority, name`)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var zones []model.RPZZone
	for rows.Next() {
		var z model.RPZZone
		if err := rows.Scan(&z.Name, &z.Priority); err != nil {
			return nil, wrapDBErr(err)
		}
		zones = append(zones, z)
	}
	return zones, wrapDBErr(rows.Err())
}

// CreateRPZRule inserts one rule.
func (t *Tx) CreateRPZRule(r *model.RPZRule) (int64, error) {
	res, err := t.tx.Exec(`
		INSERT INTO rpz_rules (rpz_zone, domain, action, redirect_target, category,
			source, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RPZZone, r.Domain, r.Action, r.RedirectTarget, r.Category, r.Source,
		r.IsActive, time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Errorf(errors.KindConflict,
				"rule for %q already exists in zone %q", r.Domain, r.RPZZone)
		}
		return 0, wrapDBErr(err)
	}
	return res.LastInsertId()
}

// GetRPZRule fetches one rule by id.
func (t *Tx) GetRPZRule(id int64) (*model.RPZRule, error) {
	r, err := scanRPZRule(t.tx.QueryRow(`SELECT `+rpzCols+` FROM rpz_rules WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "rpz rule %d not found", id)
	}
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return r, nil
}

// RPZFilter narrows ListRPZRules results.
type RPZFilter struct {
	RPZZone    string
	Source     string
	Category   string
	ActiveOnly bool
}

// ListRPZRules returns rules matching the filter, ordered by domain for
// deterministic rendering.
func (t *Tx) ListRPZRules(f RPZFilter, opts ListOpts) ([]*model.RPZRule, error) {
	query := `SELECT ` + rpzCols + ` FROM rpz_rules`
	var conds []string
	var args []any
	if f.RPZZone != "" {
		conds = append(conds, "rpz_zone = ?")
		args = append(args, f.RPZZone)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.ActiveOnly {
		conds = append(conds, "is_active = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += opts.clause(map[string]string{"domain": "domain", "created_at": "created_at"}, "domain")

	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var rules []*model.RPZRule
	for rows.Next() {
		r, err := scanRPZRule(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		rules = append(rules, r)
	}
	return rules, wrapDBErr(rows.Err())
}

// UpdateRPZRule writes back a rule.
func (t *Tx) UpdateRPZRule(r *model.RPZRule) error {
	res, err := t.tx.Exec(`
		UPDATE rpz_rules SET action = ?, redirect_target = ?, category = ?, is_active = ?
		WHERE id = ?`,
		r.Action, r.RedirectTarget, r.Category, r.IsActive, r.ID)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "rpz rule %d not found", r.ID)
	}
	return nil
}

// DeleteRPZRule removes one rule.
func (t *Tx) DeleteRPZRule(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM rpz_rules WHERE id = ?`, id)
	if err != nil {
		return wrapDBErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf(errors.KindNotFound, "rpz rule %d not found", id)
	}
	return nil
}

// BulkInsertRPZRules inserts many rules through one prepared statement.
// Existing (rpz_zone, domain) rows are left untouched so pre-existing rules
// keep their source and metadata.
func (t *Tx) BulkInsertRPZRules(rules []*model.RPZRule) (int, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	stmt, err := t.tx.Prepare(`
		INSERT INTO rpz_rules (rpz_zone, domain, action, redirect_target, category,
			source, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rpz_zone, domain) DO NOTHING`)
	if err != nil {
		return 0, wrapDBErr(err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	inserted := 0
	for _, r := range rules {
		res, err := stmt.Exec(r.RPZZone, r.Domain, r.Action, r.RedirectTarget,
			r.Category, r.Source, r.IsActive, now)
		if err != nil {
			return inserted, wrapDBErr(err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// DeleteRPZRulesBySourceDomains removes the named domains owned by source.
func (t *Tx) DeleteRPZRulesBySourceDomains(rpzZone, source string, domains []string) (int, error) {
	if len(domains) == 0 {
		return 0, nil
	}
	stmt, err := t.tx.Prepare(`DELETE FROM rpz_rules WHERE rpz_zone = ? AND source = ? AND domain = ?`)
	if err != nil {
		return 0, wrapDBErr(err)
	}
	defer stmt.Close()

	deleted := 0
	for _, d := range domains {
		res, err := stmt.Exec(rpzZone, source, d)
		if err != nil {
			return deleted, wrapDBErr(err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted++
		}
	}
	return deleted, nil
}

// CountRPZRulesBySource returns the number of rules owned by source.
func (t *Tx) CountRPZRulesBySource(source string) (int, error) {
	var n int
	if err := t.tx.QueryRow(`SELECT COUNT(*) FROM rpz_rules WHERE source = ?`, source).Scan(&n); err != nil {
		return 0, wrapDBErr(err)
	}
	return n, nil
}

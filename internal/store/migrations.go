// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import "fmt"

// migrations are applied in order at startup. Each entry runs at most once;
// the applied version is tracked in schema_migrations. Statements must be
// idempotent anyway (IF NOT EXISTS) so a crash mid-migration is recoverable.
var migrations = []string{
	// 1: base schema
	`
	CREATE TABLE IF NOT EXISTS zones (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		serial INTEGER NOT NULL DEFAULT 0,
		refresh INTEGER NOT NULL DEFAULT 3600,
		retry INTEGER NOT NULL DEFAULT 900,
		expire INTEGER NOT NULL DEFAULT 604800,
		minimum INTEGER NOT NULL DEFAULT 86400,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		masters TEXT NOT NULL DEFAULT '[]',
		forwarders TEXT NOT NULL DEFAULT '[]',
		created_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		zone_id INTEGER NOT NULL REFERENCES zones(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		ttl INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		weight INTEGER NOT NULL DEFAULT 0,
		port INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(zone_id, name, type, value)
	);
	CREATE INDEX IF NOT EXISTS idx_records_zone ON records(zone_id);
	CREATE INDEX IF NOT EXISTS idx_records_name ON records(zone_id, name);
	`,
	// 2: forwarders and health samples
	`
	CREATE TABLE IF NOT EXISTS forwarders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		domain TEXT NOT NULL,
		additional_domains TEXT NOT NULL DEFAULT '[]',
		type TEXT NOT NULL,
		servers TEXT NOT NULL DEFAULT '[]',
		forward_policy TEXT NOT NULL DEFAULT 'first',
		hc_enabled BOOLEAN NOT NULL DEFAULT 0,
		hc_interval_s INTEGER NOT NULL DEFAULT 60,
		hc_timeout_s INTEGER NOT NULL DEFAULT 5,
		hc_retries INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 50,
		weight INTEGER NOT NULL DEFAULT 100,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		health_status TEXT NOT NULL DEFAULT 'unknown',
		last_checked_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS health_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		forwarder_id INTEGER NOT NULL REFERENCES forwarders(id) ON DELETE CASCADE,
		server_ip TEXT NOT NULL,
		ts INTEGER NOT NULL,
		ok BOOLEAN NOT NULL,
		response_ms INTEGER,
		error TEXT NOT NULL DEFAULT '',
		downsampled BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_samples_fwd_ts ON health_samples(forwarder_id, ts);
	`,
	// 3: rpz rules, policy zones, threat feeds
	`
	CREATE TABLE IF NOT EXISTS rpz_zones (
		name TEXT PRIMARY KEY,
		priority INTEGER NOT NULL DEFAULT 100
	);
	CREATE TABLE IF NOT EXISTS rpz_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rpz_zone TEXT NOT NULL,
		domain TEXT NOT NULL,
		action TEXT NOT NULL,
		redirect_target TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'manual',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		UNIQUE(rpz_zone, domain)
	);
	CREATE INDEX IF NOT EXISTS idx_rpz_category ON rpz_rules(category);
	CREATE INDEX IF NOT EXISTS idx_rpz_source ON rpz_rules(source);
	CREATE TABLE IF NOT EXISTS threat_feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		format TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		rpz_zone TEXT NOT NULL,
		update_frequency_s INTEGER NOT NULL DEFAULT 3600,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		last_status TEXT NOT NULL DEFAULT 'never',
		last_attempt_at INTEGER,
		last_success_at INTEGER,
		etag TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		rule_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1
	);
	`,
	// 4: audit log
	`
	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		target_kind TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		before_hash TEXT NOT NULL DEFAULT '',
		after_hash TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL DEFAULT 1,
		note TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
	`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);
		PRAGMA foreign_keys = ON;
	`); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		s.logger.Info("Applied migration", "version", version)
	}
	return nil
}

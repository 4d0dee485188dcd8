package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "pools: per-pool governance configuration",
		SQL: `
CREATE TABLE pools (
    pool_id              TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    scope                TEXT NOT NULL DEFAULT 'global',

    -- Trust component weights (must sum to 1.0, enforced at creation)
    w_reputation         REAL NOT NULL,
    w_validation         REAL NOT NULL,
    w_outcome            REAL NOT NULL,
    w_recency            REAL NOT NULL,
    w_consistency        REAL NOT NULL,

    decay_rate           REAL NOT NULL,
    baseline_reputation  REAL NOT NULL,
    min_confidence       REAL NOT NULL,
    max_validator_weight REAL NOT NULL,
    confirm_quorum       INTEGER NOT NULL DEFAULT 2,

    created_at           INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "artifacts: experience records with mutable trust envelope",
		SQL: `
CREATE TABLE artifacts (
    pool_id            TEXT NOT NULL,
    xr_id              TEXT NOT NULL,
    agent_id           TEXT NOT NULL,
    task_type          TEXT NOT NULL,
    outcome_status     TEXT NOT NULL CHECK (outcome_status IN ('success', 'partial_success', 'failure', 'aborted')),
    parent_xr_id       TEXT,
    self_assessment    REAL NOT NULL DEFAULT 0.0,
    payload            TEXT,
    created_at         INTEGER NOT NULL,

    -- Trust envelope (the only mutable part of a record)
    status             TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'quarantined', 'disputed')),
    validation_state   TEXT NOT NULL DEFAULT 'pending' CHECK (validation_state IN ('pending', 'validated', 'disputed')),
    comp_reputation    REAL NOT NULL,
    comp_validation    REAL NOT NULL,
    comp_outcome       REAL NOT NULL,
    comp_consistency   REAL NOT NULL,
    composite          REAL NOT NULL,
    outlier_flag       INTEGER NOT NULL DEFAULT 0,
    contradictions     INTEGER NOT NULL DEFAULT 0,
    last_recomputed_at INTEGER NOT NULL,
    version            INTEGER NOT NULL DEFAULT 1,

    PRIMARY KEY (pool_id, xr_id),
    FOREIGN KEY (pool_id) REFERENCES pools(pool_id)
);

CREATE INDEX idx_artifacts_task   ON artifacts(pool_id, task_type);
CREATE INDEX idx_artifacts_agent  ON artifacts(pool_id, agent_id);
CREATE INDEX idx_artifacts_status ON artifacts(pool_id, status);
`,
	},
	{
		Version:     3,
		Description: "reputation: pool-scoped per-agent trust baseline",
		SQL: `
CREATE TABLE reputation (
    pool_id          TEXT NOT NULL,
    agent_id         TEXT NOT NULL,
    base_reputation  REAL NOT NULL,
    confirmed_count  INTEGER NOT NULL DEFAULT 0,
    disputed_count   INTEGER NOT NULL DEFAULT 0,
    last_updated_at  INTEGER NOT NULL,
    version          INTEGER NOT NULL DEFAULT 1,

    PRIMARY KEY (pool_id, agent_id),
    FOREIGN KEY (pool_id) REFERENCES pools(pool_id)
);
`,
	},
	{
		Version:     4,
		Description: "validation_events: immutable peer validation history",
		SQL: `
CREATE TABLE validation_events (
    event_id            TEXT PRIMARY KEY,
    pool_id             TEXT NOT NULL,
    xr_id               TEXT NOT NULL,
    validator_id        TEXT NOT NULL,
    event_type          TEXT NOT NULL CHECK (event_type IN ('confirm', 'dispute', 'amend')),
    evidence            TEXT,
    proposed_adjustment REAL NOT NULL DEFAULT 0.0,
    applied_weight      REAL NOT NULL,
    created_at          INTEGER NOT NULL,

    UNIQUE (pool_id, xr_id, validator_id),
    FOREIGN KEY (pool_id, xr_id) REFERENCES artifacts(pool_id, xr_id)
);

CREATE INDEX idx_events_artifact  ON validation_events(pool_id, xr_id);
CREATE INDEX idx_events_validator ON validation_events(pool_id, validator_id);
`,
	},
	{
		Version:     5,
		Description: "outcome_feedback: consumer-reported downstream performance",
		SQL: `
CREATE TABLE outcome_feedback (
    feedback_id TEXT PRIMARY KEY,
    pool_id     TEXT NOT NULL,
    xr_id       TEXT NOT NULL,
    reporter_id TEXT NOT NULL,
    helpful     INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (pool_id, xr_id) REFERENCES artifacts(pool_id, xr_id)
);

CREATE INDEX idx_feedback_artifact ON outcome_feedback(pool_id, xr_id, created_at);
`,
	},
	{
		Version:     6,
		Description: "audit_entries: hash-chained append-only governance log",
		SQL: `
CREATE TABLE audit_entries (
    pool_id      TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    ts           INTEGER NOT NULL,
    actor_id     TEXT NOT NULL,
    operation    TEXT NOT NULL,
    affected_ids TEXT NOT NULL,
    result       TEXT NOT NULL,
    prev_hash    TEXT NOT NULL,
    entry_hash   TEXT NOT NULL,

    PRIMARY KEY (pool_id, seq)
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

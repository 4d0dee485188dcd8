package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Reputation is a pool-scoped running trust baseline for one agent.
// Reputation never travels across pools.
type Reputation struct {
	PoolID         string
	AgentID        string
	BaseReputation float64
	ConfirmedCount int
	DisputedCount  int
	LastUpdatedAt  int64
	Version        int64
}

// GetReputation returns the reputation row for (pool, agent), or nil when the
// agent has no history in the pool yet.
func (db *DB) GetReputation(poolID, agentID string) (*Reputation, error) {
	var r Reputation
	err := db.QueryRow(`
		SELECT pool_id, agent_id, base_reputation, confirmed_count, disputed_count, last_updated_at, version
		FROM reputation WHERE pool_id = ? AND agent_id = ?
	`, poolID, agentID).Scan(&r.PoolID, &r.AgentID, &r.BaseReputation,
		&r.ConfirmedCount, &r.DisputedCount, &r.LastUpdatedAt, &r.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	return &r, nil
}

// EnsureReputation returns the reputation for (pool, agent), creating it
// lazily at the pool's configured baseline on first contact.
func (db *DB) EnsureReputation(poolID, agentID string, baseline float64) (*Reputation, error) {
	r, err := db.GetReputation(poolID, agentID)
	if err != nil {
		return nil, err
	}
	if r != nil {
		return r, nil
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT OR IGNORE INTO reputation (pool_id, agent_id, base_reputation, last_updated_at)
		VALUES (?, ?, ?, ?)
	`, poolID, agentID, baseline, now)
	if err != nil {
		return nil, fmt.Errorf("create reputation: %w", err)
	}
	return db.GetReputation(poolID, agentID)
}

// updateReputationTx applies a reputation change with a version check inside
// an existing transaction.
func updateReputationTx(tx *sql.Tx, r *Reputation) error {
	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		UPDATE reputation SET
			base_reputation = ?, confirmed_count = ?, disputed_count = ?,
			last_updated_at = ?, version = version + 1
		WHERE pool_id = ? AND agent_id = ? AND version = ?
	`, r.BaseReputation, r.ConfirmedCount, r.DisputedCount, now,
		r.PoolID, r.AgentID, r.Version)
	if err != nil {
		return fmt.Errorf("update reputation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

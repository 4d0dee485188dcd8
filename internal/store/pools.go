package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Pool holds a pool's identity and its governance configuration. The
// configuration is immutable during an evaluation: engine code reads the row
// once per operation and passes the snapshot down.
type Pool struct {
	PoolID             string
	Name               string
	Scope              string
	WeightReputation   float64
	WeightValidation   float64
	WeightOutcome      float64
	WeightRecency      float64
	WeightConsistency  float64
	DecayRate          float64 // lambda, per day
	BaselineReputation float64
	MinConfidence      float64
	MaxValidatorWeight float64
	ConfirmQuorum      int
	CreatedAt          int64
}

// WeightSum returns the sum of the five trust component weights.
func (p *Pool) WeightSum() float64 {
	return p.WeightReputation + p.WeightValidation + p.WeightOutcome +
		p.WeightRecency + p.WeightConsistency
}

// CreatePool inserts a new pool row and its audit entry in one transaction.
// Either both commit or neither does.
func (db *DB) CreatePool(p *Pool, entry *AuditEntry) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin create pool: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO pools (pool_id, name, scope,
			w_reputation, w_validation, w_outcome, w_recency, w_consistency,
			decay_rate, baseline_reputation, min_confidence, max_validator_weight,
			confirm_quorum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.PoolID, p.Name, p.Scope,
		p.WeightReputation, p.WeightValidation, p.WeightOutcome, p.WeightRecency, p.WeightConsistency,
		p.DecayRate, p.BaselineReputation, p.MinConfidence, p.MaxValidatorWeight,
		p.ConfirmQuorum, now)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	if err := appendAuditTx(tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create pool: %w", err)
	}
	p.CreatedAt = now
	return nil
}

// GetPool returns a pool by id, or nil if not found.
func (db *DB) GetPool(poolID string) (*Pool, error) {
	var p Pool
	err := db.QueryRow(`
		SELECT pool_id, name, scope,
			w_reputation, w_validation, w_outcome, w_recency, w_consistency,
			decay_rate, baseline_reputation, min_confidence, max_validator_weight,
			confirm_quorum, created_at
		FROM pools WHERE pool_id = ?
	`, poolID).Scan(&p.PoolID, &p.Name, &p.Scope,
		&p.WeightReputation, &p.WeightValidation, &p.WeightOutcome, &p.WeightRecency, &p.WeightConsistency,
		&p.DecayRate, &p.BaselineReputation, &p.MinConfidence, &p.MaxValidatorWeight,
		&p.ConfirmQuorum, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return &p, nil
}

// ListPools returns all pools ordered by creation time.
func (db *DB) ListPools() ([]Pool, error) {
	rows, err := db.Query(`
		SELECT pool_id, name, scope,
			w_reputation, w_validation, w_outcome, w_recency, w_consistency,
			decay_rate, baseline_reputation, min_confidence, max_validator_weight,
			confirm_quorum, created_at
		FROM pools ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.PoolID, &p.Name, &p.Scope,
			&p.WeightReputation, &p.WeightValidation, &p.WeightOutcome, &p.WeightRecency, &p.WeightConsistency,
			&p.DecayRate, &p.BaselineReputation, &p.MinConfidence, &p.MaxValidatorWeight,
			&p.ConfirmQuorum, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

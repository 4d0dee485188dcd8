package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateEvent signals that a validator already has a recorded event for
// the artifact.
var ErrDuplicateEvent = errors.New("duplicate validation event")

// ValidationEvent is an immutable peer judgment of an artifact. AppliedWeight
// is computed once at processing time and frozen; later graph recomputation
// discounts a validator's contribution at scoring time instead of rewriting
// history.
type ValidationEvent struct {
	EventID            string
	PoolID             string
	XRID               string
	ValidatorID        string
	EventType          string // confirm | dispute | amend
	Evidence           string
	ProposedAdjustment float64
	AppliedWeight      float64
	CreatedAt          int64
}

// OutcomeFeedback is a consumer report on how an artifact performed downstream.
type OutcomeFeedback struct {
	FeedbackID string
	PoolID     string
	XRID       string
	ReporterID string
	Helpful    bool
	CreatedAt  int64
}

// ApplyValidation records a validation event, the reputation updates it
// causes, the artifact's recomputed trust envelope, and the audit entry —
// all in one transaction.
func (db *DB) ApplyValidation(ev *ValidationEvent, depositor, validator *Reputation,
	expectVersion int64, u TrustUpdate, entry *AuditEntry) error {

	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin validation: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO validation_events
			(event_id, pool_id, xr_id, validator_id, event_type, evidence, proposed_adjustment, applied_weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.PoolID, ev.XRID, ev.ValidatorID, ev.EventType,
		ev.Evidence, ev.ProposedAdjustment, ev.AppliedWeight, ev.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert validation event: %w", err)
	}

	if depositor != nil {
		if err := updateReputationTx(tx, depositor); err != nil {
			return err
		}
	}
	if validator != nil {
		if err := updateReputationTx(tx, validator); err != nil {
			return err
		}
	}

	res, err := tx.Exec(`
		UPDATE artifacts SET
			status = ?, validation_state = ?,
			comp_reputation = ?, comp_validation = ?, comp_outcome = ?, comp_consistency = ?,
			composite = ?, outlier_flag = ?, contradictions = ?,
			last_recomputed_at = ?, version = version + 1
		WHERE pool_id = ? AND xr_id = ? AND version = ?
	`, u.Status, u.ValidationState,
		u.CompReputation, u.CompValidation, u.CompOutcome, u.CompConsistency,
		u.Composite, boolInt(u.OutlierFlag), u.Contradictions,
		u.LastRecomputedAt,
		ev.PoolID, ev.XRID, expectVersion)
	if err != nil {
		return fmt.Errorf("update artifact trust: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}

	if err := appendAuditTx(tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// HasValidated reports whether a validator has an event on record for an artifact.
func (db *DB) HasValidated(poolID, xrID, validatorID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM validation_events
		WHERE pool_id = ? AND xr_id = ? AND validator_id = ?
	`, poolID, xrID, validatorID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check validator: %w", err)
	}
	return n > 0, nil
}

// ListEventsByArtifact returns an artifact's validation events in arrival order.
func (db *DB) ListEventsByArtifact(poolID, xrID string) ([]ValidationEvent, error) {
	return db.queryEvents(`
		SELECT event_id, pool_id, xr_id, validator_id, event_type, evidence, proposed_adjustment, applied_weight, created_at
		FROM validation_events WHERE pool_id = ? AND xr_id = ? ORDER BY created_at, event_id
	`, poolID, xrID)
}

// ListEventsByPool returns every validation event in a pool, the raw material
// for the validator correlation graph.
func (db *DB) ListEventsByPool(poolID string) ([]ValidationEvent, error) {
	return db.queryEvents(`
		SELECT event_id, pool_id, xr_id, validator_id, event_type, evidence, proposed_adjustment, applied_weight, created_at
		FROM validation_events WHERE pool_id = ? ORDER BY created_at, event_id
	`, poolID)
}

func (db *DB) queryEvents(query string, args ...any) ([]ValidationEvent, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []ValidationEvent
	for rows.Next() {
		var ev ValidationEvent
		if err := rows.Scan(&ev.EventID, &ev.PoolID, &ev.XRID, &ev.ValidatorID, &ev.EventType,
			&ev.Evidence, &ev.ProposedAdjustment, &ev.AppliedWeight, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AddFeedback records outcome feedback and its audit entry in one transaction.
func (db *DB) AddFeedback(f *OutcomeFeedback, entry *AuditEntry) error {
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin feedback: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO outcome_feedback (feedback_id, pool_id, xr_id, reporter_id, helpful, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.FeedbackID, f.PoolID, f.XRID, f.ReporterID, boolInt(f.Helpful), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}

	if err := appendAuditTx(tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// ListFeedback returns an artifact's outcome feedback in arrival order.
func (db *DB) ListFeedback(poolID, xrID string) ([]OutcomeFeedback, error) {
	rows, err := db.Query(`
		SELECT feedback_id, pool_id, xr_id, reporter_id, helpful, created_at
		FROM outcome_feedback WHERE pool_id = ? AND xr_id = ? ORDER BY created_at, feedback_id
	`, poolID, xrID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []OutcomeFeedback
	for rows.Next() {
		var f OutcomeFeedback
		var helpful int
		if err := rows.Scan(&f.FeedbackID, &f.PoolID, &f.XRID, &f.ReporterID, &helpful, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.Helpful = helpful != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

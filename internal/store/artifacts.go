package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict signals that a compare-and-swap write lost a race and
// should be retried with fresh state.
var ErrVersionConflict = errors.New("version conflict")

// Artifact is an experience record: an immutable content payload plus the
// mutable trust envelope the governance engine maintains.
type Artifact struct {
	PoolID         string
	XRID           string
	AgentID        string
	TaskType       string
	OutcomeStatus  string
	ParentXRID     string
	SelfAssessment float64
	Payload        string // opaque JSON, never touched after deposit
	CreatedAt      int64

	// Trust envelope
	Status           string // active | quarantined | disputed
	ValidationState  string // pending | validated | disputed
	CompReputation   float64
	CompValidation   float64
	CompOutcome      float64
	CompConsistency  float64
	Composite        float64
	OutlierFlag      bool
	Contradictions   int
	LastRecomputedAt int64
	Version          int64
}

// TrustUpdate carries the recomputed trust envelope for a CAS write.
type TrustUpdate struct {
	Status           string
	ValidationState  string
	CompReputation   float64
	CompValidation   float64
	CompOutcome      float64
	CompConsistency  float64
	Composite        float64
	OutlierFlag      bool
	Contradictions   int
	LastRecomputedAt int64
}

const artifactCols = `pool_id, xr_id, agent_id, task_type, outcome_status, parent_xr_id,
	self_assessment, payload, created_at,
	status, validation_state, comp_reputation, comp_validation, comp_outcome,
	comp_consistency, composite, outlier_flag, contradictions, last_recomputed_at, version`

// CreateArtifact inserts an artifact and its audit entry in one transaction.
// Either both commit or neither does.
func (db *DB) CreateArtifact(a *Artifact, entry *AuditEntry) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	if a.LastRecomputedAt == 0 {
		a.LastRecomputedAt = a.CreatedAt
	}
	a.Version = 1

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin deposit: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO artifacts (`+artifactCols+`)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.PoolID, a.XRID, a.AgentID, a.TaskType, a.OutcomeStatus, a.ParentXRID,
		a.SelfAssessment, a.Payload, a.CreatedAt,
		a.Status, a.ValidationState, a.CompReputation, a.CompValidation, a.CompOutcome,
		a.CompConsistency, a.Composite, boolInt(a.OutlierFlag), a.Contradictions,
		a.LastRecomputedAt, a.Version)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}

	if err := appendAuditTx(tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// GetArtifact returns an artifact by id, or nil if not found.
func (db *DB) GetArtifact(poolID, xrID string) (*Artifact, error) {
	row := db.QueryRow(`SELECT `+artifactCols+` FROM artifacts WHERE pool_id = ? AND xr_id = ?`,
		poolID, xrID)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns all artifacts in a pool ordered by xr_id for
// deterministic iteration.
func (db *DB) ListArtifacts(poolID string) ([]Artifact, error) {
	rows, err := db.Query(`SELECT `+artifactCols+` FROM artifacts WHERE pool_id = ? ORDER BY xr_id`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ListArtifactsByTaskRoot returns artifacts whose task classification equals
// root or descends from it (hierarchical dot notation).
func (db *DB) ListArtifactsByTaskRoot(poolID, root string) ([]Artifact, error) {
	rows, err := db.Query(`
		SELECT `+artifactCols+` FROM artifacts
		WHERE pool_id = ? AND (task_type = ? OR task_type LIKE ?)
		ORDER BY xr_id
	`, poolID, root, root+".%")
	if err != nil {
		return nil, fmt.Errorf("list artifacts by task: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ListArtifactsByAgent returns all artifacts deposited by an agent in a pool.
func (db *DB) ListArtifactsByAgent(poolID, agentID string) ([]Artifact, error) {
	rows, err := db.Query(`SELECT `+artifactCols+` FROM artifacts WHERE pool_id = ? AND agent_id = ? ORDER BY xr_id`,
		poolID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by agent: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// UpdateTrustState applies a recomputed trust envelope with a version check
// and appends the audit entry in the same transaction. Returns
// ErrVersionConflict when the artifact changed since it was read.
func (db *DB) UpdateTrustState(poolID, xrID string, expectVersion int64, u TrustUpdate, entry *AuditEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin trust update: %w", err)
	}
	defer tx.Rollback()

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
		poolID, xrID, expectVersion)
	if err != nil {
		return fmt.Errorf("update trust state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrVersionConflict
	}

	if entry != nil {
		if err := appendAuditTx(tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ArtifactStats summarizes a pool's contents for inspection.
type ArtifactStats struct {
	Total         int
	Agents        int
	AvgComposite  float64
	ByStatus      map[string]int
	ByOutcome     map[string]int
	ByValidation  map[string]int
	LastDeposited int64
}

// PoolStats aggregates artifact counts and distributions for a pool.
func (db *DB) PoolStats(poolID string) (*ArtifactStats, error) {
	stats := &ArtifactStats{
		ByStatus:     make(map[string]int),
		ByOutcome:    make(map[string]int),
		ByValidation: make(map[string]int),
	}

	err := db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT agent_id), COALESCE(AVG(composite), 0), COALESCE(MAX(created_at), 0)
		FROM artifacts WHERE pool_id = ?
	`, poolID).Scan(&stats.Total, &stats.Agents, &stats.AvgComposite, &stats.LastDeposited)
	if err != nil {
		return nil, fmt.Errorf("pool stats: %w", err)
	}

	for col, m := range map[string]map[string]int{
		"status":           stats.ByStatus,
		"outcome_status":   stats.ByOutcome,
		"validation_state": stats.ByValidation,
	} {
		rows, err := db.Query(
			fmt.Sprintf("SELECT %s, COUNT(*) FROM artifacts WHERE pool_id = ? GROUP BY %s", col, col),
			poolID)
		if err != nil {
			return nil, fmt.Errorf("pool stats %s: %w", col, err)
		}
		for rows.Next() {
			var k string
			var n int
			if err := rows.Scan(&k, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan pool stats: %w", err)
			}
			m[k] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return stats, nil
}

func scanArtifact(row *sql.Row) (*Artifact, error) {
	var a Artifact
	var parent sql.NullString
	var payload sql.NullString
	var outlier int
	err := row.Scan(&a.PoolID, &a.XRID, &a.AgentID, &a.TaskType, &a.OutcomeStatus, &parent,
		&a.SelfAssessment, &payload, &a.CreatedAt,
		&a.Status, &a.ValidationState, &a.CompReputation, &a.CompValidation, &a.CompOutcome,
		&a.CompConsistency, &a.Composite, &outlier, &a.Contradictions,
		&a.LastRecomputedAt, &a.Version)
	if err != nil {
		return nil, err
	}
	a.ParentXRID = parent.String
	a.Payload = payload.String
	a.OutlierFlag = outlier != 0
	return &a, nil
}

func scanArtifacts(rows *sql.Rows) ([]Artifact, error) {
	var out []Artifact
	for rows.Next() {
		var a Artifact
		var parent sql.NullString
		var payload sql.NullString
		var outlier int
		if err := rows.Scan(&a.PoolID, &a.XRID, &a.AgentID, &a.TaskType, &a.OutcomeStatus, &parent,
			&a.SelfAssessment, &payload, &a.CreatedAt,
			&a.Status, &a.ValidationState, &a.CompReputation, &a.CompValidation, &a.CompOutcome,
			&a.CompConsistency, &a.Composite, &outlier, &a.Contradictions,
			&a.LastRecomputedAt, &a.Version); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.ParentXRID = parent.String
		a.Payload = payload.String
		a.OutlierFlag = outlier != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

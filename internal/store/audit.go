package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the prev_hash of the first entry in every pool's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEntry is one link of a pool's tamper-evident governance log.
// EntryHash binds the entry to its predecessor: altering any recorded field
// invalidates the chain from that point on.
type AuditEntry struct {
	PoolID      string   `json:"pool_id"`
	Seq         int64    `json:"seq"`
	TS          int64    `json:"ts"`
	ActorID     string   `json:"actor_id"`
	Operation   string   `json:"operation"`
	AffectedIDs []string `json:"affected_ids"`
	Result      string   `json:"result"`
	PrevHash    string   `json:"-"`
	EntryHash   string   `json:"-"`
}

// hashEntry computes sha256(prev_hash || canonical_encoding(entry_fields)).
// The canonical encoding is the JSON of the hashed fields in declaration
// order, which encoding/json emits deterministically.
func hashEntry(prevHash string, e *AuditEntry) (string, error) {
	canonical, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// appendAuditTx appends an entry to the pool's chain inside an existing
// transaction. The (pool_id, seq) primary key turns concurrent appends into
// constraint failures, surfaced as ErrVersionConflict for retry.
func appendAuditTx(tx *sql.Tx, e *AuditEntry) error {
	if e.TS == 0 {
		e.TS = time.Now().UnixMilli()
	}

	var lastSeq int64
	var lastHash string
	err := tx.QueryRow(`
		SELECT seq, entry_hash FROM audit_entries
		WHERE pool_id = ? ORDER BY seq DESC LIMIT 1
	`, e.PoolID).Scan(&lastSeq, &lastHash)
	if err == sql.ErrNoRows {
		lastSeq = 0
		lastHash = GenesisHash
	} else if err != nil {
		return fmt.Errorf("read audit tail: %w", err)
	}

	e.Seq = lastSeq + 1
	e.PrevHash = lastHash
	e.EntryHash, err = hashEntry(lastHash, e)
	if err != nil {
		return err
	}

	affected, err := json.Marshal(e.AffectedIDs)
	if err != nil {
		return fmt.Errorf("encode affected ids: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO audit_entries (pool_id, seq, ts, actor_id, operation, affected_ids, result, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.PoolID, e.Seq, e.TS, e.ActorID, e.Operation, string(affected), e.Result, e.PrevHash, e.EntryHash)
	if err != nil {
		// A concurrent append took our sequence number; anything else is a
		// real failure and must not look retryable.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("append audit entry: %w", ErrVersionConflict)
		}
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AppendAudit appends a standalone audit entry (one not tied to another
// write) in its own transaction.
func (db *DB) AppendAudit(e *AuditEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	if err := appendAuditTx(tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// ListAudit returns a pool's audit entries in sequence order.
func (db *DB) ListAudit(poolID string) ([]AuditEntry, error) {
	rows, err := db.Query(`
		SELECT pool_id, seq, ts, actor_id, operation, affected_ids, result, prev_hash, entry_hash
		FROM audit_entries WHERE pool_id = ? ORDER BY seq
	`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var affected string
		if err := rows.Scan(&e.PoolID, &e.Seq, &e.TS, &e.ActorID, &e.Operation,
			&affected, &e.Result, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(affected), &e.AffectedIDs); err != nil {
			return nil, fmt.Errorf("decode affected ids: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AuditLength returns the number of entries in a pool's chain.
func (db *DB) AuditLength(poolID string) (int64, error) {
	var n int64
	err := db.QueryRow("SELECT COUNT(*) FROM audit_entries WHERE pool_id = ?", poolID).Scan(&n)
	return n, err
}

// VerifyAuditChain walks a pool's chain recomputing every hash. It returns
// the sequence number of the first corrupt entry, or 0 when the chain is
// intact. Corruption is reported, never repaired.
func (db *DB) VerifyAuditChain(poolID string) (int64, error) {
	entries, err := db.ListAudit(poolID)
	if err != nil {
		return 0, err
	}

	prev := GenesisHash
	expectSeq := int64(1)
	for i := range entries {
		e := entries[i]
		if e.Seq != expectSeq {
			return e.Seq, nil // gap or reorder
		}
		if e.PrevHash != prev {
			return e.Seq, nil
		}
		want, err := hashEntry(prev, &e)
		if err != nil {
			return 0, err
		}
		if want != e.EntryHash {
			return e.Seq, nil
		}
		prev = e.EntryHash
		expectSeq++
	}
	return 0, nil
}

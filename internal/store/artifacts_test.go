package store

import (
	"errors"
	"fmt"
	"testing"
)

func testPool(t *testing.T, db *DB, poolID string) *Pool {
	t.Helper()
	p := &Pool{
		PoolID:             poolID,
		Name:               "test pool",
		Scope:              "global",
		WeightReputation:   0.30,
		WeightValidation:   0.25,
		WeightOutcome:      0.25,
		WeightRecency:      0.10,
		WeightConsistency:  0.10,
		DecayRate:          0.01,
		BaselineReputation: 0.5,
		MinConfidence:      0.3,
		MaxValidatorWeight: 1.0,
		ConfirmQuorum:      2,
	}
	entry := &AuditEntry{
		PoolID: poolID, ActorID: "admin", Operation: "create_pool",
		AffectedIDs: []string{poolID}, Result: "created",
	}
	if err := db.CreatePool(p, entry); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return p
}

func testArtifact(t *testing.T, db *DB, poolID, xrID, agentID, taskType string) *Artifact {
	t.Helper()
	a := &Artifact{
		PoolID:          poolID,
		XRID:            xrID,
		AgentID:         agentID,
		TaskType:        taskType,
		OutcomeStatus:   "success",
		SelfAssessment:  0.8,
		Payload:         `{"approach":"test"}`,
		Status:          "active",
		ValidationState: "pending",
		CompReputation:  0.5,
		CompValidation:  0.5,
		CompOutcome:     0.5,
		CompConsistency: 0.5,
		Composite:       0.55,
	}
	entry := &AuditEntry{
		PoolID: poolID, ActorID: agentID, Operation: "deposit",
		AffectedIDs: []string{xrID}, Result: "accepted",
	}
	if err := db.CreateArtifact(a, entry); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	return a
}

func TestCreateAndGetArtifact(t *testing.T) {
	db := testDB(t)
	testPool(t, db, "pool-a")
	testArtifact(t, db, "pool-a", "xr-1", "agent-1", "code.refactor")

	got, err := db.GetArtifact("pool-a", "xr-1")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got == nil {
		t.Fatal("artifact not found after create")
	}
	if got.AgentID != "agent-1" || got.TaskType != "code.refactor" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("initial version = %d, want 1", got.Version)
	}

	// Pool creation and the deposit each committed with an audit entry.
	n, err := db.AuditLength("pool-a")
	if err != nil {
		t.Fatalf("AuditLength: %v", err)
	}
	if n != 2 {
		t.Errorf("audit length = %d, want 2", n)
	}
}

func TestGetArtifactMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetArtifact("pool-a", "nope")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing artifact, got %+v", got)
	}
}

func TestListArtifactsByTaskRoot(t *testing.T) {
	db := testDB(t)
	testPool(t, db, "pool-a")
	testArtifact(t, db, "pool-a", "xr-1", "agent-1", "code.refactor")
	testArtifact(t, db, "pool-a", "xr-2", "agent-1", "code.refactor.rename")
	testArtifact(t, db, "pool-a", "xr-3", "agent-2", "code")
	testArtifact(t, db, "pool-a", "xr-4", "agent-2", "research.summarize")
	testArtifact(t, db, "pool-a", "xr-5", "agent-2", "codegen.sql")

	got, err := db.ListArtifactsByTaskRoot("pool-a", "code")
	if err != nil {
		t.Fatalf("ListArtifactsByTaskRoot: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d artifacts, want 3", len(got))
	}
	// "codegen" must not match the "code" subtree.
	for _, a := range got {
		if a.TaskType == "codegen.sql" || a.TaskType == "research.summarize" {
			t.Errorf("artifact %s (%s) should not match root 'code'", a.XRID, a.TaskType)
		}
	}
}

func TestUpdateTrustStateVersionConflict(t *testing.T) {
	db := testDB(t)
	testPool(t, db, "pool-a")
	a := testArtifact(t, db, "pool-a", "xr-1", "agent-1", "code.refactor")

	u := TrustUpdate{
		Status: "active", ValidationState: "pending",
		CompReputation: 0.5, CompValidation: 0.6, CompOutcome: 0.5, CompConsistency: 0.5,
		Composite: 0.575,
	}
	entry := &AuditEntry{
		PoolID: "pool-a", ActorID: "agent-2", Operation: "validate",
		AffectedIDs: []string{"xr-1"}, Result: "confirm",
	}

	if err := db.UpdateTrustState("pool-a", "xr-1", a.Version, u, entry); err != nil {
		t.Fatalf("UpdateTrustState: %v", err)
	}

	// Retrying with the stale version must fail, not silently overwrite.
	err := db.UpdateTrustState("pool-a", "xr-1", a.Version, u, entry)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale update err = %v, want ErrVersionConflict", err)
	}

	got, err := db.GetArtifact("pool-a", "xr-1")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2 after one update", got.Version)
	}
	if got.Composite != 0.575 {
		t.Errorf("composite = %v, want 0.575", got.Composite)
	}
}

func TestPoolStats(t *testing.T) {
	db := testDB(t)
	testPool(t, db, "pool-a")
	for i := 0; i < 4; i++ {
		testArtifact(t, db, "pool-a", fmt.Sprintf("xr-%d", i), "agent-1", "code.refactor")
	}
	testArtifact(t, db, "pool-a", "xr-other", "agent-2", "research.summarize")

	stats, err := db.PoolStats("pool-a")
	if err != nil {
		t.Fatalf("PoolStats: %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("total = %d, want 5", stats.Total)
	}
	if stats.Agents != 2 {
		t.Errorf("agents = %d, want 2", stats.Agents)
	}
	if stats.ByStatus["active"] != 5 {
		t.Errorf("active count = %d, want 5", stats.ByStatus["active"])
	}
	if stats.AvgComposite < 0.54 || stats.AvgComposite > 0.56 {
		t.Errorf("avg composite = %v, want ~0.55", stats.AvgComposite)
	}
}

package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestValidateConfirmQuorum(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	first, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{EventType: "confirm"})
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if first.ValidationState != "pending" {
		t.Errorf("state after one confirm = %s, want pending (quorum is 2)", first.ValidationState)
	}

	second, err := e.Validate("agent-3", pool.PoolID, a.XRID, &ValidateRequest{EventType: "confirm"})
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if second.ValidationState != "validated" {
		t.Errorf("state after quorum = %s, want validated", second.ValidationState)
	}

	// Each confirm nudges the depositor's reputation up by the fixed step.
	rep, err := e.DB.GetReputation(pool.PoolID, "agent-1")
	if err != nil {
		t.Fatalf("GetReputation: %v", err)
	}
	if math.Abs(rep.BaseReputation-0.6) > 1e-9 || rep.ConfirmedCount != 2 {
		t.Errorf("depositor reputation = %+v, want base 0.6 confirmed 2", rep)
	}
}

func TestValidateDispute(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	updated, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{
		EventType: "dispute",
		Evidence:  "approach fails on generic methods",
	})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if updated.ValidationState != "disputed" {
		t.Errorf("state = %s, want disputed", updated.ValidationState)
	}
	if updated.Status != "disputed" {
		t.Errorf("status = %s, want disputed", updated.Status)
	}

	rep, _ := e.DB.GetReputation(pool.PoolID, "agent-1")
	if math.Abs(rep.BaseReputation-0.45) > 1e-9 || rep.DisputedCount != 1 {
		t.Errorf("depositor reputation = %+v, want base 0.45 disputed 1", rep)
	}
}

func TestValidateAmendNoTransition(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	updated, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{
		EventType: "amend",
		Evidence:  "also works with build tags",
	})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if updated.ValidationState != "pending" || updated.Status != "active" {
		t.Errorf("amend transitioned state: %s/%s", updated.Status, updated.ValidationState)
	}

	rep, _ := e.DB.GetReputation(pool.PoolID, "agent-1")
	if rep.BaseReputation != 0.5 {
		t.Errorf("amend moved reputation to %v", rep.BaseReputation)
	}
}

func TestValidateSelfRejected(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	_, err := e.Validate("agent-1", pool.PoolID, a.XRID, &ValidateRequest{EventType: "confirm"})
	if !errors.Is(err, ErrSelfValidation) {
		t.Errorf("err = %v, want ErrSelfValidation", err)
	}
}

func TestValidateDuplicateRejected(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	if _, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{EventType: "confirm"}); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	_, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{EventType: "dispute"})
	if !errors.Is(err, ErrDuplicateValidator) {
		t.Errorf("err = %v, want ErrDuplicateValidator", err)
	}
}

func TestValidateUnknownArtifact(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	_, err := e.Validate("agent-2", pool.PoolID, "no-such-xr", &ValidateRequest{EventType: "confirm"})
	if !errors.Is(err, ErrUnknownArtifact) {
		t.Errorf("err = %v, want ErrUnknownArtifact", err)
	}
}

func TestValidateBadEventType(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	_, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{EventType: "endorse"})
	if !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("err = %v, want ErrSchemaInvalid", err)
	}
}

func TestValidateWeightIsReputationCapped(t *testing.T) {
	maxWeight := 0.2
	e := testEngine(t)
	pool, err := e.CreatePool("admin", PoolRequest{Name: "capped", MaxValidatorWeight: &maxWeight})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	if _, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{EventType: "confirm"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	events, err := e.DB.ListEventsByArtifact(pool.PoolID, a.XRID)
	if err != nil {
		t.Fatalf("ListEventsByArtifact: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	// Baseline reputation is 0.5; the pool cap of 0.2 wins.
	if events[0].AppliedWeight != 0.2 {
		t.Errorf("applied weight = %v, want 0.2 (pool cap)", events[0].AppliedWeight)
	}
}

func TestValidateFirstEventWeight(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)
	a := deposit(t, e, pool.PoolID, "agent-1", "code.refactor", 0.8)

	if _, err := e.Validate("agent-2", pool.PoolID, a.XRID, &ValidateRequest{EventType: "confirm"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	events, _ := e.DB.ListEventsByArtifact(pool.PoolID, a.XRID)
	// A validator with no history carries no correlation discount: weight is
	// their baseline reputation, frozen into the event.
	if len(events) != 1 || events[0].AppliedWeight != 0.5 {
		t.Errorf("events = %+v, want one with weight 0.5", events)
	}
}

func TestValidateCoValidatorsDiscounted(t *testing.T) {
	e := testEngine(t)
	pool := makePool(t, e)

	// agent-b and agent-c co-validate ten of agent-a's artifacts, building a
	// fully correlated history.
	for i := 0; i < 10; i++ {
		xr := fmt.Sprintf("prior-%d", i)
		if _, err := e.Deposit("agent-a", pool.PoolID, &DepositRequest{
			XRID: xr, AgentID: "agent-a", TaskType: "code.refactor",
			OutcomeStatus: "success", SelfAssessment: 0.8,
		}); err != nil {
			t.Fatalf("deposit %s: %v", xr, err)
		}
		for _, v := range []string{"agent-b", "agent-c"} {
			if _, err := e.Validate(v, pool.PoolID, xr, &ValidateRequest{EventType: "confirm"}); err != nil {
				t.Fatalf("confirm %s by %s: %v", xr, v, err)
			}
		}
	}

	x := deposit(t, e, pool.PoolID, "agent-a", "code.refactor", 0.8)
	for _, v := range []string{"agent-b", "agent-c"} {
		if _, err := e.Validate(v, pool.PoolID, x.XRID, &ValidateRequest{EventType: "confirm"}); err != nil {
			t.Fatalf("confirm x by %s: %v", v, err)
		}
	}

	events, err := e.DB.ListEventsByArtifact(pool.PoolID, x.XRID)
	if err != nil {
		t.Fatalf("ListEventsByArtifact: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	// Two independent first-time validators would each carry their baseline
	// 0.5; the correlated pair must come in strictly below that combined.
	combined := events[0].AppliedWeight + events[1].AppliedWeight
	if combined >= 1.0 {
		t.Errorf("correlated pair combined weight = %v, want < 1.0", combined)
	}
	for _, ev := range events {
		if ev.AppliedWeight >= 0.5 {
			t.Errorf("correlated validator %s weight = %v, want < 0.5", ev.ValidatorID, ev.AppliedWeight)
		}
	}
}

func TestValidateQuarantinedBlocked(t *testing.T) {
	minConf := 0.6
	e := testEngine(t)
	pool, err := e.CreatePool("admin", PoolRequest{Name: "strict", MinConfidence: &minConf})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	deposit(t, e, pool.PoolID, "agent-1", "deploy.rollout", 0.8)
	b, err := e.Deposit("agent-2", pool.PoolID, &DepositRequest{
		AgentID: "agent-2", TaskType: "deploy.rollout",
		OutcomeStatus: "failure", SelfAssessment: 0.8,
	})
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if b.Status != "quarantined" {
		t.Fatalf("setup: status = %s, want quarantined", b.Status)
	}

	_, err = e.Validate("agent-3", pool.PoolID, b.XRID, &ValidateRequest{EventType: "confirm"})
	if !errors.Is(err, ErrQuarantineBlocked) {
		t.Errorf("err = %v, want ErrQuarantineBlocked", err)
	}
}

package engine

import (
	"math"
	"testing"
	"time"

	"github.com/xrpool/governor/internal/store"
)

func defaultWeightsPool() *store.Pool {
	return &store.Pool{
		WeightReputation:   0.30,
		WeightValidation:   0.25,
		WeightOutcome:      0.25,
		WeightRecency:      0.10,
		WeightConsistency:  0.10,
		DecayRate:          0.01,
		BaselineReputation: 0.5,
	}
}

func TestCompositeNewAgentScenario(t *testing.T) {
	pool := defaultWeightsPool()
	c := Components{
		Reputation:  0.5,
		Validation:  0.5,
		Outcome:     0.5,
		Recency:     1.0,
		Consistency: 0.5,
	}
	got := c.Composite(pool)
	if math.Abs(got-0.55) > 1e-9 {
		t.Errorf("composite = %v, want 0.55", got)
	}
}

func TestCompositeBounds(t *testing.T) {
	pool := defaultWeightsPool()
	for _, c := range []Components{
		{},
		{Reputation: 1, Validation: 1, Outcome: 1, Recency: 1, Consistency: 1},
		{Reputation: 0.3, Validation: 0.9, Outcome: 0.1, Recency: 0.5, Consistency: 0.7},
	} {
		got := c.Composite(pool)
		if got < 0 || got > 1 {
			t.Errorf("composite %v outside [0,1] for %+v", got, c)
		}
	}
}

func TestRecencyFactorDecay(t *testing.T) {
	pool := defaultWeightsPool()
	now := time.Now()

	fresh := recencyFactor(pool, now.UnixMilli(), now)
	if math.Abs(fresh-1.0) > 1e-9 {
		t.Errorf("zero-age recency = %v, want 1.0", fresh)
	}

	// e^(-0.01 * 100) ~= 0.3679
	old := recencyFactor(pool, now.AddDate(0, 0, -100).UnixMilli(), now)
	if math.Abs(old-math.Exp(-1)) > 1e-3 {
		t.Errorf("100-day recency = %v, want ~%v", old, math.Exp(-1))
	}

	// Strictly monotone in age.
	prev := 1.0
	for days := 1; days <= 365; days *= 2 {
		r := recencyFactor(pool, now.AddDate(0, 0, -days).UnixMilli(), now)
		if r >= prev {
			t.Errorf("recency at %d days = %v, not below %v", days, r, prev)
		}
		prev = r
	}

	// A clock skewed into the future never boosts above 1.0.
	future := recencyFactor(pool, now.Add(time.Hour).UnixMilli(), now)
	if future > 1.0 {
		t.Errorf("future-dated recency = %v, want <= 1.0", future)
	}
}

func TestValidationSignal(t *testing.T) {
	if got := validationSignal(nil, nil); got != neutralSignal {
		t.Errorf("no events = %v, want %v", got, neutralSignal)
	}

	confirm := []store.ValidationEvent{{EventType: "confirm", ValidatorID: "v1", AppliedWeight: 1.0}}
	if got := validationSignal(confirm, nil); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("one full-weight confirm = %v, want 0.75", got)
	}

	dispute := []store.ValidationEvent{{EventType: "dispute", ValidatorID: "v1", AppliedWeight: 1.0}}
	if got := validationSignal(dispute, nil); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("one full-weight dispute = %v, want 0.25", got)
	}

	// Saturates at the clamp, never exceeds it.
	many := []store.ValidationEvent{
		{EventType: "confirm", ValidatorID: "v1", AppliedWeight: 1.0},
		{EventType: "confirm", ValidatorID: "v2", AppliedWeight: 1.0},
		{EventType: "confirm", ValidatorID: "v3", AppliedWeight: 1.0},
	}
	if got := validationSignal(many, nil); got != 1.0 {
		t.Errorf("saturated confirms = %v, want 1.0", got)
	}

	// Amend events carry no signal.
	amend := []store.ValidationEvent{{EventType: "amend", ValidatorID: "v1", AppliedWeight: 1.0}}
	if got := validationSignal(amend, nil); got != neutralSignal {
		t.Errorf("amend only = %v, want %v", got, neutralSignal)
	}
}

func TestValidationSignalDiscounted(t *testing.T) {
	events := []store.ValidationEvent{
		{EventType: "confirm", ValidatorID: "honest", AppliedWeight: 1.0},
		{EventType: "confirm", ValidatorID: "shill", AppliedWeight: 1.0},
	}
	full := validationSignal(events, nil)
	discounted := validationSignal(events, map[string]float64{"shill": 0.1})
	if discounted >= full {
		t.Errorf("discounted signal %v not below undiscounted %v", discounted, full)
	}
	// 0.5 + 0.25*(1.0 + 0.1)
	if math.Abs(discounted-0.775) > 1e-9 {
		t.Errorf("discounted = %v, want 0.775", discounted)
	}
}

func TestOutcomeSignal(t *testing.T) {
	if got := outcomeSignal(nil); got != neutralSignal {
		t.Errorf("no feedback = %v, want %v", got, neutralSignal)
	}

	helpful := []store.OutcomeFeedback{{Helpful: true}}
	if got := outcomeSignal(helpful); math.Abs(got-0.65) > 1e-9 {
		t.Errorf("one helpful = %v, want 0.65", got)
	}

	unhelpful := []store.OutcomeFeedback{{Helpful: false}}
	if got := outcomeSignal(unhelpful); math.Abs(got-0.35) > 1e-9 {
		t.Errorf("one unhelpful = %v, want 0.35", got)
	}

	// A long run of negative reports drives the signal toward zero.
	var run []store.OutcomeFeedback
	for i := 0; i < 20; i++ {
		run = append(run, store.OutcomeFeedback{Helpful: false})
	}
	if got := outcomeSignal(run); got > 0.01 {
		t.Errorf("sustained negative feedback = %v, want near 0", got)
	}
}

func TestConsistencySignal(t *testing.T) {
	a := &store.Artifact{XRID: "xr-1", TaskType: "code.refactor", OutcomeStatus: "success"}

	sig, contradictions := consistencySignal(a, nil)
	if sig != neutralSignal || contradictions != 0 {
		t.Errorf("no peers = %v/%d, want %v/0", sig, contradictions, neutralSignal)
	}

	peers := []store.Artifact{
		{XRID: "xr-2", TaskType: "code.refactor", OutcomeStatus: "success"},
		{XRID: "xr-3", TaskType: "code.refactor", OutcomeStatus: "failure"},
		{XRID: "xr-4", TaskType: "code.refactor", OutcomeStatus: "success"},
		{XRID: "xr-5", TaskType: "research.summarize", OutcomeStatus: "failure"}, // other class, ignored
		{XRID: "xr-1", TaskType: "code.refactor", OutcomeStatus: "success"},      // self, ignored
	}
	sig, contradictions = consistencySignal(a, peers)
	if math.Abs(sig-2.0/3.0) > 1e-9 {
		t.Errorf("signal = %v, want 2/3", sig)
	}
	if contradictions != 1 {
		t.Errorf("contradictions = %d, want 1", contradictions)
	}
}

package engine

import (
	"math"
	"time"

	"github.com/xrpool/governor/internal/store"
)

// neutralSignal is the component value used when no evidence exists yet:
// no validation events, no outcome feedback, no same-class peers.
const neutralSignal = 0.5

// outcomeSmoothing is the weight of each new feedback event in the
// exponentially smoothed outcome_correlation component.
const outcomeSmoothing = 0.3

// validationSlope scales the weighted net confirm/dispute signal before
// clipping to [0,1]. Two full-weight confirms saturate the component.
const validationSlope = 0.25

// Components are the five inputs to the composite trust score, each in [0,1].
type Components struct {
	Reputation  float64 `json:"reputation"`
	Validation  float64 `json:"validation"`
	Outcome     float64 `json:"outcome_correlation"`
	Recency     float64 `json:"recency"`
	Consistency float64 `json:"consistency"`
}

// Composite returns the pool-weighted sum of the components, clamped to [0,1].
func (c Components) Composite(pool *store.Pool) float64 {
	score := pool.WeightReputation*c.Reputation +
		pool.WeightValidation*c.Validation +
		pool.WeightOutcome*c.Outcome +
		pool.WeightRecency*c.Recency +
		pool.WeightConsistency*c.Consistency
	return clamp01(score)
}

// recencyFactor computes e^(-lambda * ageDays). It is a pure function of the
// stored deposit timestamp, recomputed lazily at read time and never stored
// as a moving value.
func recencyFactor(pool *store.Pool, createdAt int64, now time.Time) float64 {
	ageDays := float64(now.UnixMilli()-createdAt) / 86_400_000.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-pool.DecayRate * ageDays)
}

// validationSignal folds confirm and dispute events into [0,1]. Each event
// contributes its frozen applied_weight multiplied by the validator's
// current independence discount, so collusion discovered later down-weights
// historical contributions without rewriting the event log.
func validationSignal(events []store.ValidationEvent, discounts map[string]float64) float64 {
	net := 0.0
	for _, ev := range events {
		w := ev.AppliedWeight
		if d, ok := discounts[ev.ValidatorID]; ok {
			w *= d
		}
		switch ev.EventType {
		case "confirm":
			net += w
		case "dispute":
			net -= w
		}
		// amend events carry a note, not a signal
	}
	if net == 0 {
		return neutralSignal
	}
	return clamp01(neutralSignal + validationSlope*net)
}

// outcomeSignal exponentially smooths consumer feedback, starting from the
// neutral value. Order matters; callers pass feedback in arrival order.
func outcomeSignal(feedback []store.OutcomeFeedback) float64 {
	s := neutralSignal
	for _, f := range feedback {
		v := 0.0
		if f.Helpful {
			v = 1.0
		}
		s = outcomeSmoothing*v + (1-outcomeSmoothing)*s
	}
	return s
}

// consistencySignal measures agreement with same-classification peers: the
// fraction reporting the same outcome status. Disagreeing peers count as
// contradictions for the cross-reference check.
func consistencySignal(a *store.Artifact, peers []store.Artifact) (float64, int) {
	agree, total := 0, 0
	for _, p := range peers {
		if p.XRID == a.XRID || p.TaskType != a.TaskType {
			continue
		}
		total++
		if p.OutcomeStatus == a.OutcomeStatus {
			agree++
		}
	}
	if total == 0 {
		return neutralSignal, 0
	}
	return float64(agree) / float64(total), total - agree
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

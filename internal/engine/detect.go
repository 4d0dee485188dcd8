package engine

import (
	"math"

	"github.com/xrpool/governor/internal/store"
)

// outlierCheck z-scores an artifact's self-assessment against the
// distribution of same-classification peers. A flagged artifact is marked
// for review; the flag alone never quarantines.
func (e *Engine) outlierCheck(a *store.Artifact, peers []store.Artifact) bool {
	var values []float64
	for _, p := range peers {
		if p.XRID == a.XRID || p.TaskType != a.TaskType {
			continue
		}
		values = append(values, p.SelfAssessment)
	}
	if len(values) < e.cfg.Detector.OutlierMinSamples {
		return false
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	std := math.Sqrt(variance)
	if std == 0 {
		return a.SelfAssessment != mean
	}

	z := (a.SelfAssessment - mean) / std
	return math.Abs(z) > e.cfg.Detector.OutlierZ
}

// applyStatusPolicy decides the artifact's status from the freshly computed
// signals:
//
//   - repeated cross-reference contradictions transition it to disputed;
//   - it is quarantined when the decayed composite falls below the pool's
//     confidence threshold AND at least one independent poison signal
//     (outlier, contradiction, negative outcome trend) is active.
//
// Quarantined artifacts stay visible to administrators and are never deleted.
func (e *Engine) applyStatusPolicy(pool *store.Pool, current string, validationState string,
	composite float64, c Components, outlier bool, contradictions int) string {

	status := current
	if validationState == "disputed" {
		status = "disputed"
	}
	if contradictions >= e.cfg.Detector.ContradictionThreshold && c.Consistency < neutralSignal {
		status = "disputed"
	}

	signalActive := outlier ||
		contradictions > 0 ||
		c.Outcome < e.cfg.Detector.NegativeOutcome
	if composite < pool.MinConfidence && signalActive {
		status = "quarantined"
	}
	return status
}

// reviewTriggers appends review-required audit entries when a recomputation
// moved the composite more than the configured delta, or when the
// depositor's reputation sank below the floor. Best effort: a failed append
// here only logs, it never fails the triggering operation, which has already
// committed its own audit entry.
func (e *Engine) reviewTriggers(poolID, xrID, actorID string, before, after float64, rep *store.Reputation) {
	if math.Abs(after-before) > e.cfg.Detector.ReviewDelta {
		e.auditBestEffort(&store.AuditEntry{
			PoolID:      poolID,
			ActorID:     "detector",
			Operation:   "review_required",
			AffectedIDs: []string{xrID},
			Result:      "composite moved beyond review delta",
		})
	}
	if rep != nil && rep.BaseReputation < e.cfg.Detector.ReputationFloor {
		e.auditBestEffort(&store.AuditEntry{
			PoolID:      poolID,
			ActorID:     "detector",
			Operation:   "review_required",
			AffectedIDs: []string{xrID, rep.AgentID},
			Result:      "agent reputation below floor",
		})
	}
}

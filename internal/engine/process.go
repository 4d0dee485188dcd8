package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xrpool/governor/internal/store"
)

// reputationDelta is applied to a depositor's reputation per confirm (up) or
// dispute (down).
const reputationDelta = 0.05

// ValidateRequest is a peer judgment submitted against an artifact.
type ValidateRequest struct {
	EventType          string  `json:"event_type"` // confirm | dispute | amend
	Evidence           string  `json:"evidence,omitempty"`
	ProposedAdjustment float64 `json:"proposed_adjustment,omitempty"`
}

// Validate processes one peer validation event: weighting by the validator's
// reputation and independence, advancing the artifact's validation state
// machine, adjusting the depositor's reputation, and recomputing the trust
// envelope — atomically with the audit entry.
func (e *Engine) Validate(validatorID, poolID, xrID string, req *ValidateRequest) (*store.Artifact, error) {
	pool, err := e.guard(validatorID, poolID, "validate")
	if err != nil {
		return nil, err
	}

	switch req.EventType {
	case "confirm", "dispute", "amend":
	default:
		return nil, fmt.Errorf("%w: invalid event_type %q", ErrSchemaInvalid, req.EventType)
	}
	if len(req.Evidence) > maxEvidenceChars {
		return nil, fmt.Errorf("%w: evidence too large (%d chars, max %d)",
			ErrSchemaInvalid, len(req.Evidence), maxEvidenceChars)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		a, err := e.DB.GetArtifact(poolID, xrID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("artifact %s: %w", xrID, ErrUnknownArtifact)
		}
		if a.AgentID == validatorID {
			return nil, fmt.Errorf("agent %s: %w", validatorID, ErrSelfValidation)
		}
		if a.Status == "quarantined" && !e.cfg.Detector.ValidateQuarantined {
			return nil, fmt.Errorf("artifact %s: %w", xrID, ErrQuarantineBlocked)
		}

		done, err := e.DB.HasValidated(poolID, xrID, validatorID)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, fmt.Errorf("validator %s on %s: %w", validatorID, xrID, ErrDuplicateValidator)
		}

		updated, err := e.applyValidationOnce(pool, a, validatorID, req)
		if err == store.ErrVersionConflict {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("validate %s: retries exhausted: %w", xrID, lastErr)
}

// applyValidationOnce builds the event, derives the post-event trust state,
// and commits everything in one store transaction against the artifact
// version it read. A version conflict aborts the whole attempt.
func (e *Engine) applyValidationOnce(pool *store.Pool, a *store.Artifact,
	validatorID string, req *ValidateRequest) (*store.Artifact, error) {

	poolID, xrID := pool.PoolID, a.XRID

	validatorRep, err := e.DB.EnsureReputation(poolID, validatorID, pool.BaselineReputation)
	if err != nil {
		return nil, err
	}
	depositorRep, err := e.DB.EnsureReputation(poolID, a.AgentID, pool.BaselineReputation)
	if err != nil {
		return nil, err
	}

	events, err := e.DB.ListEventsByArtifact(poolID, xrID)
	if err != nil {
		return nil, err
	}
	allEvents, err := e.DB.ListEventsByPool(poolID)
	if err != nil {
		return nil, err
	}
	peers, err := e.DB.ListArtifacts(poolID)
	if err != nil {
		return nil, err
	}
	feedback, err := e.DB.ListFeedback(poolID, xrID)
	if err != nil {
		return nil, err
	}

	// Weight the event by the validator's current reputation, discounted for
	// correlation with the depositor or prior validators of this artifact,
	// and capped by the pool. The weight is frozen into the event.
	graph := BuildGraph(allEvents, peers)
	coValidators := make([]string, 0, len(events))
	for _, ev := range events {
		coValidators = append(coValidators, ev.ValidatorID)
	}
	discount := graph.IndependenceDiscount(validatorID, a.AgentID, coValidators,
		e.cfg.Detector.DiscountSlope, e.cfg.Detector.DiscountFloor)
	weight := validatorRep.BaseReputation * discount
	if weight > pool.MaxValidatorWeight {
		weight = pool.MaxValidatorWeight
	}

	now := time.Now()
	ev := &store.ValidationEvent{
		EventID:            uuid.New().String(),
		PoolID:             poolID,
		XRID:               xrID,
		ValidatorID:        validatorID,
		EventType:          req.EventType,
		Evidence:           req.Evidence,
		ProposedAdjustment: req.ProposedAdjustment,
		AppliedWeight:      weight,
		CreatedAt:          now.UnixMilli(),
	}
	withNew := append(append([]store.ValidationEvent{}, events...), *ev)

	// State machine: quorum of confirms promotes pending -> validated,
	// any dispute forces disputed, amend attaches without a transition.
	validationState := a.ValidationState
	switch req.EventType {
	case "confirm":
		confirms := 0
		for _, x := range withNew {
			if x.EventType == "confirm" {
				confirms++
			}
		}
		if confirms >= pool.ConfirmQuorum && validationState == "pending" {
			validationState = "validated"
		}
	case "dispute":
		validationState = "disputed"
	}

	// Depositor reputation moves by a fixed step per judgment. The validator's
	// score does not move for voting, but their row is touched so the record
	// shows when they last participated.
	var depUpdate *store.Reputation
	switch req.EventType {
	case "confirm":
		depositorRep.BaseReputation = clamp01(depositorRep.BaseReputation + reputationDelta)
		depositorRep.ConfirmedCount++
		depUpdate = depositorRep
	case "dispute":
		depositorRep.BaseReputation = clamp01(depositorRep.BaseReputation - reputationDelta)
		depositorRep.DisputedCount++
		depUpdate = depositorRep
	}

	discounts := graph.artifactDiscounts(withNew, a.AgentID,
		e.cfg.Detector.DiscountSlope, e.cfg.Detector.DiscountFloor)
	consistency, contradictions := consistencySignal(a, peers)
	repScore := depositorRep.BaseReputation
	comps := Components{
		Reputation:  repScore,
		Validation:  validationSignal(withNew, discounts),
		Outcome:     outcomeSignal(feedback),
		Recency:     recencyFactor(pool, a.CreatedAt, now),
		Consistency: consistency,
	}
	outlier := e.outlierCheck(a, peers)

	u := store.TrustUpdate{
		Status:           a.Status,
		ValidationState:  validationState,
		CompReputation:   comps.Reputation,
		CompValidation:   comps.Validation,
		CompOutcome:      comps.Outcome,
		CompConsistency:  comps.Consistency,
		Composite:        comps.Composite(pool),
		OutlierFlag:      outlier,
		Contradictions:   contradictions,
		LastRecomputedAt: now.UnixMilli(),
	}
	u.Status = e.applyStatusPolicy(pool, a.Status, validationState, u.Composite, comps, outlier, contradictions)

	entry := &store.AuditEntry{
		PoolID:      poolID,
		ActorID:     validatorID,
		Operation:   "validate",
		AffectedIDs: []string{xrID},
		Result: fmt.Sprintf("%s weight=%.4f state=%s composite=%.4f",
			req.EventType, weight, validationState, u.Composite),
	}

	err = e.DB.ApplyValidation(ev, depUpdate, validatorRep, a.Version, u, entry)
	if err == store.ErrDuplicateEvent {
		return nil, fmt.Errorf("validator %s on %s: %w", validatorID, xrID, ErrDuplicateValidator)
	}
	if err != nil {
		return nil, err
	}

	if u.Status == "quarantined" && a.Status != "quarantined" {
		e.auditBestEffort(&store.AuditEntry{
			PoolID:      poolID,
			ActorID:     "detector",
			Operation:   "quarantine",
			AffectedIDs: []string{xrID},
			Result:      fmt.Sprintf("composite %.4f below pool threshold with active signal", u.Composite),
		})
	}
	e.reviewTriggers(poolID, xrID, validatorID, a.Composite, u.Composite, depUpdate)
	e.scores.Remove(scoreKey(poolID, xrID))

	return e.DB.GetArtifact(poolID, xrID)
}

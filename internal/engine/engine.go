// Package engine implements the trust and governance core for shared
// experience pools: trust scoring with lazy decay, peer-validation
// processing, poison and collusion detection, and relevance-ranked
// retrieval, all backed by a hash-chained audit log.
package engine

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/xrpool/governor/internal/config"
	"github.com/xrpool/governor/internal/ratelimit"
	"github.com/xrpool/governor/internal/store"
)

// scoreCacheTTL bounds how stale a cached composite may be served to callers
// not requesting freshness.
const scoreCacheTTL = 30 * time.Second

// Engine wires the governance components together over one database.
type Engine struct {
	DB         *store.DB
	Auth       Authorizer
	Schema     SchemaValidator
	Similarity Similarity

	cfg    config.Config
	limits *ratelimit.Registry
	scores *lru.Cache // (pool,xr) -> cachedScore, stale-read path
	flight singleflight.Group

	mu     sync.Mutex
	halted map[string]bool // pools frozen by an integrity violation
}

type cachedScore struct {
	composite float64
	at        time.Time
}

// New creates an Engine with the built-in collaborators. Callers may swap
// Auth, Schema, and Similarity before serving.
func New(db *store.DB, cfg config.Config) *Engine {
	cache, _ := lru.New(4096)
	e := &Engine{
		DB:         db,
		Auth:       AllowAll{},
		Schema:     StructuralValidator{},
		Similarity: TokenSimilarity{},
		cfg:        cfg,
		limits:     ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		scores:     cache,
		halted:     make(map[string]bool),
	}
	if len(cfg.Auth.Tokens) > 0 {
		e.Auth = NewTokenAuthorizer(cfg.Auth.Tokens)
	}
	return e
}

// Config exposes the engine's configuration snapshot.
func (e *Engine) Config() config.Config { return e.cfg }

// guard runs the checks common to every operation: integrity halt,
// authorization, rate limit, pool existence. It returns the pool's
// configuration snapshot, immutable for the rest of the evaluation.
func (e *Engine) guard(agentID, poolID, op string) (*store.Pool, error) {
	if e.isHalted(poolID) && op != "inspect" {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrIntegrityViolation)
	}
	if err := e.Auth.Authorize(agentID, poolID, op); err != nil {
		return nil, err
	}
	if !e.limits.Allow(agentID, op) {
		return nil, fmt.Errorf("agent %s op %s: %w", agentID, op, ErrRateLimited)
	}
	pool, err := e.DB.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	return pool, nil
}

// PoolRequest creates a pool. Zero-valued governance fields inherit the
// configured defaults.
type PoolRequest struct {
	PoolID             string   `json:"pool_id,omitempty"`
	Name               string   `json:"name"`
	Scope              string   `json:"scope,omitempty"`
	Weights            *Weights `json:"weights,omitempty"`
	DecayRate          *float64 `json:"decay_rate,omitempty"`
	BaselineReputation *float64 `json:"baseline_reputation,omitempty"`
	MinConfidence      *float64 `json:"min_confidence,omitempty"`
	MaxValidatorWeight *float64 `json:"max_validator_weight,omitempty"`
	ConfirmQuorum      *int     `json:"confirm_quorum,omitempty"`
}

// Weights is the five-component trust weight table.
type Weights struct {
	Reputation  float64 `json:"reputation"`
	Validation  float64 `json:"validation"`
	Outcome     float64 `json:"outcome"`
	Recency     float64 `json:"recency"`
	Consistency float64 `json:"consistency"`
}

// CreatePool validates and persists a new pool configuration. A weight table
// not summing to 1.0 is rejected outright.
func (e *Engine) CreatePool(actorID string, req PoolRequest) (*store.Pool, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: pool name required", ErrSchemaInvalid)
	}

	d := e.cfg.Pool
	p := &store.Pool{
		PoolID:             req.PoolID,
		Name:               req.Name,
		Scope:              req.Scope,
		WeightReputation:   d.WeightReputation,
		WeightValidation:   d.WeightValidation,
		WeightOutcome:      d.WeightOutcome,
		WeightRecency:      d.WeightRecency,
		WeightConsistency:  d.WeightConsistency,
		DecayRate:          d.DecayRate,
		BaselineReputation: d.BaselineReputation,
		MinConfidence:      d.MinConfidence,
		MaxValidatorWeight: d.MaxValidatorWeight,
		ConfirmQuorum:      d.ConfirmQuorum,
	}
	if p.PoolID == "" {
		p.PoolID = uuid.New().String()
	}
	if p.Scope == "" {
		p.Scope = "global"
	}
	if req.Weights != nil {
		p.WeightReputation = req.Weights.Reputation
		p.WeightValidation = req.Weights.Validation
		p.WeightOutcome = req.Weights.Outcome
		p.WeightRecency = req.Weights.Recency
		p.WeightConsistency = req.Weights.Consistency
	}
	if req.DecayRate != nil {
		p.DecayRate = *req.DecayRate
	}
	if req.BaselineReputation != nil {
		p.BaselineReputation = *req.BaselineReputation
	}
	if req.MinConfidence != nil {
		p.MinConfidence = *req.MinConfidence
	}
	if req.MaxValidatorWeight != nil {
		p.MaxValidatorWeight = *req.MaxValidatorWeight
	}
	if req.ConfirmQuorum != nil {
		p.ConfirmQuorum = *req.ConfirmQuorum
	}

	if err := validatePoolConfig(p); err != nil {
		return nil, err
	}

	entry := &store.AuditEntry{
		PoolID:      p.PoolID,
		ActorID:     actorID,
		Operation:   "create_pool",
		AffectedIDs: []string{p.PoolID},
		Result:      "created",
	}
	if err := e.DB.CreatePool(p, entry); err != nil {
		return nil, err
	}
	return p, nil
}

func validatePoolConfig(p *store.Pool) error {
	if math.Abs(p.WeightSum()-1.0) > 1e-9 {
		return fmt.Errorf("%w: trust weights sum to %v, want 1.0", ErrSchemaInvalid, p.WeightSum())
	}
	for _, w := range []float64{p.WeightReputation, p.WeightValidation, p.WeightOutcome, p.WeightRecency, p.WeightConsistency} {
		if w < 0 {
			return fmt.Errorf("%w: negative trust weight", ErrSchemaInvalid)
		}
	}
	if p.DecayRate < 0 {
		return fmt.Errorf("%w: negative decay rate", ErrSchemaInvalid)
	}
	if p.BaselineReputation < 0 || p.BaselineReputation > 1 {
		return fmt.Errorf("%w: baseline reputation outside [0,1]", ErrSchemaInvalid)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence outside [0,1]", ErrSchemaInvalid)
	}
	if p.MaxValidatorWeight <= 0 {
		return fmt.Errorf("%w: max validator weight must be positive", ErrSchemaInvalid)
	}
	if p.ConfirmQuorum < 1 {
		return fmt.Errorf("%w: confirm quorum must be at least 1", ErrSchemaInvalid)
	}
	return nil
}

// Deposit accepts an experience record into a pool, seeding its trust state
// from the depositor's reputation and the pool's current contents.
func (e *Engine) Deposit(callerID, poolID string, req *DepositRequest) (*store.Artifact, error) {
	pool, err := e.guard(callerID, poolID, "deposit")
	if err != nil {
		return nil, err
	}

	// Deposits are attributed to the authenticated caller. Accepting another
	// source_agent_id would let the caller confirm their own records under a
	// second identity.
	if req.AgentID == "" {
		req.AgentID = callerID
	}
	if req.AgentID != callerID {
		return nil, fmt.Errorf("deposit as agent %s by caller %s: %w", req.AgentID, callerID, ErrUnauthorized)
	}

	if err := e.Schema.ValidateStructure(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}

	xrID := req.XRID
	if xrID == "" {
		xrID = uuid.New().String()
	}
	if req.ParentXRID != "" && req.ParentXRID == xrID {
		return nil, fmt.Errorf("artifact %s: %w", xrID, ErrSelfReferentialParent)
	}

	rep, err := e.DB.EnsureReputation(poolID, req.AgentID, pool.BaselineReputation)
	if err != nil {
		return nil, err
	}

	peers, err := e.DB.ListArtifacts(poolID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	a := &store.Artifact{
		PoolID:         poolID,
		XRID:           xrID,
		AgentID:        req.AgentID,
		TaskType:       req.TaskType,
		OutcomeStatus:  req.OutcomeStatus,
		ParentXRID:     req.ParentXRID,
		SelfAssessment: req.SelfAssessment,
		Payload:        req.Payload,
		CreatedAt:      now.UnixMilli(),
	}
	a.Status = "active"
	a.ValidationState = "pending"

	consistency, contradictions := consistencySignal(a, peers)
	comps := Components{
		Reputation:  rep.BaseReputation,
		Validation:  neutralSignal,
		Outcome:     neutralSignal,
		Recency:     1.0, // just deposited
		Consistency: consistency,
	}
	outlier := e.outlierCheck(a, peers)

	a.CompReputation = comps.Reputation
	a.CompValidation = comps.Validation
	a.CompOutcome = comps.Outcome
	a.CompConsistency = comps.Consistency
	a.Composite = comps.Composite(pool)
	a.OutlierFlag = outlier
	a.Contradictions = contradictions
	a.LastRecomputedAt = now.UnixMilli()
	a.Status = e.applyStatusPolicy(pool, a.Status, a.ValidationState, a.Composite, comps, outlier, contradictions)

	entry := &store.AuditEntry{
		PoolID:      poolID,
		ActorID:     callerID,
		Operation:   "deposit",
		AffectedIDs: []string{xrID},
		Result:      fmt.Sprintf("accepted status=%s composite=%.4f", a.Status, a.Composite),
	}
	if err := e.DB.CreateArtifact(a, entry); err != nil {
		return nil, err
	}

	if outlier {
		e.auditBestEffort(&store.AuditEntry{
			PoolID:      poolID,
			ActorID:     "detector",
			Operation:   "outlier_flagged",
			AffectedIDs: []string{xrID},
			Result:      "self-assessment outside pool distribution",
		})
	}
	e.scores.Remove(scoreKey(poolID, xrID))
	return a, nil
}

// Feedback records consumer-reported downstream performance for an artifact
// and folds it into the outcome_correlation component.
func (e *Engine) Feedback(callerID, poolID, xrID string, helpful bool) (*store.Artifact, error) {
	pool, err := e.guard(callerID, poolID, "feedback")
	if err != nil {
		return nil, err
	}

	a, err := e.DB.GetArtifact(poolID, xrID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("artifact %s: %w", xrID, ErrUnknownArtifact)
	}

	fb := &store.OutcomeFeedback{
		FeedbackID: uuid.New().String(),
		PoolID:     poolID,
		XRID:       xrID,
		ReporterID: callerID,
		Helpful:    helpful,
	}
	entry := &store.AuditEntry{
		PoolID:      poolID,
		ActorID:     callerID,
		Operation:   "feedback",
		AffectedIDs: []string{xrID},
		Result:      fmt.Sprintf("helpful=%v", helpful),
	}
	if err := e.DB.AddFeedback(fb, entry); err != nil {
		return nil, err
	}

	return e.recompute(pool, xrID, callerID, "feedback_recompute")
}

// recompute re-derives an artifact's full trust envelope from stored history
// and persists it with optimistic concurrency. Bounded retries absorb
// version conflicts from concurrent writers.
func (e *Engine) recompute(pool *store.Pool, xrID, actorID, op string) (*store.Artifact, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		a, err := e.DB.GetArtifact(pool.PoolID, xrID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("artifact %s: %w", xrID, ErrUnknownArtifact)
		}

		now := time.Now()
		comps, contradictions, outlier, err := e.deriveComponents(pool, a, now, nil)
		if err != nil {
			return nil, err
		}

		before := a.Composite
		u := store.TrustUpdate{
			Status:           a.Status,
			ValidationState:  a.ValidationState,
			CompReputation:   comps.Reputation,
			CompValidation:   comps.Validation,
			CompOutcome:      comps.Outcome,
			CompConsistency:  comps.Consistency,
			Composite:        comps.Composite(pool),
			OutlierFlag:      outlier,
			Contradictions:   contradictions,
			LastRecomputedAt: now.UnixMilli(),
		}
		u.Status = e.applyStatusPolicy(pool, a.Status, a.ValidationState, u.Composite, comps, outlier, contradictions)

		entry := &store.AuditEntry{
			PoolID:      pool.PoolID,
			ActorID:     actorID,
			Operation:   op,
			AffectedIDs: []string{xrID},
			Result:      fmt.Sprintf("composite=%.4f status=%s", u.Composite, u.Status),
		}
		err = e.DB.UpdateTrustState(pool.PoolID, xrID, a.Version, u, entry)
		if err == store.ErrVersionConflict {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		rep, _ := e.DB.GetReputation(pool.PoolID, a.AgentID)
		e.reviewTriggers(pool.PoolID, xrID, actorID, before, u.Composite, rep)
		e.scores.Remove(scoreKey(pool.PoolID, xrID))
		return e.DB.GetArtifact(pool.PoolID, xrID)
	}
	return nil, fmt.Errorf("recompute %s: retries exhausted: %w", xrID, lastErr)
}

// poolView is a snapshot of the pool-wide scoring inputs (artifact list and
// validator correlation graph), loaded once per request so callers scoring
// many artifacts do not rebuild the graph per candidate.
type poolView struct {
	peers []store.Artifact
	graph *Graph
}

func (e *Engine) loadPoolView(poolID string) (*poolView, error) {
	peers, err := e.DB.ListArtifacts(poolID)
	if err != nil {
		return nil, err
	}
	events, err := e.DB.ListEventsByPool(poolID)
	if err != nil {
		return nil, err
	}
	return &poolView{peers: peers, graph: BuildGraph(events, peers)}, nil
}

// deriveComponents computes the five trust components from stored history.
// A nil view loads the pool snapshot on demand. Read-only: nothing here
// mutates the store, so a read-path caller can derive a live decayed
// composite without writing.
func (e *Engine) deriveComponents(pool *store.Pool, a *store.Artifact, now time.Time, view *poolView) (Components, int, bool, error) {
	if view == nil {
		var err error
		view, err = e.loadPoolView(pool.PoolID)
		if err != nil {
			return Components{}, 0, false, err
		}
	}

	events, err := e.DB.ListEventsByArtifact(pool.PoolID, a.XRID)
	if err != nil {
		return Components{}, 0, false, err
	}
	feedback, err := e.DB.ListFeedback(pool.PoolID, a.XRID)
	if err != nil {
		return Components{}, 0, false, err
	}

	discounts := view.graph.artifactDiscounts(events, a.AgentID, e.cfg.Detector.DiscountSlope, e.cfg.Detector.DiscountFloor)

	rep, err := e.DB.GetReputation(pool.PoolID, a.AgentID)
	if err != nil {
		return Components{}, 0, false, err
	}
	repScore := pool.BaselineReputation
	if rep != nil {
		repScore = rep.BaseReputation
	}

	consistency, contradictions := consistencySignal(a, view.peers)
	comps := Components{
		Reputation:  repScore,
		Validation:  validationSignal(events, discounts),
		Outcome:     outcomeSignal(feedback),
		Recency:     recencyFactor(pool, a.CreatedAt, now),
		Consistency: consistency,
	}
	return comps, contradictions, e.outlierCheck(a, view.peers), nil
}

// liveComposite returns the decayed composite for an artifact.
// Fresh reads recompute from history through singleflight; stale reads may
// serve a cached value within the TTL. Neither path mutates stored state.
func (e *Engine) liveComposite(pool *store.Pool, a *store.Artifact, now time.Time, fresh bool, view *poolView) (float64, error) {
	key := scoreKey(pool.PoolID, a.XRID)
	if !fresh {
		if v, ok := e.scores.Get(key); ok {
			cs := v.(cachedScore)
			if now.Sub(cs.at) < scoreCacheTTL {
				return cs.composite, nil
			}
		}
	}

	v, err, _ := e.flight.Do(key, func() (any, error) {
		comps, _, _, err := e.deriveComponents(pool, a, now, view)
		if err != nil {
			return nil, err
		}
		return comps.Composite(pool), nil
	})
	if err != nil {
		return 0, err
	}
	composite := v.(float64)
	e.scores.Add(key, cachedScore{composite: composite, at: now})
	return composite, nil
}

// PoolInfo is the Inspect result: configuration plus health statistics.
type PoolInfo struct {
	Pool            *store.Pool          `json:"pool"`
	Stats           *store.ArtifactStats `json:"stats"`
	AuditLength     int64                `json:"audit_length"`
	CollusionGroups [][]string           `json:"collusion_groups,omitempty"`
}

// Inspect returns pool metadata and health statistics.
func (e *Engine) Inspect(callerID, poolID string) (*PoolInfo, error) {
	pool, err := e.guard(callerID, poolID, "inspect")
	if err != nil {
		return nil, err
	}

	stats, err := e.DB.PoolStats(poolID)
	if err != nil {
		return nil, err
	}
	auditLen, err := e.DB.AuditLength(poolID)
	if err != nil {
		return nil, err
	}

	events, err := e.DB.ListEventsByPool(poolID)
	if err != nil {
		return nil, err
	}
	artifacts, err := e.DB.ListArtifacts(poolID)
	if err != nil {
		return nil, err
	}
	graph := BuildGraph(events, artifacts)

	return &PoolInfo{
		Pool:            pool,
		Stats:           stats,
		AuditLength:     auditLen,
		CollusionGroups: graph.Clusters(0.8),
	}, nil
}

// VerifyPool walks the pool's audit chain. A corrupt entry halts all further
// writes to the pool and surfaces ErrIntegrityViolation; the log is never
// silently repaired.
func (e *Engine) VerifyPool(poolID string) error {
	badSeq, err := e.DB.VerifyAuditChain(poolID)
	if err != nil {
		return err
	}
	if badSeq != 0 {
		e.mu.Lock()
		e.halted[poolID] = true
		e.mu.Unlock()
		log.Printf("audit: pool %s chain corrupt at seq %d, writes halted", poolID, badSeq)
		return fmt.Errorf("pool %s entry %d: %w", poolID, badSeq, ErrIntegrityViolation)
	}
	return nil
}

func (e *Engine) isHalted(poolID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted[poolID]
}

// Resume lifts an integrity halt after administrator intervention.
func (e *Engine) Resume(poolID string) {
	e.mu.Lock()
	delete(e.halted, poolID)
	e.mu.Unlock()
	log.Printf("audit: pool %s resumed by administrator", poolID)
}

func (e *Engine) auditBestEffort(entry *store.AuditEntry) {
	if err := e.DB.AppendAudit(entry); err != nil {
		log.Printf("audit: append %s for pool %s: %v", entry.Operation, entry.PoolID, err)
	}
}

func scoreKey(poolID, xrID string) string {
	return poolID + "\x00" + xrID
}

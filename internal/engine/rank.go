package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xrpool/governor/internal/store"
)

// Query is a retrieval request. Zero-valued ranking fields inherit the
// configured defaults; explicit weights must sum to 1.0.
type Query struct {
	TaskType      string       `json:"task_type,omitempty"`
	Context       string       `json:"context,omitempty"`
	MinConfidence *float64     `json:"min_confidence,omitempty"` // overrides the pool threshold
	MaxResults    int          `json:"max_results,omitempty"`
	Weights       *RankWeights `json:"weights,omitempty"`
	OutcomeFilter string       `json:"outcome_filter,omitempty"` // restrict to one outcome status
	Fresh         bool         `json:"fresh,omitempty"`          // bypass the score cache
}

// RankWeights is the four-term relevance weight table.
type RankWeights struct {
	Task       float64 `json:"task"`
	Similarity float64 `json:"similarity"`
	Trust      float64 `json:"trust"`
	Recency    float64 `json:"recency"`
}

// Result pairs an artifact with its relevance breakdown.
type Result struct {
	Artifact  store.Artifact `json:"artifact"`
	Relevance float64        `json:"relevance"`
	TaskMatch float64        `json:"task_match"`
	Similar   float64        `json:"similarity"`
	Trust     float64        `json:"trust"` // decayed composite at query time
	Recency   float64        `json:"recency"`
}

// Retrieve ranks a pool's artifacts against the query and returns the top
// matches. Quarantined artifacts and those below the confidence threshold are
// excluded before ranking. Retrieval is read-only: no stored state, no audit
// entries, no score mutations.
func (e *Engine) Retrieve(callerID, poolID string, q *Query) ([]Result, error) {
	pool, err := e.guard(callerID, poolID, "retrieve")
	if err != nil {
		return nil, err
	}

	w := RankWeights{
		Task:       e.cfg.Ranking.WeightTask,
		Similarity: e.cfg.Ranking.WeightSimilarity,
		Trust:      e.cfg.Ranking.WeightTrust,
		Recency:    e.cfg.Ranking.WeightRecency,
	}
	if q.Weights != nil {
		w = *q.Weights
	}
	if err := validateQuery(q, w); err != nil {
		return nil, err
	}

	limit := q.MaxResults
	if limit <= 0 {
		limit = e.cfg.Ranking.MaxResults
	}
	threshold := pool.MinConfidence
	if q.MinConfidence != nil {
		threshold = *q.MinConfidence
	}

	// Candidate set: same classification subtree when a task type is given,
	// the whole pool otherwise.
	var candidates []store.Artifact
	if q.TaskType != "" {
		root := strings.SplitN(q.TaskType, ".", 2)[0]
		candidates, err = e.DB.ListArtifactsByTaskRoot(poolID, root)
	} else {
		candidates, err = e.DB.ListArtifacts(poolID)
	}
	if err != nil {
		return nil, err
	}

	// One pool snapshot serves every candidate's scoring pass.
	view, err := e.loadPoolView(poolID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]Result, 0, len(candidates))
	for i := range candidates {
		a := &candidates[i]
		if a.Status == "quarantined" {
			continue
		}
		if q.OutcomeFilter != "" && a.OutcomeStatus != q.OutcomeFilter {
			continue
		}

		match := classificationMatch(q.TaskType, a.TaskType, e.cfg.Ranking.MismatchStep)
		if match < 0 {
			continue // different classification root
		}

		trust, err := e.liveComposite(pool, a, now, q.Fresh, view)
		if err != nil {
			return nil, err
		}
		if trust < threshold {
			continue
		}

		rec := recencyFactor(pool, a.CreatedAt, now)
		sim := e.Similarity.Score(q.Context, a)
		results = append(results, Result{
			Artifact:  *a,
			Relevance: w.Task*match + w.Similarity*sim + w.Trust*trust + w.Recency*rec,
			TaskMatch: match,
			Similar:   sim,
			Trust:     trust,
			Recency:   rec,
		})
	}

	// Deterministic order: relevance descending, xr_id ascending on ties.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Artifact.XRID < results[j].Artifact.XRID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func validateQuery(q *Query, w RankWeights) error {
	if math.Abs(w.Task+w.Similarity+w.Trust+w.Recency-1.0) > 1e-9 {
		return fmt.Errorf("%w: ranking weights must sum to 1.0", ErrInvalidQuery)
	}
	for _, v := range []float64{w.Task, w.Similarity, w.Trust, w.Recency} {
		if v < 0 {
			return fmt.Errorf("%w: negative ranking weight", ErrInvalidQuery)
		}
	}
	if q.MinConfidence != nil && (*q.MinConfidence < 0 || *q.MinConfidence > 1) {
		return fmt.Errorf("%w: min_confidence outside [0,1]", ErrInvalidQuery)
	}
	if q.TaskType != "" {
		if err := validateTaskType(q.TaskType); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}
	if q.OutcomeFilter != "" && !validOutcomes[q.OutcomeFilter] {
		return fmt.Errorf("%w: invalid outcome_filter %q", ErrInvalidQuery, q.OutcomeFilter)
	}
	if q.MaxResults < 0 {
		return fmt.Errorf("%w: negative max_results", ErrInvalidQuery)
	}
	return nil
}

// classificationMatch scores hierarchical task alignment: 1.0 for an exact
// match, one step lost per level of divergence, and -1 (excluded) when the
// roots differ. An empty query matches everything at full score.
func classificationMatch(query, candidate string, step float64) float64 {
	if query == "" {
		return 1.0
	}
	qs := strings.Split(query, ".")
	cs := strings.Split(candidate, ".")
	if qs[0] != cs[0] {
		return -1
	}

	common := 0
	for common < len(qs) && common < len(cs) && qs[common] == cs[common] {
		common++
	}
	longer := len(qs)
	if len(cs) > longer {
		longer = len(cs)
	}
	score := 1.0 - step*float64(longer-common)
	if score < 0 {
		score = 0
	}
	return score
}

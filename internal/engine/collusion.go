package engine

import (
	"sort"

	"github.com/xrpool/governor/internal/store"
)

// Graph is the validator correlation graph: co-validation frequency between
// validators plus validation pressure on individual depositors. It is
// derived state, rebuilt from the event log and deposit history on demand,
// and never persisted as ground truth.
type Graph struct {
	validated   map[string]map[string]bool // validator -> set of xr ids
	depositorOf map[string]string          // xr id -> depositor
	onDepositor map[string]map[string]int  // validator -> depositor -> validations of their artifacts
}

// BuildGraph constructs the correlation graph for a pool from its complete
// validation and deposit history.
func BuildGraph(events []store.ValidationEvent, artifacts []store.Artifact) *Graph {
	g := &Graph{
		validated:   make(map[string]map[string]bool),
		depositorOf: make(map[string]string),
		onDepositor: make(map[string]map[string]int),
	}
	for _, a := range artifacts {
		g.depositorOf[a.XRID] = a.AgentID
	}
	for _, ev := range events {
		set := g.validated[ev.ValidatorID]
		if set == nil {
			set = make(map[string]bool)
			g.validated[ev.ValidatorID] = set
		}
		set[ev.XRID] = true

		if dep, ok := g.depositorOf[ev.XRID]; ok {
			m := g.onDepositor[ev.ValidatorID]
			if m == nil {
				m = make(map[string]int)
				g.onDepositor[ev.ValidatorID] = m
			}
			m[dep]++
		}
	}
	return g
}

// CoValidation returns how correlated two validators' histories are: the
// number of artifacts both validated over the smaller history. 1.0 means the
// smaller history is entirely contained in the larger one.
func (g *Graph) CoValidation(a, b string) float64 {
	sa, sb := g.validated[a], g.validated[b]
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	if len(sb) < len(sa) {
		sa, sb = sb, sa
	}
	shared := 0
	for xr := range sa {
		if sb[xr] {
			shared++
		}
	}
	return float64(shared) / float64(len(sa))
}

// DepositorOverlap returns the fraction of a validator's history spent on a
// single depositor's artifacts. 1.0 means the validator has only ever
// validated that depositor.
func (g *Graph) DepositorOverlap(validator, depositor string) float64 {
	total := len(g.validated[validator])
	if total == 0 {
		return 0
	}
	return float64(g.onDepositor[validator][depositor]) / float64(total)
}

// IndependenceDiscount computes the multiplicative weight discount for a
// validator voting on an artifact: the strongest of (a) their correlation
// with the depositor and (b) their correlation with any co-validator of the
// same artifact determines the reduction. An uncorrelated validator gets 1.0.
func (g *Graph) IndependenceDiscount(validator, depositor string, coValidators []string, slope, floor float64) float64 {
	corr := g.DepositorOverlap(validator, depositor)
	for _, other := range coValidators {
		if other == validator {
			continue
		}
		if c := g.CoValidation(validator, other); c > corr {
			corr = c
		}
	}

	d := 1.0 - slope*corr
	if d < floor {
		d = floor
	}
	if d > 1 {
		d = 1
	}
	return d
}

// artifactDiscounts computes per-validator discounts for one artifact's
// recorded events, treating every other validator of the artifact as a
// potential co-conspirator.
func (g *Graph) artifactDiscounts(events []store.ValidationEvent, depositor string, slope, floor float64) map[string]float64 {
	validators := make([]string, 0, len(events))
	for _, ev := range events {
		validators = append(validators, ev.ValidatorID)
	}

	discounts := make(map[string]float64, len(validators))
	for _, v := range validators {
		discounts[v] = g.IndependenceDiscount(v, depositor, validators, slope, floor)
	}
	return discounts
}

// Clusters returns groups of validators whose pairwise co-validation exceeds
// the threshold — candidate collusion rings, surfaced for inspection. Groups
// are ordered and their members sorted for deterministic output.
func (g *Graph) Clusters(threshold float64) [][]string {
	var ids []string
	for v := range g.validated {
		ids = append(ids, v)
	}
	sort.Strings(ids)

	parent := make(map[string]string, len(ids))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, v := range ids {
		parent[v] = v
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if g.CoValidation(ids[i], ids[j]) >= threshold {
				parent[find(ids[i])] = find(ids[j])
			}
		}
	}

	groups := make(map[string][]string)
	for _, v := range ids {
		root := find(v)
		groups[root] = append(groups[root], v)
	}

	var out [][]string
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

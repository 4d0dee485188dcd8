package engine

import (
	"strings"

	"github.com/xrpool/governor/internal/store"
)

// Similarity supplies context similarity between a query and an artifact in
// [0,1]. The engine treats it as an external collaborator; the default
// token-overlap provider below keeps retrieval useful without one.
type Similarity interface {
	Score(queryContext string, a *store.Artifact) float64
}

// TokenSimilarity is the built-in provider: Jaccard overlap between the
// lowercase token sets of the query context and the artifact's payload plus
// task classification. Cheap and deterministic; no model required.
type TokenSimilarity struct{}

func (TokenSimilarity) Score(queryContext string, a *store.Artifact) float64 {
	if queryContext == "" {
		return neutralSignal
	}

	q := tokenSet(queryContext)
	d := tokenSet(a.Payload + " " + strings.ReplaceAll(a.TaskType, ".", " "))
	if len(q) == 0 || len(d) == 0 {
		return 0
	}

	shared := 0
	for tok := range q {
		if d[tok] {
			shared++
		}
	}
	union := len(q) + len(d) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(text) {
		set[tok] = true
	}
	return set
}

// tokenize splits text into lowercase tokens, stripping punctuation.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 { // skip single-char tokens
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

package rag

import (
	"sort"

	"github.com/hrygo/marketsense/store"
)

// DefaultTopN is the rerank cap used when callers pass topN <= 0.
const DefaultTopN = 12

// ScopePriority ranks owner scopes: a user's own data first, then shared
// global data, then team data.
func ScopePriority(scope store.OwnerScope) int {
	switch scope {
	case store.OwnerScopeUser:
		return 3
	case store.OwnerScopeGlobal:
		return 2
	case store.OwnerScopeTeam:
		return 1
	default:
		return 0
	}
}

// Rerank orders candidates by scope priority, then score, both descending,
// and keeps at most topN. The input slice is left untouched and equal
// candidates keep their input order.
func Rerank(candidates []Candidate, topN int) []Candidate {
	if topN <= 0 {
		topN = DefaultTopN
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := ScopePriority(out[i].Scope), ScopePriority(out[j].Scope)
		if pi != pj {
			return pi > pj
		}
		return out[i].Score > out[j].Score
	})

	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

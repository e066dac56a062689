package cond

import (
	"sync"

	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
)

// CombinationTracker applies AND, OR, or NOT to the cached values of its
// children (spec.md §4.2). It never responds to matched events directly;
// it is re-evaluated every time any of its children is.
type CombinationTracker struct {
	Spec model.ConditionSpec

	mu   sync.Mutex
	last model.TriState
}

func NewCombinationTracker(spec model.ConditionSpec) *CombinationTracker {
	return &CombinationTracker{Spec: spec, last: model.Unknown}
}

func (t *CombinationTracker) OnMatched(_ *model.Event, _ []match.Result) bool { return false }

func (t *CombinationTracker) Evaluate(cache []model.TriState) model.TriState {
	var result model.TriState
	switch t.Spec.Op {
	case model.OpAnd:
		result = model.True
		for _, child := range t.Spec.Children {
			result = result.And(cache[child])
		}
	case model.OpOr:
		result = model.False
		for _, child := range t.Spec.Children {
			result = result.Or(cache[child])
		}
	case model.OpNot:
		result = model.Unknown
		if len(t.Spec.Children) == 1 {
			result = cache[t.Spec.Children[0]].Not()
		}
	}

	t.mu.Lock()
	t.last = result
	t.mu.Unlock()
	return result
}

func (t *CombinationTracker) Get(_ *model.DimensionKey) model.TriState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

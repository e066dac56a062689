package cond

import (
	"sync"

	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
)

// SimpleTracker is a non-sliced condition: a single nesting counter
// driven by a start matcher and an optional stop / stop-all matcher
// (spec.md §4.2).
type SimpleTracker struct {
	Spec model.ConditionSpec

	mu    sync.Mutex
	state counterState
}

func NewSimpleTracker(spec model.ConditionSpec) *SimpleTracker {
	return &SimpleTracker{Spec: spec}
}

func (t *SimpleTracker) OnMatched(ev *model.Event, matchCache []match.Result) bool {
	isStart, isStop, isStopAll := classifyMatch(t.Spec, matchCache)
	if !isStart && !isStop && !isStopAll {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.state.value(t.Spec.InitialUnknown)
	t.state.apply(t.Spec, isStart, isStop, isStopAll)
	return before != t.state.value(t.Spec.InitialUnknown)
}

func (t *SimpleTracker) Evaluate(_ []model.TriState) model.TriState {
	return t.Get(nil)
}

func (t *SimpleTracker) Get(_ *model.DimensionKey) model.TriState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.value(t.Spec.InitialUnknown)
}

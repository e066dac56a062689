package cond

import (
	"sync"

	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
)

type slicedEntry struct {
	key     model.DimensionKey
	counter counterState
}

// SlicedTracker maintains one counterState per dimension key, extracted
// from each matched event via Spec.SlicedBy. Its overall value is true
// iff any slice is true (spec.md §3, §4.2). Dimension keys are not
// directly comparable (they carry a value slice), so slices are indexed
// by model.MapKey the same way producer dimension maps are.
type SlicedTracker struct {
	Spec model.ConditionSpec

	mu     sync.Mutex
	slices map[model.MapKey]*slicedEntry
}

func NewSlicedTracker(spec model.ConditionSpec) *SlicedTracker {
	return &SlicedTracker{Spec: spec, slices: make(map[model.MapKey]*slicedEntry)}
}

func (t *SlicedTracker) OnMatched(ev *model.Event, matchCache []match.Result) bool {
	isStart, isStop, isStopAll := classifyMatch(t.Spec, matchCache)
	if !isStart && !isStop && !isStopAll {
		return false
	}

	key := t.Spec.SliceKey(*ev)
	mapKey := key.MapKey()

	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.overallLocked()
	entry, ok := t.slices[mapKey]
	if !ok {
		entry = &slicedEntry{key: key}
		t.slices[mapKey] = entry
	}
	entry.counter.apply(t.Spec, isStart, isStop, isStopAll)
	return before != t.overallLocked()
}

func (t *SlicedTracker) Evaluate(_ []model.TriState) model.TriState {
	return t.Get(nil)
}

// Get returns the overall value when key is nil, or the specific
// slice's value when key is non-nil. A slice that has never been
// touched reads as the condition's initial value: Unknown when
// Spec.InitialUnknown is set, False otherwise.
func (t *SlicedTracker) Get(key *model.DimensionKey) model.TriState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if key == nil {
		return t.overallLocked()
	}
	entry, ok := t.slices[key.MapKey()]
	if !ok {
		return defaultValue(t.Spec.InitialUnknown)
	}
	return entry.counter.value(t.Spec.InitialUnknown)
}

func (t *SlicedTracker) overallLocked() model.TriState {
	if len(t.slices) == 0 {
		return defaultValue(t.Spec.InitialUnknown)
	}
	overall := model.False
	for _, entry := range t.slices {
		overall = overall.Or(entry.counter.value(t.Spec.InitialUnknown))
	}
	return overall
}

func defaultValue(initialUnknown bool) model.TriState {
	if initialUnknown {
		return model.Unknown
	}
	return model.False
}

package cond

import (
	"testing"

	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTrackerStartStop(t *testing.T) {
	spec := model.ConditionSpec{Kind: model.ConditionSimple, StartMatcher: 0, StopMatcher: 1, HasStopMatcher: true, InitialUnknown: true}
	tr := NewSimpleTracker(spec)

	assert.Equal(t, model.Unknown, tr.Get(nil))

	changed := tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	assert.True(t, changed)
	assert.Equal(t, model.True, tr.Get(nil))

	changed = tr.OnMatched(&model.Event{}, []match.Result{match.ResultNotMatched, match.ResultMatched})
	assert.True(t, changed)
	assert.Equal(t, model.False, tr.Get(nil))
}

func TestSimpleTrackerNonNestingIgnoresRepeatedStart(t *testing.T) {
	spec := model.ConditionSpec{Kind: model.ConditionSimple, StartMatcher: 0, StopMatcher: 1, HasStopMatcher: true, Nesting: model.NestingIgnore}
	tr := NewSimpleTracker(spec)

	tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	// one stop should now clear it, because the second start was a no-op
	changed := tr.OnMatched(&model.Event{}, []match.Result{match.ResultNotMatched, match.ResultMatched})
	assert.True(t, changed)
	assert.Equal(t, model.False, tr.Get(nil))
}

func TestSimpleTrackerNestingAccumulates(t *testing.T) {
	spec := model.ConditionSpec{Kind: model.ConditionSimple, StartMatcher: 0, StopMatcher: 1, HasStopMatcher: true, Nesting: model.NestingAccumulate}
	tr := NewSimpleTracker(spec)

	tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	// a single stop is not enough to clear two nested starts
	changed := tr.OnMatched(&model.Event{}, []match.Result{match.ResultNotMatched, match.ResultMatched})
	assert.False(t, changed)
	assert.Equal(t, model.True, tr.Get(nil))
}

func TestSimpleTrackerStopAllResets(t *testing.T) {
	spec := model.ConditionSpec{Kind: model.ConditionSimple, StartMatcher: 0, StopAllMatcher: 1, HasStopAll: true, Nesting: model.NestingAccumulate}
	tr := NewSimpleTracker(spec)

	tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	tr.OnMatched(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched})
	changed := tr.OnMatched(&model.Event{}, []match.Result{match.ResultNotMatched, match.ResultMatched})
	assert.True(t, changed)
	assert.Equal(t, model.False, tr.Get(nil))
}

func TestSlicedTrackerOverallTrueIfAnySlice(t *testing.T) {
	spec := model.ConditionSpec{
		Kind:         model.ConditionSliced,
		StartMatcher: 0, StopMatcher: 1, HasStopMatcher: true,
		SlicedBy:       []model.FieldPath{model.NewFieldPath(1)},
		InitialUnknown: true,
	}
	tr := NewSlicedTracker(spec)

	path := model.NewFieldPath(1)
	uidA := model.Event{Values: []model.FieldValue{{Path: path, Type: model.ValueTypeInt32, Int32Val: 1}}}
	uidB := model.Event{Values: []model.FieldValue{{Path: path, Type: model.ValueTypeInt32, Int32Val: 2}}}

	tr.OnMatched(&uidA, []match.Result{match.ResultMatched, match.ResultNotMatched})
	assert.Equal(t, model.True, tr.Get(nil))

	keyA := model.NewDimensionKey(uidA.Values)
	keyB := model.NewDimensionKey(uidB.Values)
	assert.Equal(t, model.True, tr.Get(&keyA))
	assert.Equal(t, model.Unknown, tr.Get(&keyB), "untouched slice defaults per InitialUnknown")

	tr.OnMatched(&uidA, []match.Result{match.ResultNotMatched, match.ResultMatched})
	assert.Equal(t, model.False, tr.Get(nil), "only slice goes back to zero")
}

func TestCombinationTrackerAndOr(t *testing.T) {
	andSpec := model.ConditionSpec{Kind: model.ConditionCombination, Op: model.OpAnd, Children: []int{0, 1}}
	and := NewCombinationTracker(andSpec)
	assert.Equal(t, model.False, and.Evaluate([]model.TriState{model.False, model.True}))
	assert.Equal(t, model.Unknown, and.Evaluate([]model.TriState{model.Unknown, model.True}))
	assert.Equal(t, model.True, and.Evaluate([]model.TriState{model.True, model.True}))
	assert.Equal(t, model.True, and.Get(nil))

	notSpec := model.ConditionSpec{Kind: model.ConditionCombination, Op: model.OpNot, Children: []int{0}}
	not := NewCombinationTracker(notSpec)
	assert.Equal(t, model.False, not.Evaluate([]model.TriState{model.True}))
}

func TestWizardEvaluatesConditionGraph(t *testing.T) {
	specs := []model.ConditionSpec{
		{Index: 0, Kind: model.ConditionSimple, StartMatcher: 0, StopMatcher: 1, HasStopMatcher: true},
		{Index: 1, Kind: model.ConditionSimple, StartMatcher: 2, StopMatcher: 3, HasStopMatcher: true, InitialUnknown: true},
		{Index: 2, Kind: model.ConditionCombination, Op: model.OpAnd, Children: []int{0, 1}},
	}
	w, err := NewWizard(specs)
	require.NoError(t, err)

	changed := w.OnEvent(&model.Event{}, []match.Result{match.ResultMatched, match.ResultNotMatched, match.ResultNotMatched, match.ResultNotMatched})
	assert.Contains(t, changed, 0)
	assert.Equal(t, model.True, w.Query(0, nil))
	assert.Equal(t, model.Unknown, w.Query(2, nil), "AND with one still-unknown child")

	w.OnEvent(&model.Event{}, []match.Result{match.ResultNotMatched, match.ResultNotMatched, match.ResultMatched, match.ResultNotMatched})
	assert.Equal(t, model.True, w.Query(2, nil))
}

func TestWizardDetectsCycle(t *testing.T) {
	specs := []model.ConditionSpec{
		{ID: 1, Index: 0, Kind: model.ConditionCombination, Op: model.OpAnd, Children: []int{1}},
		{ID: 2, Index: 1, Kind: model.ConditionCombination, Op: model.OpAnd, Children: []int{0}},
	}
	_, err := NewWizard(specs)
	require.Error(t, err)
}

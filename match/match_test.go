package match

import (
	"testing"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	atomLogin  int32 = 1
	atomLogout int32 = 2
)

func attrNode(uid int32, childIdx int, last bool) model.FieldValue {
	last01 := 0
	if last {
		last01 = 1
	}
	path := model.NewFieldPath(atomLogin, [2]int{childIdx, last01})
	return model.FieldValue{Path: path, Type: model.ValueTypeInt32, Int32Val: uid}
}

func evalResult(m Matcher, ev *model.Event, cache []Result) Result {
	result, _ := m.Evaluate(ev, cache)
	return result
}

func TestSimpleMatcherAtomIDOnly(t *testing.T) {
	spec := model.MatcherSpec{ID: 1, Index: 0, Simple: true, AtomID: atomLogin}
	m := &SimpleMatcher{Spec: spec}

	assert.Equal(t, ResultMatched, evalResult(m, &model.Event{AtomID: atomLogin}, nil))
	assert.Equal(t, ResultNotMatched, evalResult(m, &model.Event{AtomID: atomLogout}, nil))

	result, transformed := m.Evaluate(&model.Event{AtomID: atomLogin}, nil)
	assert.Equal(t, ResultMatched, result)
	assert.Nil(t, transformed, "a matcher with no declared transforms returns a nil event")
}

func TestSimpleMatcherPositionFirstLast(t *testing.T) {
	ev := &model.Event{
		AtomID: atomLogin,
		Values: []model.FieldValue{
			attrNode(100, 1, false),
			attrNode(200, 2, false),
			attrNode(300, 3, true),
		},
	}

	first := model.MatcherSpec{Simple: true, AtomID: atomLogin, Constraints: []model.FieldConstraint{{
		Path:          model.NewFieldPath(atomLogin, [2]int{0, 0}),
		Position:      model.PositionFirst,
		RepeatedDepth: 0,
		Expected:      model.FieldValue{Type: model.ValueTypeInt32, Int32Val: 100},
	}}}
	assert.Equal(t, ResultMatched, evalResult(&SimpleMatcher{Spec: first}, ev, nil))

	last := model.MatcherSpec{Simple: true, AtomID: atomLogin, Constraints: []model.FieldConstraint{{
		Path:          model.NewFieldPath(atomLogin, [2]int{0, 0}),
		Position:      model.PositionLast,
		RepeatedDepth: 0,
		Expected:      model.FieldValue{Type: model.ValueTypeInt32, Int32Val: 300},
	}}}
	assert.Equal(t, ResultMatched, evalResult(&SimpleMatcher{Spec: last}, ev, nil))

	wrongLast := last
	wrongLast.Constraints[0].Expected = model.FieldValue{Type: model.ValueTypeInt32, Int32Val: 200}
	assert.Equal(t, ResultNotMatched, evalResult(&SimpleMatcher{Spec: wrongLast}, ev, nil))
}

func TestSimpleMatcherPositionAnyAll(t *testing.T) {
	ev := &model.Event{
		AtomID: atomLogin,
		Values: []model.FieldValue{
			attrNode(100, 1, false),
			attrNode(100, 2, true),
		},
	}

	any := model.MatcherSpec{Simple: true, AtomID: atomLogin, Constraints: []model.FieldConstraint{{
		Path:          model.NewFieldPath(atomLogin, [2]int{0, 0}),
		Position:      model.PositionAny,
		RepeatedDepth: 0,
		Expected:      model.FieldValue{Type: model.ValueTypeInt32, Int32Val: 100},
	}}}
	assert.Equal(t, ResultMatched, evalResult(&SimpleMatcher{Spec: any}, ev, nil))

	all := any
	all.Constraints = append([]model.FieldConstraint{}, any.Constraints...)
	all.Constraints[0].Position = model.PositionAll
	assert.Equal(t, ResultMatched, evalResult(&SimpleMatcher{Spec: all}, ev, nil))

	ev.Values[1] = attrNode(200, 2, true)
	assert.Equal(t, ResultMatched, evalResult(&SimpleMatcher{Spec: any}, ev, nil), "any still sees the 100 element")
	assert.Equal(t, ResultNotMatched, evalResult(&SimpleMatcher{Spec: all}, ev, nil), "all fails once one element diverges")
}

func TestSimpleMatcherAppliesFieldTransform(t *testing.T) {
	srcPath := model.NewFieldPath(atomLogin, [2]int{1, 0})
	destPath := model.NewFieldPath(atomLogin, [2]int{9, 0})
	ev := &model.Event{
		AtomID: atomLogin,
		Values: []model.FieldValue{{Path: srcPath, Type: model.ValueTypeInt32, Int32Val: 42}},
	}

	spec := model.MatcherSpec{
		Simple: true,
		AtomID: atomLogin,
		Transforms: []model.FieldTransform{
			{SourcePath: srcPath, DestPath: destPath},
		},
	}
	m := &SimpleMatcher{Spec: spec}

	result, transformed := m.Evaluate(ev, nil)
	require.Equal(t, ResultMatched, result)
	require.NotNil(t, transformed, "a matched event with declared transforms returns a transformed event")

	v, ok := transformed.Find(destPath)
	require.True(t, ok)
	assert.Equal(t, int32(42), v.Int32Val)

	// The original field is left in place alongside the new one.
	_, stillPresent := transformed.Find(srcPath)
	assert.True(t, stillPresent)
	_, onOriginal := ev.Find(destPath)
	assert.False(t, onOriginal, "the original event passed in is never mutated")
}

func TestSimpleMatcherNoTransformOnNoMatch(t *testing.T) {
	spec := model.MatcherSpec{
		Simple: true,
		AtomID: atomLogin,
		Transforms: []model.FieldTransform{
			{SourcePath: model.NewFieldPath(atomLogin, [2]int{1, 0}), DestPath: model.NewFieldPath(atomLogin, [2]int{9, 0})},
		},
	}
	m := &SimpleMatcher{Spec: spec}

	result, transformed := m.Evaluate(&model.Event{AtomID: atomLogout}, nil)
	assert.Equal(t, ResultNotMatched, result)
	assert.Nil(t, transformed)
}

func TestCombinationMatcherAndShortCircuits(t *testing.T) {
	spec := model.MatcherSpec{Op: model.OpAnd, Children: []int{0, 1}}
	m := &CombinationMatcher{Spec: spec}

	assert.Equal(t, ResultNotMatched, evalResult(m, nil, []Result{ResultNotMatched, ResultNotComputed}))
	assert.Equal(t, ResultNotComputed, evalResult(m, nil, []Result{ResultMatched, ResultNotComputed}))
	assert.Equal(t, ResultMatched, evalResult(m, nil, []Result{ResultMatched, ResultMatched}))
}

func TestCombinationMatcherOrShortCircuits(t *testing.T) {
	spec := model.MatcherSpec{Op: model.OpOr, Children: []int{0, 1}}
	m := &CombinationMatcher{Spec: spec}

	assert.Equal(t, ResultMatched, evalResult(m, nil, []Result{ResultMatched, ResultNotComputed}))
	assert.Equal(t, ResultNotComputed, evalResult(m, nil, []Result{ResultNotMatched, ResultNotComputed}))
	assert.Equal(t, ResultNotMatched, evalResult(m, nil, []Result{ResultNotMatched, ResultNotMatched}))
}

func TestCombinationMatcherNot(t *testing.T) {
	spec := model.MatcherSpec{Op: model.OpNot, Children: []int{0}}
	m := &CombinationMatcher{Spec: spec}

	assert.Equal(t, ResultNotMatched, evalResult(m, nil, []Result{ResultMatched}))
	assert.Equal(t, ResultMatched, evalResult(m, nil, []Result{ResultNotMatched}))
	assert.Equal(t, ResultNotComputed, evalResult(m, nil, []Result{ResultNotComputed}))

	_, transformed := m.Evaluate(nil, []Result{ResultMatched})
	assert.Nil(t, transformed, "a combination matcher never declares a transform")
}

func TestWizardEvaluatesInTopologicalOrder(t *testing.T) {
	specs := []model.MatcherSpec{
		{Index: 0, Simple: true, AtomID: atomLogin},
		{Index: 1, Simple: true, AtomID: atomLogout},
		{Index: 2, Op: model.OpOr, Children: []int{0, 1}},
	}
	w, err := NewWizard(specs)
	require.NoError(t, err)

	results, transformed := w.Evaluate(&model.Event{AtomID: atomLogin})
	assert.Equal(t, ResultMatched, results[0])
	assert.Equal(t, ResultNotMatched, results[1])
	assert.Equal(t, ResultMatched, results[2])
	assert.Nil(t, transformed[0], "no transform declared on this matcher")

	assert.Equal(t, map[int32]struct{}{atomLogin: {}, atomLogout: {}}, w.CoveredTagIDs(2))
}

func TestWizardThreadsTransformedEventPerMatcher(t *testing.T) {
	srcPath := model.NewFieldPath(atomLogin, [2]int{1, 0})
	destPath := model.NewFieldPath(atomLogin, [2]int{9, 0})
	specs := []model.MatcherSpec{
		{Index: 0, Simple: true, AtomID: atomLogin, Transforms: []model.FieldTransform{
			{SourcePath: srcPath, DestPath: destPath},
		}},
		{Index: 1, Simple: true, AtomID: atomLogout},
	}
	w, err := NewWizard(specs)
	require.NoError(t, err)

	ev := &model.Event{
		AtomID: atomLogin,
		Values: []model.FieldValue{{Path: srcPath, Type: model.ValueTypeInt32, Int32Val: 7}},
	}
	results, transformed := w.Evaluate(ev)
	require.Equal(t, ResultMatched, results[0])
	require.NotNil(t, transformed[0])

	v, ok := transformed[0].Find(destPath)
	require.True(t, ok)
	assert.Equal(t, int32(7), v.Int32Val)
	assert.Nil(t, transformed[1], "the non-matching matcher contributes no transformed event")
}

func TestWizardDetectsCycle(t *testing.T) {
	specs := []model.MatcherSpec{
		{ID: 1, Index: 0, Op: model.OpAnd, Children: []int{1}},
		{ID: 2, Index: 1, Op: model.OpAnd, Children: []int{0}},
	}
	_, err := NewWizard(specs)
	require.Error(t, err)

	var reason *model.InvalidConfigReason
	assert.ErrorAs(t, err, &reason)
}

func TestWizardRejectsOutOfRangeChild(t *testing.T) {
	specs := []model.MatcherSpec{
		{ID: 1, Index: 0, Op: model.OpAnd, Children: []int{5}},
	}
	_, err := NewWizard(specs)
	assert.Error(t, err)
}

package match

import "github.com/evergreen-ci/statsbeam/model"

// CombinationMatcher applies AND, OR, or NOT to the cached results of
// its children. Children are referenced by arena index, not by pointer,
// per the Design Notes' arena-plus-index ownership rule, so a matcher
// graph never holds a pointer cycle.
type CombinationMatcher struct {
	Spec model.MatcherSpec
}

// Evaluate implements Matcher. cache must already hold results for every
// index in Spec.Children; Wizard guarantees this by evaluating matchers
// in topological order. A combination matcher never declares its own
// field transformation, so it always returns a nil event.
func (m *CombinationMatcher) Evaluate(_ *model.Event, cache []Result) (Result, *model.Event) {
	switch m.Spec.Op {
	case model.OpAnd:
		sawNotComputed := false
		for _, child := range m.Spec.Children {
			switch cache[child] {
			case ResultNotMatched:
				return ResultNotMatched, nil
			case ResultNotComputed:
				sawNotComputed = true
			}
		}
		if sawNotComputed {
			return ResultNotComputed, nil
		}
		return ResultMatched, nil
	case model.OpOr:
		sawNotComputed := false
		for _, child := range m.Spec.Children {
			switch cache[child] {
			case ResultMatched:
				return ResultMatched, nil
			case ResultNotComputed:
				sawNotComputed = true
			}
		}
		if sawNotComputed {
			return ResultNotComputed, nil
		}
		return ResultNotMatched, nil
	case model.OpNot:
		if len(m.Spec.Children) != 1 {
			return ResultNotComputed, nil
		}
		switch cache[m.Spec.Children[0]] {
		case ResultMatched:
			return ResultNotMatched, nil
		case ResultNotMatched:
			return ResultMatched, nil
		default:
			return ResultNotComputed, nil
		}
	default:
		return ResultNotComputed, nil
	}
}

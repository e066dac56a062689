package match

import "github.com/evergreen-ci/statsbeam/model"

// SimpleMatcher tests a single atom id and an optional set of field
// constraints (spec.md §3, §4.1). An atom-id-only matcher (no
// constraints) matches every instance of that atom.
type SimpleMatcher struct {
	Spec model.MatcherSpec
}

// Evaluate implements Matcher. cache is unused; a simple matcher depends
// on nothing but the event itself. On a match, if Spec declares any
// field transformations they are applied and the resulting event is
// returned alongside ResultMatched (spec.md §4.1).
func (m *SimpleMatcher) Evaluate(ev *model.Event, cache []Result) (Result, *model.Event) {
	if ev.AtomID != m.Spec.AtomID {
		return ResultNotMatched, nil
	}
	for _, c := range m.Spec.Constraints {
		if !matchConstraint(ev, c) {
			return ResultNotMatched, nil
		}
	}
	if len(m.Spec.Transforms) == 0 {
		return ResultMatched, nil
	}
	transformed := ev.ApplyTransforms(m.Spec.Transforms)
	return ResultMatched, &transformed
}

func matchConstraint(ev *model.Event, c model.FieldConstraint) bool {
	if c.Position == model.PositionUnspecified {
		for _, v := range ev.Values {
			if v.Path == c.Path {
				return v.EqualValue(c.Expected)
			}
		}
		return false
	}

	switch c.Position {
	case model.PositionFirst:
		for _, v := range ev.Values {
			if v.Path.EqualExceptDepth(c.Path, c.RepeatedDepth) && v.Path.ChildIndex(c.RepeatedDepth) == 1 {
				return v.EqualValue(c.Expected)
			}
		}
		return false
	case model.PositionLast:
		for _, v := range ev.Values {
			if v.Path.EqualExceptDepth(c.Path, c.RepeatedDepth) && v.Path.IsLast(c.RepeatedDepth) {
				return v.EqualValue(c.Expected)
			}
		}
		return false
	case model.PositionAny:
		for _, v := range ev.Values {
			if v.Path.EqualExceptDepth(c.Path, c.RepeatedDepth) && v.EqualValue(c.Expected) {
				return true
			}
		}
		return false
	case model.PositionAll:
		found := false
		for _, v := range ev.Values {
			if !v.Path.EqualExceptDepth(c.Path, c.RepeatedDepth) {
				continue
			}
			found = true
			if !v.EqualValue(c.Expected) {
				return false
			}
		}
		return found
	default:
		return false
	}
}

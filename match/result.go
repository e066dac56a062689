// Package match implements the atom matcher layer (spec.md §4.1): simple
// matchers that test a single atom's fields, combination matchers that
// AND/OR/NOT other matchers together, and a Wizard that evaluates a
// whole configured matcher graph against one event, caching each
// matcher's result so combination matchers never recompute a child.
package match

import "github.com/evergreen-ci/statsbeam/model"

// Result is the three-valued outcome of evaluating a matcher against an
// event. NotComputed propagates up through AND/OR the same way
// model.TriState does, and lets a combination matcher short-circuit
// without first demanding every child's result.
type Result int

const (
	ResultNotMatched Result = iota
	ResultMatched
	ResultNotComputed
)

func (r Result) String() string {
	switch r {
	case ResultMatched:
		return "matched"
	case ResultNotMatched:
		return "not_matched"
	default:
		return "not_computed"
	}
}

// TriState converts a Result to the model package's tri-state algebra,
// used when a condition wraps a matcher's outcome.
func (r Result) TriState() model.TriState {
	switch r {
	case ResultMatched:
		return model.True
	case ResultNotMatched:
		return model.False
	default:
		return model.Unknown
	}
}

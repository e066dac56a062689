package match

import (
	"fmt"

	"github.com/evergreen-ci/statsbeam/model"
)

// Matcher is one node of a configured matcher graph. Evaluate is given
// the full per-event cache slice so a combination matcher can read its
// children's already-computed results. The returned *model.Event is
// non-nil only on a match that also declares a field transformation
// (spec.md §4.1); callers downstream of the match should prefer it over
// the original event when present.
type Matcher interface {
	Evaluate(ev *model.Event, cache []Result) (Result, *model.Event)
}

// Wizard evaluates a whole matcher arena against one event at a time. It
// is built once per configuration generation and reused across events;
// Evaluate allocates one cache slice per call, so the Wizard itself
// holds no per-event state and is safe for concurrent use.
type Wizard struct {
	specs       []model.MatcherSpec
	matchers    []Matcher
	evalOrder   []int
	coveredTags []map[int32]struct{}
}

// NewWizard builds a Wizard from a matcher arena indexed by
// model.MatcherSpec.Index. It returns a *model.InvalidConfigReason if
// the graph contains a cycle or a child reference is out of range.
func NewWizard(specs []model.MatcherSpec) (*Wizard, error) {
	matchers := make([]Matcher, len(specs))
	for i, s := range specs {
		if s.Simple {
			matchers[i] = &SimpleMatcher{Spec: s}
		} else {
			matchers[i] = &CombinationMatcher{Spec: s}
		}
	}

	order, err := topoOrder(specs)
	if err != nil {
		return nil, err
	}

	w := &Wizard{
		specs:       specs,
		matchers:    matchers,
		evalOrder:   order,
		coveredTags: make([]map[int32]struct{}, len(specs)),
	}
	for _, idx := range order {
		w.coveredTags[idx] = coveredTagsFor(specs[idx], w.coveredTags)
	}
	return w, nil
}

func coveredTagsFor(s model.MatcherSpec, computed []map[int32]struct{}) map[int32]struct{} {
	if s.Simple {
		return map[int32]struct{}{s.AtomID: {}}
	}
	out := make(map[int32]struct{})
	for _, child := range s.Children {
		for id := range computed[child] {
			out[id] = struct{}{}
		}
	}
	return out
}

func topoOrder(specs []model.MatcherSpec) ([]int, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(specs))
	order := make([]int, 0, len(specs))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return model.NewInvalidConfigReason("matcher", specs[i].ID, "acyclic_graph",
				fmt.Sprintf("matcher at index %d participates in a cycle", i))
		}
		state[i] = visiting
		if !specs[i].Simple {
			for _, child := range specs[i].Children {
				if child < 0 || child >= len(specs) {
					return model.NewInvalidConfigReason("matcher", specs[i].ID, "valid_child_reference",
						fmt.Sprintf("child index %d out of range", child))
				}
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		state[i] = done
		order = append(order, i)
		return nil
	}

	for i := range specs {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Evaluate runs every matcher in the arena against ev, in topological
// order, and returns the full per-index result cache alongside a
// per-index transformed event: transformed[idx] is non-nil only where
// matcher idx matched and declared a field transformation (spec.md
// §4.1). Index both slices with a MatcherSpec's Index field.
func (w *Wizard) Evaluate(ev *model.Event) ([]Result, []*model.Event) {
	cache := make([]Result, len(w.specs))
	transformed := make([]*model.Event, len(w.specs))
	for _, idx := range w.evalOrder {
		cache[idx], transformed[idx] = w.matchers[idx].Evaluate(ev, cache)
	}
	return cache, transformed
}

// CoveredTagIDs returns the set of atom ids a matcher (simple or
// combination) can possibly match, precomputed at construction time.
func (w *Wizard) CoveredTagIDs(index int) map[int32]struct{} {
	return w.coveredTags[index]
}

// Len returns the number of matchers in the arena.
func (w *Wizard) Len() int { return len(w.specs) }

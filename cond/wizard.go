package cond

import (
	"fmt"

	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
)

// Wizard evaluates a whole condition arena against one event's matcher
// results. One Wizard is held by the manager and shared by every metric
// producer in the configuration; it exposes Query for point reads that
// never recompute from scratch.
type Wizard struct {
	specs     []model.ConditionSpec
	trackers  []Tracker
	evalOrder []int
}

// NewWizard builds a Wizard from a condition arena indexed by
// model.ConditionSpec.Index. It returns a *model.InvalidConfigReason if
// a combination condition's children form a cycle or reference an
// out-of-range index.
func NewWizard(specs []model.ConditionSpec) (*Wizard, error) {
	trackers := make([]Tracker, len(specs))
	for i, s := range specs {
		switch s.Kind {
		case model.ConditionSimple:
			trackers[i] = NewSimpleTracker(s)
		case model.ConditionSliced:
			trackers[i] = NewSlicedTracker(s)
		case model.ConditionCombination:
			trackers[i] = NewCombinationTracker(s)
		}
	}

	order, err := topoOrder(specs)
	if err != nil {
		return nil, err
	}

	return &Wizard{specs: specs, trackers: trackers, evalOrder: order}, nil
}

func topoOrder(specs []model.ConditionSpec) ([]int, error) {
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
			return model.NewInvalidConfigReason("condition", specs[i].ID, "acyclic_graph",
				fmt.Sprintf("condition at index %d participates in a cycle", i))
		}
		state[i] = visiting
		if specs[i].Kind == model.ConditionCombination {
			for _, child := range specs[i].Children {
				if child < 0 || child >= len(specs) {
					return model.NewInvalidConfigReason("condition", specs[i].ID, "valid_child_reference",
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

// OnEvent updates every simple and sliced tracker driven by ev's matcher
// results, then re-evaluates the whole arena in topological order so
// combination trackers observe up-to-date children. It returns the set
// of condition indices whose value changed.
func (w *Wizard) OnEvent(ev *model.Event, matchCache []match.Result) []int {
	prev := make([]model.TriState, len(w.specs))
	for _, idx := range w.evalOrder {
		prev[idx] = w.trackers[idx].Get(nil)
	}

	for i, s := range w.specs {
		if s.Kind != model.ConditionCombination {
			w.trackers[i].OnMatched(ev, matchCache)
		}
	}

	changed := make([]int, 0)

	cache := make([]model.TriState, len(w.specs))
	for _, idx := range w.evalOrder {
		cache[idx] = w.trackers[idx].Evaluate(cache)
		if cache[idx] != prev[idx] {
			changed = append(changed, idx)
		}
	}
	return changed
}

// Query returns a condition's current value. key is ignored unless the
// condition at conditionIndex is sliced.
func (w *Wizard) Query(conditionIndex int, key *model.DimensionKey) model.TriState {
	return w.trackers[conditionIndex].Get(key)
}

// Len returns the number of conditions in the arena.
func (w *Wizard) Len() int { return len(w.specs) }

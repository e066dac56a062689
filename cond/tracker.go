// Package cond implements the condition tracker layer (spec.md §4.2):
// simple conditions driven by start/stop/stop-all matchers, combination
// conditions that AND/OR/NOT other conditions, sliced conditions that
// maintain one simple condition per dimension key, and a Wizard that
// drives all of them from one event's matcher results.
package cond

import (
	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
)

// Tracker is one node of a configured condition graph.
type Tracker interface {
	// OnMatched updates this tracker's state in response to ev, using
	// the per-event matcher result cache produced by match.Wizard.
	// Returns whether the tracker's overall value changed.
	OnMatched(ev *model.Event, matchCache []match.Result) bool

	// Evaluate resolves this tracker's current tri-state value. For
	// combination trackers it reads children from cache, which holds
	// every condition's Evaluate result so far in topological order;
	// for simple and sliced trackers cache is unused.
	Evaluate(cache []model.TriState) model.TriState

	// Get returns the tracker's overall value, or for a sliced tracker
	// with a non-nil key, that slice's value specifically.
	Get(key *model.DimensionKey) model.TriState
}

// counterState is the nesting counter behind one condition slice
// (spec.md §4.2): a start increments, a stop decrements to zero, a
// stop-all resets, and the slice is Unknown until its first relevant
// event if the condition declares InitialUnknown.
type counterState struct {
	count int
	seen  bool
}

func (c *counterState) value(initialUnknown bool) model.TriState {
	if !c.seen {
		if initialUnknown {
			return model.Unknown
		}
		return model.False
	}
	return model.FromBool(c.count > 0)
}

func (c *counterState) apply(spec model.ConditionSpec, isStart, isStop, isStopAll bool) {
	switch {
	case isStopAll:
		c.count = 0
	case isStart:
		if spec.Nesting == model.NestingAccumulate || c.count == 0 {
			c.count++
		}
	case isStop:
		if c.count > 0 {
			c.count--
		}
	}
	c.seen = true
}

// classifyMatch reports which of the simple condition's three matchers,
// if any, matched this event's cache.
func classifyMatch(spec model.ConditionSpec, cache []match.Result) (isStart, isStop, isStopAll bool) {
	isStart = cache[spec.StartMatcher] == match.ResultMatched
	isStop = spec.HasStopMatcher && cache[spec.StopMatcher] == match.ResultMatched
	isStopAll = spec.HasStopAll && cache[spec.StopAllMatcher] == match.ResultMatched
	return
}

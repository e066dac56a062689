package manager

import (
	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
	"github.com/mongodb/grip/recovery"
)

// eventRole classifies a matched matcher index against spec's wiring.
// Only DURATION metrics distinguish more than the default role; every
// other kind always records with RoleDefault (spec.md §4.3). This is
// computed fresh from the live model.MetricSpec on every call, rather
// than cached on the producer, so a config update that re-wires a
// metric's matchers (same ID, same ProtoHash) takes effect without any
// change to the carried-over *producer.Base (spec.md §8 scenario 6).
func eventRole(spec model.MetricSpec, matcherIndex int) producer.EventRole {
	if spec.Kind != model.MetricDuration {
		return producer.RoleDefault
	}
	switch {
	case spec.HasDurationStopAll && matcherIndex == spec.DurationStopAllMatcher:
		return producer.RoleDurationStopAll
	case spec.HasDurationStopMatcher && matcherIndex == spec.DurationStopMatcher:
		return producer.RoleDurationStop
	case matcherIndex == spec.DurationStartMatcher:
		return producer.RoleDurationStart
	default:
		return producer.RoleDefault
	}
}

// Dispatch routes a matched event into the matcher/condition/producer
// pipeline (spec.md §4, §8). It is the single hot-path entry point and
// is not safe to call concurrently with itself; callers serialize on
// their own ingestion goroutine, per the single-writer threading model
// in spec.md §5. It holds the manager's read lock, so a config swap
// through UpdateConfig or ApplyConfig waits for it to return.
//
// A panic raised while a producer records the event is recovered and
// reported through that producer's FatalInternal, which marks it
// invalid; the remaining producers still receive the event.
func (m *Manager) Dispatch(ev model.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coveringMatchers := m.tagToMatchers[ev.AtomID]
	if len(coveringMatchers) == 0 {
		// No matcher in the graph can possibly match this atom id; skip
		// both match and condition evaluation entirely.
		return
	}

	matchCache, transformedEvents := m.matchWizard.Evaluate(&ev)
	changed := m.condWizard.OnEvent(&ev, matchCache)

	changedSet := make(map[int]bool, len(changed))
	changedToTrue := make(map[int]bool, len(changed))
	for _, idx := range changed {
		changedSet[idx] = true
		if m.condWizard.Query(idx, nil) == model.True {
			changedToTrue[idx] = true
		}
	}

	// A transitioned condition notifies every producer that declared it
	// as ConditionIndex (spec.md §4.3 on_condition_changed /
	// on_sliced_condition_may_change). This is independent of Activation
	// below: a condition transition forces a partial-bucket split on its
	// dependent producers, it does not flip their active state.
	for _, condIdx := range changed {
		metricIdxs, ok := m.conditionToMetrics[condIdx]
		if !ok {
			continue
		}
		value := m.condWizard.Query(condIdx, nil)
		sliced := m.graph.Conditions[condIdx].Kind == model.ConditionSliced
		for _, metricIdx := range metricIdxs {
			entry := &m.metrics[metricIdx]
			if sliced {
				entry.base.OnSlicedConditionMayChange(value, ev.ElapsedNanos)
			} else {
				entry.base.OnConditionChanged(value, ev.ElapsedNanos)
			}
		}
	}

	for _, matcherIdx := range coveringMatchers {
		if matchCache[matcherIdx] != match.ResultMatched {
			continue
		}

		// Activation (spec.md §3) transitions on genuine qualifying and
		// deactivating matcher events, never on condition transitions.
		for _, metricIdx := range m.activationTriggerToMetrics[matcherIdx] {
			entry := &m.metrics[metricIdx]
			entry.base.Activate(triggerActivation, activationExpiry(entry.spec, ev.ElapsedNanos), ev.ElapsedNanos)
		}
		for _, metricIdx := range m.activationDeactivateToMetrics[matcherIdx] {
			entry := &m.metrics[metricIdx]
			entry.base.Deactivate(triggerActivation, ev.ElapsedNanos)
		}

		effective := &ev
		if t := transformedEvents[matcherIdx]; t != nil {
			effective = t
		}

		for _, metricIdx := range m.matcherToMetrics[matcherIdx] {
			entry := &m.metrics[metricIdx]
			if entry.base.IsInvalid() {
				continue
			}

			if entry.spec.HasCondition {
				result := m.queryMetricCondition(entry.spec, *effective)
				if result == model.Unknown {
					entry.base.RecordConditionUnknown(effective.ElapsedNanos)
					continue
				}
				if result != model.True {
					continue
				}
			}

			dim := model.MetricDimensionKey{
				What:  (model.DimensionSpec{Paths: entry.spec.DimensionPathInWhat}).Extract(*effective),
				State: (model.DimensionSpec{Paths: entry.spec.StatePaths}).Extract(*effective),
			}

			if entry.gauge != nil && !shouldSampleGauge(entry, dim, changedSet, changedToTrue) {
				continue
			}

			role := eventRole(entry.spec, matcherIdx)
			func() {
				defer func() {
					if err := recovery.HandlePanicWithError(recover(), nil, "metric producer dispatch"); err != nil {
						entry.base.FatalInternal(err)
					}
				}()
				entry.base.OnMatchedEvent(dim, effective, role)
			}()
		}
	}
}

// activationExpiry returns the nanosecond timestamp a trigger-driven
// activation should expire at: ActivationTTLNanos past now, or never
// (farFutureNanos) if the metric relies solely on an explicit
// deactivation trigger.
func activationExpiry(spec model.MetricSpec, nowNanos int64) int64 {
	if spec.ActivationTTLNanos <= 0 {
		return farFutureNanos
	}
	return nowNanos + spec.ActivationTTLNanos
}

// queryMetricCondition evaluates spec's own gating condition (spec.md
// §4.2: "condition_key is the translated dimension extracted from the
// event via declared metric→condition field links"), resolving the
// sliced case's key and leaving it nil for a non-sliced condition,
// which Wizard.Query ignores.
func (m *Manager) queryMetricCondition(spec model.MetricSpec, ev model.Event) model.TriState {
	var key *model.DimensionKey
	if m.graph.Conditions[spec.ConditionIndex].Kind == model.ConditionSliced {
		k := (model.DimensionSpec{Paths: spec.ConditionFieldLinks}).Extract(ev)
		key = &k
	}
	return m.condWizard.Query(spec.ConditionIndex, key)
}

// shouldSampleGauge applies the gating a GaugeProducer wrapper would
// apply in front of GaugeAccumulator.Record (spec.md §4.3, the resolved
// Open Question documented on producer.GaugeAccumulator): RANDOM_ONE_SAMPLE
// takes at most one sample per dimension per bucket; the two
// condition-driven modes only sample on a Dispatch call that also moved
// this metric's gating condition (ConditionIndex).
func shouldSampleGauge(entry *metricEntry, dim model.MetricDimensionKey, changedSet, changedToTrue map[int]bool) bool {
	switch entry.spec.GaugeMode {
	case model.GaugeRandomOneSample:
		return !entry.gauge.HasSample(dim)
	case model.GaugeConditionChangeToTrue:
		return entry.spec.HasCondition && changedToTrue[entry.spec.ConditionIndex]
	case model.GaugeAllConditionChanges:
		return entry.spec.HasCondition && changedSet[entry.spec.ConditionIndex]
	default: // GaugeFirstNSamples: the accumulator's own cap is sufficient.
		return true
	}
}

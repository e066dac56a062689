package manager

import (
	"github.com/evergreen-ci/statsbeam/anomaly"
	"github.com/evergreen-ci/statsbeam/cond"
	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
	"github.com/pkg/errors"
)

func kindFromModel(k model.MetricKind) producer.Kind {
	switch k {
	case model.MetricEvent:
		return producer.KindEvent
	case model.MetricCount:
		return producer.KindCount
	case model.MetricDuration:
		return producer.KindDuration
	case model.MetricGauge:
		return producer.KindGauge
	case model.MetricNumericValue:
		return producer.KindNumericValue
	case model.MetricKll:
		return producer.KindKll
	default:
		return producer.KindCount
	}
}

func numericModeFromModel(m model.NumericMode) producer.NumericMode {
	switch m {
	case model.NumericMin:
		return producer.NumericMin
	case model.NumericMax:
		return producer.NumericMax
	case model.NumericAvg:
		return producer.NumericAvg
	case model.NumericDiff:
		return producer.NumericDiff
	default:
		return producer.NumericSum
	}
}

func durationModeFromModel(m model.DurationMode) producer.DurationMode {
	if m == model.DurationMaxSparse {
		return producer.DurationMaxSparse
	}
	return producer.DurationSum
}

// buildAccumulator constructs the kind-specific accumulator for spec,
// plus the GaugeAccumulator back-pointer Dispatch needs for
// RANDOM_ONE_SAMPLE gating (spec.md §4.3, producer/gauge.go).
func buildAccumulator(spec model.MetricSpec) (producer.Accumulator, *producer.GaugeAccumulator) {
	switch spec.Kind {
	case model.MetricEvent:
		return producer.NewEventAccumulator(), nil
	case model.MetricCount:
		acc := producer.NewCountAccumulator()
		acc.HasUploadThreshold = spec.HasCountUploadThreshold
		acc.UploadThresholdMin = spec.CountUploadThresholdMin
		acc.UploadThresholdMax = spec.CountUploadThresholdMax
		return acc, nil
	case model.MetricDuration:
		return producer.NewDurationAccumulator(durationModeFromModel(spec.DurationAggMode), spec.DurationNesting), nil
	case model.MetricGauge:
		acc := producer.NewGaugeAccumulator(spec.GaugeMaxSamples)
		return acc, acc
	case model.MetricNumericValue:
		return producer.NewNumericValueAccumulator(spec.NumericPaths, numericModeFromModel(spec.NumericAggMode), spec.UseAbsoluteValueOnReset), nil
	case model.MetricKll:
		return producer.NewKllAccumulator(spec.KllPaths, spec.KllMaxSampleSize), nil
	default:
		return producer.NewCountAccumulator(), nil
	}
}

func configFromSpec(spec model.MetricSpec, maxDropEventsPerBucket int) producer.Config {
	return producer.Config{
		MetricID:               spec.ID,
		ConfigKey:              spec.ConfigKey,
		ProtoHash:              spec.ProtoHash,
		Kind:                   kindFromModel(spec.Kind),
		TimeBaseNanos:          spec.TimeBaseNanos,
		BucketSizeNanos:        spec.BucketSizeNanos,
		MinBucketSizeNanos:     spec.MinBucketSizeNanos,
		MaxPullDelayNanos:      spec.MaxPullDelayNanos,
		DimensionSoftLimit:     spec.DimensionSoftLimit,
		DimensionHardLimit:     spec.DimensionHardLimit,
		MaxDropEventsPerBucket: maxDropEventsPerBucket,
		DimensionPathInWhat:    spec.DimensionPathInWhat,
		Anomaly: anomaly.Config{
			WindowSize:              spec.AnomalyWindowSize,
			Threshold:               spec.AnomalyThreshold,
			ChangePointDetection:    spec.ChangePointDetection,
			ChangePointPValue:       spec.ChangePointPValue,
			ChangePointPermutations: spec.ChangePointPermutations,
			ChangePointSeed:         spec.ChangePointSeed,
			ChangePointMaxSeriesLen: spec.ChangePointMaxSeriesLen,
		},
		DurationStartMatcher:   spec.DurationStartMatcher,
		DurationStopMatcher:    spec.DurationStopMatcher,
		HasDurationStopMatcher: spec.HasDurationStopMatcher,
		DurationStopAllMatcher: spec.DurationStopAllMatcher,
		HasDurationStopAll:     spec.HasDurationStopAll,
	}
}

// buildMetricEntry constructs a fresh producer for spec and activates it
// immediately unless it declares an activation trigger matcher, in which
// case it starts inactive until Dispatch observes that matcher fire
// (spec.md §3 "Activation").
func (m *Manager) buildMetricEntry(spec model.MetricSpec) metricEntry {
	acc, gauge := buildAccumulator(spec)
	base := producer.NewBase(configFromSpec(spec, m.maxDropEventsPerBucket), acc, m.notifier, m.subscribers...)
	if !spec.HasActivationTrigger {
		base.Activate(alwaysActivation, farFutureNanos, 0)
	}
	return metricEntry{spec: spec, base: base, gauge: gauge}
}

// rebuild constructs every arena, index, and producer from scratch and
// only swaps them into m once construction fully succeeds, so a bad
// config never leaves m half-updated (spec.md §7 class 1: "the manager
// either builds the whole graph or returns one of these and keeps the
// previous graph in place").
func (m *Manager) rebuild(graph model.ConfigGraph) error {
	matchWizard, err := match.NewWizard(graph.Matchers)
	if err != nil {
		return errors.WithStack(err)
	}
	condWizard, err := cond.NewWizard(graph.Conditions)
	if err != nil {
		return errors.WithStack(err)
	}

	metrics := make([]metricEntry, len(graph.Metrics))
	for i, spec := range graph.Metrics {
		metrics[i] = m.buildMetricEntry(spec)
	}

	idx := buildIndices(graph, matchWizard)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.graph = graph
	m.matchWizard = matchWizard
	m.condWizard = condWizard
	m.metrics = metrics
	m.tagToMatchers = idx.tagToMatchers
	m.matcherToConditions = idx.matcherToConditions
	m.matcherToMetrics = idx.matcherToMetrics
	m.conditionToMetrics = idx.conditionToMetrics
	m.activationTriggerToMetrics = idx.activationTriggerToMetrics
	m.activationDeactivateToMetrics = idx.activationDeactivateToMetrics

	return nil
}

// managerIndices bundles the reverse indices buildIndices computes, so
// rebuild can swap them into m in one assignment block.
type managerIndices struct {
	tagToMatchers                 map[int32][]int
	matcherToConditions            map[int][]int
	matcherToMetrics               map[int][]int
	conditionToMetrics              map[int][]int
	activationTriggerToMetrics      map[int][]int
	activationDeactivateToMetrics   map[int][]int
}

// buildIndices computes the four reverse indices SPEC_FULL.md §12
// requires (tag id to covering matcher, matcher to condition, matcher
// to metric, condition to metric), plus the two activation-matcher
// indices Dispatch needs to drive Activation off genuine trigger and
// deactivation matcher events rather than condition transitions.
func buildIndices(graph model.ConfigGraph, matchWizard *match.Wizard) managerIndices {
	tagToMatchers := make(map[int32][]int)
	for idx := range graph.Matchers {
		for tag := range matchWizard.CoveredTagIDs(idx) {
			tagToMatchers[tag] = append(tagToMatchers[tag], idx)
		}
	}

	matcherToConditions := make(map[int][]int)
	for idx, c := range graph.Conditions {
		if c.Kind == model.ConditionCombination {
			continue
		}
		matcherToConditions[c.StartMatcher] = append(matcherToConditions[c.StartMatcher], idx)
		if c.HasStopMatcher {
			matcherToConditions[c.StopMatcher] = append(matcherToConditions[c.StopMatcher], idx)
		}
		if c.HasStopAll {
			matcherToConditions[c.StopAllMatcher] = append(matcherToConditions[c.StopAllMatcher], idx)
		}
	}

	matcherToMetrics := make(map[int][]int)
	for idx, spec := range graph.Metrics {
		if spec.Kind == model.MetricDuration {
			matcherToMetrics[spec.DurationStartMatcher] = append(matcherToMetrics[spec.DurationStartMatcher], idx)
			if spec.HasDurationStopMatcher {
				matcherToMetrics[spec.DurationStopMatcher] = append(matcherToMetrics[spec.DurationStopMatcher], idx)
			}
			if spec.HasDurationStopAll {
				matcherToMetrics[spec.DurationStopAllMatcher] = append(matcherToMetrics[spec.DurationStopAllMatcher], idx)
			}
			continue
		}
		matcherToMetrics[spec.Matcher] = append(matcherToMetrics[spec.Matcher], idx)
	}

	conditionToMetrics := make(map[int][]int)
	activationTriggerToMetrics := make(map[int][]int)
	activationDeactivateToMetrics := make(map[int][]int)
	for idx, spec := range graph.Metrics {
		if spec.HasCondition {
			conditionToMetrics[spec.ConditionIndex] = append(conditionToMetrics[spec.ConditionIndex], idx)
		}
		if spec.HasActivationTrigger {
			activationTriggerToMetrics[spec.ActivationTriggerMatcher] = append(activationTriggerToMetrics[spec.ActivationTriggerMatcher], idx)
		}
		if spec.HasActivationDeactivateMatcher {
			activationDeactivateToMetrics[spec.ActivationDeactivateMatcher] = append(activationDeactivateToMetrics[spec.ActivationDeactivateMatcher], idx)
		}
	}

	return managerIndices{
		tagToMatchers:                 tagToMatchers,
		matcherToConditions:           matcherToConditions,
		matcherToMetrics:              matcherToMetrics,
		conditionToMetrics:            conditionToMetrics,
		activationTriggerToMetrics:    activationTriggerToMetrics,
		activationDeactivateToMetrics: activationDeactivateToMetrics,
	}
}

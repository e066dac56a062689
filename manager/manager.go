// Package manager wires the matcher wizard, condition wizard, and metric
// producer arena from SPEC_FULL.md into a single dispatch point: one
// configuration graph in, one matched event through Dispatch, a
// producer.Report out of each metric on demand (spec.md §4, §5, §8).
//
// A Manager holds six reverse indices alongside the three arenas, so
// Dispatch never scans the full configuration graph per event: tag id
// to covering matchers, matcher to the conditions and metrics it can
// drive, condition to the metrics it gates, and activation trigger and
// deactivation matcher to the metrics they activate. This mirrors the single-writer, fine-grained-locking threading
// model in spec.md §5 — the manager itself is not safe for concurrent
// Dispatch calls, matching the single ingestion goroutine the original
// design assumes; UpdateConfig takes its own lock so a config swap can
// run from the background job queue without racing dispatch.
package manager

import (
	"sync"

	"github.com/evergreen-ci/statsbeam/anomaly"
	"github.com/evergreen-ci/statsbeam/cond"
	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
)

// alwaysActivation is the activation name a metric without a configured
// activation trigger matcher is permanently activated under, so producer.Base
// never needs a separate "always on" code path (spec.md §3 "Activation").
const alwaysActivation = "always"

// triggerActivation is the activation name used for a metric's
// ActivationTriggerMatcher/ActivationDeactivateMatcher gate (spec.md
// §3). It is driven by matcher events, never by condition transitions —
// see DESIGN.md on the Condition/Activation distinction.
const triggerActivation = "trigger"

// farFutureNanos is used as an activation's expiry for activations that
// never expire on their own (only an explicit Deactivate or a config
// update retires them).
const farFutureNanos = int64(1) << 62

// ConfigSource is consulted by UpdateConfig to fetch the latest
// configuration graph. Satisfied by whatever collaborator the
// deployment uses to read configuration (spec.md §6); YAMLConfigSource
// in configsource.go is the implementation that ships in this repo.
type ConfigSource interface {
	FetchConfigGraph() (model.ConfigGraph, error)
}

// metricEntry bundles a metric's live producer with the pieces of its
// spec that Dispatch and UpdateConfig need repeatedly, so they are not
// recomputed from the spec on every matched event.
type metricEntry struct {
	spec  model.MetricSpec
	base  *producer.Base
	gauge *producer.GaugeAccumulator // non-nil only for MetricGauge
}

// Manager is the engine's single dispatch point (spec.md §4, §8).
type Manager struct {
	mu sync.RWMutex

	notifier               producer.StatsNotifier
	subscribers            []anomaly.AlertSubscriber
	configSource           ConfigSource
	maxDropEventsPerBucket int

	graph       model.ConfigGraph
	matchWizard *match.Wizard
	condWizard  *cond.Wizard
	metrics     []metricEntry

	tagToMatchers                  map[int32][]int
	matcherToConditions            map[int][]int
	matcherToMetrics               map[int][]int
	conditionToMetrics             map[int][]int
	activationTriggerToMetrics     map[int][]int
	activationDeactivateToMetrics  map[int][]int
}

// New builds a Manager from a configuration graph. maxDropEventsPerBucket
// caps the drop-event reasons each producer's skipped buckets record
// (spec.md §7); a value <= 0 falls back to producer.MaxDropEventsPerBucket.
// It returns a *model.InvalidConfigReason (spec.md §7 class 1) if the
// graph is malformed; no partial manager is ever returned on error.
func New(graph model.ConfigGraph, notifier producer.StatsNotifier, configSource ConfigSource, maxDropEventsPerBucket int, subscribers ...anomaly.AlertSubscriber) (*Manager, error) {
	m := &Manager{
		notifier:               notifier,
		subscribers:            subscribers,
		configSource:           configSource,
		maxDropEventsPerBucket: maxDropEventsPerBucket,
	}
	if err := m.rebuild(graph); err != nil {
		return nil, err
	}
	return m, nil
}

// MetricReport returns the ReportDumper for the metric with the given
// ID, satisfying units.Environment.ReportDumper's narrowed shape.
func (m *Manager) MetricReport(metricID int64) (*producer.Base, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.metrics {
		if m.metrics[i].spec.ID == metricID {
			return m.metrics[i].base, true
		}
	}
	return nil, false
}

package manager

import (
	"context"

	"github.com/evergreen-ci/statsbeam/cond"
	"github.com/evergreen-ci/statsbeam/match"
	"github.com/evergreen-ci/statsbeam/model"
	"github.com/pkg/errors"
)

// UpdateConfig implements units.ConfigUpdater: it fetches the latest
// configuration graph from the configured ConfigSource and applies it.
// It runs off the hot ingestion path, driven by the config-update amboy
// job (SPEC_FULL.md §13).
func (m *Manager) UpdateConfig(ctx context.Context) error {
	if m.configSource == nil {
		return errors.New("manager has no config source configured")
	}
	graph, err := m.configSource.FetchConfigGraph()
	if err != nil {
		return errors.WithStack(err)
	}
	return m.ApplyConfig(graph)
}

// ApplyConfig rebuilds the matcher and condition wizards from graph and
// reconciles the metric producer arena against the previous one (spec.md
// §8 scenario 6): a metric whose ID and ProtoHash both match a previous
// entry keeps its exact *producer.Base, preserving all bucket and
// accumulator state across the swap; a metric whose ID matches but whose
// ProtoHash differs is rebuilt from scratch; a metric absent from graph
// is simply dropped; a new ID is constructed fresh. Like rebuild, the new
// arenas and indices are computed before the manager's state is touched,
// so a malformed graph leaves the previous configuration fully intact
// (spec.md §7 class 1).
func (m *Manager) ApplyConfig(graph model.ConfigGraph) error {
	matchWizard, err := match.NewWizard(graph.Matchers)
	if err != nil {
		return errors.WithStack(err)
	}
	condWizard, err := cond.NewWizard(graph.Conditions)
	if err != nil {
		return errors.WithStack(err)
	}

	m.mu.RLock()
	oldByID := make(map[int64]metricEntry, len(m.metrics))
	for _, e := range m.metrics {
		oldByID[e.spec.ID] = e
	}
	m.mu.RUnlock()

	metrics := make([]metricEntry, len(graph.Metrics))
	for i, spec := range graph.Metrics {
		if old, ok := oldByID[spec.ID]; ok && old.spec.ProtoHash == spec.ProtoHash {
			metrics[i] = metricEntry{spec: spec, base: old.base, gauge: old.gauge}
			continue
		}
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

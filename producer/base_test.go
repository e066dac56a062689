package producer

import (
	"testing"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dimOf(uid int32) model.MetricDimensionKey {
	v := model.FieldValue{Type: model.ValueTypeInt32, Int32Val: uid}
	return model.MetricDimensionKey{What: model.NewDimensionKey([]model.FieldValue{v})}
}

func mapKeyOf(uid int32) model.MapKey {
	d := dimOf(uid)
	return d.MapKey()
}

func newTestBase(t *testing.T, cfg Config, acc Accumulator) *Base {
	t.Helper()
	if cfg.BucketSizeNanos == 0 {
		cfg.BucketSizeNanos = 1000
	}
	if cfg.DimensionHardLimit == 0 {
		cfg.DimensionHardLimit = 10
	}
	if cfg.DimensionSoftLimit == 0 {
		cfg.DimensionSoftLimit = 5
	}
	b := NewBase(cfg, acc, nil)
	b.active = true
	return b
}

func TestBaseFinalizesOnBucketRollover(t *testing.T) {
	acc := NewCountAccumulator()
	b := newTestBase(t, Config{MetricID: 1, BucketSizeNanos: 1000, MinBucketSizeNanos: 1}, acc)

	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 100}, RoleDefault)
	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 200}, RoleDefault)
	// crosses into bucket 1
	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 1500}, RoleDefault)

	rep := b.OnDumpReport(5000, false, false)
	buckets := rep.Buckets[mapKeyOf(1)]
	require.Len(t, buckets, 1)
	assert.Equal(t, CountPayload{Count: 2}, buckets[0].Payload)
}

type countingNotifier struct{ drops int }

func (n *countingNotifier) NotifyGuardrailSoftCrossed(int64)   {}
func (n *countingNotifier) NotifyGuardrailHardHit(int64)       {}
func (n *countingNotifier) NotifyDrop(int64, model.DropReason) { n.drops++ }
func (n *countingNotifier) NotifyPullDelayExceeded(int32)      {}
func (n *countingNotifier) NotifyPullFailed(int32)             {}

func TestBaseHonorsConfiguredMaxDropEventsPerBucket(t *testing.T) {
	acc := NewCountAccumulator()
	notifier := &countingNotifier{}
	cfg := Config{
		MetricID:               1,
		BucketSizeNanos:        1000,
		MinBucketSizeNanos:     2000,
		MaxDropEventsPerBucket: 2,
	}
	b := NewBase(cfg, acc, notifier)
	b.active = true

	// First event creates a too-small skipped bucket with one DropEvent.
	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 100}, RoleDefault)
	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 1500}, RoleDefault)

	// Two more condition-unknown drops: the first fits under the cap of
	// 2, the second overflows it and only reaches the notifier.
	b.RecordConditionUnknown(1600)
	b.RecordConditionUnknown(1700)

	rep := b.OnDumpReport(5000, false, false)
	require.Len(t, rep.Skipped, 1)
	assert.Len(t, rep.Skipped[0].DropEvents, 2, "capped at MaxDropEventsPerBucket")
	assert.Equal(t, 2, notifier.drops, "the initial too-small notify plus the overflowing drop")
}

func TestBaseSkipsTooSmallBucket(t *testing.T) {
	acc := NewCountAccumulator()
	b := newTestBase(t, Config{MetricID: 1, BucketSizeNanos: 1000, MinBucketSizeNanos: 2000}, acc)

	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 100}, RoleDefault)
	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 1500}, RoleDefault)

	rep := b.OnDumpReport(5000, false, false)
	assert.Empty(t, rep.Buckets[mapKeyOf(1)])
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, model.BucketTooSmall, rep.Skipped[0].DropEvents[0].Reason)
}

func TestBaseDimensionHardLimitDropsNewDimensions(t *testing.T) {
	acc := NewCountAccumulator()
	b := newTestBase(t, Config{MetricID: 1, DimensionHardLimit: 2, DimensionSoftLimit: 1, MinBucketSizeNanos: 1}, acc)

	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 10}, RoleDefault)
	b.OnMatchedEvent(dimOf(2), &model.Event{ElapsedNanos: 10}, RoleDefault)
	b.OnMatchedEvent(dimOf(3), &model.Event{ElapsedNanos: 10}, RoleDefault)

	rep := b.OnDumpReport(5000, true, false)
	assert.True(t, rep.DimensionGuardrailHit)
	assert.NotContains(t, rep.Buckets, mapKeyOf(3))
	assert.Contains(t, rep.Buckets, mapKeyOf(1))
	assert.Contains(t, rep.Buckets, mapKeyOf(2))
}

func TestBaseOnActiveStateChangedFlushesBucket(t *testing.T) {
	acc := NewCountAccumulator()
	b := newTestBase(t, Config{MetricID: 1, MinBucketSizeNanos: 1}, acc)

	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 10}, RoleDefault)
	b.OnActiveStateChanged(500, false)

	rep := b.OnDumpReport(5000, false, false)
	require.Len(t, rep.Buckets[mapKeyOf(1)], 1)
}

func TestBaseOnDumpReportErasesData(t *testing.T) {
	acc := NewCountAccumulator()
	b := newTestBase(t, Config{MetricID: 1, MinBucketSizeNanos: 1}, acc)

	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 10}, RoleDefault)
	b.OnMatchedEvent(dimOf(1), &model.Event{ElapsedNanos: 1500}, RoleDefault)

	first := b.OnDumpReport(5000, true, true)
	require.NotEmpty(t, first.Buckets)

	second := b.OnDumpReport(6000, false, false)
	assert.Empty(t, second.Buckets)
}

func TestBaseOnDataPulledDropsLateData(t *testing.T) {
	acc := NewCountAccumulator()
	b := newTestBase(t, Config{MetricID: 1, MaxPullDelayNanos: 100, MinBucketSizeNanos: 1}, acc)

	b.OnDataPulled(7, []model.Event{{ElapsedNanos: 10}}, 0, 1000, true, func(model.Event) model.MetricDimensionKey {
		return dimOf(1)
	})

	rep := b.OnDumpReport(5000, false, false)
	assert.Empty(t, rep.Buckets)
}

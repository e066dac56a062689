package producer

import (
	"sync"

	"github.com/evergreen-ci/statsbeam/anomaly"
	"github.com/evergreen-ci/statsbeam/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Config holds the construction-time parameters a Base needs, read from
// the metric's entry in the configuration graph (spec.md §3, §6).
type Config struct {
	MetricID  int64
	ConfigKey string
	ProtoHash uint64
	Kind      Kind

	TimeBaseNanos      int64
	BucketSizeNanos    int64
	MinBucketSizeNanos int64
	MaxPullDelayNanos  int64

	DimensionSoftLimit int
	DimensionHardLimit int

	// MaxDropEventsPerBucket caps how many drop-event reasons a single
	// skipped bucket records; a value <= 0 falls back to
	// producer.MaxDropEventsPerBucket.
	MaxDropEventsPerBucket int

	DimensionPathInWhat []model.FieldPath

	Anomaly anomaly.Config

	// Duration-only: which matched role (start/stop/stop-all) a given
	// matcher index corresponds to. Left zero-valued for other kinds.
	DurationStartMatcher   int
	DurationStopMatcher    int
	HasDurationStopMatcher bool
	DurationStopAllMatcher int
	HasDurationStopAll     bool
}

// Base implements the bucket lifecycle, activation, dimension
// guardrail, and anomaly-tracker hookup shared by all six metric kinds
// (spec.md §4.3). Kind-specific behavior is supplied by an Accumulator.
type Base struct {
	mu sync.Mutex

	cfg         Config
	acc         Accumulator
	notifier    StatsNotifier
	anomaly     *anomaly.SlidingWindowTracker
	changePoint *anomaly.ChangePointTracker

	currentBucketNum   int64
	currentBucketStart int64
	liveDims           map[model.MapKey]struct{}
	guardrailHit       bool

	pastBuckets map[model.MapKey][]PastBucket
	dimKeys     map[model.MapKey]model.MetricDimensionKey
	skipped     []model.SkippedBucket

	maxDropEventsPerBucket int

	activation activationState
	active     bool

	invalid bool
}

// MaxDropEventsPerBucket is the default cap on the number of drop-event
// reasons recorded per skipped bucket (spec.md §7), used when a Config
// doesn't override it. Events beyond the cap are still counted in the
// stats-about-stats singleton but not appended here.
const MaxDropEventsPerBucket = 10

// NewBase constructs a Base. notifier may be nil, in which case
// operational events are silently discarded (useful in tests).
func NewBase(cfg Config, acc Accumulator, notifier StatsNotifier, subscribers ...anomaly.AlertSubscriber) *Base {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	var tracker *anomaly.SlidingWindowTracker
	if cfg.Anomaly.Enabled() {
		tracker = anomaly.NewSlidingWindowTracker(cfg.MetricID, cfg.Anomaly, subscribers...)
	}
	changePoint := anomaly.NewChangePointTrackerFromConfig(cfg.MetricID, cfg.Anomaly, subscribers...)
	maxDropEvents := cfg.MaxDropEventsPerBucket
	if maxDropEvents <= 0 {
		maxDropEvents = MaxDropEventsPerBucket
	}
	return &Base{
		cfg:                    cfg,
		acc:                    acc,
		notifier:               notifier,
		anomaly:                tracker,
		changePoint:            changePoint,
		currentBucketStart:     cfg.TimeBaseNanos,
		liveDims:               make(map[model.MapKey]struct{}),
		pastBuckets:            make(map[model.MapKey][]PastBucket),
		dimKeys:                make(map[model.MapKey]model.MetricDimensionKey),
		activation:             newActivationState(),
		maxDropEventsPerBucket: maxDropEvents,
	}
}

// IsInvalid reports whether a fatal internal error has marked this
// producer dead; the manager excludes an invalid producer from future
// dispatch without tearing down its peers (spec.md §7 class 3).
func (b *Base) IsInvalid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invalid
}

func (b *Base) markInvalid(cause error) {
	b.invalid = true
	grip.Error(message.WrapError(cause, message.Fields{
		"message":   "metric producer marked invalid after fatal internal error",
		"metric_id": b.cfg.MetricID,
		"config_key": b.cfg.ConfigKey,
	}))
}

// OnMatchedEvent implements the shared part of spec.md §4.3
// on_matched_event: activation state and the metric's own gating
// condition are the caller's responsibility (the manager only calls
// this after consulting its condition wizard for entry.spec.ConditionIndex);
// Base performs bucket rollover and the dimension guardrail before
// handing the event to the kind-specific accumulator.
func (b *Base) OnMatchedEvent(dim model.MetricDimensionKey, ev *model.Event, role EventRole) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.invalid || !b.active {
		return
	}

	b.rolloverLocked(ev.ElapsedNanos)

	key := dim.MapKey()
	if _, live := b.liveDims[key]; !live {
		if len(b.liveDims) >= b.cfg.DimensionHardLimit {
			b.guardrailHit = true
			b.notifier.NotifyGuardrailHardHit(b.cfg.MetricID)
			b.notifier.NotifyDrop(b.cfg.MetricID, model.DimensionGuardrailReached)
			return
		}
		b.liveDims[key] = struct{}{}
		b.dimKeys[key] = dim
		if len(b.liveDims) == b.cfg.DimensionSoftLimit {
			b.notifier.NotifyGuardrailSoftCrossed(b.cfg.MetricID)
		}
	}

	b.acc.Record(dim, ev, role)
}

// rolloverLocked finalizes the current bucket and advances to the
// bucket containing eventNanos if the event has crossed the current
// bucket's end (spec.md §4.3 "Bucket lifecycle"). Caller holds b.mu.
func (b *Base) rolloverLocked(eventNanos int64) {
	currentEnd := b.currentBucketStart + b.cfg.BucketSizeNanos
	if eventNanos < currentEnd {
		return
	}

	skippedMultiple := false
	for eventNanos >= currentEnd {
		b.finalizeLocked(b.currentBucketStart, currentEnd, true)
		elapsedBuckets := 1 + (eventNanos-currentEnd)/b.cfg.BucketSizeNanos
		b.currentBucketNum += elapsedBuckets
		b.currentBucketStart = b.cfg.TimeBaseNanos + b.currentBucketNum*b.cfg.BucketSizeNanos
		currentEnd = b.currentBucketStart + b.cfg.BucketSizeNanos
		if elapsedBuckets > 1 {
			skippedMultiple = true
		}
		if eventNanos < currentEnd {
			break
		}
	}
	if skippedMultiple {
		b.recordDropLocked(model.MultipleBucketsSkipped, eventNanos)
	}
}

// finalizeLocked closes out the bucket [start, end) and either places
// it in past-buckets or records it as skipped, per spec.md §4.3. full
// is true when the bucket spans exactly one nominal interval (as
// opposed to a caller-requested partial flush); only full buckets feed
// the anomaly tracker.
func (b *Base) finalizeLocked(start, end int64, full bool) {
	if end-start < b.cfg.MinBucketSizeNanos {
		b.skipped = append(b.skipped, model.SkippedBucket{
			StartNanos: start,
			EndNanos:   end,
			DropEvents: []model.DropEvent{{Reason: model.BucketTooSmall, DropTime: end}},
		})
		b.notifier.NotifyDrop(b.cfg.MetricID, model.BucketTooSmall)
		b.acc.Finalize(end)
		b.resetCurrentBucketLocked()
		return
	}

	if full && (b.anomaly != nil || b.changePoint != nil) {
		for _, dv := range b.acc.NumericProjection(end) {
			if b.anomaly != nil {
				b.anomaly.Observe(dv.Dim, dv.Value, end)
			}
			if b.changePoint != nil {
				b.changePoint.Observe(dv.Dim, dv.Value, end)
			}
		}
	}

	for _, fd := range b.acc.Finalize(end) {
		key := fd.Dim.MapKey()
		b.dimKeys[key] = fd.Dim
		b.pastBuckets[key] = append(b.pastBuckets[key], PastBucket{
			BucketNum:  b.currentBucketNum,
			StartNanos: start,
			EndNanos:   end,
			Full:       full,
			Payload:    fd.Payload,
		})
	}
	b.resetCurrentBucketLocked()
}

func (b *Base) resetCurrentBucketLocked() {
	b.liveDims = make(map[model.MapKey]struct{})
	b.guardrailHit = false
}

func (b *Base) recordDropLocked(reason model.DropReason, at int64) {
	if len(b.skipped) > 0 {
		last := &b.skipped[len(b.skipped)-1]
		if len(last.DropEvents) < b.maxDropEventsPerBucket {
			last.DropEvents = append(last.DropEvents, model.DropEvent{Reason: reason, DropTime: at})
			return
		}
	}
	b.notifier.NotifyDrop(b.cfg.MetricID, reason)
}

// OnActiveStateChanged implements spec.md §4.3: activation transitions.
// Going inactive flushes the current bucket.
func (b *Base) OnActiveStateChanged(eventNanos int64, isActive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == isActive {
		return
	}
	b.active = isActive
	if !isActive {
		b.finalizeLocked(b.currentBucketStart, eventNanos, false)
	}
}

// OnConditionChanged implements spec.md §4.3 on_condition_changed: a
// non-sliced condition this producer's ConditionIndex depends on
// transitioned. The base forces a partial-bucket split so the data on
// either side of the transition lands in separate buckets; newValue is
// informational only since the next matched event re-queries the
// condition directly.
func (b *Base) OnConditionChanged(newValue model.TriState, eventNanos int64) {
	b.splitPartial(eventNanos)
}

// OnSlicedConditionMayChange implements spec.md §4.3
// on_sliced_condition_may_change: a sliced condition this producer
// depends on changed in at least one slice. Since the affected slice
// may or may not be one this producer's own dimensions fall into, the
// base conservatively takes the same partial split as OnConditionChanged.
func (b *Base) OnSlicedConditionMayChange(overall model.TriState, eventNanos int64) {
	b.splitPartial(eventNanos)
}

// RecordConditionUnknown records a CONDITION_UNKNOWN drop (spec.md §6
// drop reasons) for an event that reached this producer's matcher but
// was withheld because its gating condition had not yet resolved to
// true or false.
func (b *Base) RecordConditionUnknown(eventNanos int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordDropLocked(model.ConditionUnknown, eventNanos)
}

// OnDataPulled implements spec.md §4.3: asynchronous delivery from the
// puller manager. A pull whose actual latency exceeds
// MaxPullDelayNanos is discarded and recorded in stats rather than fed
// to the accumulator.
func (b *Base) OnDataPulled(tagID int32, events []model.Event, originalPullNanos, actualNanos int64, pullOK bool, dim func(model.Event) model.MetricDimensionKey) {
	if !pullOK {
		b.mu.Lock()
		b.recordDropLocked(model.PullFailed, actualNanos)
		b.mu.Unlock()
		b.notifier.NotifyPullFailed(tagID)
		return
	}
	if actualNanos-originalPullNanos > b.cfg.MaxPullDelayNanos {
		b.mu.Lock()
		b.recordDropLocked(model.PullDelayed, actualNanos)
		b.mu.Unlock()
		b.notifier.NotifyPullDelayExceeded(tagID)
		return
	}
	for i := range events {
		ev := events[i]
		b.OnMatchedEvent(dim(ev), &ev, RoleDefault)
	}
}

// OnDumpReport implements spec.md §4.3. If includeCurrentPartial is
// true, the current bucket is first flushed as if truncated at
// dumpNanos; if eraseData is true, past-buckets and skipped-buckets are
// cleared after the snapshot is taken.
func (b *Base) OnDumpReport(dumpNanos int64, includeCurrentPartial, eraseData bool) Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Captured before any flush-triggered reset, so a guardrail hit on
	// the bucket this dump just flushed is still visible in the report.
	guardrailHit := b.guardrailHit
	if includeCurrentPartial && dumpNanos > b.currentBucketStart {
		b.finalizeLocked(b.currentBucketStart, dumpNanos, false)
	}

	rep := Report{
		MetricID:              b.cfg.MetricID,
		ConfigKey:             b.cfg.ConfigKey,
		Kind:                  b.cfg.Kind,
		TimeBaseNanos:         b.cfg.TimeBaseNanos,
		BucketSizeNanos:       b.cfg.BucketSizeNanos,
		IsActive:              b.active,
		DimensionGuardrailHit: guardrailHit,
		DimensionPathInWhat:   b.cfg.DimensionPathInWhat,
		Buckets:               b.pastBuckets,
		DimKeys:               b.dimKeys,
		Skipped:               b.skipped,
	}

	if eraseData {
		b.pastBuckets = make(map[model.MapKey][]PastBucket)
		b.skipped = nil
	}
	return rep
}

// NotifyAppUpgrade and OnStatsdInitCompleted force a partial-bucket
// split (spec.md §4.3); both simply finalize the in-flight bucket
// early, which the next matched event then reopens.
func (b *Base) NotifyAppUpgrade(eventNanos int64)        { b.splitPartial(eventNanos) }
func (b *Base) OnStatsdInitCompleted(eventNanos int64)   { b.splitPartial(eventNanos) }

func (b *Base) splitPartial(eventNanos int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventNanos <= b.currentBucketStart {
		return
	}
	b.finalizeLocked(b.currentBucketStart, eventNanos, false)
	b.currentBucketStart = eventNanos
}

// DropData implements spec.md §4.3: flush, then drop past buckets,
// preserving in-flight bucket state so aggregation continues correctly.
func (b *Base) DropData(dropNanos int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finalizeLocked(b.currentBucketStart, dropNanos, false)
	b.currentBucketStart = dropNanos
	b.pastBuckets = make(map[model.MapKey][]PastBucket)
	b.skipped = nil
}

// ByteSize implements spec.md §4.3: approximate in-memory footprint for
// pressure-driven eviction.
func (b *Base) ByteSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int64
	for _, buckets := range b.pastBuckets {
		total += int64(len(buckets)) * 64
	}
	total += int64(len(b.skipped)) * 48
	total += b.acc.ByteSize()
	return total
}

// Activate and Deactivate expose activationState to kind wrappers that
// need to drive the active/inactive transition from something other
// than a matched event (e.g. a condition rising edge).
func (b *Base) Activate(name string, expiryNanos, nowNanos int64) {
	became := false
	b.mu.Lock()
	became = b.activation.activate(name, expiryNanos, nowNanos)
	b.mu.Unlock()
	if became {
		b.OnActiveStateChanged(nowNanos, true)
	}
}

func (b *Base) Deactivate(name string, nowNanos int64) {
	became := false
	b.mu.Lock()
	became = b.activation.deactivate(name, nowNanos)
	b.mu.Unlock()
	if became {
		b.OnActiveStateChanged(nowNanos, false)
	}
}

func (b *Base) ExpireActivations(nowNanos int64) {
	became := false
	b.mu.Lock()
	became = b.activation.expire(nowNanos)
	b.mu.Unlock()
	if became {
		b.OnActiveStateChanged(nowNanos, false)
	}
}

// DurationRole classifies a matched event by matcher index for
// DURATION-kind producers; other kinds always return RoleDefault.
func (b *Base) DurationRole(matcherIndex int) EventRole {
	switch {
	case b.cfg.HasDurationStopAll && matcherIndex == b.cfg.DurationStopAllMatcher:
		return RoleDurationStopAll
	case b.cfg.HasDurationStopMatcher && matcherIndex == b.cfg.DurationStopMatcher:
		return RoleDurationStop
	case matcherIndex == b.cfg.DurationStartMatcher:
		return RoleDurationStart
	default:
		return RoleDefault
	}
}

// FatalInternal records a fatal internal error per spec.md §7 class 3
// and marks the producer invalid.
func (b *Base) FatalInternal(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markInvalid(errors.WithStack(cause))
}

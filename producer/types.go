// Package producer implements the metric producer layer (spec.md §4.3):
// a shared bucket-lifecycle, activation, and dimension-guardrail base
// plus six kind-specific accumulators (event, count, duration, gauge,
// numeric value, KLL). Every producer runs its own mutex; there is no
// shared lock across producers, matching the fine-grained-locking
// threading model in spec.md §5.
package producer

import "github.com/evergreen-ci/statsbeam/model"

// Kind distinguishes the six metric producer kinds from spec.md §3.
type Kind int

const (
	KindEvent Kind = iota
	KindCount
	KindDuration
	KindGauge
	KindNumericValue
	KindKll
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "EVENT"
	case KindCount:
		return "COUNT"
	case KindDuration:
		return "DURATION"
	case KindGauge:
		return "GAUGE"
	case KindNumericValue:
		return "VALUE"
	case KindKll:
		return "KLL"
	default:
		return "UNKNOWN"
	}
}

// EventRole distinguishes which declared matcher drove a matched event,
// for kinds (DURATION) whose accumulator behaves differently on start
// vs. stop vs. stop-all.
type EventRole int

const (
	RoleDefault EventRole = iota
	RoleDurationStart
	RoleDurationStop
	RoleDurationStopAll
)

// DimValue is one dimension's numeric projection, fed to the anomaly
// tracker at full-bucket boundaries (spec.md §4.3).
type DimValue struct {
	Dim   model.DimensionKey
	Value float64
}

// FinalizedDim is one dimension's accumulator payload as of a bucket's
// finalize, ready to be appended to the producer's past-buckets map.
type FinalizedDim struct {
	Dim     model.MetricDimensionKey
	Payload interface{}
}

// Accumulator is implemented once per metric kind; Base drives it
// through the bucket lifecycle and never inspects Payload itself.
type Accumulator interface {
	Record(dim model.MetricDimensionKey, ev *model.Event, role EventRole)
	NumericProjection(bucketEndNanos int64) []DimValue
	Finalize(bucketEndNanos int64) []FinalizedDim
	ByteSize() int64
}

// PastBucket is one finalized bucket of accumulator output (spec.md §3
// "past-buckets map (dimension key → vector of finalized buckets)").
// Full distinguishes a bucket spanning exactly one nominal bucket
// interval from a partial (caller-truncated) one; the report writer
// emits a bucket number for the former and explicit start/end millis
// for the latter (spec.md §4.4), never both.
type PastBucket struct {
	BucketNum  int64
	StartNanos int64
	EndNanos   int64
	Full       bool
	Payload    interface{}
}

// Report is the structured, not-yet-serialized content produced by
// Base.OnDumpReport. The report package turns this into the
// length-delimited wire format of spec.md §6.
type Report struct {
	MetricID              int64
	ConfigKey             string
	Kind                  Kind
	TimeBaseNanos         int64
	BucketSizeNanos       int64
	IsActive              bool
	DimensionGuardrailHit bool
	DimensionPathInWhat   []model.FieldPath
	Buckets               map[model.MapKey][]PastBucket
	DimKeys               map[model.MapKey]model.MetricDimensionKey
	Skipped               []model.SkippedBucket
}

// StatsNotifier is the narrow interface Base uses to record operational
// events in the process-wide stats-about-stats singleton, satisfied by
// *statsbeam.StatsCache without producer importing the root package.
type StatsNotifier interface {
	NotifyGuardrailSoftCrossed(metricID int64)
	NotifyGuardrailHardHit(metricID int64)
	NotifyDrop(metricID int64, reason model.DropReason)
	NotifyPullDelayExceeded(tagID int32)
	NotifyPullFailed(tagID int32)
}

// noopNotifier is used when a Base is constructed without a notifier,
// e.g. in unit tests.
type noopNotifier struct{}

func (noopNotifier) NotifyGuardrailSoftCrossed(int64)        {}
func (noopNotifier) NotifyGuardrailHardHit(int64)            {}
func (noopNotifier) NotifyDrop(int64, model.DropReason)      {}
func (noopNotifier) NotifyPullDelayExceeded(int32)           {}
func (noopNotifier) NotifyPullFailed(int32)                  {}

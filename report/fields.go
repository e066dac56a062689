// Package report serializes a producer.Report into the length-delimited
// wire format of spec.md §6, using protowire's low-level Append
// primitives directly rather than generated message types, since the
// field layout is a closed, stable contract rather than a full .proto
// schema (SPEC_FULL.md §11).
package report

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// StatsLogReport field numbers (spec.md §6). Per-kind metric fields
// occupy 2-8, with gauge_metrics fixed at 8 by the spec; the rest are
// assigned in the unused range by analogy ("Analogous layouts exist for
// each other metric kind").
const (
	fieldReportID                    = 1
	fieldReportEventMetrics          = 2
	fieldReportCountMetrics          = 3
	fieldReportDurationMetrics       = 4
	fieldReportValueMetrics          = 5
	fieldReportKllMetrics            = 6
	fieldReportGaugeMetrics          = 8
	fieldReportTimeBase              = 9
	fieldReportBucketSize            = 10
	fieldReportDimensionPathInWhat   = 11
	fieldReportIsActive              = 14
	fieldReportDimensionGuardrailHit = 17
)

// MetricDataWrapper field numbers, shared by every per-kind message
// (spec.md §6 GaugeMetricDataWrapper, generalized).
const (
	fieldWrapperData    = 1
	fieldWrapperSkipped = 2
)

// MetricData field numbers (spec.md §6 GaugeMetricData, generalized).
const (
	fieldDataDimensionInWhat    = 1
	fieldDataBucketInfo         = 3
	fieldDataDimensionLeafInWhat = 4
)

// BucketInfo field numbers (spec.md §6 GaugeBucketInfo, generalized).
const (
	fieldBucketNum              = 6
	fieldBucketStartElapsedMillis = 7
	fieldBucketEndElapsedMillis   = 8
	fieldBucketAggregatedAtom     = 9
)

// SkippedBucket / DropEvent field numbers (spec.md §6).
const (
	fieldSkippedStartMillis = 3
	fieldSkippedEndMillis   = 4
	fieldSkippedDropEvent   = 5

	fieldDropBucketDropReason = 1
	fieldDropDropTime         = 2
)

// AggregatedAtomInfo field numbers (spec.md §6).
const (
	fieldAtomValue      = 1
	fieldAtomTimestamps = 2
)

func appendTagVarint(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendTagString(b []byte, field protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendTagBytes(b []byte, field protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendTagMessage(b []byte, field protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendTagFixed64(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

func appendTagSVarint(b []byte, field protowire.Number, v int64) []byte {
	return appendTagVarint(b, field, protowire.EncodeZigZag(v))
}

func nanosToMillis(n int64) int64 { return n / 1_000_000 }

func doubleBits(f float64) uint64 { return math.Float64bits(f) }

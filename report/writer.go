package report

import (
	"math"
	"sort"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes rep into the length-delimited StatsLogReport wire
// format of spec.md §6.
func Encode(rep producer.Report) []byte {
	var b []byte

	b = appendTagVarint(b, fieldReportID, uint64(rep.MetricID))

	wrapper := encodeWrapper(rep)
	kindField := kindFieldNumber(rep.Kind)
	b = appendTagMessage(b, kindField, wrapper)

	b = appendTagVarint(b, fieldReportTimeBase, uint64(rep.TimeBaseNanos))
	b = appendTagVarint(b, fieldReportBucketSize, uint64(rep.BucketSizeNanos))
	for _, path := range rep.DimensionPathInWhat {
		b = appendTagVarint(b, fieldReportDimensionPathInWhat, uint64(path))
	}
	b = appendTagVarint(b, fieldReportIsActive, boolVarint(rep.IsActive))
	b = appendTagVarint(b, fieldReportDimensionGuardrailHit, boolVarint(rep.DimensionGuardrailHit))

	return b
}

func kindFieldNumber(k producer.Kind) protowire.Number {
	switch k {
	case producer.KindEvent:
		return fieldReportEventMetrics
	case producer.KindCount:
		return fieldReportCountMetrics
	case producer.KindDuration:
		return fieldReportDurationMetrics
	case producer.KindGauge:
		return fieldReportGaugeMetrics
	case producer.KindNumericValue:
		return fieldReportValueMetrics
	case producer.KindKll:
		return fieldReportKllMetrics
	default:
		return fieldReportCountMetrics
	}
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// sortedMapKeys returns the map's keys in a deterministic order so
// Encode produces byte-identical output for byte-identical input,
// independent of Go's randomized map iteration.
func sortedMapKeys(buckets map[model.MapKey][]producer.PastBucket) []model.MapKey {
	keys := make([]model.MapKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return mapKeyLess(keys[i], keys[j]) })
	return keys
}

func mapKeyLess(a, b model.MapKey) bool {
	ah, bh := a.Hash(), b.Hash()
	if ah != bh {
		return ah < bh
	}
	return a.Len() < b.Len()
}

func encodeWrapper(rep producer.Report) []byte {
	var b []byte

	for _, key := range sortedMapKeys(rep.Buckets) {
		dim := rep.DimKeys[key]
		b = appendTagMessage(b, fieldWrapperData, encodeMetricData(dim, rep.Buckets[key], rep.Kind))
	}
	for _, skipped := range rep.Skipped {
		b = appendTagMessage(b, fieldWrapperSkipped, encodeSkippedBucket(skipped))
	}

	return b
}

func encodeMetricData(dim model.MetricDimensionKey, buckets []producer.PastBucket, kind producer.Kind) []byte {
	var b []byte

	b = appendTagBytes(b, fieldDataDimensionInWhat, encodeDimensionKey(dim.What))
	for _, bucket := range buckets {
		b = appendTagMessage(b, fieldDataBucketInfo, encodeBucketInfo(bucket, kind))
	}
	if dim.State.Len() > 0 {
		b = appendTagBytes(b, fieldDataDimensionLeafInWhat, encodeDimensionKey(dim.State))
	}

	return b
}

// encodeBucketInfo emits either a bucket number (a full-length bucket)
// or explicit start/end elapsed-millis (a partial bucket), never both,
// per spec.md §4.4/§6: "exact bucket boundaries use bucket_num when the
// bucket is a full-length bucket."
func encodeBucketInfo(bucket producer.PastBucket, kind producer.Kind) []byte {
	var b []byte

	if bucket.Full {
		b = appendTagVarint(b, fieldBucketNum, uint64(bucket.BucketNum))
	} else {
		b = appendTagVarint(b, fieldBucketStartElapsedMillis, uint64(nanosToMillis(bucket.StartNanos)))
		b = appendTagVarint(b, fieldBucketEndElapsedMillis, uint64(nanosToMillis(bucket.EndNanos)))
	}
	for _, atom := range encodePayload(kind, bucket.Payload) {
		b = appendTagBytes(b, fieldBucketAggregatedAtom, atom)
	}

	return b
}

func encodeSkippedBucket(skipped model.SkippedBucket) []byte {
	var b []byte

	b = appendTagVarint(b, fieldSkippedStartMillis, uint64(nanosToMillis(skipped.StartNanos)))
	b = appendTagVarint(b, fieldSkippedEndMillis, uint64(nanosToMillis(skipped.EndNanos)))
	for _, drop := range skipped.DropEvents {
		b = appendTagMessage(b, fieldSkippedDropEvent, encodeDropEvent(drop))
	}

	return b
}

func encodeDropEvent(drop model.DropEvent) []byte {
	var b []byte
	b = appendTagVarint(b, fieldDropBucketDropReason, uint64(drop.Reason))
	b = appendTagVarint(b, fieldDropDropTime, uint64(nanosToMillis(drop.DropTime)))
	return b
}

// encodeDimensionKey encodes an ordered FieldValue sequence as a flat
// concatenation of per-value submessages, each tagged with the value's
// FieldPath so the reader can relocate it without external schema
// knowledge.
func encodeDimensionKey(k model.DimensionKey) []byte {
	var b []byte
	for _, v := range k.Values() {
		b = appendTagMessage(b, 1, encodeFieldValue(v))
	}
	return b
}

const (
	fieldValuePath   = 1
	fieldValueType   = 2
	fieldValueInt32  = 3
	fieldValueInt64  = 4
	fieldValueFloat  = 5
	fieldValueDouble = 6
	fieldValueString = 7
	fieldValueBool   = 8
	fieldValueBytes  = 9
)

func encodeFieldValue(v model.FieldValue) []byte {
	var b []byte
	b = appendTagVarint(b, fieldValuePath, uint64(v.Path))
	b = appendTagVarint(b, fieldValueType, uint64(v.Type))
	switch v.Type {
	case model.ValueTypeInt32:
		b = appendTagSVarint(b, fieldValueInt32, int64(v.Int32Val))
	case model.ValueTypeInt64:
		b = appendTagSVarint(b, fieldValueInt64, v.Int64Val)
	case model.ValueTypeFloat:
		b = appendTagFixed64(b, fieldValueFloat, uint64(math.Float32bits(v.FloatVal)))
	case model.ValueTypeDouble:
		b = appendTagFixed64(b, fieldValueDouble, doubleBits(v.DoubleVal))
	case model.ValueTypeString, model.ValueTypeAttributionNode:
		b = appendTagString(b, fieldValueString, v.StringVal)
	case model.ValueTypeBool:
		b = appendTagVarint(b, fieldValueBool, boolVarint(v.BoolVal))
	case model.ValueTypeBytes:
		b = appendTagBytes(b, fieldValueBytes, v.BytesVal)
	}
	return b
}

package report

import (
	"math"
	"testing"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type rawField struct {
	num protowire.Number
	typ protowire.Type
	val []byte
}

func parseFields(t *testing.T, b []byte) []rawField {
	t.Helper()
	var out []rawField
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.Greater(t, n, 0)
		b = b[n:]

		var val []byte
		var m int
		switch typ {
		case protowire.VarintType:
			v, nn := protowire.ConsumeVarint(b)
			m = nn
			val = protowire.AppendVarint(nil, v)
		case protowire.Fixed64Type:
			v, nn := protowire.ConsumeFixed64(b)
			m = nn
			val = protowire.AppendFixed64(nil, v)
		case protowire.BytesType:
			v, nn := protowire.ConsumeBytes(b)
			m = nn
			val = append([]byte(nil), v...)
		default:
			t.Fatalf("unsupported wire type %v", typ)
		}
		require.Greater(t, m, 0)
		b = b[m:]
		out = append(out, rawField{num: num, typ: typ, val: val})
	}
	return out
}

func fieldsByNumber(fields []rawField, num protowire.Number) []rawField {
	var out []rawField
	for _, f := range fields {
		if f.num == num {
			out = append(out, f)
		}
	}
	return out
}

func dimOf(uid int32) model.MetricDimensionKey {
	v := model.FieldValue{Type: model.ValueTypeInt32, Int32Val: uid}
	return model.MetricDimensionKey{What: model.NewDimensionKey([]model.FieldValue{v})}
}

func TestEncodeCountReport(t *testing.T) {
	dim := dimOf(1)
	key := dim.MapKey()

	rep := producer.Report{
		MetricID:        42,
		Kind:            producer.KindCount,
		TimeBaseNanos:   1000,
		BucketSizeNanos: 1_000_000_000,
		IsActive:        true,
		Buckets: map[model.MapKey][]producer.PastBucket{
			key: {{BucketNum: 0, StartNanos: 0, EndNanos: 1_000_000_000, Full: true, Payload: producer.CountPayload{Count: 5}}},
		},
		DimKeys: map[model.MapKey]model.MetricDimensionKey{key: dim},
	}

	out := Encode(rep)
	require.NotEmpty(t, out)

	top := parseFields(t, out)
	ids := fieldsByNumber(top, fieldReportID)
	require.Len(t, ids, 1)
	v, _ := protowire.ConsumeVarint(ids[0].val)
	assert.Equal(t, uint64(42), v)

	active := fieldsByNumber(top, fieldReportIsActive)
	require.Len(t, active, 1)
	v, _ = protowire.ConsumeVarint(active[0].val)
	assert.Equal(t, uint64(1), v)

	wrappers := fieldsByNumber(top, fieldReportCountMetrics)
	require.Len(t, wrappers, 1)

	wrapperFields := parseFields(t, wrappers[0].val)
	dataFields := fieldsByNumber(wrapperFields, fieldWrapperData)
	require.Len(t, dataFields, 1)

	metricDataFields := parseFields(t, dataFields[0].val)
	bucketInfos := fieldsByNumber(metricDataFields, fieldDataBucketInfo)
	require.Len(t, bucketInfos, 1)

	bucketFields := parseFields(t, bucketInfos[0].val)
	atoms := fieldsByNumber(bucketFields, fieldBucketAggregatedAtom)
	require.Len(t, atoms, 1)

	countFields := parseFields(t, atoms[0].val)
	counts := fieldsByNumber(countFields, fieldCountCount)
	require.Len(t, counts, 1)
	v, _ = protowire.ConsumeVarint(counts[0].val)
	assert.Equal(t, uint64(5), v)

	nums := fieldsByNumber(bucketFields, fieldBucketNum)
	require.Len(t, nums, 1, "a full bucket carries bucket_num")
	assert.Empty(t, fieldsByNumber(bucketFields, fieldBucketStartElapsedMillis), "a full bucket omits start/end millis")
	assert.Empty(t, fieldsByNumber(bucketFields, fieldBucketEndElapsedMillis), "a full bucket omits start/end millis")
}

func TestEncodeBucketInfoPartialBucketUsesElapsedMillis(t *testing.T) {
	dim := dimOf(1)
	key := dim.MapKey()

	rep := producer.Report{
		MetricID: 42,
		Kind:     producer.KindCount,
		Buckets: map[model.MapKey][]producer.PastBucket{
			key: {{StartNanos: 1_500_000_000, EndNanos: 1_700_000_000, Full: false, Payload: producer.CountPayload{Count: 3}}},
		},
		DimKeys: map[model.MapKey]model.MetricDimensionKey{key: dim},
	}

	out := Encode(rep)
	top := parseFields(t, out)
	wrapperFields := parseFields(t, fieldsByNumber(top, fieldReportCountMetrics)[0].val)
	dataFields := parseFields(t, fieldsByNumber(wrapperFields, fieldWrapperData)[0].val)
	bucketFields := parseFields(t, fieldsByNumber(dataFields, fieldDataBucketInfo)[0].val)

	assert.Empty(t, fieldsByNumber(bucketFields, fieldBucketNum), "a partial bucket omits bucket_num")

	starts := fieldsByNumber(bucketFields, fieldBucketStartElapsedMillis)
	require.Len(t, starts, 1)
	v, _ := protowire.ConsumeVarint(starts[0].val)
	assert.Equal(t, uint64(1500), v)

	ends := fieldsByNumber(bucketFields, fieldBucketEndElapsedMillis)
	require.Len(t, ends, 1)
	v, _ = protowire.ConsumeVarint(ends[0].val)
	assert.Equal(t, uint64(1700), v)
}

func TestEncodeFieldValueFloatAndDoubleUseBitPatternNotTruncation(t *testing.T) {
	dim := model.MetricDimensionKey{
		What: model.NewDimensionKey([]model.FieldValue{
			{Type: model.ValueTypeFloat, FloatVal: 3.14},
			{Type: model.ValueTypeDouble, DoubleVal: 2.71828},
		}),
	}
	key := dim.MapKey()

	rep := producer.Report{
		MetricID: 1,
		Kind:     producer.KindCount,
		Buckets: map[model.MapKey][]producer.PastBucket{
			key: {{BucketNum: 0, StartNanos: 0, EndNanos: 1_000_000_000, Full: true, Payload: producer.CountPayload{Count: 1}}},
		},
		DimKeys: map[model.MapKey]model.MetricDimensionKey{key: dim},
	}

	out := Encode(rep)
	top := parseFields(t, out)
	wrapperFields := parseFields(t, fieldsByNumber(top, fieldReportCountMetrics)[0].val)
	dataFields := parseFields(t, fieldsByNumber(wrapperFields, fieldWrapperData)[0].val)
	dimBytes := fieldsByNumber(dataFields, fieldDataDimensionInWhat)
	require.Len(t, dimBytes, 1)

	dimFields := parseFields(t, dimBytes[0].val)
	values := fieldsByNumber(dimFields, 1)
	require.Len(t, values, 2)

	floatFields := parseFields(t, values[0].val)
	floatBits := fieldsByNumber(floatFields, fieldValueFloat)
	require.Len(t, floatBits, 1)
	rawFloat, _ := protowire.ConsumeFixed64(floatBits[0].val)
	assert.InDelta(t, float32(3.14), math.Float32frombits(uint32(rawFloat)), 0.0001)

	doubleFields := parseFields(t, values[1].val)
	doubleBits := fieldsByNumber(doubleFields, fieldValueDouble)
	require.Len(t, doubleBits, 1)
	rawDouble, _ := protowire.ConsumeFixed64(doubleBits[0].val)
	assert.InDelta(t, 2.71828, math.Float64frombits(rawDouble), 0.0000001)
}

func TestEncodeSkippedBucket(t *testing.T) {
	rep := producer.Report{
		MetricID: 1,
		Kind:     producer.KindCount,
		Skipped: []model.SkippedBucket{
			{StartNanos: 0, EndNanos: 1_000_000, DropEvents: []model.DropEvent{{Reason: model.BucketTooSmall, DropTime: 500_000}}},
		},
	}

	out := Encode(rep)
	top := parseFields(t, out)
	wrapperFields := parseFields(t, fieldsByNumber(top, fieldReportCountMetrics)[0].val)
	skipped := fieldsByNumber(wrapperFields, fieldWrapperSkipped)
	require.Len(t, skipped, 1)

	skipFields := parseFields(t, skipped[0].val)
	drops := fieldsByNumber(skipFields, fieldSkippedDropEvent)
	require.Len(t, drops, 1)

	dropFields := parseFields(t, drops[0].val)
	reasons := fieldsByNumber(dropFields, fieldDropBucketDropReason)
	require.Len(t, reasons, 1)
	v, _ := protowire.ConsumeVarint(reasons[0].val)
	assert.Equal(t, uint64(model.BucketTooSmall), v)
}

func TestEncodeGaugeDedupesByValueTree(t *testing.T) {
	dim := dimOf(1)
	key := dim.MapKey()
	values := []model.FieldValue{{Type: model.ValueTypeInt32, Int32Val: 7}}

	rep := producer.Report{
		MetricID: 2,
		Kind:     producer.KindGauge,
		Buckets: map[model.MapKey][]producer.PastBucket{
			key: {{BucketNum: 0, Payload: producer.GaugePayload{Samples: []producer.GaugeSample{
				{TimestampNanos: 1_000_000, Values: values},
				{TimestampNanos: 2_000_000, Values: values},
				{TimestampNanos: 3_000_000, Values: []model.FieldValue{{Type: model.ValueTypeInt32, Int32Val: 8}}},
			}}}},
		},
		DimKeys: map[model.MapKey]model.MetricDimensionKey{key: dim},
	}

	out := Encode(rep)
	top := parseFields(t, out)
	wrapperFields := parseFields(t, fieldsByNumber(top, fieldReportGaugeMetrics)[0].val)
	dataFields := parseFields(t, fieldsByNumber(wrapperFields, fieldWrapperData)[0].val)
	bucketFields := parseFields(t, fieldsByNumber(dataFields, fieldDataBucketInfo)[0].val)
	atoms := fieldsByNumber(bucketFields, fieldBucketAggregatedAtom)
	require.Len(t, atoms, 2, "two distinct value trees collapse into two atoms")

	firstAtomFields := parseFields(t, atoms[0].val)
	timestamps := fieldsByNumber(firstAtomFields, fieldAtomTimestamps)
	assert.Len(t, timestamps, 2, "repeated sample of the same value tree shares one atom")
}

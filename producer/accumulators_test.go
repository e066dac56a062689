package producer

import (
	"testing"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/stretchr/testify/assert"
)

func TestCountAccumulatorUploadThreshold(t *testing.T) {
	a := NewCountAccumulator()
	a.HasUploadThreshold = true
	a.UploadThresholdMin, a.UploadThresholdMax = 2, 5

	d1, d2 := dimOf(1), dimOf(2)
	a.Record(d1, &model.Event{}, RoleDefault)
	a.Record(d2, &model.Event{}, RoleDefault)
	a.Record(d2, &model.Event{}, RoleDefault)

	out := a.Finalize(0)
	assert.Len(t, out, 1, "count 1 falls outside [2,5] and is suppressed")
	assert.Equal(t, CountPayload{Count: 2}, out[0].Payload)
}

func TestDurationAccumulatorSumMode(t *testing.T) {
	a := NewDurationAccumulator(DurationSum, model.NestingIgnore)
	d := dimOf(1)

	a.Record(d, &model.Event{ElapsedNanos: 100}, RoleDurationStart)
	a.Record(d, &model.Event{ElapsedNanos: 300}, RoleDurationStop)
	a.Record(d, &model.Event{ElapsedNanos: 500}, RoleDurationStart)
	a.Record(d, &model.Event{ElapsedNanos: 900}, RoleDurationStop)

	out := a.Finalize(1000)
	assert.Equal(t, DurationPayload{Nanos: 600}, out[0].Payload)
}

func TestDurationAccumulatorCarriesOpenIntervalAcrossBucket(t *testing.T) {
	a := NewDurationAccumulator(DurationSum, model.NestingIgnore)
	d := dimOf(1)

	a.Record(d, &model.Event{ElapsedNanos: 100}, RoleDurationStart)
	out := a.Finalize(1000)
	assert.Equal(t, DurationPayload{Nanos: 900}, out[0].Payload, "open interval truncated at bucket end")

	a.Record(d, &model.Event{ElapsedNanos: 1200}, RoleDurationStop)
	out = a.Finalize(2000)
	assert.Equal(t, DurationPayload{Nanos: 200}, out[0].Payload, "not double-counted into the next bucket")
}

func TestGaugeAccumulatorRespectsCapAndHasSample(t *testing.T) {
	a := NewGaugeAccumulator(2)
	d := dimOf(1)

	assert.False(t, a.HasSample(d))
	a.Record(d, &model.Event{ElapsedNanos: 1}, RoleDefault)
	assert.True(t, a.HasSample(d))
	a.Record(d, &model.Event{ElapsedNanos: 2}, RoleDefault)
	a.Record(d, &model.Event{ElapsedNanos: 3}, RoleDefault)

	out := a.Finalize(0)
	payload := out[0].Payload.(GaugePayload)
	assert.Len(t, payload.Samples, 2, "capped at MaxSamplesPerDimension")
}

func TestNumericValueAccumulatorModes(t *testing.T) {
	path := model.NewFieldPath(1)
	d := dimOf(1)

	sum := NewNumericValueAccumulator([]model.FieldPath{path}, NumericSum, false)
	for _, v := range []int32{1, 2, 3} {
		sum.Record(d, &model.Event{Values: []model.FieldValue{{Path: path, Type: model.ValueTypeInt32, Int32Val: v}}}, RoleDefault)
	}
	out := sum.Finalize(0)
	assert.Equal(t, 6.0, out[0].Payload.(NumericValuePayload).Values[path])

	avg := NewNumericValueAccumulator([]model.FieldPath{path}, NumericAvg, false)
	for _, v := range []int32{2, 4} {
		avg.Record(d, &model.Event{Values: []model.FieldValue{{Path: path, Type: model.ValueTypeInt32, Int32Val: v}}}, RoleDefault)
	}
	out = avg.Finalize(0)
	assert.Equal(t, 3.0, out[0].Payload.(NumericValuePayload).Values[path])
}

func TestNumericValueAccumulatorDiffSaturatesOnReset(t *testing.T) {
	path := model.NewFieldPath(1)
	d := dimOf(1)
	diff := NewNumericValueAccumulator([]model.FieldPath{path}, NumericDiff, false)

	vals := func(v int64) *model.Event {
		return &model.Event{Values: []model.FieldValue{{Path: path, Type: model.ValueTypeInt64, Int64Val: v}}}
	}
	diff.Record(d, vals(100), RoleDefault)
	diff.Record(d, vals(150), RoleDefault) // +50
	diff.Record(d, vals(20), RoleDefault)   // counter reset, saturates to 0

	out := diff.Finalize(0)
	assert.Equal(t, 50.0, out[0].Payload.(NumericValuePayload).Values[path])
}

func TestKllAccumulatorDigest(t *testing.T) {
	path := model.NewFieldPath(1)
	d := dimOf(1)
	a := NewKllAccumulator([]model.FieldPath{path}, 100)

	for _, v := range []int32{1, 2, 3, 4, 5} {
		a.Record(d, &model.Event{Values: []model.FieldValue{{Path: path, Type: model.ValueTypeInt32, Int32Val: v}}}, RoleDefault)
	}
	out := a.Finalize(0)
	q := out[0].Payload.(KllPayload).Quantiles[path]
	assert.Equal(t, int64(5), q.Count)
	assert.Equal(t, 1.0, q.Min)
	assert.Equal(t, 5.0, q.Max)
}

func TestEventAccumulatorRecordsVerbatim(t *testing.T) {
	a := NewEventAccumulator()
	d := dimOf(1)
	a.Record(d, &model.Event{ElapsedNanos: 10}, RoleDefault)
	a.Record(d, &model.Event{ElapsedNanos: 20}, RoleDefault)

	out := a.Finalize(0)
	payload := out[0].Payload.(EventPayload)
	assert.Equal(t, []int64{10, 20}, payload.Timestamps)
}

package producer

import "github.com/evergreen-ci/statsbeam/model"

// CountPayload is the per-dimension accumulator contents for a COUNT
// metric at bucket finalize (spec.md §4.3).
type CountPayload struct {
	Count int64
}

type countEntry struct {
	dim   model.MetricDimensionKey
	count int64
}

// CountAccumulator implements Accumulator for COUNT metrics: a plain
// per-dimension integer counter, with an optional upload threshold that
// suppresses a dimension from output when its count falls outside an
// inclusive range (spec.md §4.3).
type CountAccumulator struct {
	entries map[model.MapKey]*countEntry

	HasUploadThreshold bool
	UploadThresholdMin  int64
	UploadThresholdMax  int64
}

func NewCountAccumulator() *CountAccumulator {
	return &CountAccumulator{entries: make(map[model.MapKey]*countEntry)}
}

func (a *CountAccumulator) Record(dim model.MetricDimensionKey, _ *model.Event, _ EventRole) {
	key := dim.MapKey()
	e, ok := a.entries[key]
	if !ok {
		e = &countEntry{dim: dim}
		a.entries[key] = e
	}
	e.count++
}

func (a *CountAccumulator) NumericProjection(_ int64) []DimValue {
	out := make([]DimValue, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, DimValue{Dim: e.dim.What, Value: float64(e.count)})
	}
	return out
}

func (a *CountAccumulator) inRange(count int64) bool {
	if !a.HasUploadThreshold {
		return true
	}
	return count >= a.UploadThresholdMin && count <= a.UploadThresholdMax
}

func (a *CountAccumulator) Finalize(_ int64) []FinalizedDim {
	out := make([]FinalizedDim, 0, len(a.entries))
	for _, e := range a.entries {
		if a.inRange(e.count) {
			out = append(out, FinalizedDim{Dim: e.dim, Payload: CountPayload{Count: e.count}})
		}
	}
	a.entries = make(map[model.MapKey]*countEntry)
	return out
}

func (a *CountAccumulator) ByteSize() int64 { return int64(len(a.entries)) * 32 }

package producer

import "github.com/evergreen-ci/statsbeam/model"

// EventPayload is the per-dimension accumulator contents for an EVENT
// metric: every matched event's field values verbatim, in arrival
// order (spec.md §4.3 "records each matched event's field values
// verbatim").
type EventPayload struct {
	Timestamps []int64
	Values     [][]model.FieldValue
}

type eventEntry struct {
	dim     model.MetricDimensionKey
	payload EventPayload
}

// EventAccumulator implements Accumulator for EVENT metrics. There is
// no aggregate state beyond the ordered list itself; buckets exist only
// to segment the output stream, per spec.md §4.3.
type EventAccumulator struct {
	entries map[model.MapKey]*eventEntry
}

func NewEventAccumulator() *EventAccumulator {
	return &EventAccumulator{entries: make(map[model.MapKey]*eventEntry)}
}

func (a *EventAccumulator) Record(dim model.MetricDimensionKey, ev *model.Event, _ EventRole) {
	key := dim.MapKey()
	e, ok := a.entries[key]
	if !ok {
		e = &eventEntry{dim: dim}
		a.entries[key] = e
	}
	e.payload.Timestamps = append(e.payload.Timestamps, ev.ElapsedNanos)
	e.payload.Values = append(e.payload.Values, ev.Values)
}

func (a *EventAccumulator) NumericProjection(_ int64) []DimValue { return nil }

func (a *EventAccumulator) Finalize(_ int64) []FinalizedDim {
	out := make([]FinalizedDim, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, FinalizedDim{Dim: e.dim, Payload: e.payload})
	}
	a.entries = make(map[model.MapKey]*eventEntry)
	return out
}

func (a *EventAccumulator) ByteSize() int64 {
	var total int64
	for _, e := range a.entries {
		total += int64(len(e.payload.Timestamps)) * 24
	}
	return total
}

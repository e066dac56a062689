package producer

import "github.com/evergreen-ci/statsbeam/model"

// DurationMode selects a DURATION metric's bucket-level aggregation
// (spec.md §4.3).
type DurationMode int

const (
	DurationSum DurationMode = iota
	DurationMaxSparse
)

// DurationPayload is the per-dimension accumulator contents for a
// DURATION metric at bucket finalize.
type DurationPayload struct {
	Nanos int64
}

type durationEntry struct {
	dim             model.MetricDimensionKey
	nestCount       int
	intervalStart   int64
	activeNanos     int64
	maxIntervalNanos int64
}

// DurationAccumulator implements Accumulator for DURATION metrics: a
// per-dimension start/stop/stop-all state machine producing either the
// total active time in the bucket (SUM) or the longest contiguous
// active interval (MAX_SPARSE), per spec.md §4.3.
type DurationAccumulator struct {
	Mode    DurationMode
	Nesting model.NestingMode

	entries map[model.MapKey]*durationEntry
}

func NewDurationAccumulator(mode DurationMode, nesting model.NestingMode) *DurationAccumulator {
	return &DurationAccumulator{Mode: mode, Nesting: nesting, entries: make(map[model.MapKey]*durationEntry)}
}

func (a *DurationAccumulator) entryFor(dim model.MetricDimensionKey) *durationEntry {
	key := dim.MapKey()
	e, ok := a.entries[key]
	if !ok {
		e = &durationEntry{dim: dim}
		a.entries[key] = e
	}
	return e
}

func (a *DurationAccumulator) Record(dim model.MetricDimensionKey, ev *model.Event, role EventRole) {
	e := a.entryFor(dim)
	switch role {
	case RoleDurationStart:
		if e.nestCount == 0 {
			e.intervalStart = ev.ElapsedNanos
		}
		if a.Nesting == model.NestingAccumulate || e.nestCount == 0 {
			e.nestCount++
		}
	case RoleDurationStop:
		if e.nestCount > 0 {
			e.nestCount--
			if e.nestCount == 0 {
				a.closeInterval(e, ev.ElapsedNanos)
			}
		}
	case RoleDurationStopAll:
		if e.nestCount > 0 {
			a.closeInterval(e, ev.ElapsedNanos)
			e.nestCount = 0
		}
	}
}

func (a *DurationAccumulator) closeInterval(e *durationEntry, endNanos int64) {
	length := endNanos - e.intervalStart
	if length < 0 {
		length = 0
	}
	e.activeNanos += length
	if length > e.maxIntervalNanos {
		e.maxIntervalNanos = length
	}
}

func (a *DurationAccumulator) valueFor(e *durationEntry, asOfNanos int64) int64 {
	active, maxInterval := e.activeNanos, e.maxIntervalNanos
	if e.nestCount > 0 {
		length := asOfNanos - e.intervalStart
		if length < 0 {
			length = 0
		}
		active += length
		if length > maxInterval {
			maxInterval = length
		}
	}
	if a.Mode == DurationMaxSparse {
		return maxInterval
	}
	return active
}

func (a *DurationAccumulator) NumericProjection(bucketEndNanos int64) []DimValue {
	out := make([]DimValue, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, DimValue{Dim: e.dim.What, Value: float64(a.valueFor(e, bucketEndNanos))})
	}
	return out
}

func (a *DurationAccumulator) Finalize(bucketEndNanos int64) []FinalizedDim {
	out := make([]FinalizedDim, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, FinalizedDim{Dim: e.dim, Payload: DurationPayload{Nanos: a.valueFor(e, bucketEndNanos)}})
		if e.nestCount > 0 {
			// interval is still open across the bucket boundary; carry
			// it forward instead of double-counting it next bucket.
			e.intervalStart = bucketEndNanos
		}
		e.activeNanos = 0
		e.maxIntervalNanos = 0
	}
	return out
}

func (a *DurationAccumulator) ByteSize() int64 { return int64(len(a.entries)) * 40 }

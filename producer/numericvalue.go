package producer

import "github.com/evergreen-ci/statsbeam/model"

// NumericMode selects one value field's bucket-level aggregation for a
// VALUE (numeric) metric (spec.md §4.3).
type NumericMode int

const (
	NumericSum NumericMode = iota
	NumericMin
	NumericMax
	NumericAvg
	// NumericDiff reports current-minus-previous for a monotonically
	// increasing counter, saturating at zero on a decrease unless
	// UseAbsoluteValueOnReset is set.
	NumericDiff
)

// NumericValuePayload is the per-dimension, per-field aggregate for a
// VALUE metric at bucket finalize.
type NumericValuePayload struct {
	Values map[model.FieldPath]float64
}

type fieldAgg struct {
	sum, min, max     float64
	count             int64
	hasMinMax         bool
	lastCumulative    float64
	hasLastCumulative bool
}

type numericEntry struct {
	dim    model.MetricDimensionKey
	fields map[model.FieldPath]*fieldAgg
}

// NumericValueAccumulator implements Accumulator for VALUE metrics over
// one or more declared value fields (spec.md §4.3).
type NumericValueAccumulator struct {
	Paths                   []model.FieldPath
	Mode                    NumericMode
	UseAbsoluteValueOnReset bool

	entries map[model.MapKey]*numericEntry
}

func NewNumericValueAccumulator(paths []model.FieldPath, mode NumericMode, useAbsOnReset bool) *NumericValueAccumulator {
	return &NumericValueAccumulator{
		Paths:                   paths,
		Mode:                    mode,
		UseAbsoluteValueOnReset: useAbsOnReset,
		entries:                 make(map[model.MapKey]*numericEntry),
	}
}

func (a *NumericValueAccumulator) entryFor(dim model.MetricDimensionKey) *numericEntry {
	key := dim.MapKey()
	e, ok := a.entries[key]
	if !ok {
		e = &numericEntry{dim: dim, fields: make(map[model.FieldPath]*fieldAgg)}
		a.entries[key] = e
	}
	return e
}

func (a *NumericValueAccumulator) Record(dim model.MetricDimensionKey, ev *model.Event, _ EventRole) {
	e := a.entryFor(dim)
	for _, path := range a.Paths {
		v, ok := ev.Find(path)
		if !ok {
			continue
		}
		numeric, ok := v.NumericValue()
		if !ok {
			continue
		}

		fa, ok := e.fields[path]
		if !ok {
			fa = &fieldAgg{}
			e.fields[path] = fa
		}

		if a.Mode == NumericDiff {
			if fa.hasLastCumulative {
				delta := numeric - fa.lastCumulative
				if delta < 0 {
					if a.UseAbsoluteValueOnReset {
						delta = -delta
					} else {
						delta = 0
					}
				}
				fa.sum += delta
				fa.count++
			}
			fa.lastCumulative = numeric
			fa.hasLastCumulative = true
			continue
		}

		fa.sum += numeric
		fa.count++
		if !fa.hasMinMax || numeric < fa.min {
			fa.min = numeric
		}
		if !fa.hasMinMax || numeric > fa.max {
			fa.max = numeric
		}
		fa.hasMinMax = true
	}
}

func (a *NumericValueAccumulator) aggregate(fa *fieldAgg) float64 {
	switch a.Mode {
	case NumericMin:
		return fa.min
	case NumericMax:
		return fa.max
	case NumericAvg:
		if fa.count == 0 {
			return 0
		}
		return fa.sum / float64(fa.count)
	default: // NumericSum, NumericDiff
		return fa.sum
	}
}

func (a *NumericValueAccumulator) NumericProjection(_ int64) []DimValue {
	out := make([]DimValue, 0, len(a.entries))
	for _, e := range a.entries {
		if len(a.Paths) == 0 {
			continue
		}
		fa, ok := e.fields[a.Paths[0]]
		if !ok {
			continue
		}
		out = append(out, DimValue{Dim: e.dim.What, Value: a.aggregate(fa)})
	}
	return out
}

func (a *NumericValueAccumulator) Finalize(_ int64) []FinalizedDim {
	out := make([]FinalizedDim, 0, len(a.entries))
	for _, e := range a.entries {
		values := make(map[model.FieldPath]float64, len(e.fields))
		for path, fa := range e.fields {
			values[path] = a.aggregate(fa)
			fa.sum, fa.min, fa.max, fa.count, fa.hasMinMax = 0, 0, 0, 0, false
			// lastCumulative / hasLastCumulative intentionally survive
			// the bucket boundary: DIFF mode needs the previous reading.
		}
		out = append(out, FinalizedDim{Dim: e.dim, Payload: NumericValuePayload{Values: values}})
	}
	return out
}

func (a *NumericValueAccumulator) ByteSize() int64 {
	var total int64
	for _, e := range a.entries {
		total += int64(len(e.fields)) * 48
	}
	return total
}

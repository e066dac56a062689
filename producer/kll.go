package producer

import (
	"sort"

	"github.com/aclements/go-moremath/stats"
	"github.com/evergreen-ci/statsbeam/model"
)

// KllPayload is the per-dimension, per-field sketch contents for a KLL
// metric at bucket finalize: enough quantile information to reconstruct
// an approximate CDF downstream.
type KllPayload struct {
	Quantiles map[model.FieldPath]QuantileDigest
}

// QuantileDigest is a lightweight stand-in for the original KLL sketch:
// a bounded, sorted sample plus its count, sufficient to answer the
// quantile queries the report writer needs (grounded on
// perf/rollup_factory.go's use of stats.Sample.Quantile rather than a
// full streaming sketch implementation — see DESIGN.md).
type QuantileDigest struct {
	Count   int64
	P50     float64
	P90     float64
	P99     float64
	Min     float64
	Max     float64
}

type kllFieldState struct {
	samples []float64
}

type kllEntry struct {
	dim    model.MetricDimensionKey
	fields map[model.FieldPath]*kllFieldState
}

// KllAccumulator implements Accumulator for KLL metrics: one bounded
// reservoir per value field per dimension, digested into a
// QuantileDigest at bucket finalize (spec.md §4.3).
type KllAccumulator struct {
	Paths           []model.FieldPath
	MaxSampleSize   int

	entries map[model.MapKey]*kllEntry
}

func NewKllAccumulator(paths []model.FieldPath, maxSampleSize int) *KllAccumulator {
	return &KllAccumulator{Paths: paths, MaxSampleSize: maxSampleSize, entries: make(map[model.MapKey]*kllEntry)}
}

func (a *KllAccumulator) entryFor(dim model.MetricDimensionKey) *kllEntry {
	key := dim.MapKey()
	e, ok := a.entries[key]
	if !ok {
		e = &kllEntry{dim: dim, fields: make(map[model.FieldPath]*kllFieldState)}
		a.entries[key] = e
	}
	return e
}

func (a *KllAccumulator) Record(dim model.MetricDimensionKey, ev *model.Event, _ EventRole) {
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
		fs, ok := e.fields[path]
		if !ok {
			fs = &kllFieldState{}
			e.fields[path] = fs
		}
		if a.MaxSampleSize <= 0 || len(fs.samples) < a.MaxSampleSize {
			fs.samples = append(fs.samples, numeric)
		}
	}
}

func (a *KllAccumulator) NumericProjection(_ int64) []DimValue { return nil }

func digest(samples []float64) QuantileDigest {
	if len(samples) == 0 {
		return QuantileDigest{}
	}
	sorted := make(sort.Float64Slice, len(samples))
	copy(sorted, samples)
	sorted.Sort()
	s := stats.Sample{Xs: sorted, Sorted: true}
	lo, hi := s.Bounds()
	return QuantileDigest{
		Count: int64(len(samples)),
		P50:   s.Quantile(0.5),
		P90:   s.Quantile(0.9),
		P99:   s.Quantile(0.99),
		Min:   lo,
		Max:   hi,
	}
}

func (a *KllAccumulator) Finalize(_ int64) []FinalizedDim {
	out := make([]FinalizedDim, 0, len(a.entries))
	for _, e := range a.entries {
		quantiles := make(map[model.FieldPath]QuantileDigest, len(e.fields))
		for path, fs := range e.fields {
			quantiles[path] = digest(fs.samples)
		}
		out = append(out, FinalizedDim{Dim: e.dim, Payload: KllPayload{Quantiles: quantiles}})
	}
	a.entries = make(map[model.MapKey]*kllEntry)
	return out
}

func (a *KllAccumulator) ByteSize() int64 {
	var total int64
	for _, e := range a.entries {
		for _, fs := range e.fields {
			total += int64(len(fs.samples)) * 8
		}
	}
	return total
}

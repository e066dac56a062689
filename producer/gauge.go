package producer

import "github.com/evergreen-ci/statsbeam/model"

// GaugeSamplingMode selects when a GAUGE metric captures an atom
// snapshot (spec.md §4.3).
type GaugeSamplingMode int

const (
	GaugeRandomOneSample GaugeSamplingMode = iota
	GaugeFirstNSamples
	GaugeConditionChangeToTrue
	GaugeAllConditionChanges
)

// GaugeSample is a single captured atom snapshot.
type GaugeSample struct {
	TimestampNanos int64
	Values         []model.FieldValue
}

// GaugePayload is the per-dimension accumulator contents for a GAUGE
// metric at bucket finalize.
type GaugePayload struct {
	Samples []GaugeSample
}

type gaugeEntry struct {
	dim     model.MetricDimensionKey
	samples []GaugeSample
}

// GaugeAccumulator implements Accumulator for GAUGE metrics: up to
// MaxSamplesPerDimension captured atom snapshots per dimension per
// bucket (spec.md §4.3). The caller (GaugeProducer) is responsible for
// only invoking Record when the sampling mode says to — in particular
// for RANDOM_ONE_SAMPLE it must check HasSample first, per the resolved
// Open Question in SPEC_FULL.md §8: "empty" means per-dimension, not
// whole-bucket.
type GaugeAccumulator struct {
	MaxSamplesPerDimension int

	entries map[model.MapKey]*gaugeEntry
}

func NewGaugeAccumulator(maxSamples int) *GaugeAccumulator {
	return &GaugeAccumulator{MaxSamplesPerDimension: maxSamples, entries: make(map[model.MapKey]*gaugeEntry)}
}

// HasSample reports whether dim already holds at least one sample this
// bucket, used by RANDOM_ONE_SAMPLE mode to enforce one-sample-per-
// dimension before calling Record.
func (a *GaugeAccumulator) HasSample(dim model.MetricDimensionKey) bool {
	e, ok := a.entries[dim.MapKey()]
	return ok && len(e.samples) > 0
}

func (a *GaugeAccumulator) Record(dim model.MetricDimensionKey, ev *model.Event, _ EventRole) {
	key := dim.MapKey()
	e, ok := a.entries[key]
	if !ok {
		e = &gaugeEntry{dim: dim}
		a.entries[key] = e
	}
	if a.MaxSamplesPerDimension > 0 && len(e.samples) >= a.MaxSamplesPerDimension {
		return
	}
	e.samples = append(e.samples, GaugeSample{TimestampNanos: ev.ElapsedNanos, Values: ev.Values})
}

func (a *GaugeAccumulator) NumericProjection(_ int64) []DimValue { return nil }

func (a *GaugeAccumulator) Finalize(_ int64) []FinalizedDim {
	out := make([]FinalizedDim, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, FinalizedDim{Dim: e.dim, Payload: GaugePayload{Samples: e.samples}})
	}
	a.entries = make(map[model.MapKey]*gaugeEntry)
	return out
}

func (a *GaugeAccumulator) ByteSize() int64 {
	var total int64
	for _, e := range a.entries {
		total += int64(len(e.samples)) * 24
	}
	return total
}

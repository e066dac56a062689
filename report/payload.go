package report

import (
	"sort"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
)

const (
	fieldValueEntryPath  = 1
	fieldValueEntryValue = 2

	fieldQuantilePath  = 1
	fieldQuantileCount = 2
	fieldQuantileP50   = 3
	fieldQuantileP90   = 4
	fieldQuantileP99   = 5
	fieldQuantileMin   = 6
	fieldQuantileMax   = 7

	fieldCountCount = 1
	fieldDurationNanos = 1

	fieldValueMsgEntry    = 1
	fieldKllMsgQuantile   = 1
)

// encodePayload turns one finalized bucket's accumulator payload into
// the AggregatedAtomInfo-analogous blobs that get tagged under
// aggregated_atom in the bucket's wire message. Scalar kinds (COUNT,
// DURATION, VALUE, KLL) always produce exactly one blob; GAUGE and
// EVENT de-duplicate by value tree and produce one blob per unique
// value, carrying every timestamp it was observed at (spec.md §6
// "Analogous layouts exist for each other metric kind").
func encodePayload(kind producer.Kind, payload interface{}) [][]byte {
	switch kind {
	case producer.KindCount:
		p := payload.(producer.CountPayload)
		return [][]byte{appendTagVarint(nil, fieldCountCount, uint64(p.Count))}

	case producer.KindDuration:
		p := payload.(producer.DurationPayload)
		return [][]byte{appendTagVarint(nil, fieldDurationNanos, uint64(p.Nanos))}

	case producer.KindNumericValue:
		p := payload.(producer.NumericValuePayload)
		return [][]byte{encodeNumericValuePayload(p)}

	case producer.KindKll:
		p := payload.(producer.KllPayload)
		return [][]byte{encodeKllPayload(p)}

	case producer.KindGauge:
		p := payload.(producer.GaugePayload)
		return encodeDedupedAtoms(len(p.Samples), func(i int) (int64, []model.FieldValue) {
			return p.Samples[i].TimestampNanos, p.Samples[i].Values
		})

	case producer.KindEvent:
		p := payload.(producer.EventPayload)
		return encodeDedupedAtoms(len(p.Timestamps), func(i int) (int64, []model.FieldValue) {
			return p.Timestamps[i], p.Values[i]
		})

	default:
		return nil
	}
}

func encodeNumericValuePayload(p producer.NumericValuePayload) []byte {
	paths := make([]model.FieldPath, 0, len(p.Values))
	for path := range p.Values {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	var b []byte
	for _, path := range paths {
		var entry []byte
		entry = appendTagVarint(entry, fieldValueEntryPath, uint64(path))
		entry = appendTagFixed64(entry, fieldValueEntryValue, uint64FromFloat(p.Values[path]))
		b = appendTagMessage(b, fieldValueMsgEntry, entry)
	}
	return b
}

func encodeKllPayload(p producer.KllPayload) []byte {
	paths := make([]model.FieldPath, 0, len(p.Quantiles))
	for path := range p.Quantiles {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	var b []byte
	for _, path := range paths {
		q := p.Quantiles[path]
		var entry []byte
		entry = appendTagVarint(entry, fieldQuantilePath, uint64(path))
		entry = appendTagVarint(entry, fieldQuantileCount, uint64(q.Count))
		entry = appendTagFixed64(entry, fieldQuantileP50, uint64FromFloat(q.P50))
		entry = appendTagFixed64(entry, fieldQuantileP90, uint64FromFloat(q.P90))
		entry = appendTagFixed64(entry, fieldQuantileP99, uint64FromFloat(q.P99))
		entry = appendTagFixed64(entry, fieldQuantileMin, uint64FromFloat(q.Min))
		entry = appendTagFixed64(entry, fieldQuantileMax, uint64FromFloat(q.Max))
		b = appendTagMessage(b, fieldKllMsgQuantile, entry)
	}
	return b
}

// encodeDedupedAtoms groups n (timestamp, values) pairs by their
// value-tree bytes, emitting one AggregatedAtomInfo blob per unique
// tree with every timestamp it occurred at (spec.md §6
// AggregatedAtomInfo.atom_timestamps is repeated for this reason).
func encodeDedupedAtoms(n int, at func(i int) (int64, []model.FieldValue)) [][]byte {
	type group struct {
		encodedValues []byte
		timestamps    []int64
	}
	order := make([]string, 0, n)
	groups := make(map[string]*group, n)

	for i := 0; i < n; i++ {
		ts, values := at(i)
		encoded := encodeFieldValueList(values)
		key := string(encoded)
		g, ok := groups[key]
		if !ok {
			g = &group{encodedValues: encoded}
			groups[key] = g
			order = append(order, key)
		}
		g.timestamps = append(g.timestamps, ts)
	}

	out := make([][]byte, 0, len(order))
	for _, key := range order {
		g := groups[key]
		var b []byte
		b = appendTagBytes(b, fieldAtomValue, g.encodedValues)
		for _, ts := range g.timestamps {
			b = appendTagVarint(b, fieldAtomTimestamps, uint64(nanosToMillis(ts)))
		}
		out = append(out, b)
	}
	return out
}

func encodeFieldValueList(values []model.FieldValue) []byte {
	var b []byte
	for _, v := range values {
		b = appendTagMessage(b, 1, encodeFieldValue(v))
	}
	return b
}

func uint64FromFloat(f float64) uint64 {
	return doubleBits(f)
}

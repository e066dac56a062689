package model

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// DimensionKey is an ordered subsequence of field values extracted from
// an event by a dimension specification. Two keys are equal iff their
// value sequences are equal in order and in typed value (spec.md §3).
type DimensionKey struct {
	values []FieldValue
	hash   uint64
	hashed bool
}

// NewDimensionKey builds a dimension key from an ordered slice of field
// values. The slice is copied so callers may reuse their buffer.
func NewDimensionKey(values []FieldValue) DimensionKey {
	cp := make([]FieldValue, len(values))
	copy(cp, values)
	return DimensionKey{values: cp}
}

// Values returns the ordered field values making up the key.
func (k DimensionKey) Values() []FieldValue { return k.values }

// Len reports how many field values the key carries.
func (k DimensionKey) Len() int { return len(k.values) }

// Equal reports whether two dimension keys carry the same ordered,
// typed value sequence.
func (k DimensionKey) Equal(o DimensionKey) bool {
	if len(k.values) != len(o.values) {
		return false
	}
	for i := range k.values {
		if !k.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// Hash returns a stable FNV-1a hash of the key's typed value sequence,
// suitable for use as a Go map key via the wrapper MapKey below. It is
// computed lazily and cached, since keys are usually hashed once to be
// inserted into a bucket map and read many times after.
func (k *DimensionKey) Hash() uint64 {
	if k.hashed {
		return k.hash
	}

	h := fnv.New64a()
	var buf [8]byte
	for _, v := range k.values {
		binary.LittleEndian.PutUint32(buf[:4], uint32(v.Path))
		_, _ = h.Write(buf[:4])
		_, _ = h.Write([]byte{byte(v.Type)})

		switch v.Type {
		case ValueTypeInt32:
			binary.LittleEndian.PutUint32(buf[:4], uint32(v.Int32Val))
			_, _ = h.Write(buf[:4])
		case ValueTypeInt64:
			binary.LittleEndian.PutUint64(buf[:8], uint64(v.Int64Val))
			_, _ = h.Write(buf[:8])
		case ValueTypeFloat:
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v.FloatVal))
			_, _ = h.Write(buf[:4])
		case ValueTypeDouble:
			binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(v.DoubleVal))
			_, _ = h.Write(buf[:8])
		case ValueTypeString, ValueTypeAttributionNode:
			_, _ = h.Write([]byte(v.StringVal))
		case ValueTypeBool:
			if v.BoolVal {
				_, _ = h.Write([]byte{1})
			} else {
				_, _ = h.Write([]byte{0})
			}
		case ValueTypeBytes:
			_, _ = h.Write(v.BytesVal)
		}
	}

	k.hash = h.Sum64()
	k.hashed = true
	return k.hash
}

// MapKey returns a comparable representation of the dimension key
// suitable for direct use as a Go map key: the hash, plus the value
// count as a cheap collision tiebreaker. Two distinct keys with the same
// hash and the same value count produce equal MapKeys, and maps keyed
// by MapKey treat them as one entry; no exact-equality check is made.
type MapKey struct {
	hash uint64
	n    int
}

func (k *DimensionKey) MapKey() MapKey { return MapKey{hash: k.Hash(), n: len(k.values)} }

// Hash returns the MapKey's underlying hash value.
func (k MapKey) Hash() uint64 { return k.hash }

// Len returns the MapKey's cached value count, used as a collision tiebreaker.
func (k MapKey) Len() int { return k.n }

// MetricDimensionKey is the pair (what-dimension, state-values-dimension)
// used by metric producers to key their current-bucket accumulator map
// (spec.md §3).
type MetricDimensionKey struct {
	What  DimensionKey
	State DimensionKey
}

func (k *MetricDimensionKey) MapKey() MapKey {
	wh := k.What.Hash()
	st := k.State.Hash()
	return MapKey{hash: wh*1099511628211 ^ st, n: k.What.Len() + k.State.Len()}
}

func (k MetricDimensionKey) Equal(o MetricDimensionKey) bool {
	return k.What.Equal(o.What) && k.State.Equal(o.State)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldPathRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		atomID int32
		levels [][2]int
	}{
		{name: "bare atom", atomID: 10, levels: nil},
		{name: "one level", atomID: 10, levels: [][2]int{{2, 0}}},
		{name: "one level last", atomID: 10, levels: [][2]int{{3, 1}}},
		{name: "two levels", atomID: 42, levels: [][2]int{{1, 0}, {5, 1}}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := NewFieldPath(c.atomID, c.levels...)
			assert.Equal(t, c.atomID, p.AtomID())
			assert.Equal(t, len(c.levels), p.Depth())
			for i, lvl := range c.levels {
				assert.Equal(t, lvl[0], p.ChildIndex(i))
				assert.Equal(t, lvl[1] != 0, p.IsLast(i))
			}
		})
	}
}

func TestFieldValueEqual(t *testing.T) {
	path := NewFieldPath(10, [2]int{1, 0})

	a := FieldValue{Path: path, Type: ValueTypeInt64, Int64Val: 7}
	b := FieldValue{Path: path, Type: ValueTypeInt64, Int64Val: 7}
	c := FieldValue{Path: path, Type: ValueTypeInt64, Int64Val: 8}
	d := FieldValue{Path: path, Type: ValueTypeInt32, Int32Val: 7}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d), "values of different types are never equal")
}

func TestFieldValueNumericValue(t *testing.T) {
	v, ok := FieldValue{Type: ValueTypeDouble, DoubleVal: 3.5}.NumericValue()
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)

	_, ok = FieldValue{Type: ValueTypeString, StringVal: "x"}.NumericValue()
	assert.False(t, ok)
}

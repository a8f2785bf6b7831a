package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seisgo/volume"
)

func TestNewKeyDeterministic(t *testing.T) {
	a, err := NewKey("slide", volume.AxisCrossline, 17, volume.Shape{4, 5, 6})
	require.NoError(t, err)
	b, err := NewKey("slide", volume.AxisCrossline, 17, volume.Shape{4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := NewKey("slide", volume.AxisCrossline, 18, volume.Shape{4, 5, 6})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestNewKeyRangeNormalization(t *testing.T) {
	// A zero step encodes as unit stride.
	implicit, err := NewKey(volume.Range{Start: 1, Stop: 5})
	require.NoError(t, err)
	explicit, err := NewKey(volume.Range{Start: 1, Stop: 5, Step: 1})
	require.NoError(t, err)
	assert.Equal(t, implicit, explicit)

	stepped, err := NewKey(volume.Range{Start: 1, Stop: 5, Step: 2})
	require.NoError(t, err)
	assert.NotEqual(t, implicit, stepped)
}

func TestNewKeyFlattening(t *testing.T) {
	loc := volume.Location{{Start: 0, Stop: 2}, {Start: 3, Stop: 7}, {Start: 1, Stop: 9}}
	k1, err := NewKey(loc, []int{1, 2}, map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	k2, err := NewKey(loc, []int{1, 2}, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "map entries must flatten in sorted key order")

	// Value and structure both matter.
	k3, err := NewKey(loc, []any{1, 2})
	require.NoError(t, err)
	assert.NotEqual(t, Key(""), k3)
}

func TestNewKeyUnhashable(t *testing.T) {
	type opaque struct{ ch chan int }

	_, err := NewKey("slide", opaque{})
	require.ErrorIs(t, err, ErrUnhashableKey)

	assert.Panics(t, func() { MustKey(opaque{}) })
}

func TestKeyStringBoundaries(t *testing.T) {
	// Adjacent parts must not collide through concatenation.
	a := MustKey("ab", "c")
	b := MustKey("a", "bc")
	assert.NotEqual(t, a, b)
}

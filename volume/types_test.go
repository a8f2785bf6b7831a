package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]Axis{
		"i": AxisInline, "il": AxisInline, "iline": AxisInline, "inline": AxisInline,
		"x": AxisCrossline, "xl": AxisCrossline, "xline": AxisCrossline, "crossline": AxisCrossline,
		"d": AxisDepth, "h": AxisDepth, "depth": AxisDepth, "height": AxisDepth,
	} {
		got, err := ParseAxis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := ParseAxis(2)
	require.NoError(t, err)
	assert.Equal(t, AxisDepth, got)

	got, err = ParseAxis(AxisCrossline)
	require.NoError(t, err)
	assert.Equal(t, AxisCrossline, got)

	for _, bad := range []any{3, -1, "z", 1.5, nil} {
		_, err := ParseAxis(bad)
		var invalid *ErrInvalidAxis
		require.ErrorAs(t, err, &invalid, "%v", bad)
	}
}

func TestRangeValidate(t *testing.T) {
	require.NoError(t, Range{Start: 0, Stop: 10}.Validate(10))
	require.NoError(t, Range{Start: 3, Stop: 3}.Validate(10)) // empty is fine

	err := Range{Start: 5, Stop: 3}.Validate(10)
	require.ErrorIs(t, err, ErrInvalidRange)

	err = Range{Start: 0, Stop: 11}.Validate(10)
	require.ErrorIs(t, err, ErrOutOfBounds)

	err = Range{Start: -1, Stop: 5}.Validate(10)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestRangeClamp(t *testing.T) {
	r := Range{Start: -3, Stop: 15}.Clamp(0, 10)
	assert.Equal(t, Range{Start: 0, Stop: 10}, r)

	// A range entirely outside clamps to empty, never inverts.
	r = Range{Start: 20, Stop: 30}.Clamp(0, 10)
	assert.True(t, r.Empty())
	assert.GreaterOrEqual(t, r.Stop, r.Start)
}

func TestLocation(t *testing.T) {
	loc := Location{{Start: 1, Stop: 3}, {Start: 0, Stop: 4}, {Start: 2, Stop: 2}}
	assert.Equal(t, Shape{2, 4, 0}, loc.Shape())
	assert.True(t, loc.Empty())

	full := Shape{4, 4, 4}.Loc()
	assert.False(t, full.Empty())
	require.NoError(t, full.Validate(Shape{4, 4, 4}))
	assert.True(t, full.Unit())

	stepped := Location{{Start: 0, Stop: 4, Step: 2}, {Start: 0, Stop: 4}, {Start: 0, Stop: 4}}
	assert.False(t, stepped.Unit())
}

func TestSpanLocation(t *testing.T) {
	sp := Span{
		VolumeID: 1, LabelID: 2, Orientation: AxisCrossline,
		Start0: 10, Start1: 20, Start2: 30,
		Stop0: 14, Stop1: 24, Stop2: 38,
	}
	loc := sp.Location()
	assert.Equal(t, Shape{4, 4, 8}, loc.Shape())
	assert.Equal(t, 10, loc[0].Start)
	assert.Equal(t, 38, loc[2].Stop)
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(Shape{2, 3, 4})
	b.Set(1, 2, 3, 42)
	assert.Equal(t, float32(42), b.At(1, 2, 3))
	assert.Equal(t, int64(2*3*4*4), b.Bytes())

	row := b.Row(1, 2)
	require.Len(t, row, 4)
	assert.Equal(t, float32(42), row[3])

	clone := b.Clone()
	clone.Set(1, 2, 3, 0)
	assert.Equal(t, float32(42), b.At(1, 2, 3), "clone must not alias")

	_, err := NewBufferFrom(Shape{2, 2, 2}, make([]float32, 7))
	require.Error(t, err)
}

func TestBufferCopyRegionAndView(t *testing.T) {
	src := NewBuffer(Shape{2, 2, 2})
	src.Fill(5)

	dst := NewBuffer(Shape{4, 4, 4})
	region := Location{{Start: 1, Stop: 3}, {Start: 1, Stop: 3}, {Start: 1, Stop: 3}}
	dst.CopyRegion(region, src, [3]int{0, 0, 0})

	assert.Equal(t, float32(5), dst.At(1, 1, 1))
	assert.Equal(t, float32(5), dst.At(2, 2, 2))
	assert.Equal(t, float32(0), dst.At(0, 0, 0))
	assert.Equal(t, float32(0), dst.At(3, 3, 3))

	view := dst.View3(region)
	assert.Equal(t, Shape{2, 2, 2}, view.Shape())
	assert.Equal(t, float32(5), view.At(0, 0, 0))
}

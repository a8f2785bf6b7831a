package accumulate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seisgo/geometry"
	"github.com/hupe1980/seisgo/volume"
)

func slideBuffer(shape volume.Shape, axis volume.Axis, v float32) *volume.Buffer {
	s := shape
	s[axis] = 1
	buf := volume.NewBuffer(s)
	buf.Fill(v)
	return buf
}

func TestSlideAccumulatorLastWriteWins(t *testing.T) {
	shape := volume.Shape{4, 3, 5}
	path := filepath.Join(t.TempDir(), "slides.sgc")

	acc, err := NewSlideAccumulator(shape, "i", path)
	require.NoError(t, err)

	require.NoError(t, acc.Update(0, slideBuffer(shape, volume.AxisInline, 1)))
	require.NoError(t, acc.Update(2, slideBuffer(shape, volume.AxisInline, 5)))
	// The same index written twice: without a policy the later write wins.
	require.NoError(t, acc.Update(2, slideBuffer(shape, volume.AxisInline, 9)))
	require.NoError(t, acc.Aggregate())

	st, err := geometry.Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.Equal(t, shape, st.Shape())

	out, err := st.LoadCrop(context.Background(), shape.Loc())
	require.NoError(t, err)
	assert.Equal(t, float32(1), out.At(0, 1, 2))
	assert.Equal(t, float32(9), out.At(2, 1, 2))
	assert.Equal(t, float32(0), out.At(1, 0, 0)) // untouched slide stays zero
}

func TestSlideAccumulatorMeanDedup(t *testing.T) {
	shape := volume.Shape{3, 3, 3}
	path := filepath.Join(t.TempDir(), "slides.sgc")

	acc, err := NewSlideAccumulator(shape, 0, path, WithSlidePolicy(PolicyMean))
	require.NoError(t, err)

	require.NoError(t, acc.Update(1, slideBuffer(shape, volume.AxisInline, 2)))
	require.NoError(t, acc.Update(1, slideBuffer(shape, volume.AxisInline, 6)))
	require.NoError(t, acc.Aggregate())

	st, err := geometry.Open(path)
	require.NoError(t, err)
	defer st.Close()

	slide, err := st.LoadSlide(context.Background(), "i", 1)
	require.NoError(t, err)
	assert.Equal(t, float32(4), slide.At(0, 2, 2))
}

func TestSlideAccumulatorCrossline(t *testing.T) {
	shape := volume.Shape{4, 3, 2}
	path := filepath.Join(t.TempDir(), "slides.sgc")

	acc, err := NewSlideAccumulator(shape, "x", path, WithSlidePolicy(PolicyMax))
	require.NoError(t, err)

	require.NoError(t, acc.Update(1, slideBuffer(shape, volume.AxisCrossline, 3)))
	require.NoError(t, acc.Update(1, slideBuffer(shape, volume.AxisCrossline, 2)))
	require.NoError(t, acc.Aggregate())

	// The crossline-oriented container still opens as a structured cube.
	st, err := geometry.Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.Equal(t, shape, st.Shape())

	out, err := st.LoadCrop(context.Background(), shape.Loc())
	require.NoError(t, err)
	assert.Equal(t, float32(3), out.At(2, 1, 1))
	assert.Equal(t, float32(0), out.At(2, 0, 1))
}

func TestSlideAccumulatorErrors(t *testing.T) {
	shape := volume.Shape{3, 3, 3}
	path := filepath.Join(t.TempDir(), "slides.sgc")

	_, err := NewSlideAccumulator(shape, "d", path)
	require.Error(t, err, "depth orientation is not a slide layout")

	_, err = NewSlideAccumulator(shape, "i", path, WithSlidePolicy(PolicyMode))
	require.ErrorIs(t, err, ErrUnknownPolicy)

	acc, err := NewSlideAccumulator(shape, "i", path)
	require.NoError(t, err)

	err = acc.Update(7, slideBuffer(shape, volume.AxisInline, 1))
	require.ErrorIs(t, err, volume.ErrOutOfBounds)

	err = acc.Update(0, volume.NewBuffer(volume.Shape{2, 2, 2}))
	require.ErrorIs(t, err, ErrShapeMismatch)

	require.NoError(t, acc.Aggregate())
	require.ErrorIs(t, acc.Update(0, slideBuffer(shape, volume.AxisInline, 1)), ErrAggregated)
	require.ErrorIs(t, acc.Aggregate(), ErrAggregated)

	require.NoError(t, acc.Clear())
	require.ErrorIs(t, acc.Aggregate(), ErrCleared)
}

package accumulate

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seisgo/volume"
)

func constBuffer(shape volume.Shape, v float32) *volume.Buffer {
	buf := volume.NewBuffer(shape)
	buf.Fill(v)
	return buf
}

func loc(s0, e0, s1, e1, s2, e2 int) volume.Location {
	return volume.Location{{Start: s0, Stop: e0}, {Start: s1, Stop: e1}, {Start: s2, Stop: e2}}
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]Policy{
		"max": PolicyMax, "maximum": PolicyMax,
		"mean": PolicyMean, "avg": PolicyMean, "average": PolicyMean,
		"gmean": PolicyGMean, "geometric": PolicyGMean,
		"mode": PolicyMode, "MEAN": PolicyMean,
	} {
		got, err := ParsePolicy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParsePolicy("median")
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestMeanOverlap(t *testing.T) {
	// Two overlapping unit-stride contributions on a (4,4,4) volume: the
	// overlap averages, the exclusive corners keep their own values.
	acc, err := New(PolicyMean, volume.Shape{4, 4, 4})
	require.NoError(t, err)

	require.NoError(t, acc.Update(constBuffer(volume.Shape{3, 3, 3}, 1), loc(0, 3, 0, 3, 0, 3)))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{3, 3, 3}, 3), loc(1, 4, 1, 4, 1, 4)))
	require.NoError(t, acc.Aggregate())

	out, err := acc.Result()
	require.NoError(t, err)

	assert.Equal(t, float32(1), out.At(0, 0, 0))
	assert.Equal(t, float32(3), out.At(3, 3, 3))
	for i := 1; i < 3; i++ {
		for j := 1; j < 3; j++ {
			for k := 1; k < 3; k++ {
				assert.Equal(t, float32(2), out.At(i, j, k), "overlap at (%d,%d,%d)", i, j, k)
			}
		}
	}
}

func TestMeanCommutative(t *testing.T) {
	run := func(reversed bool) *volume.Buffer {
		acc, err := New(PolicyMean, volume.Shape{4, 4, 4})
		require.NoError(t, err)

		updates := []struct {
			v float32
			l volume.Location
		}{
			{1, loc(0, 3, 0, 3, 0, 3)},
			{3, loc(1, 4, 1, 4, 1, 4)},
		}
		if reversed {
			updates[0], updates[1] = updates[1], updates[0]
		}
		for _, u := range updates {
			require.NoError(t, acc.Update(constBuffer(u.l.Shape(), u.v), u.l))
		}

		out, err := acc.Result()
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, run(false).Data(), run(true).Data())
}

func TestMaxDisjointUnion(t *testing.T) {
	acc, err := New(PolicyMax, volume.Shape{4, 4, 4})
	require.NoError(t, err)

	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 4, 4}, 5), loc(0, 2, 0, 4, 0, 4)))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{1, 4, 4}, -2), loc(3, 4, 0, 4, 0, 4)))

	out, err := acc.Result()
	require.NoError(t, err)

	assert.Equal(t, float32(5), out.At(1, 2, 3))
	assert.Equal(t, float32(-2), out.At(3, 0, 0)) // negative survives the max fill
	assert.Equal(t, float32(0), out.At(2, 0, 0))  // untouched region
}

func TestGMean(t *testing.T) {
	acc, err := New(PolicyGMean, volume.Shape{2, 2, 2})
	require.NoError(t, err)

	full := loc(0, 2, 0, 2, 0, 2)
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 2), full))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 8), full))

	out, err := acc.Result()
	require.NoError(t, err)
	assert.InDelta(t, 4, out.At(1, 1, 1), 1e-5) // sqrt(2*8)
}

func TestMode(t *testing.T) {
	acc, err := New(PolicyMode, volume.Shape{2, 2, 2}, func(o *Options) { o.Classes = 3 })
	require.NoError(t, err)

	full := loc(0, 2, 0, 2, 0, 2)
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 2), full))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 2), full))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 1), full))

	out, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, float32(2), out.At(0, 1, 0))

	_, err = New(PolicyMode, volume.Shape{2, 2, 2})
	require.Error(t, err, "mode without classes must fail")
}

func TestOverhangClippedAndOrigin(t *testing.T) {
	acc, err := New(PolicyMax, volume.Shape{4, 4, 4}, func(o *Options) { o.Origin = [3]int{10, 10, 10} })
	require.NoError(t, err)

	// Extends beyond the far corner in global coordinates; the overhang
	// is discarded.
	require.NoError(t, acc.Update(constBuffer(volume.Shape{3, 3, 3}, 7), loc(12, 15, 12, 15, 12, 15)))

	out, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, float32(7), out.At(2, 2, 2))
	assert.Equal(t, float32(7), out.At(3, 3, 3))
	assert.Equal(t, float32(0), out.At(1, 1, 1))
}

func TestEmptyAndInvalidUpdates(t *testing.T) {
	acc, err := New(PolicyMean, volume.Shape{4, 4, 4})
	require.NoError(t, err)

	// Zero-length ranges are a silent no-op.
	require.NoError(t, acc.Update(constBuffer(volume.Shape{0, 4, 4}, 1), loc(2, 2, 0, 4, 0, 4)))

	stepped := volume.Location{{Start: 0, Stop: 4, Step: 2}, {Start: 0, Stop: 4}, {Start: 0, Stop: 4}}
	err = acc.Update(constBuffer(volume.Shape{4, 4, 4}, 1), stepped)
	require.ErrorIs(t, err, volume.ErrNonUnitStep)

	err = acc.Update(constBuffer(volume.Shape{2, 2, 2}, 1), loc(0, 4, 0, 4, 0, 4))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestStateMachine(t *testing.T) {
	acc, err := New(PolicyMax, volume.Shape{2, 2, 2})
	require.NoError(t, err)

	full := loc(0, 2, 0, 2, 0, 2)
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 1), full))
	require.NoError(t, acc.Aggregate())

	for range 3 {
		require.ErrorIs(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 1), full), ErrAggregated)
		require.ErrorIs(t, acc.Aggregate(), ErrAggregated)
	}

	require.NoError(t, acc.Clear())
	_, err = acc.Result()
	require.ErrorIs(t, err, ErrCleared)
}

func TestResultAggregatesLazily(t *testing.T) {
	acc, err := New(PolicyMean, volume.Shape{2, 2, 2})
	require.NoError(t, err)

	full := loc(0, 2, 0, 2, 0, 2)
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 4), full))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, 6), full))

	out, err := acc.Result()
	require.NoError(t, err)
	assert.True(t, acc.Aggregated())
	assert.Equal(t, float32(5), out.At(0, 0, 0))
}

func TestDiskBackedMean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acc.sgc")
	acc, err := New(PolicyMean, volume.Shape{4, 4, 4}, func(o *Options) { o.Path = path })
	require.NoError(t, err)

	require.NoError(t, acc.Update(constBuffer(volume.Shape{3, 3, 3}, 1), loc(0, 3, 0, 3, 0, 3)))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{3, 3, 3}, 3), loc(1, 4, 1, 4, 1, 4)))
	require.NoError(t, acc.Aggregate())

	out, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, float32(2), out.At(1, 1, 1))
	assert.Equal(t, float32(1), out.At(0, 0, 0))
	assert.Equal(t, float32(0), out.At(3, 0, 0))

	require.NoError(t, acc.Clear())
}

func TestDiskBackedMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acc.sgc")
	acc, err := New(PolicyMax, volume.Shape{3, 3, 3}, func(o *Options) { o.Path = path })
	require.NoError(t, err)

	require.NoError(t, acc.Update(constBuffer(volume.Shape{1, 3, 3}, -1.5), loc(1, 2, 0, 3, 0, 3)))

	out, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, float32(-1.5), out.At(1, 2, 2))
	assert.Equal(t, float32(0), out.At(0, 0, 0))
}

func TestDiskBackedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acc.sgc")
	acc, err := New(PolicyMode, volume.Shape{2, 2, 3}, func(o *Options) {
		o.Path = path
		o.Classes = 3
	})
	require.NoError(t, err)

	full := loc(0, 2, 0, 2, 0, 3)
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 3}, 2), full))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 3}, 2), full))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 3}, 1), full))

	// Extra votes for label 1 flip one column only.
	column := loc(0, 1, 0, 1, 0, 3)
	require.NoError(t, acc.Update(constBuffer(volume.Shape{1, 1, 3}, 1), column))
	require.NoError(t, acc.Update(constBuffer(volume.Shape{1, 1, 3}, 1), column))

	out, err := acc.Result()
	require.NoError(t, err)
	for k := 0; k < 3; k++ {
		assert.Equal(t, float32(1), out.At(0, 0, k), "flipped column at depth %d", k)
		assert.Equal(t, float32(2), out.At(1, 1, k), "majority label at depth %d", k)
	}

	require.NoError(t, acc.Clear())
	_, err = acc.Result()
	require.ErrorIs(t, err, ErrCleared)
}

func TestTransform(t *testing.T) {
	acc, err := New(PolicyMax, volume.Shape{2, 2, 2}, func(o *Options) {
		o.Transform = func(v float32) float32 { return float32(math.Abs(float64(v))) }
	})
	require.NoError(t, err)

	require.NoError(t, acc.Update(constBuffer(volume.Shape{2, 2, 2}, -3), loc(0, 2, 0, 2, 0, 2)))
	out, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, float32(3), out.At(0, 0, 0))
}

func TestNewFromSpans(t *testing.T) {
	spans := []volume.Span{
		{Start0: 10, Start1: 20, Start2: 30, Stop0: 14, Stop1: 24, Stop2: 34},
		{Start0: 12, Start1: 18, Start2: 30, Stop0: 16, Stop1: 22, Stop2: 38},
	}
	acc, err := NewFromSpans(PolicyMean, spans)
	require.NoError(t, err)

	assert.Equal(t, volume.Shape{6, 6, 8}, acc.Shape())
	assert.Equal(t, [3]int{10, 18, 30}, acc.Origin())

	// Span locations feed Update directly in global coordinates.
	sp := spans[0]
	require.NoError(t, acc.Update(constBuffer(sp.Location().Shape(), 2), sp.Location()))
	out, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, float32(2), out.At(0, 2, 0))
}

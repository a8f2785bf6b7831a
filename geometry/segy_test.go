package geometry

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/seisgo/volume"
)

// testValue is the deterministic amplitude used by the synthetic cubes.
func testValue(i, x, d int) float32 {
	return float32(i*100 + x*10 + d)
}

// writeTestSEGY synthesizes a SEG-Y file with n0*n1 traces of ns samples,
// skipping the spatial pairs listed in missing.
func writeTestSEGY(t *testing.T, path string, n0, n1, ns int, missing map[[2]int]bool) {
	t.Helper()

	buf := make([]byte, 0, segyDataStart+(n0*n1)*(segyTraceHeaderLen+ns*4))

	text := make([]byte, segyTextHeaderSize)
	copy(text, "C 1 SYNTHETIC TEST CUBE")
	buf = append(buf, text...)

	bin := make([]byte, segyBinHeaderSize)
	binary.BigEndian.PutUint16(bin[segyBinInterval-segyTextHeaderSize:], 2000)
	binary.BigEndian.PutUint16(bin[segyBinSamples-segyTextHeaderSize:], uint16(ns))
	binary.BigEndian.PutUint16(bin[segyBinFormat-segyTextHeaderSize:], segyFormatIEEE)
	buf = append(buf, bin...)

	for i := 0; i < n0; i++ {
		for x := 0; x < n1; x++ {
			if missing[[2]int{i, x}] {
				continue
			}
			hdr := make([]byte, segyTraceHeaderLen)
			binary.BigEndian.PutUint16(hdr[segyTrcDelay:], 100)
			binary.BigEndian.PutUint16(hdr[segyTrcSamples:], uint16(ns))
			binary.BigEndian.PutUint32(hdr[segyTrcInline:], uint32(2000+i))
			binary.BigEndian.PutUint32(hdr[segyTrcCrossline:], uint32(300+x))
			buf = append(buf, hdr...)

			for d := 0; d < ns; d++ {
				var s [4]byte
				binary.BigEndian.PutUint32(s[:], math.Float32bits(testValue(i, x, d)))
				buf = append(buf, s[:]...)
			}
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func openTestSEGY(t *testing.T, n0, n1, ns int, missing map[[2]int]bool, optFns ...func(*Options)) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cube.sgy")
	writeTestSEGY(t, path, n0, n1, ns, missing)
	st, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSEGYShape(t *testing.T) {
	st := openTestSEGY(t, 4, 5, 8, nil)
	assert.Equal(t, volume.Shape{4, 5, 8}, st.Shape())
}

func TestSEGYLoadCropGather(t *testing.T) {
	st := openTestSEGY(t, 12, 12, 4, nil)

	// Both spatial extents at or above the threshold take the direct
	// gather path.
	loc := volume.Location{{Start: 1, Stop: 12}, {Start: 0, Stop: 11}, {Start: 1, Stop: 3}}
	buf, err := st.LoadCrop(context.Background(), loc)
	require.NoError(t, err)
	require.Equal(t, volume.Shape{11, 11, 2}, buf.Shape())

	for i := 0; i < 11; i++ {
		for j := 0; j < 11; j++ {
			for k := 0; k < 2; k++ {
				assert.Equal(t, testValue(1+i, j, 1+k), buf.At(i, j, k))
			}
		}
	}
}

func TestSEGYLoadCropSlideStacking(t *testing.T) {
	st := openTestSEGY(t, 12, 12, 4, nil)

	// A narrow crop goes through the slide cache.
	loc := volume.Location{{Start: 3, Stop: 5}, {Start: 0, Stop: 12}, {Start: 0, Stop: 4}}
	buf, err := st.LoadCrop(context.Background(), loc)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 12; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, testValue(3+i, j, k), buf.At(i, j, k))
			}
		}
	}
	assert.Equal(t, 2, st.CacheStats().Entries)
}

func TestSEGYMissingTracesAreZero(t *testing.T) {
	missing := map[[2]int]bool{{1, 2}: true, {3, 0}: true}
	st := openTestSEGY(t, 4, 4, 4, missing)

	buf, err := st.LoadCrop(context.Background(), volume.Shape{4, 4, 4}.Loc())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				want := testValue(i, j, k)
				if missing[[2]int{i, j}] {
					want = 0
				}
				assert.Equal(t, want, buf.At(i, j, k), "at (%d,%d,%d)", i, j, k)
			}
		}
	}
}

func TestSEGYLoadSlideAxes(t *testing.T) {
	st := openTestSEGY(t, 4, 5, 6, nil)
	ctx := context.Background()

	inline, err := st.LoadSlide(ctx, "i", 2)
	require.NoError(t, err)
	require.Equal(t, volume.Shape{1, 5, 6}, inline.Shape())
	assert.Equal(t, testValue(2, 3, 4), inline.At(0, 3, 4))

	cross, err := st.LoadSlide(ctx, "crossline", 1)
	require.NoError(t, err)
	require.Equal(t, volume.Shape{4, 1, 6}, cross.Shape())
	assert.Equal(t, testValue(3, 1, 5), cross.At(3, 0, 5))

	depth, err := st.LoadSlide(ctx, "d", 4)
	require.NoError(t, err)
	require.Equal(t, volume.Shape{4, 5, 1}, depth.Shape())
	assert.Equal(t, testValue(1, 2, 4), depth.At(1, 2, 0))

	// Mnemonic and native identifiers resolve identically.
	byInt, err := st.LoadSlide(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, cross.Data(), byInt.Data())

	_, err = st.LoadSlide(ctx, "bogus", 0)
	var invalid *volume.ErrInvalidAxis
	require.ErrorAs(t, err, &invalid)
}

func TestSEGYSlideIndexClamped(t *testing.T) {
	st := openTestSEGY(t, 4, 4, 4, nil)

	high, err := st.LoadSlide(context.Background(), "i", 99)
	require.NoError(t, err)
	assert.Equal(t, testValue(3, 0, 0), high.At(0, 0, 0))

	low, err := st.LoadSlide(context.Background(), "i", -5)
	require.NoError(t, err)
	assert.Equal(t, testValue(0, 0, 0), low.At(0, 0, 0))
}

func TestSEGYCropOutOfBounds(t *testing.T) {
	st := openTestSEGY(t, 4, 4, 4, nil)

	loc := volume.Location{{Start: 0, Stop: 5}, {Start: 0, Stop: 4}, {Start: 0, Stop: 4}}
	_, err := st.LoadCrop(context.Background(), loc)
	require.ErrorIs(t, err, volume.ErrOutOfBounds)

	stepped := volume.Location{{Start: 0, Stop: 4, Step: 2}, {Start: 0, Stop: 4}, {Start: 0, Stop: 4}}
	_, err = st.LoadCrop(context.Background(), stepped)
	require.ErrorIs(t, err, volume.ErrNonUnitStep)
}

func TestSlideCacheHitsAndBypass(t *testing.T) {
	st := openTestSEGY(t, 4, 4, 4, nil)
	ctx := context.Background()

	first, err := st.LoadSlide(ctx, "i", 1)
	require.NoError(t, err)
	second, err := st.LoadSlide(ctx, "i", 1)
	require.NoError(t, err)
	assert.Equal(t, first.Data(), second.Data())

	stats := st.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)

	// A bypassed load never touches the cache.
	st.ResetCache()
	_, err = st.LoadSlide(ctx, "i", 2, WithNoCache)
	require.NoError(t, err)
	assert.Equal(t, 0, st.CacheStats().Entries)
}

func TestSEGYStatistics(t *testing.T) {
	missing := map[[2]int]bool{{0, 1}: true}
	st := openTestSEGY(t, 4, 4, 4, missing)

	stats, err := st.CollectStatistics(context.Background(), func(o *StatsOptions) {
		o.Matrices = true
		o.Bins = 16
	})
	require.NoError(t, err)

	assert.Equal(t, float32(0), stats.Min) // testValue(0,0,0)
	assert.Equal(t, testValue(3, 3, 3), stats.Max)
	assert.Equal(t, 1, stats.DeadTraces)
	assert.True(t, stats.HasMatrices())

	// Matrices reflect the per-trace extremes; the missing pair is flagged.
	n1 := 4
	assert.True(t, stats.ZeroTraces[0*n1+1])
	assert.Equal(t, testValue(2, 3, 0), stats.MinMatrix[2*n1+3])
	assert.Equal(t, testValue(2, 3, 3), stats.MaxMatrix[2*n1+3])

	qm, err := stats.QuantileMatrix(0.5)
	require.NoError(t, err)
	require.Len(t, qm, 16)
	assert.Zero(t, qm[0*n1+1])
	// The reconstructed per-trace median lands within one bin of the
	// true median.
	binWidth := (stats.Max - stats.Min) / 16
	trueMedian := (testValue(2, 3, 1) + testValue(2, 3, 2)) / 2
	assert.InDelta(t, trueMedian, qm[2*n1+3], float64(binWidth))

	// Never recomputed implicitly.
	assert.Same(t, stats, st.Statistics())
}

func TestFitQuantizerFromStats(t *testing.T) {
	st := openTestSEGY(t, 6, 6, 8, nil)

	q, qerr, err := st.FitQuantizer(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q)

	stats := st.Statistics()
	require.NotNil(t, stats)

	// Round trip inside the fitted range stays within half a bin.
	span := float64(stats.Quantile(0.99) - stats.Quantile(0.01))
	bound := float32(span / 254 / 2 * 1.0001)
	mid := (stats.Quantile(0.99) + stats.Quantile(0.01)) / 2
	got := q.Dequantize(q.Quantize(mid))
	assert.InDelta(t, mid, got, float64(bound))

	assert.Greater(t, qerr, float32(0))
	assert.Less(t, qerr, float32(0.1))
}

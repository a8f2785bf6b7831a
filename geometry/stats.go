package geometry

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/seisgo/cache"
	"github.com/hupe1980/seisgo/volume"
)

// ErrNoStatistics is returned by operations that need a Statistics block
// when none has been collected or persisted.
var ErrNoStatistics = errors.New("geometry: no statistics collected")

// Statistics holds derived aggregates over the full volume. It is
// computed once by a streaming pass over every trace, persisted with the
// structured container, and never recomputed automatically.
type Statistics struct {
	Shape volume.Shape `json:"shape"`

	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Q01  float32 `json:"q01"`
	Q99  float32 `json:"q99"`

	// DeadTraces counts spatial pairs with no trace or an all-constant one.
	DeadTraces int `json:"dead_traces"`

	// Sample is a bounded reservoir of raw amplitudes for quantile work.
	Sample []float32 `json:"sample,omitempty"`

	// Per-(axis0,axis1) matrices, flattened row-major as i*n1+x. Present
	// only when matrix collection was requested.
	MinMatrix  []float32 `json:"min_matrix,omitempty"`
	MaxMatrix  []float32 `json:"max_matrix,omitempty"`
	MeanMatrix []float32 `json:"mean_matrix,omitempty"`
	StdMatrix  []float32 `json:"std_matrix,omitempty"`
	ZeroTraces []bool    `json:"zero_traces,omitempty"`

	// Hist holds per-trace histograms over BinEdges, flattened as
	// (i*n1+x)*bins+b. BinEdges has len(bins)+1 entries spanning [Min, Max].
	BinEdges []float32 `json:"bin_edges,omitempty"`
	Hist     []uint32  `json:"hist,omitempty"`

	sortOnce  sync.Once
	sorted    []float32
	quantOnce sync.Once
	quantiles *cache.LRU[[]float32]
}

// HasMatrices reports whether the per-trace matrices were collected.
func (s *Statistics) HasMatrices() bool { return len(s.MinMatrix) > 0 }

// Quantile estimates the global q-quantile from the reservoir sample.
func (s *Statistics) Quantile(q float64) float32 {
	s.sortOnce.Do(func() {
		s.sorted = append([]float32(nil), s.Sample...)
		sort.Slice(s.sorted, func(a, b int) bool { return s.sorted[a] < s.sorted[b] })
	})
	return quantileOf(s.sorted, q)
}

func quantileOf(sorted []float32, q float64) float32 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	frac := float32(pos - float64(lo))
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// QuantileMatrix reconstructs the per-(axis0,axis1) q-quantile from the
// histogram matrix, interpolating linearly within bins. Dead traces get 0.
// Results are memoized per q.
func (s *Statistics) QuantileMatrix(q float64) ([]float32, error) {
	if len(s.Hist) == 0 || len(s.BinEdges) < 2 {
		return nil, ErrNoStatistics
	}

	s.quantOnce.Do(func() {
		s.quantiles = cache.NewLRU(16, func(o *cache.Options[[]float32]) {
			o.SizeOf = func(v []float32) int64 { return int64(len(v)) * 4 }
		})
	})

	key, err := cache.NewKey("quantile_matrix", q)
	if err != nil {
		return nil, err
	}
	return s.quantiles.GetOrLoad(key, func() ([]float32, error) {
		return s.quantileMatrix(q), nil
	})
}

func (s *Statistics) quantileMatrix(q float64) []float32 {
	bins := len(s.BinEdges) - 1
	nTraces := len(s.Hist) / bins
	out := make([]float32, nTraces)

	for t := 0; t < nTraces; t++ {
		hist := s.Hist[t*bins : (t+1)*bins]
		var total uint64
		for _, c := range hist {
			total += uint64(c)
		}
		if total == 0 {
			continue
		}
		target := q * float64(total)
		var cum float64
		for b, c := range hist {
			next := cum + float64(c)
			if next >= target {
				lo, hi := s.BinEdges[b], s.BinEdges[b+1]
				if c == 0 {
					out[t] = lo
				} else {
					out[t] = lo + float32((target-cum)/float64(c))*(hi-lo)
				}
				break
			}
			cum = next
		}
	}
	return out
}

// StatsOptions configures a statistics pass.
type StatsOptions struct {
	// Matrices enables the second pass that builds the per-(axis0,axis1)
	// min/max/mean/std/histogram matrices.
	Matrices bool

	// Bins is the histogram bin count for the matrix pass.
	Bins int

	// SampleSize bounds the amplitude reservoir used for quantiles.
	SampleSize int

	// Seed makes reservoir sampling reproducible.
	Seed int64

	// Progress, if set, receives throttled (done, total) trace counts.
	Progress func(done, total int)
}

func defaultStatsOptions() StatsOptions {
	return StatsOptions{
		Bins:       128,
		SampleSize: 100_000,
		Seed:       42,
	}
}

// statsBuilder accumulates the streaming statistics passes. Pass one
// visits every trace for global aggregates and the reservoir; the
// optional pass two fills the per-trace matrices once bin edges are
// known from the observed global range.
type statsBuilder struct {
	shape volume.Shape
	opts  StatsOptions
	rng   *rand.Rand

	min, max   float32
	sum, sumSq float64
	count      int64
	seen       int64
	sample     []float32
	dead       int

	minMat, maxMat  []float32
	meanMat, stdMat []float32
	zero            []bool
	hist            []uint32
	edges           []float32

	progress *progressSink
}

func newStatsBuilder(shape volume.Shape, opts StatsOptions) *statsBuilder {
	return &statsBuilder{
		shape:    shape,
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		min:      float32(math.Inf(1)),
		max:      float32(math.Inf(-1)),
		sample:   make([]float32, 0, opts.SampleSize),
		progress: newProgressSink(opts.Progress, shape[0]*shape[1]),
	}
}

// addTrace feeds one trace's samples into pass one. Pass nil for a
// missing trace.
func (b *statsBuilder) addTrace(vals []float32) {
	b.progress.step()

	if len(vals) == 0 {
		b.dead++
		return
	}

	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		b.sum += float64(v)
		b.sumSq += float64(v) * float64(v)

		b.seen++
		if len(b.sample) < b.opts.SampleSize {
			b.sample = append(b.sample, v)
		} else if j := b.rng.Int63n(b.seen); j < int64(b.opts.SampleSize) {
			b.sample[j] = v
		}
	}
	b.count += int64(len(vals))

	if lo == hi {
		b.dead++
	}
	if lo < b.min {
		b.min = lo
	}
	if hi > b.max {
		b.max = hi
	}
}

// startMatrices prepares pass two; call after every trace went through
// pass one.
func (b *statsBuilder) startMatrices() {
	n := b.shape[0] * b.shape[1]
	b.minMat = make([]float32, n)
	b.maxMat = make([]float32, n)
	b.meanMat = make([]float32, n)
	b.stdMat = make([]float32, n)
	b.zero = make([]bool, n)
	b.hist = make([]uint32, n*b.opts.Bins)

	b.edges = make([]float32, b.opts.Bins+1)
	span := float64(b.max - b.min)
	for i := range b.edges {
		b.edges[i] = b.min + float32(span*float64(i)/float64(b.opts.Bins))
	}
	b.progress = newProgressSink(b.opts.Progress, b.shape[0]*b.shape[1])
}

// addTraceMatrix feeds one trace into pass two at spatial pair (i, x).
func (b *statsBuilder) addTraceMatrix(i, x int, vals []float32) {
	b.progress.step()

	t := i*b.shape[1] + x
	if len(vals) == 0 {
		b.zero[t] = true
		return
	}

	lo, hi := vals[0], vals[0]
	var sum, sumSq float64
	hist := b.hist[t*b.opts.Bins : (t+1)*b.opts.Bins]
	span := float64(b.max - b.min)

	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += float64(v)
		sumSq += float64(v) * float64(v)

		bin := 0
		if span > 0 {
			bin = int(float64(v-b.min) / span * float64(b.opts.Bins))
			if bin >= b.opts.Bins {
				bin = b.opts.Bins - 1
			}
			if bin < 0 {
				bin = 0
			}
		}
		hist[bin]++
	}

	n := float64(len(vals))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	b.minMat[t] = lo
	b.maxMat[t] = hi
	b.meanMat[t] = float32(mean)
	b.stdMat[t] = float32(math.Sqrt(variance))
	b.zero[t] = lo == hi
}

func (b *statsBuilder) finish() *Statistics {
	s := &Statistics{
		Shape:      b.shape,
		DeadTraces: b.dead,
		Sample:     b.sample,
		MinMatrix:  b.minMat,
		MaxMatrix:  b.maxMat,
		MeanMatrix: b.meanMat,
		StdMatrix:  b.stdMat,
		ZeroTraces: b.zero,
		BinEdges:   b.edges,
		Hist:       b.hist,
	}

	if b.count > 0 {
		s.Min = b.min
		s.Max = b.max
		s.Mean = b.sum / float64(b.count)
		variance := b.sumSq/float64(b.count) - s.Mean*s.Mean
		if variance < 0 {
			variance = 0
		}
		s.Std = math.Sqrt(variance)
	}

	s.Q01 = s.Quantile(0.01)
	s.Q99 = s.Quantile(0.99)
	b.progress.flush()
	return s
}

// progressSink throttles progress callbacks so a tight trace loop is not
// dominated by reporting. It is safe for concurrent steppers; conversion
// steps it from one goroutine per projection.
type progressSink struct {
	fn       func(done, total int)
	total    int
	done     atomic.Int64
	throttle rate.Sometimes
}

func newProgressSink(fn func(done, total int), total int) *progressSink {
	return &progressSink{
		fn:       fn,
		total:    total,
		throttle: rate.Sometimes{First: 1, Interval: 500 * time.Millisecond},
	}
}

func (p *progressSink) step() {
	done := p.done.Add(1)
	if p.fn == nil {
		return
	}
	p.throttle.Do(func() { p.fn(int(done), p.total) })
}

func (p *progressSink) flush() {
	if p.fn != nil {
		p.fn(int(p.done.Load()), p.total)
	}
}

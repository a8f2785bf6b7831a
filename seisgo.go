// Package seisgo provides embedded storage and access for 3D seismic volumes.
//
// Seisgo reads post-stack seismic cubes and serves arbitrary sub-volumes
// with production-ready features including:
//
//   - Two physical backends behind one API: SEG-Y exchange files and a
//     chunked structured container with axis-optimized projections
//   - Adaptive crop planning: thin crops are assembled from cached
//     cross-sections, bulky crops gather traces directly
//   - LRU slide caching with optional process-wide memory budgets
//   - One-pass volume statistics (range, quantiles, per-trace matrices)
//   - Int8 quantization fitted from the statistics block
//   - Conversion into the structured container with lz4/zstd compression
//   - Prediction aggregation over overlapping sub-volumes (see the
//     accumulate package)
//
// # Backend Selection
//
// Open sniffs the file contents: a structured container opens as the
// chunked backend, anything else as SEG-Y. Both implement the same
// operations; converting once and reopening the container is the fast
// path for repeated access.
//
// # Quick Start
//
// Open a cube and load a sub-volume:
//
//	ctx := context.Background()
//	cube, err := seisgo.Open("field.sgy")
//	if err != nil {
//	    panic(err)
//	}
//	defer cube.Close()
//
//	crop, err := cube.LoadCrop(ctx, volume.Location{
//	    {Start: 100, Stop: 164},
//	    {Start: 200, Stop: 264},
//	    {Start: 0, Stop: 512},
//	})
//
// Collect statistics and convert to the structured container:
//
//	if _, err := cube.CollectStatistics(ctx); err != nil {
//	    panic(err)
//	}
//	err = cube.Convert(ctx, "field.sgc", func(o *geometry.ConvertOptions) {
//	    o.Projections = []any{"inline", "depth"}
//	    o.Quantize = true
//	})
//
// Load a full cross-section by axis mnemonic:
//
//	slide, err := cube.LoadSlide(ctx, "xline", 250)
//
// # Resource Budgets
//
// Multiple cubes can share one resource.Controller to bound total cache
// memory and throttle full-volume passes:
//
//	ctrl := resource.NewController(resource.Config{MemoryLimitBytes: 512 << 20})
//	a, _ := seisgo.Open("a.sgc", seisgo.WithController(ctrl))
//	b, _ := seisgo.Open("b.sgc", seisgo.WithController(ctrl))
package seisgo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/seisgo/cache"
	"github.com/hupe1980/seisgo/geometry"
	"github.com/hupe1980/seisgo/quantize"
	"github.com/hupe1980/seisgo/volume"
)

// Cube is a seismic volume opened from disk. All methods are safe for
// concurrent use.
type Cube struct {
	store   geometry.Store
	path    string
	metrics MetricsCollector
	logger  *Logger
	caches  *cache.Registry
	closed  atomic.Bool
}

// Open opens the seismic cube at path, choosing the backend by file
// contents. The returned Cube must be closed after use.
func Open(path string, optFns ...Option) (*Cube, error) {
	opts := applyOptions(optFns)

	store, err := geometry.Open(path, func(o *geometry.Options) {
		o.Logger = opts.logger.Logger
		o.CacheCapacity = opts.cacheCapacity
		o.CacheCopyOnReturn = opts.cacheCopyOnReturn
		o.Controller = opts.controller
	})
	if err != nil {
		opts.logger.LogOpen(path, volume.Shape{}, err)
		return nil, translateError(err)
	}

	c := &Cube{
		store:   store,
		path:    path,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
		caches:  cache.NewRegistry(),
	}
	c.caches.Register("slides", storeCaches{store})

	opts.logger.LogOpen(path, store.Shape(), nil)

	return c, nil
}

// Path returns the file path the cube was opened from.
func (c *Cube) Path() string {
	return c.path
}

// Shape returns the cube extents (inline, crossline, depth).
func (c *Cube) Shape() volume.Shape {
	return c.store.Shape()
}

// LoadCrop materializes the sub-volume at loc. The location must lie
// inside the cube bounds and use unit steps.
func (c *Cube) LoadCrop(ctx context.Context, loc volume.Location, optFns ...func(*geometry.LoadOptions)) (*volume.Buffer, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	buf, err := c.store.LoadCrop(ctx, loc, optFns...)
	err = translateError(err)

	c.metrics.RecordLoadCrop(loc.Shape().Size(), time.Since(start), err)
	c.logger.LogLoadCrop(ctx, loc, err)

	return buf, err
}

// LoadSlide returns the full cube cross-section at index along axis,
// with that axis reduced to length 1. The index is clamped into bounds.
// Axis accepts volume.Axis values, integers 0..2, or mnemonic strings
// such as "inline", "xline", "depth".
func (c *Cube) LoadSlide(ctx context.Context, axis any, index int, optFns ...func(*geometry.LoadOptions)) (*volume.Buffer, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	buf, err := c.store.LoadSlide(ctx, axis, index, optFns...)
	err = translateError(err)

	c.metrics.RecordLoadSlide(time.Since(start), err)
	c.logger.LogLoadSlide(ctx, axis, index, err)

	return buf, err
}

// CollectStatistics streams every trace once (twice when per-trace
// matrices are requested) and returns the resulting statistics block.
// The result is retained on the cube and persisted by Convert.
func (c *Cube) CollectStatistics(ctx context.Context, optFns ...func(*geometry.StatsOptions)) (*geometry.Statistics, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	stats, err := c.store.CollectStatistics(ctx, optFns...)
	err = translateError(err)

	c.metrics.RecordStatistics(time.Since(start), err)
	c.logger.LogStatistics(ctx, err)

	return stats, err
}

// Statistics returns the collected or persisted statistics block, or
// nil when none exists. It is never recomputed implicitly; call
// CollectStatistics to build one.
func (c *Cube) Statistics() *geometry.Statistics {
	return c.store.Statistics()
}

// FitQuantizer derives an int8 quantizer from the statistics block and
// reports the estimated round-trip error relative to the volume's
// standard deviation. Statistics are collected first if absent.
func (c *Cube) FitQuantizer(ctx context.Context, optFns ...func(*geometry.QuantizeOptions)) (*quantize.Quantizer, float32, error) {
	if c.closed.Load() {
		return nil, 0, ErrClosed
	}

	start := time.Now()
	q, quantErr, err := c.store.FitQuantizer(ctx, optFns...)
	err = translateError(err)

	c.metrics.RecordQuantizerFit(quantErr, time.Since(start), err)
	c.logger.LogQuantizerFit(ctx, quantErr, err)

	return q, quantErr, err
}

// Convert writes the cube into a structured container at path,
// replacing any existing file. Statistics and quantizer parameters are
// persisted alongside the data.
func (c *Cube) Convert(ctx context.Context, path string, optFns ...func(*geometry.ConvertOptions)) error {
	if c.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	err := translateError(c.store.Convert(ctx, path, optFns...))

	c.metrics.RecordConvert(time.Since(start), err)
	c.logger.LogConvert(ctx, path, err)

	return err
}

// Caches returns the registry of the cube's named caches.
func (c *Cube) Caches() *cache.Registry {
	return c.caches
}

// CacheStats reports the slide cache counters.
func (c *Cube) CacheStats() cache.Stats {
	return c.store.CacheStats()
}

// ResetCache drops all cached slides.
func (c *Cube) ResetCache() {
	c.store.ResetCache()
}

// Close releases the underlying mapping and caches. Close is
// idempotent; operations after Close return ErrClosed.
func (c *Cube) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return translateError(c.store.Close())
}

// storeCaches adapts a backend's cache counters to the registry surface.
type storeCaches struct {
	s geometry.Store
}

func (a storeCaches) Stats() cache.Stats { return a.s.CacheStats() }
func (a storeCaches) Reset()             { a.s.ResetCache() }
func (a storeCaches) Len() int           { return a.s.CacheStats().Entries }
func (a storeCaches) Bytes() int64       { return a.s.CacheStats().Bytes }

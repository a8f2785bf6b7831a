// Package geometry provides format-abstracted access to seismic cubes.
// Two backends implement the same Store contract: a SEG-Y exchange
// backend over a flat trace sequence with a header table, and a
// structured backend over a chunked container with up to three
// axis-optimized projections. The backend is chosen once at Open, by
// file contents, and never re-dispatched per call.
package geometry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/seisgo/cache"
	"github.com/hupe1980/seisgo/chunkfile"
	"github.com/hupe1980/seisgo/quantize"
	"github.com/hupe1980/seisgo/resource"
	"github.com/hupe1980/seisgo/volume"
)

// slideThreshold is the spatial extent below which a crop is served by
// stacking cached slides instead of gathering individual traces.
const slideThreshold = 10

// Store is a read-only seismic cube, uniform across physical formats.
type Store interface {
	// Shape returns the cube extents (n0, n1, depth).
	Shape() volume.Shape

	// LoadCrop materializes the sub-volume at loc. A location outside the
	// cube bounds is a caller error.
	LoadCrop(ctx context.Context, loc volume.Location, optFns ...func(*LoadOptions)) (*volume.Buffer, error)

	// LoadSlide returns the full cube cross-section at index along axis,
	// with that axis reduced to length 1. The index is clamped into
	// bounds. Axis accepts native identifiers or mnemonic strings.
	LoadSlide(ctx context.Context, axis any, index int, optFns ...func(*LoadOptions)) (*volume.Buffer, error)

	// CollectStatistics streams every trace once (twice when matrices are
	// requested) and returns the resulting Statistics block. The result is
	// retained on the store.
	CollectStatistics(ctx context.Context, optFns ...func(*StatsOptions)) (*Statistics, error)

	// Statistics returns the collected or persisted Statistics block, or
	// nil when none exists. It is never recomputed automatically.
	Statistics() *Statistics

	// FitQuantizer derives an int8 quantizer from the Statistics block and
	// reports the estimated quantization error.
	FitQuantizer(ctx context.Context, optFns ...func(*QuantizeOptions)) (*quantize.Quantizer, float32, error)

	// Convert writes the cube into a structured container at path,
	// replacing any existing file.
	Convert(ctx context.Context, path string, optFns ...func(*ConvertOptions)) error

	// CacheStats reports the slide cache counters.
	CacheStats() cache.Stats

	// ResetCache drops all cached slides.
	ResetCache()

	Close() error
}

// Options configures a Store at Open time.
type Options struct {
	// Logger receives operational logging. Defaults to a no-op handler.
	Logger *slog.Logger

	// CacheCapacity bounds the slide cache entry count.
	CacheCapacity int

	// CacheCopyOnReturn makes cached slide loads return defensive copies.
	CacheCopyOnReturn bool

	// Controller optionally budgets cache memory and throttles full-volume
	// IO passes.
	Controller *resource.Controller
}

func defaultOptions() Options {
	return Options{
		Logger:        slog.New(slog.DiscardHandler),
		CacheCapacity: 128,
	}
}

// Open opens the cube at path, sniffing the physical format: a chunkfile
// container opens as the structured backend, anything else as SEG-Y.
func Open(path string, optFns ...func(*Options)) (Store, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if chunkfile.IsChunkfile(path) {
		return openStructured(path, opts)
	}
	return openSEGY(path, opts)
}

// LoadOptions carries call-time overrides for crop and slide loads.
type LoadOptions struct {
	// NoCache bypasses the slide cache for this call.
	NoCache bool

	// Scaler, if set, is applied to the returned buffer in place. The
	// buffer is always a private copy when a scaler runs.
	Scaler *Scaler
}

// WithNoCache disables slide caching for one call.
func WithNoCache(o *LoadOptions) { o.NoCache = true }

// WithScaler normalizes the returned buffer values.
func WithScaler(s *Scaler) func(*LoadOptions) {
	return func(o *LoadOptions) { o.Scaler = s }
}

// QuantizeOptions configures FitQuantizer.
type QuantizeOptions struct {
	// LowQ and HighQ are the quantiles defining the clipped range.
	LowQ, HighQ float64

	// Clip maps out-of-range values to the range edges.
	Clip bool

	// Center subtracts the global mean before ranging.
	Center bool
}

func defaultQuantizeOptions() QuantizeOptions {
	return QuantizeOptions{LowQ: 0.01, HighQ: 0.99, Clip: true}
}

// fitQuantizer derives a quantizer from a Statistics block. Shared by
// both backends.
func fitQuantizer(stats *Statistics, optFns ...func(*QuantizeOptions)) (*quantize.Quantizer, float32, error) {
	if stats == nil {
		return nil, 0, ErrNoStatistics
	}

	opts := defaultQuantizeOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	lo := stats.Quantile(opts.LowQ)
	hi := stats.Quantile(opts.HighQ)
	q, err := quantize.New(quantize.Params{
		Lo:     lo,
		Hi:     hi,
		Clip:   opts.Clip,
		Center: opts.Center,
		Mean:   float32(stats.Mean),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("geometry: fit quantizer: %w", err)
	}
	return q, q.Error(stats.Sample, float32(stats.Std)), nil
}

// checkCrop validates a crop location against the cube shape.
func checkCrop(loc volume.Location, shape volume.Shape) error {
	if !loc.Unit() {
		return volume.ErrNonUnitStep
	}
	return loc.Validate(shape)
}

// clampIndex clamps a slide index into [0, extent).
func clampIndex(index, extent int) int {
	if index < 0 {
		return 0
	}
	if index >= extent {
		return extent - 1
	}
	return index
}

// slideLocation is the full-extent location of one slide.
func slideLocation(shape volume.Shape, axis volume.Axis, index int) volume.Location {
	loc := volume.Location{
		{Start: 0, Stop: shape[0]},
		{Start: 0, Stop: shape[1]},
		{Start: 0, Stop: shape[2]},
	}
	loc[axis] = volume.Range{Start: index, Stop: index + 1}
	return loc
}

// finishLoad applies call-time scaling to a loaded buffer.
func finishLoad(buf *volume.Buffer, lo LoadOptions) *volume.Buffer {
	if lo.Scaler == nil {
		return buf
	}
	out := buf.Clone()
	lo.Scaler.Apply(out.Data())
	return out
}

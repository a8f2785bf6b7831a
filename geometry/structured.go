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

// structuredStore reads a chunked container holding the cube in up to
// three axis-optimized projections. Slicing along a projection's leading
// axis is a single chunk-aligned read; requests along an axis without a
// projection fall back to the primary one.
type structuredStore struct {
	f      *chunkfile.File
	path   string
	logger *slog.Logger
	ctrl   *resource.Controller

	shape       volume.Shape
	defaultAxis volume.Axis
	projections map[volume.Axis]*chunkfile.ReadDataset
	qt          *quantize.Quantizer
	stats       *Statistics
	meta        containerMeta

	slides *cache.LRU[*volume.Buffer]
}

var _ Store = (*structuredStore)(nil)

func openStructured(path string, opts Options) (*structuredStore, error) {
	f, err := chunkfile.Open(path)
	if err != nil {
		return nil, err
	}

	s := &structuredStore{
		f:           f,
		path:        path,
		logger:      opts.Logger,
		ctrl:        opts.Controller,
		projections: make(map[volume.Axis]*chunkfile.ReadDataset),
	}

	// The primary is the first projection present; at least one must
	// exist. The logical shape derives from the primary's layout.
	var primary *chunkfile.ReadDataset
	for _, ax := range []volume.Axis{volume.AxisInline, volume.AxisCrossline, volume.AxisDepth} {
		ds, err := f.Dataset(projName(ax))
		if err != nil {
			continue
		}
		if primary == nil {
			primary = ds
			s.defaultAxis = ax
			s.shape = logicalShape(ds.Shape(), ax)
		} else if ds.Shape() != projShape(s.shape, ax) {
			f.Close()
			return nil, fmt.Errorf("geometry: %s: projection %s shape %v disagrees with primary %s",
				path, projName(ax), ds.Shape(), s.shape)
		}
		s.projections[ax] = ds
	}
	if primary == nil {
		f.Close()
		return nil, fmt.Errorf("geometry: %s: container holds no projection dataset", path)
	}

	if f.HasInfo(infoQuantizer) {
		var params quantize.Params
		if err := f.Info(infoQuantizer, &params); err != nil {
			f.Close()
			return nil, err
		}
		if s.qt, err = quantize.New(params); err != nil {
			f.Close()
			return nil, err
		}
	}
	if s.qt == nil && primary.DType() == chunkfile.Int8 {
		f.Close()
		return nil, fmt.Errorf("geometry: %s: int8 datasets without quantizer parameters", path)
	}

	if f.HasInfo(infoStats) {
		s.stats = &Statistics{}
		if err := f.Info(infoStats, s.stats); err != nil {
			f.Close()
			return nil, err
		}
	}
	if f.HasInfo(infoMeta) {
		if err := f.Info(infoMeta, &s.meta); err != nil {
			f.Close()
			return nil, err
		}
	}

	s.slides = cache.NewLRU(opts.CacheCapacity, func(o *cache.Options[*volume.Buffer]) {
		o.SizeOf = func(b *volume.Buffer) int64 { return b.Bytes() }
		o.Clone = func(b *volume.Buffer) *volume.Buffer { return b.Clone() }
		o.CopyOnReturn = opts.CacheCopyOnReturn
		o.Controller = opts.Controller
	})

	s.logger.Info("opened structured cube",
		slog.String("path", path),
		slog.String("shape", s.shape.String()),
		slog.Int("projections", len(s.projections)),
		slog.Bool("quantized", s.qt != nil),
	)
	return s, nil
}

func (s *structuredStore) Shape() volume.Shape { return s.shape }

// chooseProjection picks the projection whose leading axis has the
// smallest extent in loc, falling back to the primary projection when no
// specialized one exists for that axis.
func (s *structuredStore) chooseProjection(loc volume.Location) (volume.Axis, *chunkfile.ReadDataset) {
	ext := loc.Shape()
	best := volume.AxisInline
	for ax := volume.AxisCrossline; ax <= volume.AxisDepth; ax++ {
		if ext[ax] < ext[best] {
			best = ax
		}
	}
	if ds, ok := s.projections[best]; ok {
		return best, ds
	}
	return s.defaultAxis, s.projections[s.defaultAxis]
}

// readProjection assembles loc from ds, whose leading axis is ax.
func (s *structuredStore) readProjection(ctx context.Context, ds *chunkfile.ReadDataset, ax volume.Axis, loc volume.Location) (*volume.Buffer, error) {
	out := volume.NewBuffer(loc.Shape())

	slabShape := ds.Shape()
	rows, cols := slabShape[1], slabShape[2]
	slab := make([]float32, rows*cols)
	var codes []int8
	if ds.DType() == chunkfile.Int8 {
		codes = make([]int8, rows*cols)
	}

	for n := 0; n < loc[ax].Len(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.ctrl.AcquireIO(ctx, int64(rows*cols)*int64(ds.DType().Size())); err != nil {
			return nil, err
		}

		idx := loc[ax].Start + n
		if codes != nil {
			if err := ds.ReadChunkInt8(idx, codes); err != nil {
				return nil, err
			}
			s.qt.DequantizeSlice(slab, codes)
		} else if err := ds.ReadChunkFloat32(idx, slab); err != nil {
			return nil, err
		}

		switch ax {
		case volume.AxisInline:
			// Slab rows are crossline, columns depth.
			for j := 0; j < loc[1].Len(); j++ {
				off := (loc[1].Start+j)*cols + loc[2].Start
				copy(out.Row(n, j), slab[off:off+loc[2].Len()])
			}
		case volume.AxisCrossline:
			// Slab rows are inline, columns depth.
			for i := 0; i < loc[0].Len(); i++ {
				off := (loc[0].Start+i)*cols + loc[2].Start
				copy(out.Row(i, n), slab[off:off+loc[2].Len()])
			}
		case volume.AxisDepth:
			// Slab rows are inline, columns crossline.
			for i := 0; i < loc[0].Len(); i++ {
				row := slab[(loc[0].Start+i)*cols:]
				for j := 0; j < loc[1].Len(); j++ {
					out.Set(i, j, n, row[loc[1].Start+j])
				}
			}
		}
	}
	return out, nil
}

func (s *structuredStore) LoadCrop(ctx context.Context, loc volume.Location, optFns ...func(*LoadOptions)) (*volume.Buffer, error) {
	var lo LoadOptions
	for _, fn := range optFns {
		fn(&lo)
	}

	if err := checkCrop(loc, s.shape); err != nil {
		return nil, err
	}
	if loc.Empty() {
		return volume.NewBuffer(loc.Shape()), nil
	}

	ax, ds := s.chooseProjection(loc)
	buf, err := s.readProjection(ctx, ds, ax, loc)
	if err != nil {
		return nil, err
	}
	return finishLoad(buf, lo), nil
}

func (s *structuredStore) LoadSlide(ctx context.Context, axis any, index int, optFns ...func(*LoadOptions)) (*volume.Buffer, error) {
	var lo LoadOptions
	for _, fn := range optFns {
		fn(&lo)
	}

	ax, err := volume.ParseAxis(axis)
	if err != nil {
		return nil, err
	}
	index = clampIndex(index, s.shape[ax])

	key, err := cache.NewKey("slide", ax, index, s.shape)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*cache.LoadOptions)
	if lo.NoCache {
		loadOpts = append(loadOpts, cache.Bypass)
	}
	buf, err := s.slides.GetOrLoad(key, func() (*volume.Buffer, error) {
		loc := slideLocation(s.shape, ax, index)
		readAx, ds := ax, s.projections[ax]
		if ds == nil {
			readAx, ds = s.defaultAxis, s.projections[s.defaultAxis]
		}
		return s.readProjection(ctx, ds, readAx, loc)
	}, loadOpts...)
	if err != nil {
		return nil, err
	}
	return finishLoad(buf, lo), nil
}

func (s *structuredStore) CollectStatistics(ctx context.Context, optFns ...func(*StatsOptions)) (*Statistics, error) {
	opts := defaultStatsOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	b := newStatsBuilder(s.shape, opts)
	ds := s.projections[s.defaultAxis]

	pass := func(fn func(i, x int, vals []float32)) error {
		for i := 0; i < s.shape[0]; i++ {
			loc := slideLocation(s.shape, volume.AxisInline, i)
			slide, err := s.readProjection(ctx, ds, s.defaultAxis, loc)
			if err != nil {
				return err
			}
			for x := 0; x < s.shape[1]; x++ {
				fn(i, x, slide.Row(0, x))
			}
		}
		return nil
	}

	if err := pass(func(_, _ int, vals []float32) { b.addTrace(vals) }); err != nil {
		return nil, err
	}
	if opts.Matrices {
		b.startMatrices()
		if err := pass(b.addTraceMatrix); err != nil {
			return nil, err
		}
	}

	s.stats = b.finish()
	s.logger.Info("collected statistics",
		slog.String("path", s.path),
		slog.Bool("matrices", opts.Matrices),
		slog.Int("dead_traces", s.stats.DeadTraces),
	)
	return s.stats, nil
}

func (s *structuredStore) Statistics() *Statistics { return s.stats }

func (s *structuredStore) FitQuantizer(ctx context.Context, optFns ...func(*QuantizeOptions)) (*quantize.Quantizer, float32, error) {
	if s.stats == nil {
		if _, err := s.CollectStatistics(ctx); err != nil {
			return nil, 0, err
		}
	}
	return fitQuantizer(s.stats, optFns...)
}

func (s *structuredStore) Convert(ctx context.Context, path string, optFns ...func(*ConvertOptions)) error {
	return convert(ctx, s, path, s.meta, s.ctrl, s.logger, optFns...)
}

func (s *structuredStore) CacheStats() cache.Stats { return s.slides.Stats() }

func (s *structuredStore) ResetCache() { s.slides.Reset() }

func (s *structuredStore) Close() error {
	s.slides.Reset()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

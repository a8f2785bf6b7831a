package geometry

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/seisgo/chunkfile"
	"github.com/hupe1980/seisgo/quantize"
	"github.com/hupe1980/seisgo/resource"
	"github.com/hupe1980/seisgo/volume"
)

// Info namespace keys in the structured container.
const (
	infoStats      = "stats"
	infoMeta       = "meta"
	infoQuantizer  = "quantizer"
	infoQuantError = "quantization_error"
)

// projName returns the dataset name of the projection with the given
// leading axis.
func projName(axis volume.Axis) string {
	return "projection_" + axis.String()
}

// projShape returns the dataset shape of a projection: the leading axis
// first, the remaining logical axes in order.
func projShape(shape volume.Shape, axis volume.Axis) [3]int {
	switch axis {
	case volume.AxisCrossline:
		return [3]int{shape[1], shape[0], shape[2]}
	case volume.AxisDepth:
		return [3]int{shape[2], shape[0], shape[1]}
	default:
		return [3]int{shape[0], shape[1], shape[2]}
	}
}

// logicalShape inverts projShape: the cube extents given a projection's
// dataset shape and leading axis.
func logicalShape(ds [3]int, axis volume.Axis) volume.Shape {
	switch axis {
	case volume.AxisCrossline:
		return volume.Shape{ds[1], ds[0], ds[2]}
	case volume.AxisDepth:
		return volume.Shape{ds[1], ds[2], ds[0]}
	default:
		return volume.Shape{ds[0], ds[1], ds[2]}
	}
}

// containerMeta is the index metadata carried through a conversion,
// including the opaque exchange-format header blocks.
type containerMeta struct {
	SampleInterval int     `json:"sample_interval"`
	Delay          int     `json:"delay"`
	Ilines         []int32 `json:"ilines,omitempty"`
	Xlines         []int32 `json:"xlines,omitempty"`
	TextHeader     []byte  `json:"text_header,omitempty"`
	BinHeader      []byte  `json:"bin_header,omitempty"`
}

// ConvertOptions configures a conversion to the structured format.
type ConvertOptions struct {
	// Projections lists the axes to materialize, by identifier or
	// mnemonic. Defaults to the primary (inline) projection only.
	Projections []any

	// Quantize stores int8 samples instead of float32, using Quantizer
	// when supplied or a freshly fitted one otherwise.
	Quantize  bool
	Quantizer *quantize.Quantizer

	// Codec is the per-chunk compression. Defaults to lz4.
	Codec chunkfile.Codec

	// Stats overrides the source's Statistics block.
	Stats *Statistics

	// Progress, if set, receives throttled (done, total) slide counts.
	// It may be called concurrently when several projections are written.
	Progress func(done, total int)
}

func defaultConvertOptions() ConvertOptions {
	return ConvertOptions{
		Projections: []any{volume.AxisInline},
		Codec:       chunkfile.CodecLZ4,
	}
}

// convert streams every slide of src once per requested projection into a
// fresh structured container at path. Shared by both backends. Each
// projection writer holds one of ctrl's load slots for its whole pass.
func convert(ctx context.Context, src Store, path string, meta containerMeta, ctrl *resource.Controller, logger *slog.Logger, optFns ...func(*ConvertOptions)) error {
	opts := defaultConvertOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	axes := make([]volume.Axis, 0, len(opts.Projections))
	seen := map[volume.Axis]bool{}
	for _, p := range opts.Projections {
		ax, err := volume.ParseAxis(p)
		if err != nil {
			return err
		}
		if !seen[ax] {
			seen[ax] = true
			axes = append(axes, ax)
		}
	}
	if len(axes) == 0 {
		return fmt.Errorf("geometry: convert: no projections requested")
	}

	stats := opts.Stats
	if stats == nil {
		stats = src.Statistics()
	}
	if stats == nil {
		var err error
		if stats, err = src.CollectStatistics(ctx); err != nil {
			return err
		}
	}

	var (
		qt       *quantize.Quantizer
		quantErr float32
	)
	if opts.Quantize {
		qt = opts.Quantizer
		if qt == nil {
			var err error
			if qt, quantErr, err = fitQuantizer(stats); err != nil {
				return err
			}
		} else {
			quantErr = qt.Error(stats.Sample, float32(stats.Std))
		}
	}

	w, err := chunkfile.Create(path)
	if err != nil {
		return err
	}

	shape := src.Shape()
	total := 0
	for _, ax := range axes {
		total += shape[ax]
	}
	progress := newProgressSink(opts.Progress, total)

	dtype := chunkfile.Float32
	if qt != nil {
		dtype = chunkfile.Int8
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ax := range axes {
		ds, err := w.CreateDataset(projName(ax), projShape(shape, ax), dtype, chunkfile.DatasetOptions{Codec: opts.Codec})
		if err != nil {
			w.Close()
			return err
		}

		g.Go(func() error {
			if err := ctrl.AcquireLoad(gctx); err != nil {
				return err
			}
			defer ctrl.ReleaseLoad()

			var codes []int8
			if qt != nil {
				codes = make([]int8, projShape(shape, ax)[1]*projShape(shape, ax)[2])
			}
			for idx := 0; idx < shape[ax]; idx++ {
				slide, err := src.LoadSlide(gctx, ax, idx, WithNoCache)
				if err != nil {
					return err
				}
				// A slide along any axis is already laid out with the
				// remaining logical axes in order, exactly the chunk slab.
				vals := slide.Data()
				if qt != nil {
					qt.QuantizeSlice(codes, vals)
					if err := ds.WriteChunkInt8(idx, codes); err != nil {
						return err
					}
				} else if err := ds.WriteChunkFloat32(idx, vals); err != nil {
					return err
				}
				progress.step()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.Close()
		return err
	}

	if err := w.PutInfo(infoStats, stats); err != nil {
		w.Close()
		return err
	}
	if err := w.PutInfo(infoMeta, meta); err != nil {
		w.Close()
		return err
	}
	if qt != nil {
		if err := w.PutInfo(infoQuantizer, qt.Params()); err != nil {
			w.Close()
			return err
		}
		if err := w.PutInfo(infoQuantError, quantErr); err != nil {
			w.Close()
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	progress.flush()
	logger.Info("converted cube",
		slog.String("path", path),
		slog.Int("projections", len(axes)),
		slog.Bool("quantized", qt != nil),
	)
	return nil
}

package accumulate

import (
	"fmt"
	"math"
	"os"

	"github.com/hupe1980/seisgo/chunkfile"
	"github.com/hupe1980/seisgo/volume"
)

// SlideOptions configures a SlideAccumulator.
type SlideOptions struct {
	// Policy merges slides written more than once at the same index.
	// Without it the later write wins.
	Policy    Policy
	hasPolicy bool
}

// WithSlidePolicy enables duplicate-slide merging under the given policy.
// PolicyMode is not supported at slide granularity.
func WithSlidePolicy(p Policy) func(*SlideOptions) {
	return func(o *SlideOptions) {
		o.Policy = p
		o.hasPolicy = true
	}
}

// SlideAccumulator is the batch-oriented accumulator variant: whole 2D
// slides along a fixed orientation axis stream into an on-disk container.
// Finalization de-duplicates slides written more than once; untouched
// slides stay zero-filled. The finalized container reopens directly as a
// structured cube.
type SlideAccumulator struct {
	shape volume.Shape
	axis  volume.Axis
	path  string
	opts  SlideOptions

	w       *chunkfile.Writer
	ds      *chunkfile.Dataset
	scratch []float32
	writes  map[int]int

	aggregated bool
	cleared    bool
}

// NewSlideAccumulator creates a slide accumulator for a cube of the given
// logical shape, oriented along a spatial axis (identifier or mnemonic).
func NewSlideAccumulator(shape volume.Shape, axis any, path string, optFns ...func(*SlideOptions)) (*SlideAccumulator, error) {
	var opts SlideOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	ax, err := volume.ParseAxis(axis)
	if err != nil {
		return nil, err
	}
	if ax == volume.AxisDepth {
		return nil, fmt.Errorf("accumulate: slide accumulator orientation must be spatial, got %s", ax)
	}
	if opts.hasPolicy && opts.Policy == PolicyMode {
		return nil, fmt.Errorf("%w: mode is not supported at slide granularity", ErrUnknownPolicy)
	}

	w, err := chunkfile.Create(path)
	if err != nil {
		return nil, err
	}

	dsShape := [3]int{shape[0], shape[1], shape[2]}
	if ax == volume.AxisCrossline {
		dsShape = [3]int{shape[1], shape[0], shape[2]}
	}
	ds, err := w.CreateDataset(projName(ax), dsShape, chunkfile.Float32, chunkfile.DatasetOptions{Mutable: true})
	if err != nil {
		w.Close()
		return nil, err
	}

	return &SlideAccumulator{
		shape:   shape,
		axis:    ax,
		path:    path,
		opts:    opts,
		w:       w,
		ds:      ds,
		scratch: make([]float32, dsShape[1]*dsShape[2]),
		writes:  make(map[int]int),
	}, nil
}

func projName(axis volume.Axis) string {
	return "projection_" + axis.String()
}

// Shape returns the logical cube extents.
func (s *SlideAccumulator) Shape() volume.Shape { return s.shape }

// Path returns the container path.
func (s *SlideAccumulator) Path() string { return s.path }

func (s *SlideAccumulator) state() error {
	if s.cleared {
		return ErrCleared
	}
	if s.aggregated {
		return ErrAggregated
	}
	return nil
}

// Update stores one slide at the given index along the orientation axis.
// The slide buffer must have the orientation axis reduced to length 1. A
// duplicate index merges under the configured policy, or overwrites when
// none was set.
func (s *SlideAccumulator) Update(index int, slide *volume.Buffer) error {
	if err := s.state(); err != nil {
		return err
	}
	if index < 0 || index >= s.shape[s.axis] {
		return fmt.Errorf("%w: slide index %d outside [0, %d)", volume.ErrOutOfBounds, index, s.shape[s.axis])
	}

	want := slideShape(s.shape, s.axis)
	if slide.Shape() != want {
		return fmt.Errorf("%w: slide %s, want %s", ErrShapeMismatch, slide.Shape(), want)
	}

	vals := slide.Data()
	prior := s.writes[index]
	s.writes[index] = prior + 1

	if prior == 0 || !s.opts.hasPolicy {
		// First write, or last-write-wins de-duplication.
		return s.ds.WriteChunkFloat32(index, vals)
	}

	if err := s.ds.ReadChunkFloat32(index, s.scratch); err != nil {
		return err
	}
	switch s.opts.Policy {
	case PolicyMax:
		for at, v := range vals {
			if v > s.scratch[at] {
				s.scratch[at] = v
			}
		}
	case PolicyMean:
		// Running sum; divided by the write count at aggregation.
		for at, v := range vals {
			s.scratch[at] += v
		}
	case PolicyGMean:
		for at, v := range vals {
			s.scratch[at] *= v
		}
	}
	return s.ds.WriteChunkFloat32(index, s.scratch)
}

func slideShape(shape volume.Shape, axis volume.Axis) volume.Shape {
	out := shape
	out[axis] = 1
	return out
}

// Aggregate merges duplicate slides, finalizes the container with the
// default projection alias, and reopens nothing: use Path with a
// geometry store to read the result.
func (s *SlideAccumulator) Aggregate() error {
	if err := s.state(); err != nil {
		return err
	}

	if s.opts.hasPolicy {
		for index, n := range s.writes {
			if n < 2 {
				continue
			}
			if err := s.finalizeSlide(index, n); err != nil {
				return err
			}
		}
	}

	if err := s.w.Alias("data", projName(s.axis)); err != nil {
		return err
	}

	if err := s.w.Close(); err != nil {
		return err
	}
	s.w, s.ds = nil, nil
	s.aggregated = true
	return nil
}

func (s *SlideAccumulator) finalizeSlide(index, n int) error {
	if err := s.ds.ReadChunkFloat32(index, s.scratch); err != nil {
		return err
	}
	switch s.opts.Policy {
	case PolicyMean:
		inv := 1 / float32(n)
		for at := range s.scratch {
			s.scratch[at] *= inv
		}
	case PolicyGMean:
		exp := 1 / float64(n)
		for at, v := range s.scratch {
			s.scratch[at] = float32(math.Pow(float64(v), exp))
		}
	default:
		return nil // max needs no finalization
	}
	return s.ds.WriteChunkFloat32(index, s.scratch)
}

// Clear releases the container.
func (s *SlideAccumulator) Clear() error {
	if s.cleared {
		return nil
	}
	s.cleared = true

	var err error
	if s.w != nil {
		err = s.w.Close()
		s.w, s.ds = nil, nil
	}
	if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}

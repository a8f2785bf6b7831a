// Package accumulate reassembles streamed sub-volume contributions into
// one full-size volume under a selectable merge policy, backed by memory
// or by a chunked on-disk container. An on-disk result exposes the
// geometry store's default projection name, so it reopens directly as a
// structured cube.
package accumulate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/hupe1980/seisgo/chunkfile"
	"github.com/hupe1980/seisgo/volume"
)

var (
	// ErrAggregated is returned for updates or a second aggregation after
	// the accumulator was finalized. A programming error, never retryable.
	ErrAggregated = errors.New("accumulate: accumulator already aggregated")

	// ErrCleared is returned for any use after Clear released resources.
	ErrCleared = errors.New("accumulate: accumulator cleared")

	// ErrUnknownPolicy is returned for an unrecognized policy name.
	ErrUnknownPolicy = errors.New("accumulate: unknown policy")

	// ErrShapeMismatch is returned when a contribution's buffer does not
	// match its location.
	ErrShapeMismatch = errors.New("accumulate: buffer shape does not match location")
)

// Policy selects how overlapping contributions merge.
type Policy int

const (
	// PolicyMax keeps the elementwise maximum.
	PolicyMax Policy = iota

	// PolicyMean averages all contributions covering a point.
	PolicyMean

	// PolicyGMean takes the geometric mean of contributions.
	PolicyGMean

	// PolicyMode treats values as class labels and keeps the most
	// frequent one per point.
	PolicyMode
)

// ParsePolicy resolves a policy name, accepting common aliases.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "max", "maximum":
		return PolicyMax, nil
	case "mean", "avg", "average":
		return PolicyMean, nil
	case "gmean", "geometric", "geometric_mean":
		return PolicyGMean, nil
	case "mode":
		return PolicyMode, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

func (p Policy) String() string {
	switch p {
	case PolicyMax:
		return "max"
	case PolicyMean:
		return "mean"
	case PolicyGMean:
		return "gmean"
	case PolicyMode:
		return "mode"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// maxFill marks untouched cells of the max policy; they become 0 at
// aggregation.
const maxFill = -math.MaxFloat32

// Options configures an Accumulator.
type Options struct {
	// Origin is the volume's offset in the sampler's coordinate space;
	// update locations are translated by it.
	Origin [3]int

	// Path switches to chunked on-disk backing at the given file path,
	// replacing any existing file. Empty means in-memory arrays.
	Path string

	// Classes is the label count for PolicyMode.
	Classes int

	// Transform, if set, is applied to contribution values before merging.
	Transform func(v float32) float32

	// Logger receives operational logging. Defaults to a no-op handler.
	Logger *slog.Logger
}

// placeholder is one named array sized to the accumulator shape, sliced
// into per-leading-index slabs.
type placeholder interface {
	// slab returns the values at leading index i and a commit function
	// persisting any mutation.
	slab(i int) ([]float32, func() error, error)
	fill(n0 int, v float32) error
}

type memPlaceholder struct {
	data []float32
	slot int
}

func newMemPlaceholder(n0, slot int) *memPlaceholder {
	return &memPlaceholder{data: make([]float32, n0*slot), slot: slot}
}

func (p *memPlaceholder) slab(i int) ([]float32, func() error, error) {
	return p.data[i*p.slot : (i+1)*p.slot], func() error { return nil }, nil
}

func (p *memPlaceholder) fill(n0 int, v float32) error {
	for i := range p.data {
		p.data[i] = v
	}
	return nil
}

type diskPlaceholder struct {
	ds      *chunkfile.Dataset
	scratch []float32
}

func newDiskPlaceholder(w *chunkfile.Writer, name string, shape [3]int) (*diskPlaceholder, error) {
	ds, err := w.CreateDataset(name, shape, chunkfile.Float32, chunkfile.DatasetOptions{Mutable: true})
	if err != nil {
		return nil, err
	}
	return &diskPlaceholder{ds: ds, scratch: make([]float32, shape[1]*shape[2])}, nil
}

func (p *diskPlaceholder) slab(i int) ([]float32, func() error, error) {
	if err := p.ds.ReadChunkFloat32(i, p.scratch); err != nil {
		return nil, nil, err
	}
	return p.scratch, func() error { return p.ds.WriteChunkFloat32(i, p.scratch) }, nil
}

func (p *diskPlaceholder) fill(n0 int, v float32) error {
	for i := range p.scratch {
		p.scratch[i] = v
	}
	for i := 0; i < n0; i++ {
		if err := p.ds.WriteChunkFloat32(i, p.scratch); err != nil {
			return err
		}
	}
	return nil
}

// Accumulator merges streamed (buffer, location) contributions into one
// volume. Created → zero or more Update calls → Aggregate → optional
// Clear. It is not internally synchronized: concurrent updates are safe
// only for the memory backing and disjoint locations.
type Accumulator struct {
	policy  Policy
	shape   volume.Shape
	origin  [3]int
	classes int
	xform   func(float32) float32
	logger  *slog.Logger

	data   placeholder
	counts placeholder // mean, gmean
	labels placeholder // mode: (n0, n1, n2*classes) one-hot counts

	path string
	w    *chunkfile.Writer
	file *chunkfile.File // reopened read-only after Aggregate

	aggregated bool
	cleared    bool
}

// New creates an empty accumulator of the given shape.
func New(policy Policy, shape volume.Shape, optFns ...func(*Options)) (*Accumulator, error) {
	opts := Options{Logger: slog.New(slog.DiscardHandler)}
	for _, fn := range optFns {
		fn(&opts)
	}

	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("accumulate: invalid shape %s", shape)
	}
	if policy == PolicyMode && opts.Classes < 2 {
		return nil, fmt.Errorf("accumulate: mode policy needs at least 2 classes, got %d", opts.Classes)
	}

	a := &Accumulator{
		policy:  policy,
		shape:   shape,
		origin:  opts.Origin,
		classes: opts.Classes,
		xform:   opts.Transform,
		logger:  opts.Logger,
		path:    opts.Path,
	}

	dataShape := [3]int{shape[0], shape[1], shape[2]}
	labelShape := [3]int{shape[0], shape[1], shape[2] * opts.Classes}

	if a.path != "" {
		w, err := chunkfile.Create(a.path)
		if err != nil {
			return nil, err
		}
		a.w = w
		if a.data, err = newDiskPlaceholder(w, "data", dataShape); err != nil {
			w.Close()
			return nil, err
		}
		switch policy {
		case PolicyMean, PolicyGMean:
			if a.counts, err = newDiskPlaceholder(w, "counts", dataShape); err != nil {
				w.Close()
				return nil, err
			}
		case PolicyMode:
			if a.labels, err = newDiskPlaceholder(w, "labels", labelShape); err != nil {
				w.Close()
				return nil, err
			}
		}
	} else {
		a.data = newMemPlaceholder(shape[0], shape[1]*shape[2])
		switch policy {
		case PolicyMean, PolicyGMean:
			a.counts = newMemPlaceholder(shape[0], shape[1]*shape[2])
		case PolicyMode:
			a.labels = newMemPlaceholder(shape[0], shape[1]*shape[2]*opts.Classes)
		}
	}

	var initErr error
	switch policy {
	case PolicyMax:
		initErr = a.data.fill(shape[0], maxFill)
	case PolicyGMean:
		initErr = a.data.fill(shape[0], 1)
	}
	if initErr != nil {
		a.release()
		return nil, initErr
	}
	return a, nil
}

// NewFromSpans creates an accumulator covering the bounding box of the
// sampler spans, with the box start as origin.
func NewFromSpans(policy Policy, spans []volume.Span, optFns ...func(*Options)) (*Accumulator, error) {
	if len(spans) == 0 {
		return nil, fmt.Errorf("accumulate: no spans")
	}

	lo := [3]int{spans[0].Start0, spans[0].Start1, spans[0].Start2}
	hi := [3]int{spans[0].Stop0, spans[0].Stop1, spans[0].Stop2}
	for _, sp := range spans[1:] {
		starts := [3]int{sp.Start0, sp.Start1, sp.Start2}
		stops := [3]int{sp.Stop0, sp.Stop1, sp.Stop2}
		for ax := 0; ax < 3; ax++ {
			lo[ax] = min(lo[ax], starts[ax])
			hi[ax] = max(hi[ax], stops[ax])
		}
	}

	shape := volume.Shape{hi[0] - lo[0], hi[1] - lo[1], hi[2] - lo[2]}
	return New(policy, shape, append(optFns, func(o *Options) { o.Origin = lo })...)
}

// Shape returns the accumulator extents.
func (a *Accumulator) Shape() volume.Shape { return a.shape }

// Origin returns the volume's offset in the sampler coordinate space.
func (a *Accumulator) Origin() [3]int { return a.origin }

// Path returns the on-disk container path, empty for memory backing.
func (a *Accumulator) Path() string { return a.path }

// Aggregated reports whether the accumulator was finalized.
func (a *Accumulator) Aggregated() bool { return a.aggregated }

func (a *Accumulator) state() error {
	if a.cleared {
		return ErrCleared
	}
	if a.aggregated {
		return ErrAggregated
	}
	return nil
}

// Update merges one contribution. The location is given in the sampler's
// coordinate space; overhang beyond the accumulator bounds is clipped
// away. Empty ranges are a silent no-op; a non-unit step is an error.
func (a *Accumulator) Update(buf *volume.Buffer, loc volume.Location) error {
	if err := a.state(); err != nil {
		return err
	}
	if !loc.Unit() {
		return volume.ErrNonUnitStep
	}
	if buf.Shape() != loc.Shape() {
		return fmt.Errorf("%w: buffer %s, location %v", ErrShapeMismatch, buf.Shape(), loc)
	}

	// Translate into local coordinates and clip the overhang.
	var local, clipped volume.Location
	var srcOff [3]int
	for ax := 0; ax < 3; ax++ {
		local[ax] = loc[ax].Shift(-a.origin[ax])
		clipped[ax] = local[ax].Clamp(0, a.shape[ax])
		srcOff[ax] = clipped[ax].Start - local[ax].Start
	}
	if clipped.Empty() {
		return nil
	}

	for i := clipped[0].Start; i < clipped[0].Stop; i++ {
		srcI := srcOff[0] + i - clipped[0].Start
		if err := a.updateSlab(i, srcI, buf, clipped, srcOff); err != nil {
			return err
		}
	}
	return nil
}

// updateSlab merges one leading-index slab of the contribution.
func (a *Accumulator) updateSlab(i, srcI int, buf *volume.Buffer, clipped volume.Location, srcOff [3]int) error {
	data, commitData, err := a.data.slab(i)
	if err != nil {
		return err
	}

	var counts []float32
	commitCounts := func() error { return nil }
	if a.counts != nil {
		if counts, commitCounts, err = a.counts.slab(i); err != nil {
			return err
		}
	}

	var labels []float32
	commitLabels := func() error { return nil }
	if a.labels != nil {
		if labels, commitLabels, err = a.labels.slab(i); err != nil {
			return err
		}
	}

	n2 := a.shape[2]
	for j := clipped[1].Start; j < clipped[1].Stop; j++ {
		src := buf.Row(srcI, srcOff[1]+j-clipped[1].Start)
		for k := clipped[2].Start; k < clipped[2].Stop; k++ {
			v := src[srcOff[2]+k-clipped[2].Start]
			if a.xform != nil {
				v = a.xform(v)
			}
			at := j*n2 + k

			switch a.policy {
			case PolicyMax:
				if v > data[at] {
					data[at] = v
				}
			case PolicyMean:
				data[at] += v
				counts[at]++
			case PolicyGMean:
				data[at] *= v
				counts[at]++
			case PolicyMode:
				cls := int(v)
				if cls < 0 {
					cls = 0
				} else if cls >= a.classes {
					cls = a.classes - 1
				}
				labels[(j*n2+k)*a.classes+cls]++
			}
		}
	}

	if err := commitData(); err != nil {
		return err
	}
	if err := commitCounts(); err != nil {
		return err
	}
	return commitLabels()
}

// Aggregate performs the policy's finalization pass exactly once. For
// on-disk backing the container is flushed, aliased to the default
// projection name, and reopened read-only.
func (a *Accumulator) Aggregate() error {
	if err := a.state(); err != nil {
		return err
	}

	for i := 0; i < a.shape[0]; i++ {
		if err := a.finalizeSlab(i); err != nil {
			return err
		}
	}
	a.aggregated = true

	if a.w != nil {
		if err := a.w.Alias("projection_i", "data"); err != nil {
			return err
		}
		if err := a.w.Close(); err != nil {
			return err
		}
		a.w = nil

		file, err := chunkfile.Open(a.path)
		if err != nil {
			return err
		}
		a.file = file
	}

	a.logger.Info("aggregated volume",
		slog.String("policy", a.policy.String()),
		slog.String("shape", a.shape.String()),
		slog.String("path", a.path),
	)
	return nil
}

func (a *Accumulator) finalizeSlab(i int) error {
	data, commit, err := a.data.slab(i)
	if err != nil {
		return err
	}

	switch a.policy {
	case PolicyMax:
		for at, v := range data {
			if v == maxFill {
				data[at] = 0
			}
		}
	case PolicyMean:
		counts, _, err := a.counts.slab(i)
		if err != nil {
			return err
		}
		for at, c := range counts {
			if c > 0 {
				data[at] /= c
			} else {
				data[at] = 0
			}
		}
	case PolicyGMean:
		counts, _, err := a.counts.slab(i)
		if err != nil {
			return err
		}
		for at, c := range counts {
			if c > 0 {
				data[at] = float32(math.Pow(float64(data[at]), 1/float64(c)))
			} else {
				data[at] = 0
			}
		}
	case PolicyMode:
		labels, _, err := a.labels.slab(i)
		if err != nil {
			return err
		}
		for at := range data {
			hist := labels[at*a.classes : (at+1)*a.classes]
			best, bestCount := 0, float32(0)
			for cls, c := range hist {
				if c > bestCount {
					best, bestCount = cls, c
				}
			}
			data[at] = float32(best)
		}
	}
	return commit()
}

// Result returns the finalized volume, aggregating lazily if needed. The
// returned buffer is the accumulator's primary placeholder for memory
// backing; treat it as read-only.
func (a *Accumulator) Result() (*volume.Buffer, error) {
	if a.cleared {
		return nil, ErrCleared
	}
	if !a.aggregated {
		if err := a.Aggregate(); err != nil {
			return nil, err
		}
	}

	if a.file == nil {
		mem := a.data.(*memPlaceholder)
		return volume.NewBufferFrom(a.shape, mem.data)
	}

	ds, err := a.file.Dataset("data")
	if err != nil {
		return nil, err
	}
	out := volume.NewBuffer(a.shape)
	slot := a.shape[1] * a.shape[2]
	for i := 0; i < a.shape[0]; i++ {
		if err := ds.ReadChunkFloat32(i, out.Data()[i*slot:(i+1)*slot]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clear releases the backing resources; an on-disk container is removed.
func (a *Accumulator) Clear() error {
	if a.cleared {
		return nil
	}
	a.cleared = true
	return a.release()
}

func (a *Accumulator) release() error {
	a.data, a.counts, a.labels = nil, nil, nil

	var err error
	if a.w != nil {
		err = a.w.Close()
		a.w = nil
	}
	if a.file != nil {
		if cerr := a.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.file = nil
	}
	if a.path != "" {
		if rerr := os.Remove(a.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	return err
}

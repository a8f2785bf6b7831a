package geometry

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/seisgo/cache"
	"github.com/hupe1980/seisgo/internal/mmap"
	"github.com/hupe1980/seisgo/quantize"
	"github.com/hupe1980/seisgo/resource"
	"github.com/hupe1980/seisgo/volume"
)

// SEG-Y layout constants. Byte positions follow the rev1 standard,
// zero-based.
const (
	segyTextHeaderSize = 3200
	segyBinHeaderSize  = 400
	segyTraceHeaderLen = 240
	segyDataStart      = segyTextHeaderSize + segyBinHeaderSize

	// Binary header fields.
	segyBinInterval = 3216 // sample interval, microseconds, int16
	segyBinSamples  = 3220 // samples per trace, int16
	segyBinFormat   = 3224 // sample format code, int16

	// Trace header fields.
	segyTrcDelay     = 108 // delay recording time, int16
	segyTrcSamples   = 114 // samples in this trace, int16
	segyTrcInline    = 188 // inline number, int32
	segyTrcCrossline = 192 // crossline number, int32
)

// segyFormatIEEE is the only supported sample format: 4-byte IEEE float,
// big-endian.
const segyFormatIEEE = 5

// segyStore reads a SEG-Y exchange file: a flat sequence of traces with
// per-trace spatial identifiers. The file is memory-mapped; a header
// scan at open time builds the trace index.
type segyStore struct {
	m      *mmap.Mapping
	path   string
	logger *slog.Logger
	ctrl   *resource.Controller

	textHeader []byte
	binHeader  []byte

	shape    volume.Shape
	interval int // sample interval, microseconds
	delay    int // delay recording time of the first live trace

	ilines, xlines []int32

	// traceIndex maps flattened (i*n1 + x) to the linear trace number,
	// -1 for a missing pair. live holds the flattened indices of traces
	// that exist.
	traceIndex []int32
	live       *roaring.Bitmap

	traceSize int64
	slides    *cache.LRU[*volume.Buffer]
	stats     *Statistics
}

var _ Store = (*segyStore)(nil)

func openSEGY(path string, opts Options) (*segyStore, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geometry: open segy %s: %w", path, err)
	}

	s := &segyStore{
		m:      m,
		path:   path,
		logger: opts.Logger,
		ctrl:   opts.Controller,
	}
	if err := s.parse(); err != nil {
		m.Close()
		return nil, err
	}

	s.slides = cache.NewLRU(opts.CacheCapacity, func(o *cache.Options[*volume.Buffer]) {
		o.SizeOf = func(b *volume.Buffer) int64 { return b.Bytes() }
		o.Clone = func(b *volume.Buffer) *volume.Buffer { return b.Clone() }
		o.CopyOnReturn = opts.CacheCopyOnReturn
		o.Controller = opts.Controller
	})

	s.logger.Info("opened segy cube",
		slog.String("path", path),
		slog.String("shape", s.shape.String()),
		slog.Uint64("dead_traces", uint64(s.shape[0]*s.shape[1])-s.live.GetCardinality()),
	)
	return s, nil
}

func (s *segyStore) parse() error {
	data := s.m.Bytes()
	if len(data) < segyDataStart {
		return fmt.Errorf("geometry: %s: truncated segy headers (%d bytes)", s.path, len(data))
	}

	s.textHeader = append([]byte(nil), data[:segyTextHeaderSize]...)
	s.binHeader = append([]byte(nil), data[segyTextHeaderSize:segyDataStart]...)

	ns := int(int16(binary.BigEndian.Uint16(data[segyBinSamples:])))
	if ns <= 0 {
		return fmt.Errorf("geometry: %s: invalid samples per trace %d", s.path, ns)
	}
	if format := int16(binary.BigEndian.Uint16(data[segyBinFormat:])); format != segyFormatIEEE {
		return fmt.Errorf("geometry: %s: unsupported sample format code %d", s.path, format)
	}
	s.interval = int(int16(binary.BigEndian.Uint16(data[segyBinInterval:])))

	s.traceSize = int64(segyTraceHeaderLen + ns*4)
	body := int64(len(data) - segyDataStart)
	if body%s.traceSize != 0 {
		return fmt.Errorf("geometry: %s: trace body %d bytes is not a multiple of trace size %d", s.path, body, s.traceSize)
	}
	nTraces := int(body / s.traceSize)
	if nTraces == 0 {
		return fmt.Errorf("geometry: %s: no traces", s.path)
	}

	// First scan: collect the spatial identifiers of every trace.
	ils := make([]int32, nTraces)
	xls := make([]int32, nTraces)
	for t := 0; t < nTraces; t++ {
		hdr := data[segyDataStart+int64(t)*s.traceSize:]
		if tns := int(int16(binary.BigEndian.Uint16(hdr[segyTrcSamples:]))); tns != ns {
			return fmt.Errorf("geometry: %s: trace %d has %d samples, want %d", s.path, t, tns, ns)
		}
		ils[t] = int32(binary.BigEndian.Uint32(hdr[segyTrcInline:]))
		xls[t] = int32(binary.BigEndian.Uint32(hdr[segyTrcCrossline:]))
		if t == 0 {
			s.delay = int(int16(binary.BigEndian.Uint16(hdr[segyTrcDelay:])))
		}
	}

	s.ilines = uniqueSorted(ils)
	s.xlines = uniqueSorted(xls)
	s.shape = volume.Shape{len(s.ilines), len(s.xlines), ns}

	ilIdx := make(map[int32]int, len(s.ilines))
	for i, v := range s.ilines {
		ilIdx[v] = i
	}
	xlIdx := make(map[int32]int, len(s.xlines))
	for i, v := range s.xlines {
		xlIdx[v] = i
	}

	// Second scan: build the flattened trace index and the live set.
	s.traceIndex = make([]int32, s.shape[0]*s.shape[1])
	for i := range s.traceIndex {
		s.traceIndex[i] = -1
	}
	s.live = roaring.New()
	for t := 0; t < nTraces; t++ {
		flat := ilIdx[ils[t]]*s.shape[1] + xlIdx[xls[t]]
		s.traceIndex[flat] = int32(t)
		s.live.Add(uint32(flat))
	}
	return nil
}

func uniqueSorted(vals []int32) []int32 {
	out := append([]int32(nil), vals...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

func (s *segyStore) Shape() volume.Shape { return s.shape }

// SampleInterval returns the sample interval in microseconds.
func (s *segyStore) SampleInterval() int { return s.interval }

// Delay returns the record start delay of the first trace.
func (s *segyStore) Delay() int { return s.delay }

// readTrace copies samples [d0, d1) of linear trace t into dst.
func (s *segyStore) readTrace(t int32, dst []float32, d0 int) {
	off := segyDataStart + int64(t)*s.traceSize + segyTraceHeaderLen + int64(d0)*4
	raw := s.m.Bytes()[off:]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
	}
}

// traceAt returns the linear trace number for spatial pair (i, x), or -1.
func (s *segyStore) traceAt(i, x int) int32 {
	return s.traceIndex[i*s.shape[1]+x]
}

func (s *segyStore) LoadCrop(ctx context.Context, loc volume.Location, optFns ...func(*LoadOptions)) (*volume.Buffer, error) {
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

	e0, e1 := loc[0].Len(), loc[1].Len()
	if min(e0, e1) < slideThreshold {
		// One spatial extent is small: stacking that many cached slides
		// beats gathering trace by trace.
		axis := volume.AxisInline
		if e1 < e0 {
			axis = volume.AxisCrossline
		}
		return s.cropFromSlides(ctx, loc, axis, lo)
	}
	return s.gather(ctx, loc, lo)
}

// gather reads every trace in the crop footprint directly.
func (s *segyStore) gather(ctx context.Context, loc volume.Location, lo LoadOptions) (*volume.Buffer, error) {
	out := volume.NewBuffer(loc.Shape())
	d0 := loc[2].Start

	for i := 0; i < loc[0].Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := 0; j < loc[1].Len(); j++ {
			t := s.traceAt(loc[0].Start+i, loc[1].Start+j)
			if t < 0 {
				continue // dead trace stays zero
			}
			s.readTrace(t, out.Row(i, j), d0)
		}
	}
	return finishLoad(out, lo), nil
}

// cropFromSlides assembles the crop by stacking cached full slides along
// the given spatial axis.
func (s *segyStore) cropFromSlides(ctx context.Context, loc volume.Location, axis volume.Axis, lo LoadOptions) (*volume.Buffer, error) {
	out := volume.NewBuffer(loc.Shape())

	for n := 0; n < loc[axis].Len(); n++ {
		index := loc[axis].Start + n
		slide, err := s.slide(ctx, axis, index, lo.NoCache)
		if err != nil {
			return nil, err
		}

		window := loc
		window[axis] = volume.Range{Start: index, Stop: index + 1}
		dst := volume.Location{
			{Start: 0, Stop: loc[0].Len()},
			{Start: 0, Stop: loc[1].Len()},
			{Start: 0, Stop: loc[2].Len()},
		}
		dst[axis] = volume.Range{Start: n, Stop: n + 1}

		origin := [3]int{window[0].Start, window[1].Start, window[2].Start}
		origin[axis] = 0
		out.CopyRegion(dst, slide, origin)
	}
	return finishLoad(out, lo), nil
}

func (s *segyStore) LoadSlide(ctx context.Context, axis any, index int, optFns ...func(*LoadOptions)) (*volume.Buffer, error) {
	var lo LoadOptions
	for _, fn := range optFns {
		fn(&lo)
	}

	ax, err := volume.ParseAxis(axis)
	if err != nil {
		return nil, err
	}
	index = clampIndex(index, s.shape[ax])

	buf, err := s.slide(ctx, ax, index, lo.NoCache)
	if err != nil {
		return nil, err
	}
	return finishLoad(buf, lo), nil
}

// slide returns the full cross-section at index along ax, memoized.
func (s *segyStore) slide(ctx context.Context, ax volume.Axis, index int, noCache bool) (*volume.Buffer, error) {
	key, err := cache.NewKey("slide", ax, index, s.shape)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*cache.LoadOptions)
	if noCache {
		loadOpts = append(loadOpts, cache.Bypass)
	}
	return s.slides.GetOrLoad(key, func() (*volume.Buffer, error) {
		return s.loadSlide(ctx, ax, index)
	}, loadOpts...)
}

func (s *segyStore) loadSlide(ctx context.Context, ax volume.Axis, index int) (*volume.Buffer, error) {
	loc := slideLocation(s.shape, ax, index)
	out := volume.NewBuffer(loc.Shape())

	switch ax {
	case volume.AxisInline:
		for j := 0; j < s.shape[1]; j++ {
			if t := s.traceAt(index, j); t >= 0 {
				s.readTrace(t, out.Row(0, j), 0)
			}
		}
	case volume.AxisCrossline:
		for i := 0; i < s.shape[0]; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if t := s.traceAt(i, index); t >= 0 {
				s.readTrace(t, out.Row(i, 0), 0)
			}
		}
	case volume.AxisDepth:
		// One sample per live trace; a full header-table walk.
		one := make([]float32, 1)
		it := s.live.Iterator()
		for it.HasNext() {
			flat := int(it.Next())
			s.readTrace(s.traceIndex[flat], one, index)
			out.Set(flat/s.shape[1], flat%s.shape[1], 0, one[0])
		}
	}
	return out, nil
}

func (s *segyStore) CollectStatistics(ctx context.Context, optFns ...func(*StatsOptions)) (*Statistics, error) {
	opts := defaultStatsOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	b := newStatsBuilder(s.shape, opts)
	trace := make([]float32, s.shape[2])

	pass := func(fn func(i, x int, vals []float32)) error {
		for i := 0; i < s.shape[0]; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for x := 0; x < s.shape[1]; x++ {
				t := s.traceAt(i, x)
				if t < 0 {
					fn(i, x, nil)
					continue
				}
				if err := s.ctrl.AcquireIO(ctx, int64(s.shape[2])*4); err != nil {
					return err
				}
				s.readTrace(t, trace, 0)
				fn(i, x, trace)
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

func (s *segyStore) Statistics() *Statistics { return s.stats }

func (s *segyStore) FitQuantizer(ctx context.Context, optFns ...func(*QuantizeOptions)) (*quantize.Quantizer, float32, error) {
	if s.stats == nil {
		if _, err := s.CollectStatistics(ctx); err != nil {
			return nil, 0, err
		}
	}
	return fitQuantizer(s.stats, optFns...)
}

func (s *segyStore) Convert(ctx context.Context, path string, optFns ...func(*ConvertOptions)) error {
	meta := containerMeta{
		SampleInterval: s.interval,
		Delay:          s.delay,
		Ilines:         s.ilines,
		Xlines:         s.xlines,
		TextHeader:     s.textHeader,
		BinHeader:      s.binHeader,
	}
	return convert(ctx, s, path, meta, s.ctrl, s.logger, optFns...)
}

func (s *segyStore) CacheStats() cache.Stats { return s.slides.Stats() }

func (s *segyStore) ResetCache() { s.slides.Reset() }

func (s *segyStore) Close() error {
	s.slides.Reset()
	return s.m.Close()
}

package chunkfile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Writer builds a chunkfile container. Datasets are created up front and
// filled chunk by chunk; Close writes the directory and footer. A Writer
// is safe for concurrent chunk writes across datasets.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	end    int64
	dir    directory
	byName map[string]*datasetMeta
	closed bool
}

// DatasetOptions configures a dataset at creation time.
type DatasetOptions struct {
	// Codec selects per-chunk compression. Ignored for mutable datasets.
	Codec Codec

	// Mutable preallocates fixed-size uncompressed chunk slots so chunks
	// can be rewritten and read back before the container is finalized.
	Mutable bool
}

// Create creates a container at path, replacing any existing file.
func Create(path string) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("chunkfile: remove existing %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("chunkfile: create %s: %w", path, err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], Magic)
	binary.LittleEndian.PutUint32(header[4:], Version)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("chunkfile: write header: %w", err)
	}

	return &Writer{
		f:      f,
		end:    headerSize,
		byName: make(map[string]*datasetMeta),
	}, nil
}

// Dataset is a writable dataset within an open Writer. Chunks run along
// the leading axis: chunk i holds the (shape[1], shape[2]) slab at index i.
type Dataset struct {
	w       *Writer
	meta    *datasetMeta
	mutable bool
	slot    int64 // fixed slot size for mutable datasets
	base    int64 // file offset of slot 0 for mutable datasets
}

// CreateDataset registers a dataset of the given shape and element type.
func (w *Writer) CreateDataset(name string, shape [3]int, dtype DType, opts DatasetOptions) (*Dataset, error) {
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("chunkfile: invalid dataset shape %v", shape)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	if _, ok := w.byName[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDatasetExists, name)
	}

	codec := opts.Codec
	if codec == "" {
		codec = CodecNone
	}
	if opts.Mutable {
		codec = CodecNone
	}

	m := &datasetMeta{
		Name:   name,
		Shape:  shape,
		DType:  dtype,
		Codec:  codec,
		Chunks: make([]chunkRef, shape[0]),
	}
	w.dir.Datasets = append(w.dir.Datasets, m)
	w.byName[name] = m

	ds := &Dataset{w: w, meta: m, mutable: opts.Mutable}
	if opts.Mutable {
		ds.slot = int64(shape[1]) * int64(shape[2]) * int64(dtype.Size())
		ds.base = w.end
		w.end += ds.slot * int64(shape[0])
		if err := w.f.Truncate(w.end); err != nil {
			return nil, fmt.Errorf("chunkfile: preallocate dataset %q: %w", name, err)
		}
		for i := range m.Chunks {
			raw := int(ds.slot)
			m.Chunks[i] = chunkRef{Off: ds.base + int64(i)*ds.slot, Len: raw, Raw: raw}
		}
	}
	return ds, nil
}

func (d *Dataset) rawChunkLen() int {
	return d.meta.Shape[1] * d.meta.Shape[2] * d.meta.DType.Size()
}

func (d *Dataset) checkChunk(idx, rawLen int) error {
	if idx < 0 || idx >= d.meta.Shape[0] {
		return fmt.Errorf("chunkfile: chunk index %d out of range [0,%d)", idx, d.meta.Shape[0])
	}
	if want := d.rawChunkLen(); rawLen != want {
		return fmt.Errorf("%w: chunk payload %d bytes, want %d", ErrDTypeMismatch, rawLen, want)
	}
	return nil
}

// writeChunk stores one chunk's raw bytes, compressing for streaming
// datasets and writing in place for mutable ones.
func (d *Dataset) writeChunk(idx int, raw []byte) error {
	if err := d.checkChunk(idx, len(raw)); err != nil {
		return err
	}

	if d.mutable {
		d.w.mu.Lock()
		closed := d.w.closed
		d.w.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if _, err := d.w.f.WriteAt(raw, d.base+int64(idx)*d.slot); err != nil {
			return fmt.Errorf("chunkfile: write chunk %d of %q: %w", idx, d.meta.Name, err)
		}
		return nil
	}

	payload, err := compress(d.meta.Codec, raw)
	if err != nil {
		return err
	}

	d.w.mu.Lock()
	defer d.w.mu.Unlock()

	if d.w.closed {
		return ErrClosed
	}
	off := d.w.end
	if _, err := d.w.f.WriteAt(payload, off); err != nil {
		return fmt.Errorf("chunkfile: write chunk %d of %q: %w", idx, d.meta.Name, err)
	}
	d.w.end += int64(len(payload))
	d.meta.Chunks[idx] = chunkRef{Off: off, Len: len(payload), Raw: len(raw)}
	return nil
}

// WriteChunkFloat32 stores one float32 slab at chunk index idx.
func (d *Dataset) WriteChunkFloat32(idx int, vals []float32) error {
	if d.meta.DType != Float32 {
		return fmt.Errorf("%w: dataset %q holds %s", ErrDTypeMismatch, d.meta.Name, d.meta.DType)
	}
	return d.writeChunk(idx, encodeFloat32(vals))
}

// WriteChunkInt8 stores one int8 slab at chunk index idx.
func (d *Dataset) WriteChunkInt8(idx int, vals []int8) error {
	if d.meta.DType != Int8 {
		return fmt.Errorf("%w: dataset %q holds %s", ErrDTypeMismatch, d.meta.Name, d.meta.DType)
	}
	return d.writeChunk(idx, encodeInt8(vals))
}

// ReadChunkFloat32 reads back a chunk from a mutable dataset into dst.
// Streaming datasets cannot be read before the container is finalized.
func (d *Dataset) ReadChunkFloat32(idx int, dst []float32) error {
	if d.meta.DType != Float32 {
		return fmt.Errorf("%w: dataset %q holds %s", ErrDTypeMismatch, d.meta.Name, d.meta.DType)
	}
	raw, err := d.readMutableChunk(idx, len(dst)*4)
	if err != nil {
		return err
	}
	decodeFloat32(raw, dst)
	return nil
}

// ReadChunkInt8 reads back a chunk from a mutable dataset into dst.
func (d *Dataset) ReadChunkInt8(idx int, dst []int8) error {
	if d.meta.DType != Int8 {
		return fmt.Errorf("%w: dataset %q holds %s", ErrDTypeMismatch, d.meta.Name, d.meta.DType)
	}
	raw, err := d.readMutableChunk(idx, len(dst))
	if err != nil {
		return err
	}
	decodeInt8(raw, dst)
	return nil
}

func (d *Dataset) readMutableChunk(idx, rawLen int) ([]byte, error) {
	if !d.mutable {
		return nil, fmt.Errorf("%w: %q", ErrNotMutable, d.meta.Name)
	}
	if err := d.checkChunk(idx, rawLen); err != nil {
		return nil, err
	}

	d.w.mu.Lock()
	closed := d.w.closed
	d.w.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	raw := make([]byte, rawLen)
	if _, err := d.w.f.ReadAt(raw, d.base+int64(idx)*d.slot); err != nil {
		return nil, fmt.Errorf("chunkfile: read chunk %d of %q: %w", idx, d.meta.Name, err)
	}
	return raw, nil
}

// Alias records name as an alternate name for an existing dataset.
func (w *Writer) Alias(name, target string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if _, ok := w.byName[target]; !ok {
		return fmt.Errorf("chunkfile: alias target %q does not exist", target)
	}
	if _, ok := w.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDatasetExists, name)
	}
	if w.dir.Aliases == nil {
		w.dir.Aliases = make(map[string]string)
	}
	w.dir.Aliases[name] = target
	return nil
}

// PutInfo stores a JSON-encodable value under key in the info namespace.
func (w *Writer) PutInfo(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("chunkfile: encode info %q: %w", key, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.dir.Info == nil {
		w.dir.Info = make(map[string]json.RawMessage)
	}
	w.dir.Info[key] = raw
	return nil
}

// Close writes the directory and footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.closed = true

	dirBytes, err := json.Marshal(&w.dir)
	if err != nil {
		w.f.Close()
		return fmt.Errorf("chunkfile: encode directory: %w", err)
	}

	dirOff := w.end
	if _, err := w.f.WriteAt(dirBytes, dirOff); err != nil {
		w.f.Close()
		return fmt.Errorf("chunkfile: write directory: %w", err)
	}

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:], uint64(dirOff))
	binary.LittleEndian.PutUint32(footer[8:], uint32(len(dirBytes)))
	binary.LittleEndian.PutUint32(footer[12:], Magic)
	if _, err := w.f.WriteAt(footer, dirOff+int64(len(dirBytes))); err != nil {
		w.f.Close()
		return fmt.Errorf("chunkfile: write footer: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("chunkfile: sync: %w", err)
	}
	return w.f.Close()
}

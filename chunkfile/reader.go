package chunkfile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/seisgo/internal/mmap"
)

// File is a read-only, memory-mapped chunkfile container.
type File struct {
	m   *mmap.Mapping
	dir directory

	byName map[string]*datasetMeta
}

// Open maps the container at path and validates its header and footer.
func Open(path string) (*File, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunkfile: open %s: %w", path, err)
	}

	f := &File{m: m}
	if err := f.parse(); err != nil {
		m.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) parse() error {
	data := f.m.Bytes()
	if len(data) < headerSize+footerSize {
		return fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, len(data))
	}
	if binary.LittleEndian.Uint32(data[0:]) != Magic {
		return ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != Version {
		return fmt.Errorf("%w: 0x%08x", ErrInvalidVersion, v)
	}

	footer := data[len(data)-footerSize:]
	if binary.LittleEndian.Uint32(footer[12:]) != Magic {
		return fmt.Errorf("%w: footer magic mismatch", ErrCorrupt)
	}
	dirOff := int64(binary.LittleEndian.Uint64(footer[0:]))
	dirLen := int64(binary.LittleEndian.Uint32(footer[8:]))
	if dirOff < headerSize || dirOff+dirLen > int64(len(data))-footerSize {
		return fmt.Errorf("%w: directory bounds [%d,%d) out of range", ErrCorrupt, dirOff, dirOff+dirLen)
	}

	if err := json.Unmarshal(data[dirOff:dirOff+dirLen], &f.dir); err != nil {
		return fmt.Errorf("%w: decode directory: %v", ErrCorrupt, err)
	}

	f.byName = make(map[string]*datasetMeta, len(f.dir.Datasets))
	for _, m := range f.dir.Datasets {
		f.byName[m.Name] = m
	}
	return nil
}

// IsChunkfile reports whether the file at path starts with the container magic.
func IsChunkfile(path string) bool {
	m, err := mmap.Open(path)
	if err != nil {
		return false
	}
	defer m.Close()

	data := m.Bytes()
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == Magic
}

// Datasets returns the names of all datasets, excluding aliases.
func (f *File) Datasets() []string {
	names := make([]string, 0, len(f.dir.Datasets))
	for i := range f.dir.Datasets {
		names = append(names, f.dir.Datasets[i].Name)
	}
	return names
}

// HasDataset reports whether name resolves to a dataset, aliases included.
func (f *File) HasDataset(name string) bool {
	_, err := f.Dataset(name)
	return err == nil
}

// Dataset resolves name, following one level of aliasing.
func (f *File) Dataset(name string) (*ReadDataset, error) {
	if target, ok := f.dir.Aliases[name]; ok {
		name = target
	}
	meta, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("chunkfile: no dataset %q", name)
	}
	return &ReadDataset{f: f, meta: meta}, nil
}

// Info decodes the info value stored under key into out.
func (f *File) Info(key string, out any) error {
	raw, ok := f.dir.Info[key]
	if !ok {
		return fmt.Errorf("chunkfile: no info %q", key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("chunkfile: decode info %q: %w", key, err)
	}
	return nil
}

// HasInfo reports whether key exists in the info namespace.
func (f *File) HasInfo(key string) bool {
	_, ok := f.dir.Info[key]
	return ok
}

// Close unmaps the container.
func (f *File) Close() error {
	if f.m == nil {
		return nil
	}
	err := f.m.Close()
	f.m = nil
	return err
}

// ReadDataset is a read-only dataset within an open File.
type ReadDataset struct {
	f    *File
	meta *datasetMeta
}

// Name returns the dataset's canonical name.
func (d *ReadDataset) Name() string { return d.meta.Name }

// Shape returns the dataset's extents.
func (d *ReadDataset) Shape() [3]int { return d.meta.Shape }

// DType returns the dataset's element type.
func (d *ReadDataset) DType() DType { return d.meta.DType }

func (d *ReadDataset) chunkBytes(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(d.meta.Chunks) {
		return nil, fmt.Errorf("chunkfile: chunk index %d out of range [0,%d)", idx, len(d.meta.Chunks))
	}
	ref := d.meta.Chunks[idx]
	data := d.f.m.Bytes()
	if data == nil {
		return nil, ErrClosed
	}
	if ref.Off < headerSize || ref.Off+int64(ref.Len) > int64(len(data)) {
		return nil, fmt.Errorf("%w: chunk %d of %q out of bounds", ErrCorrupt, idx, d.meta.Name)
	}
	return decompress(d.meta.Codec, data[ref.Off:ref.Off+int64(ref.Len)], ref.Raw)
}

// ReadChunkFloat32 decodes chunk idx into dst, which must hold
// shape[1]*shape[2] elements.
func (d *ReadDataset) ReadChunkFloat32(idx int, dst []float32) error {
	if d.meta.DType != Float32 {
		return fmt.Errorf("%w: dataset %q holds %s", ErrDTypeMismatch, d.meta.Name, d.meta.DType)
	}
	if len(dst) != d.meta.Shape[1]*d.meta.Shape[2] {
		return fmt.Errorf("%w: dst holds %d elements, want %d", ErrDTypeMismatch, len(dst), d.meta.Shape[1]*d.meta.Shape[2])
	}
	raw, err := d.chunkBytes(idx)
	if err != nil {
		return err
	}
	decodeFloat32(raw, dst)
	return nil
}

// ReadChunkInt8 decodes chunk idx into dst, which must hold
// shape[1]*shape[2] elements.
func (d *ReadDataset) ReadChunkInt8(idx int, dst []int8) error {
	if d.meta.DType != Int8 {
		return fmt.Errorf("%w: dataset %q holds %s", ErrDTypeMismatch, d.meta.Name, d.meta.DType)
	}
	if len(dst) != d.meta.Shape[1]*d.meta.Shape[2] {
		return fmt.Errorf("%w: dst holds %d elements, want %d", ErrDTypeMismatch, len(dst), d.meta.Shape[1]*d.meta.Shape[2])
	}
	raw, err := d.chunkBytes(idx)
	if err != nil {
		return err
	}
	decodeInt8(raw, dst)
	return nil
}

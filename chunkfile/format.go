// Package chunkfile implements the structured cube container: a single
// file holding named, chunked, optionally compressed datasets plus an
// info namespace for metadata. Chunking is along the leading axis, one
// chunk per slide, so slicing along a dataset's leading axis is a single
// aligned read.
package chunkfile

import (
	"encoding/json"
	"errors"
)

const (
	// Magic identifies chunkfile containers (ASCII "SGC1").
	Magic = 0x53474331
	// Version is the current container format version.
	Version = 0x00010000

	headerSize = 32
	footerSize = 16
)

var (
	ErrInvalidMagic   = errors.New("chunkfile: invalid magic number")
	ErrInvalidVersion = errors.New("chunkfile: unsupported version")
	ErrCorrupt        = errors.New("chunkfile: corrupt container")
	ErrClosed         = errors.New("chunkfile: closed")

	// ErrDatasetExists is returned when a dataset name is created twice.
	ErrDatasetExists = errors.New("chunkfile: dataset already exists")

	// ErrNotMutable is returned for chunk reads on a streaming dataset.
	ErrNotMutable = errors.New("chunkfile: dataset is not mutable")

	// ErrDTypeMismatch is returned when chunk IO uses the wrong element type.
	ErrDTypeMismatch = errors.New("chunkfile: dtype mismatch")
)

// DType is the element type of a dataset.
type DType string

const (
	Float32 DType = "float32"
	Int8    DType = "int8"
)

// Size returns the byte width of one element.
func (d DType) Size() int {
	switch d {
	case Int8:
		return 1
	default:
		return 4
	}
}

// Codec selects the per-chunk compression.
type Codec string

const (
	CodecNone Codec = "none"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

// chunkRef locates one chunk's payload inside the container.
// Len == Raw means the chunk is stored uncompressed.
type chunkRef struct {
	Off int64 `json:"off"`
	Len int   `json:"len"`
	Raw int   `json:"raw"`
}

// datasetMeta is the directory entry for one dataset.
type datasetMeta struct {
	Name   string     `json:"name"`
	Shape  [3]int     `json:"shape"`
	DType  DType      `json:"dtype"`
	Codec  Codec      `json:"codec"`
	Chunks []chunkRef `json:"chunks"`
}

// directory is the JSON trailer describing the container contents.
// Datasets holds pointers so live handles stay valid across appends.
type directory struct {
	Datasets []*datasetMeta             `json:"datasets"`
	Aliases  map[string]string          `json:"aliases,omitempty"`
	Info     map[string]json.RawMessage `json:"info,omitempty"`
}

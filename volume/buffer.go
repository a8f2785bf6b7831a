package volume

import "fmt"

// Buffer is a dense row-major float32 array with shape (n0, n1, n2).
// Element (i, j, k) lives at data[(i*n1+j)*n2+k].
type Buffer struct {
	shape Shape
	data  []float32
}

// NewBuffer allocates a zero-filled buffer of the given shape.
func NewBuffer(shape Shape) *Buffer {
	return &Buffer{
		shape: shape,
		data:  make([]float32, shape.Size()),
	}
}

// NewBufferFrom wraps an existing slice without copying.
// len(data) must equal shape.Size().
func NewBufferFrom(shape Shape, data []float32) (*Buffer, error) {
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("buffer: data length %d does not match shape %s", len(data), shape)
	}
	return &Buffer{shape: shape, data: data}, nil
}

// Shape returns the buffer extents.
func (b *Buffer) Shape() Shape { return b.shape }

// Data returns the backing slice. The slice aliases internal state; callers
// that need an independent copy use Clone.
func (b *Buffer) Data() []float32 { return b.data }

// At returns the element at (i, j, k).
func (b *Buffer) At(i, j, k int) float32 {
	return b.data[(i*b.shape[1]+j)*b.shape[2]+k]
}

// Set stores v at (i, j, k).
func (b *Buffer) Set(i, j, k int, v float32) {
	b.data[(i*b.shape[1]+j)*b.shape[2]+k] = v
}

// Fill sets every element to v.
func (b *Buffer) Fill(v float32) {
	for i := range b.data {
		b.data[i] = v
	}
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{shape: b.shape, data: make([]float32, len(b.data))}
	copy(out.data, b.data)
	return out
}

// Bytes returns the memory footprint of the sample data.
func (b *Buffer) Bytes() int64 {
	return int64(len(b.data)) * 4
}

// Row returns the depth row at spatial position (i, j) as a view.
func (b *Buffer) Row(i, j int) []float32 {
	off := (i*b.shape[1] + j) * b.shape[2]
	return b.data[off : off+b.shape[2]]
}

// CopyRegion copies src into b at dst, reading src starting at srcOrigin.
// dst must lie inside b and the region must fit inside src.
func (b *Buffer) CopyRegion(dst Location, src *Buffer, srcOrigin [3]int) {
	n0, n1, n2 := dst[0].Len(), dst[1].Len(), dst[2].Len()
	for i := 0; i < n0; i++ {
		for j := 0; j < n1; j++ {
			srcRow := src.Row(srcOrigin[0]+i, srcOrigin[1]+j)
			dstRow := b.Row(dst[0].Start+i, dst[1].Start+j)
			copy(dstRow[dst[2].Start:dst[2].Start+n2], srcRow[srcOrigin[2]:srcOrigin[2]+n2])
		}
	}
}

// View3 extracts the sub-buffer at loc into a freshly allocated buffer.
func (b *Buffer) View3(loc Location) *Buffer {
	out := NewBuffer(loc.Shape())
	for i := 0; i < out.shape[0]; i++ {
		for j := 0; j < out.shape[1]; j++ {
			srcRow := b.Row(loc[0].Start+i, loc[1].Start+j)
			copy(out.Row(i, j), srcRow[loc[2].Start:loc[2].Stop])
		}
	}
	return out
}

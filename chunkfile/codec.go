package chunkfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// compress encodes raw with the given codec. A chunk that does not shrink
// is stored as-is; the caller detects that by len(out) == len(raw).
func compress(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecNone, "":
		return raw, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("chunkfile: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			return raw, nil
		}
		return dst[:n], nil
	case CodecZstd:
		dst := zstdEncoder.EncodeAll(raw, nil)
		if len(dst) >= len(raw) {
			return raw, nil
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("chunkfile: unknown codec %q", codec)
	}
}

// decompress decodes a chunk payload into a buffer of rawLen bytes.
func decompress(codec Codec, payload []byte, rawLen int) ([]byte, error) {
	if len(payload) == rawLen {
		return payload, nil
	}
	switch codec {
	case CodecLZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("chunkfile: lz4 decompress: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: chunk decompressed to %d bytes, want %d", ErrCorrupt, n, rawLen)
		}
		return dst, nil
	case CodecZstd:
		dst, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("chunkfile: zstd decompress: %w", err)
		}
		if len(dst) != rawLen {
			return nil, fmt.Errorf("%w: chunk decompressed to %d bytes, want %d", ErrCorrupt, len(dst), rawLen)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: payload length %d does not match raw length %d", ErrCorrupt, len(payload), rawLen)
	}
}

// encodeFloat32 serializes vals little-endian.
func encodeFloat32(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// decodeFloat32 deserializes little-endian floats into dst.
func decodeFloat32(raw []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
}

// encodeInt8 reinterprets vals as bytes.
func encodeInt8(vals []int8) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(v)
	}
	return out
}

// decodeInt8 reinterprets raw bytes into dst.
func decodeInt8(raw []byte, dst []int8) {
	for i := range dst {
		dst[i] = int8(raw[i])
	}
}

package seisgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/seisgo/chunkfile"
	"github.com/hupe1980/seisgo/geometry"
	"github.com/hupe1980/seisgo/quantize"
	"github.com/hupe1980/seisgo/volume"
)

var (
	// ErrOutOfBounds is returned when a location or index falls outside
	// the cube extents.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrInvalidLocation is returned when a location is malformed, for
	// example an inverted range or a non-unit step.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrNoStatistics is returned when an operation needs a statistics
	// block and none has been collected or persisted. Statistics are
	// never recomputed implicitly.
	ErrNoStatistics = errors.New("no statistics collected")

	// ErrCorruptContainer is returned when a structured container fails
	// integrity checks.
	ErrCorruptContainer = errors.New("corrupt container")

	// ErrClosed is returned when operating on a closed cube.
	ErrClosed = errors.New("cube is closed")
)

// ErrInvalidAxis indicates an axis identifier that resolves to no cube axis.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidAxis struct {
	Value any
	cause error
}

func (e *ErrInvalidAxis) Error() string {
	return fmt.Sprintf("invalid axis: %v", e.Value)
}

func (e *ErrInvalidAxis) Unwrap() error { return e.cause }

// ErrQuantizerRange indicates a value range the quantizer cannot encode.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrQuantizerRange struct {
	cause error
}

func (e *ErrQuantizerRange) Error() string {
	return "quantizer range is degenerate"
}

func (e *ErrQuantizerRange) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Bounds and location normalization.
	if errors.Is(err, volume.ErrOutOfBounds) {
		return fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}
	if errors.Is(err, volume.ErrInvalidRange) || errors.Is(err, volume.ErrNonUnitStep) {
		return fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	var ia *volume.ErrInvalidAxis
	if errors.As(err, &ia) {
		return &ErrInvalidAxis{Value: ia.Value, cause: err}
	}

	// Statistics and quantization.
	if errors.Is(err, geometry.ErrNoStatistics) {
		return fmt.Errorf("%w: %w", ErrNoStatistics, err)
	}
	if errors.Is(err, quantize.ErrDegenerateRange) {
		return &ErrQuantizerRange{cause: err}
	}

	// Container integrity unification.
	if errors.Is(err, chunkfile.ErrInvalidMagic) ||
		errors.Is(err, chunkfile.ErrInvalidVersion) ||
		errors.Is(err, chunkfile.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorruptContainer, err)
	}

	return err
}

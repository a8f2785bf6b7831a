// Package volume holds the core value types for 3D seismic volumes:
// shapes, half-open axis ranges, locations and dense buffers.
package volume

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when a location reaches outside a volume.
	ErrOutOfBounds = errors.New("location out of volume bounds")

	// ErrInvalidRange is returned for a malformed range (stop < start).
	ErrInvalidRange = errors.New("invalid range")

	// ErrNonUnitStep is returned when a range carries a step other than 1.
	ErrNonUnitStep = errors.New("non-unit step in range")
)

// Axis identifies one of the three volume axes.
// Axes 0 and 1 are spatial (inline/crossline), axis 2 is depth/time.
type Axis int

const (
	AxisInline    Axis = 0
	AxisCrossline Axis = 1
	AxisDepth     Axis = 2
)

// ErrInvalidAxis indicates an axis identifier that could not be normalized.
type ErrInvalidAxis struct {
	Value any
}

func (e *ErrInvalidAxis) Error() string {
	return fmt.Sprintf("invalid axis identifier: %v", e.Value)
}

// ParseAxis normalizes an axis identifier to an Axis.
// Accepted: 0/1/2 and the mnemonics "i", "x", "d", "iline", "xline",
// "inline", "crossline", "depth", "height".
func ParseAxis(v any) (Axis, error) {
	switch a := v.(type) {
	case Axis:
		if a >= 0 && a <= 2 {
			return a, nil
		}
	case int:
		if a >= 0 && a <= 2 {
			return Axis(a), nil
		}
	case string:
		switch a {
		case "i", "il", "iline", "inline":
			return AxisInline, nil
		case "x", "xl", "xline", "crossline":
			return AxisCrossline, nil
		case "d", "h", "depth", "height":
			return AxisDepth, nil
		}
	}
	return 0, &ErrInvalidAxis{Value: v}
}

// String returns the short mnemonic for the axis.
func (a Axis) String() string {
	switch a {
	case AxisInline:
		return "i"
	case AxisCrossline:
		return "x"
	case AxisDepth:
		return "d"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Shape is the extent of a volume along each axis.
type Shape [3]int

// Size returns the total number of elements.
func (s Shape) Size() int {
	return s[0] * s[1] * s[2]
}

// Loc returns the full-volume location [0,n0)x[0,n1)x[0,n2).
func (s Shape) Loc() Location {
	return Location{
		{Start: 0, Stop: s[0]},
		{Start: 0, Stop: s[1]},
		{Start: 0, Stop: s[2]},
	}
}

func (s Shape) String() string {
	return fmt.Sprintf("(%dx%dx%d)", s[0], s[1], s[2])
}

// Range is a half-open integer interval [Start, Stop) along one axis.
// Step is optional; zero means unit stride. Steps other than 0 or 1 are
// never silently honored: consumers that cannot handle them reject the
// range with ErrNonUnitStep.
type Range struct {
	Start, Stop int
	Step        int
}

// Len returns the number of indices covered by the range.
func (r Range) Len() int {
	if r.Stop <= r.Start {
		return 0
	}
	return r.Stop - r.Start
}

// Empty reports whether the range covers no indices.
func (r Range) Empty() bool { return r.Len() == 0 }

// Unit reports whether the range has unit stride.
func (r Range) Unit() bool { return r.Step == 0 || r.Step == 1 }

// Validate checks well-formedness against an axis extent.
func (r Range) Validate(extent int) error {
	if r.Stop < r.Start {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, r.Start, r.Stop)
	}
	if r.Start < 0 || r.Stop > extent {
		return fmt.Errorf("%w: [%d, %d) not within [0, %d)", ErrOutOfBounds, r.Start, r.Stop, extent)
	}
	return nil
}

// Clamp restricts the range to [lo, hi).
func (r Range) Clamp(lo, hi int) Range {
	out := r
	if out.Start < lo {
		out.Start = lo
	}
	if out.Stop > hi {
		out.Stop = hi
	}
	if out.Stop < out.Start {
		out.Stop = out.Start
	}
	return out
}

// Shift translates the range by d.
func (r Range) Shift(d int) Range {
	return Range{Start: r.Start + d, Stop: r.Stop + d, Step: r.Step}
}

// Location is an axis-aligned 3D sub-range of a volume.
type Location [3]Range

// Shape returns the extents covered by the location.
func (l Location) Shape() Shape {
	return Shape{l[0].Len(), l[1].Len(), l[2].Len()}
}

// Empty reports whether any axis covers no indices.
func (l Location) Empty() bool {
	return l[0].Empty() || l[1].Empty() || l[2].Empty()
}

// Validate checks that the location is well-formed and inside shape s.
func (l Location) Validate(s Shape) error {
	for axis, r := range l {
		if err := r.Validate(s[axis]); err != nil {
			return fmt.Errorf("axis %d: %w", axis, err)
		}
	}
	return nil
}

// Unit reports whether every range has unit stride.
func (l Location) Unit() bool {
	return l[0].Unit() && l[1].Unit() && l[2].Unit()
}

func (l Location) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d, %d:%d]",
		l[0].Start, l[0].Stop, l[1].Start, l[1].Stop, l[2].Start, l[2].Stop)
}

// Span is a sampler-facing crop descriptor. The geometry store consumes
// only the six boundary fields; the rest identify the producing context.
type Span struct {
	VolumeID    uint64
	LabelID     uint64
	Orientation Axis

	Start0, Start1, Start2 int
	Stop0, Stop1, Stop2    int
}

// Location converts the span boundaries into a Location.
func (s Span) Location() Location {
	return Location{
		{Start: s.Start0, Stop: s.Stop0},
		{Start: s.Start1, Stop: s.Stop1},
		{Start: s.Start2, Stop: s.Stop2},
	}
}

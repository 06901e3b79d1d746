// Package volume defines the dense tensor types shared by the ingestion
// pipeline: the shape of a sample, a decoded sample (Volume) and a typed
// strided destination (View) inside a larger batch buffer.
//
// Layout:
//
//	3-D sample: (channels, height, width)          Length == 0
//	4-D sample: (channels, length, height, width)  Length > 0
//
// Memory order is always channel-major: c, then l, then h, then w.
package volume

import (
	"errors"
	"fmt"
)

// ErrShape is returned when a volume or view does not match its declared shape.
var ErrShape = errors.New("volume: shape mismatch")

// Shape describes a sample. Length is 0 for still images.
type Shape struct {
	Channels int
	Length   int
	Height   int
	Width    int
}

// Frames returns the number of temporal slices (1 for still images).
func (s Shape) Frames() int {
	if s.Length == 0 {
		return 1
	}
	return s.Length
}

// Count returns the number of elements.
func (s Shape) Count() int {
	return s.Channels * s.Frames() * s.Height * s.Width
}

// FrameShape returns the (C, H, W) shape of a single temporal slice.
func (s Shape) FrameShape() Shape {
	return Shape{Channels: s.Channels, Height: s.Height, Width: s.Width}
}

// WithLength returns a copy of s with the temporal axis set to l.
func (s Shape) WithLength(l int) Shape {
	s.Length = l
	return s
}

// Dims returns the shape as a dimension list: [C, H, W] or [C, L, H, W].
func (s Shape) Dims() []int {
	if s.Length == 0 {
		return []int{s.Channels, s.Height, s.Width}
	}
	return []int{s.Channels, s.Length, s.Height, s.Width}
}

// ShapeFromDims is the inverse of Dims.
func ShapeFromDims(dims []int) (Shape, error) {
	switch len(dims) {
	case 3:
		return Shape{Channels: dims[0], Height: dims[1], Width: dims[2]}, nil
	case 4:
		return Shape{Channels: dims[0], Length: dims[1], Height: dims[2], Width: dims[3]}, nil
	default:
		return Shape{}, fmt.Errorf("%w: expected 3 or 4 dims, got %d", ErrShape, len(dims))
	}
}

// Validate rejects non-positive dimensions.
func (s Shape) Validate() error {
	if s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 || s.Length < 0 {
		return fmt.Errorf("%w: invalid dims %s", ErrShape, s)
	}
	return nil
}

func (s Shape) String() string {
	if s.Length == 0 {
		return fmt.Sprintf("(%d,%d,%d)", s.Channels, s.Height, s.Width)
	}
	return fmt.Sprintf("(%d,%d,%d,%d)", s.Channels, s.Length, s.Height, s.Width)
}

// Volume is a decoded sample. Exactly one of Bytes or Floats holds the raw data.
//
// Ownership: a Volume is transient and exclusively owned by the stage that
// decoded it until the transform has consumed it.
type Volume struct {
	Shape  Shape
	Bytes  []uint8
	Floats []float32
	Labels []int
}

// NewBytes allocates a byte volume of the given shape.
func NewBytes(s Shape) *Volume {
	return &Volume{Shape: s, Bytes: make([]uint8, s.Count())}
}

// NewFloats allocates a float volume of the given shape.
func NewFloats(s Shape) *Volume {
	return &Volume{Shape: s, Floats: make([]float32, s.Count())}
}

// IsFloat reports whether the raw data is already floating point.
func (v *Volume) IsFloat() bool {
	return v.Bytes == nil
}

// Len returns the number of raw elements held.
func (v *Volume) Len() int {
	if v.Bytes != nil {
		return len(v.Bytes)
	}
	return len(v.Floats)
}

// Index returns the flat offset of element (c, l, h, w).
func (v *Volume) Index(c, l, h, w int) int {
	return ((c*v.Shape.Frames()+l)*v.Shape.Height+h)*v.Shape.Width + w
}

// Validate checks that the raw data length matches the shape.
func (v *Volume) Validate() error {
	if err := v.Shape.Validate(); err != nil {
		return err
	}
	if (v.Bytes == nil) == (v.Floats == nil) {
		return fmt.Errorf("%w: exactly one of bytes or floats must be set", ErrShape)
	}
	if v.Len() != v.Shape.Count() {
		return fmt.Errorf("%w: %d elements for shape %s (want %d)", ErrShape, v.Len(), v.Shape, v.Shape.Count())
	}
	return nil
}

// Frame returns temporal slice l as a (C, H, W) byte volume.
// Float volumes are sliced the same way.
func (v *Volume) Frame(l int) *Volume {
	fs := v.Shape.FrameShape()
	plane := fs.Height * fs.Width
	out := &Volume{Shape: fs, Labels: v.Labels}
	if v.Bytes != nil {
		out.Bytes = make([]uint8, fs.Count())
	} else {
		out.Floats = make([]float32, fs.Count())
	}
	for c := 0; c < fs.Channels; c++ {
		src := v.Index(c, l, 0, 0)
		dst := c * plane
		if v.Bytes != nil {
			copy(out.Bytes[dst:dst+plane], v.Bytes[src:src+plane])
		} else {
			copy(out.Floats[dst:dst+plane], v.Floats[src:src+plane])
		}
	}
	return out
}

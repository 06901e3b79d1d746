package volume

import "fmt"

// Strides are element offsets per axis.
type Strides struct {
	C, L, H, W int
}

// View is a typed, strided float32 window into a larger buffer.
//
// A batch slot, a clip slot and one frame slot of a temporal window are all
// Views over the same batch buffer; only Offset and Strides differ.
type View struct {
	Data    []float32
	Offset  int
	Shape   Shape
	Strides Strides
}

// Contiguous returns a channel-major view of shape s starting at off.
func Contiguous(data []float32, off int, s Shape) View {
	plane := s.Height * s.Width
	return View{
		Data:   data,
		Offset: off,
		Shape:  s,
		Strides: Strides{
			C: s.Frames() * plane,
			L: plane,
			H: s.Width,
			W: 1,
		},
	}
}

// Index returns the flat offset of element (c, l, h, w) in Data.
func (v View) Index(c, l, h, w int) int {
	return v.Offset + c*v.Strides.C + l*v.Strides.L + h*v.Strides.H + w*v.Strides.W
}

// Set writes x at (c, l, h, w).
func (v View) Set(c, l, h, w int, x float32) {
	v.Data[v.Index(c, l, h, w)] = x
}

// At reads the element at (c, l, h, w).
func (v View) At(c, l, h, w int) float32 {
	return v.Data[v.Index(c, l, h, w)]
}

// Check verifies that every index reachable through the view lies inside Data.
// Call once per view before a copy loop; the loop itself then relies on the
// runtime bounds check only.
func (v View) Check() error {
	if err := v.Shape.Validate(); err != nil {
		return err
	}
	if v.Offset < 0 {
		return fmt.Errorf("%w: negative view offset %d", ErrShape, v.Offset)
	}
	last := v.Index(v.Shape.Channels-1, v.Shape.Frames()-1, v.Shape.Height-1, v.Shape.Width-1)
	if last >= len(v.Data) {
		return fmt.Errorf("%w: view %s at offset %d overruns buffer of %d", ErrShape, v.Shape, v.Offset, len(v.Data))
	}
	return nil
}

// Frame returns the (C, H, W) view of temporal slice l.
func (v View) Frame(l int) View {
	return View{
		Data:    v.Data,
		Offset:  v.Offset + l*v.Strides.L,
		Shape:   v.Shape.FrameShape(),
		Strides: Strides{C: v.Strides.C, L: 0, H: v.Strides.H, W: v.Strides.W},
	}
}

// CopyFrame copies temporal slice src onto slice dst inside the same view.
func (v View) CopyFrame(dst, src int) {
	if dst == src {
		return
	}
	plane := v.Shape.Height * v.Shape.Width
	contiguous := v.Strides.W == 1 && v.Strides.H == v.Shape.Width
	for c := 0; c < v.Shape.Channels; c++ {
		if contiguous {
			d := v.Index(c, dst, 0, 0)
			s := v.Index(c, src, 0, 0)
			copy(v.Data[d:d+plane], v.Data[s:s+plane])
			continue
		}
		for h := 0; h < v.Shape.Height; h++ {
			for w := 0; w < v.Shape.Width; w++ {
				v.Data[v.Index(c, dst, h, w)] = v.Data[v.Index(c, src, h, w)]
			}
		}
	}
}

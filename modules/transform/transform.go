// Package transform turns a decoded sample into normalized float32 data:
// optional crop, optional horizontal mirror, then (raw - mean) * scale.
//
// The destination is a volume.View, so the same routine fills a batch slot of
// an image batch, a clip slot, or a single frame slot of a temporal window.
//
// Randomness:
//
//	Training:   h_off ~ U[0, H-crop], then w_off ~ U[0, W-crop], then mirror coin
//	Evaluation: centered offsets ((dim-crop)/2), never mirrored
//	crop == 0:  no draw at all
//
// The draw order is fixed; changing it changes every seeded run.
package transform

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/e7canasta/clipfeed/modules/volume"
)

// ErrInvalidParams is returned by New for inconsistent parameters.
var ErrInvalidParams = errors.New("transform: invalid parameters")

// Params configures an Engine.
type Params struct {
	// CropSize is the side of the square crop; 0 disables cropping.
	CropSize int
	// Mirror enables random horizontal flips (training only, needs a crop).
	Mirror bool
	// Scale multiplies the mean-subtracted value; 0 means 1.
	Scale float32
	// Train selects random offsets and mirroring instead of center crops.
	Train bool
	// Mean is subtracted before scaling; nil means scalar 0.
	Mean *Mean
}

// Decision is the outcome of the random draws for one sample.
type Decision struct {
	HOff   int
	WOff   int
	Mirror bool
}

// Engine applies one fixed set of Params to samples of one native shape.
// Safe for concurrent use: it holds no mutable state.
type Engine struct {
	p      Params
	native volume.Shape
	out    volume.Shape
}

// New validates p against the native (uncropped) sample shape.
func New(p Params, native volume.Shape) (*Engine, error) {
	if err := native.Validate(); err != nil {
		return nil, fmt.Errorf("transform: native shape: %w", err)
	}
	if p.CropSize < 0 {
		return nil, fmt.Errorf("%w: negative crop size %d", ErrInvalidParams, p.CropSize)
	}
	if p.Mirror && p.CropSize == 0 {
		return nil, fmt.Errorf("%w: mirror requires a crop size", ErrInvalidParams)
	}
	if p.CropSize > native.Height || p.CropSize > native.Width {
		return nil, fmt.Errorf("%w: crop %d exceeds native size %dx%d",
			ErrInvalidParams, p.CropSize, native.Height, native.Width)
	}
	if p.Scale == 0 {
		p.Scale = 1
	}
	if p.Mean == nil {
		p.Mean = ScalarMean(0)
	}
	if !p.Mean.IsScalar() && !sameFrames(p.Mean.Shape, native) {
		return nil, fmt.Errorf("%w: mean shape %s does not match sample shape %s",
			ErrInvalidParams, p.Mean.Shape, native)
	}

	out := native
	if p.CropSize > 0 {
		out.Height = p.CropSize
		out.Width = p.CropSize
	}
	return &Engine{p: p, native: native, out: out}, nil
}

// NativeShape returns the input shape the engine was built for.
func (e *Engine) NativeShape() volume.Shape { return e.native }

// OutputShape returns the shape written into destination views.
func (e *Engine) OutputShape() volume.Shape { return e.out }

// Params returns the effective parameters (defaults applied).
func (e *Engine) Params() Params { return e.p }

// Decide draws the crop offsets and mirror flag for one sample. Training
// draws the offsets; evaluation centres them. The mirror coin is flipped in
// either phase when mirroring is enabled.
func (e *Engine) Decide(r *rand.Rand) Decision {
	crop := e.p.CropSize
	if crop == 0 {
		return Decision{}
	}

	var d Decision
	if e.p.Train {
		d.HOff = r.Intn(e.native.Height - crop + 1)
		d.WOff = r.Intn(e.native.Width - crop + 1)
	} else {
		d.HOff = (e.native.Height - crop) / 2
		d.WOff = (e.native.Width - crop) / 2
	}
	if e.p.Mirror {
		d.Mirror = r.Intn(2) == 1
	}
	return d
}

// Apply writes the transformed sample into dst using decision d.
//
// src must have the native shape; dst must have OutputShape. Both byte and
// float raw data are accepted. Iteration order is c, l, h, w; mirroring
// writes column w to crop-1-w.
func (e *Engine) Apply(src *volume.Volume, dst volume.View, d Decision) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("transform: source: %w", err)
	}
	if !sameFrames(src.Shape, e.native) {
		return fmt.Errorf("transform: %w: sample %s, engine expects %s", volume.ErrShape, src.Shape, e.native)
	}
	if !sameFrames(dst.Shape, e.out) {
		return fmt.Errorf("transform: %w: destination %s, engine writes %s", volume.ErrShape, dst.Shape, e.out)
	}
	if err := dst.Check(); err != nil {
		return fmt.Errorf("transform: destination: %w", err)
	}
	if d.HOff < 0 || d.WOff < 0 || d.HOff+e.out.Height > e.native.Height || d.WOff+e.out.Width > e.native.Width {
		return fmt.Errorf("%w: offsets (%d,%d) out of range", ErrInvalidParams, d.HOff, d.WOff)
	}

	if src.IsFloat() {
		apply(src.Floats, src, dst, d, e.p)
	} else {
		apply(src.Bytes, src, dst, d, e.p)
	}
	return nil
}

// Transform is Decide followed by Apply.
func (e *Engine) Transform(src *volume.Volume, dst volume.View, r *rand.Rand) (Decision, error) {
	d := e.Decide(r)
	return d, e.Apply(src, dst, d)
}

func apply[T uint8 | float32](raw []T, src *volume.Volume, dst volume.View, d Decision, p Params) {
	out := dst.Shape
	mean := p.Mean
	scale := p.Scale

	for c := 0; c < out.Channels; c++ {
		for l := 0; l < out.Frames(); l++ {
			for h := 0; h < out.Height; h++ {
				row := src.Index(c, l, h+d.HOff, d.WOff)
				for w := 0; w < out.Width; w++ {
					x := float32(raw[row+w]) - mean.at(row+w)
					ow := w
					if d.Mirror {
						ow = out.Width - 1 - w
					}
					dst.Set(c, l, h, ow, x*scale)
				}
			}
		}
	}
}

// sameFrames compares shapes treating Length 0 and 1 alike.
func sameFrames(a, b volume.Shape) bool {
	return a.Channels == b.Channels && a.Frames() == b.Frames() &&
		a.Height == b.Height && a.Width == b.Width
}

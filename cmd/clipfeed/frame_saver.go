package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/clipfeed/modules/transform"
	"github.com/e7canasta/clipfeed/modules/volume"
)

// FrameSaver writes transformed batch slots back to viewable images.
//
// Values are de-normalised as x/scale + mean. A tensor mean is applied as its
// average, since crop offsets are not recorded per slot. Three channels are
// written as RGB, anything else as grayscale of channel 0.
// Thread-safe: can be called from multiple goroutines concurrently.
type FrameSaver struct {
	outputDir   string
	format      string
	jpegQuality int
	mean        float32
	scale       float32

	framesSaved   atomic.Uint64
	framesDropped atomic.Uint64
}

// NewFrameSaver creates a frame saver with given output directory and format.
//
// Format: "png" or "jpeg"
// JPEGQuality: 1-100 (only used for JPEG)
func NewFrameSaver(outputDir, format string, jpegQuality int, p transform.Params) (*FrameSaver, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported format: %s (must be png or jpeg)", format)
	}
	if jpegQuality < 1 || jpegQuality > 100 {
		return nil, fmt.Errorf("invalid JPEG quality %d (must be 1-100)", jpegQuality)
	}

	fs := &FrameSaver{
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
		scale:       p.Scale,
	}
	if fs.scale == 0 {
		fs.scale = 1
	}
	if p.Mean != nil {
		fs.mean = p.Mean.Average()
	}
	return fs, nil
}

// SaveSlot writes every frame of slot as name.ext, or name_tNN.ext when the
// slot has a time axis.
func (fs *FrameSaver) SaveSlot(name string, slot volume.View) error {
	for l := 0; l < slot.Shape.Frames(); l++ {
		filename := name
		if slot.Shape.Length > 0 {
			filename = fmt.Sprintf("%s_t%02d", name, l)
		}
		path := filepath.Join(fs.outputDir, filename+"."+fs.format)

		if err := imaging.Save(fs.frameImage(slot, l), path, imaging.JPEGQuality(fs.jpegQuality)); err != nil {
			fs.framesDropped.Add(1)
			return fmt.Errorf("save %s: %w", path, err)
		}
		fs.framesSaved.Add(1)
	}
	return nil
}

// frameImage converts frame l of v to an 8-bit image.
func (fs *FrameSaver) frameImage(v volume.View, l int) image.Image {
	h, w := v.Shape.Height, v.Shape.Width
	if v.Shape.Channels == 3 {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*img.Stride + x*4
				img.Pix[i+0] = fs.pixel(v.At(0, l, y, x))
				img.Pix[i+1] = fs.pixel(v.At(1, l, y, x))
				img.Pix[i+2] = fs.pixel(v.At(2, l, y, x))
				img.Pix[i+3] = 255
			}
		}
		return img
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = fs.pixel(v.At(0, l, y, x))
		}
	}
	return img
}

func (fs *FrameSaver) pixel(x float32) uint8 {
	v := x/fs.scale + fs.mean
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// Stats returns current save statistics.
func (fs *FrameSaver) Stats() (saved, dropped uint64) {
	return fs.framesSaved.Load(), fs.framesDropped.Load()
}

package mediadecode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/clipfeed/modules/volume"
)

// loadFrame opens an image file, applies EXIF orientation, resizes it when
// height and width are both set and converts to grayscale for 1-channel output.
func loadFrame(src Source, path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, decodeErr(src, path, ErrNotFound)
		}
		return nil, decodeErr(src, path, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}

	var frame *image.NRGBA
	if src.Height > 0 && src.Width > 0 {
		frame = imaging.Resize(img, src.Width, src.Height, imaging.Linear)
	} else {
		frame = imaging.Clone(img)
	}
	if !src.Color {
		frame = imaging.Grayscale(frame)
	}
	return frame, nil
}

func decodeImage(_ context.Context, src Source, _ *rand.Rand) (*volume.Volume, error) {
	frame, err := loadFrame(src, src.Path)
	if err != nil {
		return nil, err
	}

	b := frame.Bounds()
	v := volume.NewBytes(volume.Shape{Channels: src.channels(), Height: b.Dy(), Width: b.Dx()})
	PackInterleaved(v, 0, frame.Pix, frame.Stride, 4)
	v.Labels = src.Labels
	return v, nil
}

func decodeSequence(_ context.Context, src Source, r *rand.Rand) (*volume.Volume, error) {
	if src.Length <= 0 {
		return nil, decodeErr(src, "sequence length must be positive", ErrCorrupt)
	}
	pattern := src.Pattern
	if pattern == "" {
		pattern = "%06d.jpg"
	}

	start, err := ResolveStart(src, src.FrameCount, 1, r)
	if err != nil {
		return nil, err
	}

	var v *volume.Volume
	for l := 0; l < src.Length; l++ {
		n := start + l*src.stride()
		path := filepath.Join(src.Path, fmt.Sprintf(pattern, n))

		frame, err := loadFrame(src, path)
		if err != nil {
			if errors.Is(err, ErrNotFound) && l > 0 {
				return nil, decodeErr(src, fmt.Sprintf("frame %d missing after %d frames", n, l), ErrInsufficientFrames)
			}
			return nil, err
		}

		b := frame.Bounds()
		if v == nil {
			v = volume.NewBytes(volume.Shape{
				Channels: src.channels(),
				Length:   src.Length,
				Height:   b.Dy(),
				Width:    b.Dx(),
			})
		} else if b.Dy() != v.Shape.Height || b.Dx() != v.Shape.Width {
			return nil, decodeErr(src,
				fmt.Sprintf("frame %d is %dx%d, first frame is %dx%d", n, b.Dx(), b.Dy(), v.Shape.Width, v.Shape.Height),
				ErrCorrupt)
		}
		PackInterleaved(v, l, frame.Pix, frame.Stride, 4)
	}

	v.Labels = src.Labels
	return v, nil
}

func decodeTensor(_ context.Context, src Source, _ *rand.Rand) (*volume.Volume, error) {
	v, err := volume.ReadFile(src.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, decodeErr(src, "", ErrNotFound)
		}
		return nil, decodeErr(src, "", fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	if src.Labels != nil {
		v.Labels = src.Labels
	}
	return v, nil
}

package datalayer

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/volume"
)

// debugDump writes the transformed slots of the first batches as grayscale
// PNGs, one file per channel and frame, min-max normalised to 0-255.
//
// Naming: batch0001_item003_c0.png, or batch0001_item003_c0_t02.png when the
// sample has a time axis.
type debugDump struct {
	dir       string
	remaining int
	batches   int
}

func newDebugDump(dir string, batches int) (*debugDump, error) {
	if dir == "" || batches <= 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datalayer: debug dir: %w", err)
	}
	slog.Info("datalayer: debug dump enabled", "dir", dir, "batches", batches)
	return &debugDump{dir: dir, remaining: batches}, nil
}

func (d *debugDump) write(b *batchsupplier.Batch) {
	if d.remaining == 0 {
		return
	}
	d.remaining--
	d.batches++

	written := 0
	for i := 0; i < b.Size; i++ {
		slot := b.Slot(i)
		for c := 0; c < slot.Shape.Channels; c++ {
			for l := 0; l < slot.Shape.Frames(); l++ {
				name := fmt.Sprintf("batch%04d_item%03d_c%d", d.batches, i, c)
				if slot.Shape.Length > 0 {
					name += fmt.Sprintf("_t%02d", l)
				}
				path := filepath.Join(d.dir, name+".png")
				if err := imaging.Save(planeImage(slot, c, l), path); err != nil {
					slog.Warn("datalayer: debug dump failed", "path", path, "error", err)
					return
				}
				written++
			}
		}
	}
	slog.Debug("datalayer: debug batch written", "batch", d.batches, "files", written, "dir", d.dir)
}

// planeImage renders channel c of frame l as an 8-bit grayscale image.
func planeImage(v volume.View, c, l int) *image.Gray {
	h, w := v.Shape.Height, v.Shape.Width
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := v.At(c, l, y, x)
			lo = min(lo, p)
			hi = max(hi, p)
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8((v.At(c, l, y, x) - lo) / span * 255)
		}
	}
	return img
}

package datalayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/mediadecode"
	"github.com/e7canasta/clipfeed/modules/sampleindex"
	"github.com/e7canasta/clipfeed/modules/transform"
	"github.com/e7canasta/clipfeed/modules/volume"
	"github.com/e7canasta/clipfeed/modules/voxel"
)

// stageTimer accumulates the read and transform time of one fill.
type stageTimer struct {
	read      time.Duration
	transform time.Duration
}

// filler holds the state shared by both fill strategies. It is owned by the
// fill loop goroutine.
type filler struct {
	*plan
	debug *debugDump

	// consecutive counts decode failures since the last success.
	consecutive int
}

// failure applies the phase policy to a failed sample.
//
// Training: warn, count, publish a skip event and return nil so the caller
// moves on, unless a whole pass failed in a row. Evaluation: fatal.
func (f *filler) failure(b *batchsupplier.Batch, idx int, e sampleindex.Entry, err error) error {
	category := mediadecode.Classify(err)
	f.opts.metrics.DecodeFailure(category.String())
	sampleErr := &SampleError{Index: idx, Path: e.Path, Line: e.Line, Err: err}

	if !f.cfg.Train() {
		slog.Error("datalayer: sample failed", "index", idx, "line", e.Line, "path", e.Path,
			"category", category.String(), "error", err)
		return sampleErr
	}

	f.consecutive++
	b.Skipped++
	slog.Warn("datalayer: skipping sample", "index", idx, "line", e.Line, "path", e.Path,
		"category", category.String(), "error", err)
	if f.opts.bus != nil {
		f.opts.bus.Publish(eventbus.Event{
			Kind:      eventbus.SampleSkipped,
			Epoch:     f.index.Epoch(),
			Path:      e.Path,
			Err:       err.Error(),
			Timestamp: time.Now(),
		})
	}

	if f.consecutive >= f.index.Len() {
		return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrNoDecodableSamples, f.consecutive, sampleErr)
	}
	return nil
}

// decode reads entry idx and records read time. The boolean reports a
// skipped sample; a non-nil error is fatal.
func (f *filler) decode(ctx context.Context, b *batchsupplier.Batch, t *stageTimer, idx int) (*volume.Volume, bool, error) {
	e := f.index.Entry(idx)
	start := time.Now()
	v, err := f.opts.decoder.Decode(ctx, f.source(e, false), f.rng)
	t.read += time.Since(start)
	if err == nil {
		return v, false, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if ferr := f.failure(b, idx, e, err); ferr != nil {
		return nil, false, ferr
	}
	return nil, true, nil
}

// apply transforms v into dst, routing shape mismatches through the failure
// policy like decode errors.
func (f *filler) apply(b *batchsupplier.Batch, t *stageTimer, idx int, v *volume.Volume, dst volume.View, d transform.Decision) (bool, error) {
	start := time.Now()
	err := f.engine.Apply(v, dst, d)
	t.transform += time.Since(start)
	if err == nil {
		f.consecutive = 0
		return false, nil
	}
	if ferr := f.failure(b, idx, f.index.Entry(idx), fmt.Errorf("%w: %v", mediadecode.ErrCorrupt, err)); ferr != nil {
		return false, ferr
	}
	return true, nil
}

func (f *filler) finish(b *batchsupplier.Batch, t stageTimer) {
	f.opts.metrics.ObserveStage("read", t.read)
	f.opts.metrics.ObserveStage("transform", t.transform)
	slog.Debug("datalayer: batch timing",
		"read_ms", t.read.Milliseconds(),
		"transform_ms", t.transform.Milliseconds(),
		"skipped", b.Skipped,
		"epoch", b.Epoch,
	)
	if f.debug != nil {
		f.debug.write(b)
	}
}

// sampleFiller fills one slot per manifest entry: image, clip and tensor
// layouts. Crop and mirror are decided once per entry, so every frame of a
// clip shares them.
type sampleFiller struct {
	filler
}

func (f *sampleFiller) Fill(ctx context.Context, b *batchsupplier.Batch) error {
	var t stageTimer
	b.Epoch = f.index.Epoch()

	for i := 0; i < b.Size; {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := f.index.Advance()
		v, skipped, err := f.decode(ctx, b, &t, idx)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}

		d := f.engine.Decide(f.rng)
		skipped, err = f.apply(b, &t, idx, v, b.Slot(i), d)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}
		b.Indices[i] = idx
		if b.NumLabels > 0 {
			b.SetLabels(i, f.index.Entry(idx).Labels)
		}
		i++
	}

	f.finish(b, t)
	return nil
}

// voxelFiller slides an L-frame window over consecutive manifest entries.
//
// Sequence policy:
//   - batch: every batch restarts the window (SequenceStart)
//   - sequence: the window restarts when the next entry belongs to another
//     sequence or the epoch wraps; with pad_end, RepeatEnd padded windows are
//     emitted first so the last frames reach the window center
//
// Crop and mirror are decided at every sequence start.
type voxelFiller struct {
	filler

	decision   transform.Decision
	inSequence bool
	seqKey     string
	seqEpoch   int
	pendingPad int

	newestIdx    int
	newestLabels []int
}

func (f *voxelFiller) restart() {
	f.assembler.Reset()
	f.inSequence = false
	f.pendingPad = 0
}

func (f *voxelFiller) Fill(ctx context.Context, b *batchsupplier.Batch) error {
	var t stageTimer
	b.Epoch = f.index.Epoch()
	if f.cfg.SequenceReset == config.ResetBatch {
		f.restart()
	}

	for i := 0; i < b.Size; {
		if err := ctx.Err(); err != nil {
			return err
		}
		window := b.Sample(i)

		if f.pendingPad > 0 {
			if err := f.assembler.PadEnd(window); err != nil {
				return fmt.Errorf("datalayer: %w", err)
			}
			f.pendingPad--
			if f.pendingPad == 0 {
				f.restart()
			}
		} else {
			err := f.assembler.Next(window, f.produce(ctx, b, &t))
			if errors.Is(err, voxel.ErrSequenceEnd) {
				if f.cfg.PadEnd && f.assembler.RepeatEnd() > 0 {
					f.pendingPad = f.assembler.RepeatEnd()
				} else {
					f.restart()
				}
				continue
			}
			if err != nil {
				return err
			}
		}

		b.Indices[i] = f.newestIdx
		if b.NumLabels > 0 {
			b.SetLabels(i, f.newestLabels)
		}
		i++
	}

	f.finish(b, t)
	return nil
}

// produce returns the FrameFunc that decodes the next entry into one window
// slot, skipping failed frames under the training policy.
func (f *voxelFiller) produce(ctx context.Context, b *batchsupplier.Batch, t *stageTimer) voxel.FrameFunc {
	return func(dst volume.View) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f.inSequence && f.cfg.SequenceReset == config.ResetSequence {
				next := f.index.Entry(f.index.Peek())
				if next.Sequence != f.seqKey || f.index.Epoch() != f.seqEpoch {
					return voxel.ErrSequenceEnd
				}
			}

			epoch := f.index.Epoch()
			idx := f.index.Advance()
			v, skipped, err := f.decode(ctx, b, t, idx)
			if err != nil {
				return err
			}
			if skipped {
				continue
			}

			if !f.inSequence {
				f.decision = f.engine.Decide(f.rng)
			}
			skipped, err = f.apply(b, t, idx, v, dst, f.decision)
			if err != nil {
				return err
			}
			if skipped {
				continue
			}

			if !f.inSequence {
				e := f.index.Entry(idx)
				f.inSequence = true
				f.seqKey = e.Sequence
				f.seqEpoch = epoch
			}
			f.newestIdx = idx
			f.newestLabels = f.index.Entry(idx).Labels
			return nil
		}
	}
}

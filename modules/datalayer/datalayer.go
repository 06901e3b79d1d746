// Package datalayer wires the sample index, the media decoder, the transform
// engine and the temporal window assembler into a double-buffered batch
// supplier.
//
// Lifecycle:
//
//	layer, err := datalayer.Setup(ctx, cfg.Pipeline, datalayer.WithBus(bus))
//	if err != nil { ... }         // every configuration problem surfaces here
//	defer layer.Close()
//
//	for {
//	    b, err := layer.Consume() // valid until the next Consume
//	    if err != nil { ... }
//	    step(b.Data, b.Labels)
//	}
//
// Layouts:
//   - image:  one still image per entry          → (B, C, H', W')
//   - clip:   one video or frame directory/entry → (B, C, L, H', W')
//   - voxel:  one frame per entry, sliding window → (B, C, L, H', W')
//   - tensor: one msgpack tensor per entry       → (B, C, [L,] H', W')
//
// Failure policy: in training a sample that fails to decode is logged,
// counted and replaced by the next index; a whole pass of failures in a row
// aborts with ErrNoDecodableSamples. In evaluation the first failure is a
// fatal *SampleError.
package datalayer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/sampleindex"
	"github.com/e7canasta/clipfeed/modules/transform"
	"github.com/e7canasta/clipfeed/modules/volume"
)

// Layer is a running data layer.
type Layer struct {
	plan     *plan
	supplier batchsupplier.Supplier
}

// Setup validates cfg, infers shapes and starts prefetching.
//
// The first fill begins before Setup returns. ctx bounds the fill loop;
// cancelling it is equivalent to Close without waiting.
func Setup(ctx context.Context, cfg config.Pipeline, opts ...Option) (*Layer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p, err := prepare(ctx, cfg, o, true)
	if err != nil {
		return nil, err
	}

	dump, err := newDebugDump(p.cfg.DebugDir, p.cfg.DebugBatches)
	if err != nil {
		return nil, err
	}
	base := filler{plan: p, debug: dump}

	var f batchsupplier.Filler
	if p.cfg.Layout == config.LayoutVoxel {
		f = &voxelFiller{filler: base}
	} else {
		f = &sampleFiller{filler: base}
	}

	supplier, err := batchsupplier.New(batchsupplier.Config{
		BatchSize:   p.cfg.BatchSize,
		SampleShape: p.sample,
		NumLabels:   p.numLabels,
		Buffers:     p.cfg.PrefetchBuffers,
		Bus:         o.bus,
		Metrics:     o.metrics,
	}, f)
	if err != nil {
		return nil, fmt.Errorf("datalayer: %w", err)
	}

	// The fill loop owns the index once started.
	slog.Info("datalayer: setup complete",
		"batch", fmt.Sprint(p.batchDims()),
		"labels", fmt.Sprint(p.labelDims()),
		"entries", len(p.entries),
		"cursor", p.index.Cursor(),
	)
	if err := supplier.Start(ctx); err != nil {
		return nil, fmt.Errorf("datalayer: %w", err)
	}
	return &Layer{plan: p, supplier: supplier}, nil
}

// Consume returns the next batch. The batch stays valid until the next call.
func (l *Layer) Consume() (*batchsupplier.Batch, error) {
	return l.supplier.Consume()
}

// Shape returns the batch dimensions (B, C, [L,] H, W).
func (l *Layer) Shape() []int { return l.plan.batchDims() }

// LabelShape returns (B, N, 1, 1, [1]), or nil when labels are disabled.
func (l *Layer) LabelShape() []int { return l.plan.labelDims() }

// SampleShape returns the per-slot shape.
func (l *Layer) SampleShape() volume.Shape { return l.plan.sample }

// NativeShape returns the decoded shape of one entry before cropping.
func (l *Layer) NativeShape() volume.Shape { return l.plan.native }

// Params returns the effective transform parameters (mean and scale included).
func (l *Layer) Params() transform.Params { return l.plan.engine.Params() }

// Seed returns the seed the pipeline generator was built from.
func (l *Layer) Seed() int64 { return l.plan.seed }

// Len returns the number of manifest entries.
func (l *Layer) Len() int { return len(l.plan.entries) }

// Entry returns manifest entry i. Entries are immutable.
func (l *Layer) Entry(i int) sampleindex.Entry { return l.plan.entries[i] }

// Stats returns a snapshot of the supplier.
func (l *Layer) Stats() batchsupplier.SupplierStats { return l.supplier.Stats() }

// Close waits for the fill in progress and stops prefetching. Idempotent.
func (l *Layer) Close() error { return l.supplier.Stop() }

// ProbeResult describes the shapes a configuration produces.
type ProbeResult struct {
	Entries    int
	Seed       int64
	Native     volume.Shape
	Sample     volume.Shape
	BatchDims  []int
	LabelDims  []int
	FirstEntry sampleindex.Entry
}

// Probe runs every setup step of Setup except starting the fill loop.
func Probe(ctx context.Context, cfg config.Pipeline, opts ...Option) (*ProbeResult, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	p, err := prepare(ctx, cfg, o, true)
	if err != nil {
		return nil, err
	}
	return &ProbeResult{
		Entries:    len(p.entries),
		Seed:       p.seed,
		Native:     p.native,
		Sample:     p.sample,
		BatchDims:  p.batchDims(),
		LabelDims:  p.labelDims(),
		FirstEntry: p.index.Entry(p.index.Peek()),
	}, nil
}

package datalayer

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/internal/metrics"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/mediadecode"
	"github.com/e7canasta/clipfeed/modules/sampleindex"
	"github.com/e7canasta/clipfeed/modules/transform"
	"github.com/e7canasta/clipfeed/modules/volume"
	"github.com/e7canasta/clipfeed/modules/voxel"
)

// Option customizes Setup.
type Option func(*options)

type options struct {
	decoder mediadecode.Decoder
	bus     eventbus.Bus
	metrics *metrics.Pipeline
}

// WithDecoder replaces the default decoder (images, sequences and tensors
// only; video needs a gstvideo backend).
func WithDecoder(d mediadecode.Decoder) Option {
	return func(o *options) { o.decoder = d }
}

// WithBus publishes batch and skip events to b.
func WithBus(b eventbus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithMetrics records fill, stage and failure metrics into m.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *options) { o.metrics = m }
}

// plan is everything derived from the configuration before the first fill.
type plan struct {
	cfg  config.Pipeline
	kind mediadecode.Kind
	opts options

	entries   []sampleindex.Entry
	index     *sampleindex.Index
	seed      int64
	rng       *rand.Rand
	numLabels int

	// native is the decoded shape of one entry: (C, [L,] H, W).
	native volume.Shape
	// sample is the shape of one batch slot.
	sample volume.Shape

	engine    *transform.Engine
	assembler *voxel.Assembler
}

// skipSalt decorrelates the rand_skip generator from the pipeline generator.
const skipSalt = 0x5DEECE66D

// prepare runs every setup step except building the supplier.
//
// Steps, in order (each failure is fatal):
//  1. Validate the pipeline options and fill defaults
//  2. Load the manifest, check the label count
//  3. Seed the pipeline generator, build the index
//  4. Apply rand_skip with an independent generator
//  5. Probe-decode the entry at the cursor to infer the native shape
//  6. Build the mean and the transform engine (crop is validated here)
//  7. Compute the per-slot shape
func prepare(ctx context.Context, cfg config.Pipeline, o options, withMean bool) (*plan, error) {
	if err := config.ValidatePipeline(&cfg); err != nil {
		return nil, err
	}
	kind, err := mediadecode.ParseKind(cfg.SourceKind)
	if err != nil {
		return nil, fmt.Errorf("datalayer: %w", err)
	}
	if o.decoder == nil {
		o.decoder = mediadecode.New()
	}

	p := &plan{cfg: cfg, kind: kind, opts: o}

	// Without jitter the middle field of a sequence line is its start frame.
	requireStart := kind == mediadecode.KindImageSequence
	p.entries, err = sampleindex.LoadManifest(cfg.Source, sampleindex.ParseOptions{
		RootFolder:   cfg.RootFolder,
		RequireStart: requireStart,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Labels() {
		p.numLabels, err = sampleindex.CheckLabelCount(p.entries)
		if err != nil {
			return nil, err
		}
	}

	p.seed = resolveSeed(cfg.Seed)
	p.rng = rand.New(rand.NewSource(p.seed))
	p.index, err = sampleindex.New(p.entries, sampleindex.Options{Shuffle: cfg.Shuffle, Rand: p.rng})
	if err != nil {
		return nil, err
	}
	if cfg.RandSkip > 0 {
		skipRng := rand.New(rand.NewSource(p.seed ^ skipSalt))
		if _, err := p.index.RandomSkip(cfg.RandSkip, skipRng); err != nil {
			return nil, err
		}
	}

	if err := p.probe(ctx); err != nil {
		return nil, err
	}

	var mean *transform.Mean
	if withMean {
		switch {
		case cfg.MeanFile != "":
			mean, err = transform.LoadMean(cfg.MeanFile)
			if err != nil {
				return nil, err
			}
		case cfg.MeanValue != nil:
			mean = transform.ScalarMean(float32(*cfg.MeanValue))
		}
	}

	engineShape := p.native
	if cfg.Layout == config.LayoutVoxel {
		engineShape = p.native.FrameShape()
	}
	p.engine, err = transform.New(transform.Params{
		CropSize: cfg.CropSize,
		Mirror:   cfg.Mirror,
		Scale:    float32(cfg.Scale),
		Train:    cfg.Train(),
		Mean:     mean,
	}, engineShape)
	if err != nil {
		return nil, fmt.Errorf("datalayer: %w", err)
	}

	p.sample = p.engine.OutputShape()
	if cfg.Layout == config.LayoutVoxel {
		p.assembler, err = voxel.New(p.engine.OutputShape(), cfg.NewLength)
		if err != nil {
			return nil, fmt.Errorf("datalayer: %w", err)
		}
		p.sample = p.assembler.WindowShape()
	}

	slog.Info("datalayer: shapes inferred",
		"layout", cfg.Layout,
		"source_kind", kind.String(),
		"phase", cfg.Phase,
		"native", p.native.String(),
		"sample", p.sample.String(),
		"labels", p.numLabels,
		"seed", p.seed,
	)
	return p, nil
}

// probe decodes the entry at the cursor with a throwaway generator, so the
// pipeline generator is untouched and runs stay reproducible.
func (p *plan) probe(ctx context.Context) error {
	idx := p.index.Peek()
	entry := p.index.Entry(idx)
	src := p.source(entry, true)

	v, err := p.opts.decoder.Decode(ctx, src, rand.New(rand.NewSource(p.seed)))
	if err != nil {
		return fmt.Errorf("datalayer: probe decode failed: %w",
			&SampleError{Index: idx, Path: entry.Path, Line: entry.Line, Err: err})
	}
	p.native = v.Shape
	return nil
}

// source maps a manifest entry to a decode request.
//
// Temporal start: a fixed start comes from the entry. With jitter, video
// clips draw a random start in both phases, while image sequences draw only
// in training and start at the first frame in evaluation. For image
// sequences read with jitter the middle field is the frame count instead.
// probe forces the deterministic variant.
func (p *plan) source(e sampleindex.Entry, probe bool) mediadecode.Source {
	cfg := p.cfg
	src := mediadecode.Source{
		Kind:    p.kind,
		Path:    e.Path,
		Height:  cfg.NewHeight,
		Width:   cfg.NewWidth,
		Stride:  cfg.SamplingStride,
		Color:   cfg.Color(),
		Pattern: cfg.FramePattern,
		Labels:  e.Labels,
	}
	if !p.kind.Temporal() {
		return src
	}

	src.Length = cfg.NewLength
	switch {
	case !cfg.TemporalJitter:
		src.Start = mediadecode.Fixed(e.Start)
	case probe:
		src.Start = mediadecode.First()
	case cfg.Train() || p.kind == mediadecode.KindVideo:
		src.Start = mediadecode.Jitter()
	default:
		src.Start = mediadecode.First()
	}
	if cfg.TemporalJitter && p.kind == mediadecode.KindImageSequence {
		src.FrameCount = e.Start
	}
	return src
}

// batchDims returns (B, C, [L,] H, W).
func (p *plan) batchDims() []int {
	return append([]int{p.cfg.BatchSize}, p.sample.Dims()...)
}

// labelDims returns (B, N, 1, 1, [1]) or nil when labels are disabled.
func (p *plan) labelDims() []int {
	if p.numLabels == 0 {
		return nil
	}
	dims := []int{p.cfg.BatchSize, p.numLabels, 1, 1}
	if p.sample.Length > 0 {
		dims = append(dims, 1)
	}
	return dims
}

// resolveSeed returns seed, or one entropy draw when seed is 0.
func resolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		slog.Warn("datalayer: entropy read failed, seeding from constant", "error", err)
		return 1
	}
	s := int64(binary.LittleEndian.Uint64(b[:]) >> 1)
	if s == 0 {
		s = 1
	}
	return s
}

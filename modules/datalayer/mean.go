package datalayer

import (
	"context"
	"log/slog"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/transform"
)

// ComputeMean averages the decoded (uncropped) samples of the first limit
// manifest entries in file order; limit <= 0 means all of them. Temporal
// sources read from their first or fixed frame. Entries that fail to decode
// are skipped with a warning. progress, when non-nil, is called once per
// entry visited.
//
// The result has the native shape and can be written with transform.SaveMean
// and read back through mean_file.
func ComputeMean(ctx context.Context, cfg config.Pipeline, limit int, progress func(), opts ...Option) (*transform.Mean, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg.Phase = config.PhaseTest
	cfg.MeanFile = ""
	cfg.MeanValue = nil

	p, err := prepare(ctx, cfg, o, false)
	if err != nil {
		return nil, err
	}

	n := len(p.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	acc := transform.NewMeanAccumulator(p.native)
	skipped := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := p.entries[i]
		v, err := p.opts.decoder.Decode(ctx, p.source(e, true), p.rng)
		if err == nil {
			err = acc.Add(v)
		}
		if err != nil {
			skipped++
			slog.Warn("datalayer: mean skipping sample", "index", i, "line", e.Line, "path", e.Path, "error", err)
		}
		if progress != nil {
			progress()
		}
	}

	slog.Info("datalayer: mean computed", "samples", acc.Count(), "skipped", skipped, "shape", p.native.String())
	return acc.Mean()
}

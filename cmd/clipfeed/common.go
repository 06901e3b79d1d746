package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/mediadecode"
	"github.com/e7canasta/clipfeed/modules/mediadecode/gstvideo"
)

// pipelineFlags are the flags every command shares: the config file plus a
// few pipeline overrides.
type pipelineFlags struct {
	configPath string
	batchSize  int
	phase      string
	seed       int64
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML configuration file (required)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Override pipeline.batch_size")
	cmd.Flags().StringVar(&f.phase, "phase", "", "Override pipeline.phase (train or test)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Override pipeline.seed")
	_ = cmd.MarkFlagRequired("config")
}

// load reads the config file, applies flag overrides and validates again.
func (f *pipelineFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("batch-size") {
		cfg.Pipeline.BatchSize = f.batchSize
	}
	if flags.Changed("phase") {
		cfg.Pipeline.Phase = f.phase
	}
	if flags.Changed("seed") {
		cfg.Pipeline.Seed = f.seed
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", f.configPath, err)
	}
	return cfg, nil
}

// newDecoder returns the production decoder: built-in image, sequence and
// tensor backends plus GStreamer for video.
func newDecoder() mediadecode.Decoder {
	return mediadecode.New(mediadecode.WithBackend(mediadecode.KindVideo, gstvideo.New()))
}

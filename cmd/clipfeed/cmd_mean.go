package main

import (
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/e7canasta/clipfeed/modules/datalayer"
	"github.com/e7canasta/clipfeed/modules/transform"
)

var (
	meanFlags pipelineFlags
	meanOut   string
	meanLimit int

	meanCmd = &cobra.Command{
		Use:   "mean",
		Short: "Compute the per-element mean file of a dataset",
		Long:  `Decodes the manifest entries in file order (no crop, no mirror) and writes their element-wise average as a msgpack tensor usable as pipeline.mean_file.`,
		Args:  cobra.NoArgs,
		RunE:  runMean,
	}
)

func init() {
	meanFlags.register(meanCmd)
	meanCmd.Flags().StringVarP(&meanOut, "out", "o", "", "Output mean file (required)")
	meanCmd.Flags().IntVar(&meanLimit, "limit", 0, "Entries to average (0 = all)")
	_ = meanCmd.MarkFlagRequired("out")
}

func runMean(cmd *cobra.Command, args []string) error {
	cfg, err := meanFlags.load(cmd)
	if err != nil {
		return err
	}

	total := -1
	if meanLimit > 0 {
		total = meanLimit
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Averaging"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)

	mean, err := datalayer.ComputeMean(cmd.Context(), cfg.Pipeline, meanLimit,
		func() { _ = bar.Add(1) },
		datalayer.WithDecoder(newDecoder()),
	)
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	if err := transform.SaveMean(meanOut, mean); err != nil {
		return err
	}
	slog.Info("clipfeed: mean written",
		"path", meanOut,
		"shape", mean.Shape.String(),
		"average", mean.Average(),
	)
	return nil
}

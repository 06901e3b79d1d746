package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/clipfeed/modules/datalayer"
)

var (
	previewFlags       pipelineFlags
	previewOut         string
	previewBatches     int
	previewFormat      string
	previewJPEGQuality int
	previewWorkers     int

	previewCmd = &cobra.Command{
		Use:   "preview",
		Short: "Write transformed batches as images",
		Long:  `Consumes batches and writes every slot (and every frame of temporal slots) as PNG or JPEG, de-normalised with the configured mean and scale. Useful to eyeball crops, mirroring and temporal windows.`,
		Args:  cobra.NoArgs,
		RunE:  runPreview,
	}
)

func init() {
	previewFlags.register(previewCmd)
	previewCmd.Flags().StringVarP(&previewOut, "out", "o", "", "Output directory (required)")
	previewCmd.Flags().IntVar(&previewBatches, "batches", 1, "Batches to write")
	previewCmd.Flags().StringVar(&previewFormat, "format", "png", "Output format: png or jpeg")
	previewCmd.Flags().IntVar(&previewJPEGQuality, "jpeg-quality", 90, "JPEG quality (1-100, only for jpeg)")
	previewCmd.Flags().IntVar(&previewWorkers, "workers", 4, "Parallel image writers")
	_ = previewCmd.MarkFlagRequired("out")
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := previewFlags.load(cmd)
	if err != nil {
		return err
	}
	if previewBatches <= 0 || previewWorkers <= 0 {
		return fmt.Errorf("--batches and --workers must be positive")
	}

	layer, err := datalayer.Setup(ctx, cfg.Pipeline, datalayer.WithDecoder(newDecoder()))
	if err != nil {
		return err
	}
	defer layer.Close()

	saver, err := NewFrameSaver(previewOut, previewFormat, previewJPEGQuality, layer.Params())
	if err != nil {
		return err
	}

	for n := 0; n < previewBatches; n++ {
		b, err := layer.Consume()
		if err != nil {
			return err
		}

		// The batch is only valid until the next Consume: wait for all writers.
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(previewWorkers)
		for i := 0; i < b.Size; i++ {
			name := fmt.Sprintf("batch%04d_item%03d", n, i)
			slot := b.Slot(i)
			g.Go(func() error { return saver.SaveSlot(name, slot) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	saved, dropped := saver.Stats()
	slog.Info("clipfeed: preview written", "dir", previewOut, "images", saved, "failed", dropped)
	return nil
}

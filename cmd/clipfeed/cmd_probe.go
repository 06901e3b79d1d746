package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/e7canasta/clipfeed/modules/datalayer"
)

var (
	probeFlags pipelineFlags

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Print the shapes a configuration produces",
		Long:  `Runs every setup step (manifest, index, probe decode, mean, crop validation) without starting the fill loop, then prints the native sample shape, the batch shape and the label shape.`,
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}
)

func init() {
	probeFlags.register(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := probeFlags.load(cmd)
	if err != nil {
		return err
	}

	res, err := datalayer.Probe(cmd.Context(), cfg.Pipeline, datalayer.WithDecoder(newDecoder()))
	if err != nil {
		return err
	}

	batchBytes := uint64(4 * product(res.BatchDims))
	labels := "none"
	if res.LabelDims != nil {
		labels = fmt.Sprint(res.LabelDims)
		batchBytes += uint64(4 * product(res.LabelDims))
	}

	fmt.Println("Probe:")
	fmt.Printf("  Entries:         %s\n", humanize.Comma(int64(res.Entries)))
	fmt.Printf("  Seed:            %d\n", res.Seed)
	fmt.Printf("  First Entry:     %s (line %d)\n", res.FirstEntry.Path, res.FirstEntry.Line)
	fmt.Printf("  Native Shape:    %s\n", res.Native)
	fmt.Printf("  Sample Shape:    %s\n", res.Sample)
	fmt.Printf("  Batch Shape:     %v\n", res.BatchDims)
	fmt.Printf("  Label Shape:     %s\n", labels)
	fmt.Printf("  Batch Memory:    %s (x%d buffers)\n", humanize.IBytes(batchBytes), cfg.Pipeline.PrefetchBuffers)
	return nil
}

package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/datalayer"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/volume"
)

var (
	dumpFlags      pipelineFlags
	dumpOut        string
	dumpBatches    int
	dumpPrefixList string
	dumpWorkers    int

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Write batch items as msgpack tensor files",
		Long: `Consumes N batches and writes one msgpack tensor per item (float32 data plus labels).
Item k is named after line k of --prefix-list when given, otherwise item%06d.`,
		Args: cobra.NoArgs,
		RunE: runDump,
	}
)

func init() {
	dumpFlags.register(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOut, "out", "o", "", "Output directory (required)")
	dumpCmd.Flags().IntVar(&dumpBatches, "batches", 1, "Batches to dump")
	dumpCmd.Flags().StringVar(&dumpPrefixList, "prefix-list", "", "File with one output name per item")
	dumpCmd.Flags().IntVar(&dumpWorkers, "workers", 4, "Parallel file writers")
	_ = dumpCmd.MarkFlagRequired("out")
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := dumpFlags.load(cmd)
	if err != nil {
		return err
	}
	if dumpBatches <= 0 || dumpWorkers <= 0 {
		return fmt.Errorf("--batches and --workers must be positive")
	}

	var prefixes []string
	if dumpPrefixList != "" {
		if prefixes, err = readPrefixes(dumpPrefixList); err != nil {
			return err
		}
		for _, name := range prefixes {
			if _, err := itemPath(dumpOut, name); err != nil {
				return err
			}
		}
	}
	if err := os.MkdirAll(dumpOut, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	bus := eventbus.New()
	defer bus.Close()

	layer, err := datalayer.Setup(ctx, cfg.Pipeline,
		datalayer.WithDecoder(newDecoder()),
		datalayer.WithBus(bus),
	)
	if err != nil {
		return err
	}
	defer layer.Close()

	total := dumpBatches * cfg.Pipeline.BatchSize
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Dumping"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	watcher, err := watchProgress(bus, bar, "Dumping")
	if err != nil {
		return err
	}
	defer watcher.Stop()

	var written uint64
	item := 0
	for n := 0; n < dumpBatches; n++ {
		b, err := layer.Consume()
		if err != nil {
			return err
		}

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(dumpWorkers)
		for i := 0; i < b.Size; i++ {
			path, err := itemPath(dumpOut, itemName(prefixes, item))
			if err != nil {
				_ = g.Wait()
				return err
			}
			v := batchItem(b, i)
			written += uint64(4 * len(v.Floats))
			item++
			g.Go(func() error {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				if err := volume.WriteFile(path, v); err != nil {
					return err
				}
				return bar.Add(1)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	_ = bar.Finish()
	fmt.Println()
	filled, skipped := watcher.Stop()

	slog.Info("clipfeed: dump complete",
		"dir", dumpOut,
		"items", item,
		"data", humanize.IBytes(written),
		"filled", filled,
		"skipped", skipped,
	)
	if len(prefixes) > 0 && len(prefixes) < item {
		slog.Warn("clipfeed: prefix list shorter than dumped items", "prefixes", len(prefixes), "items", item)
	}
	return nil
}

// batchItem wraps slot i and its labels as a float volume. Data aliases the
// batch, so it must be written before the next Consume.
func batchItem(b *batchsupplier.Batch, i int) *volume.Volume {
	v := &volume.Volume{Shape: b.Shape, Floats: b.Sample(i)}
	if b.NumLabels > 0 {
		row := b.Labels[i*b.NumLabels : (i+1)*b.NumLabels]
		v.Labels = make([]int, len(row))
		for j, x := range row {
			v.Labels[j] = int(x)
		}
	}
	return v
}

func itemName(prefixes []string, item int) string {
	if item < len(prefixes) {
		return prefixes[item]
	}
	return fmt.Sprintf("item%06d", item)
}

// itemPath joins an item name under dir and rejects names that would escape
// it, such as "../x".
func itemPath(dir, name string) (string, error) {
	path := filepath.Join(dir, name+".msgpack")
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("item name %q escapes output directory %s", name, dir)
	}
	return path, nil
}

func readPrefixes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prefix list: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prefix list: %w", err)
	}
	return out, nil
}

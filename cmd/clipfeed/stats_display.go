package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/datalayer"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/telemetry"
)

// reportStats periodically prints statistics from all pipeline components
func reportStats(ctx context.Context, interval time.Duration, layer *datalayer.Layer, bus eventbus.Bus, emitter *telemetry.Emitter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(time.Since(startTime), layer, bus, emitter)
		}
	}
}

// printLiveStats prints current statistics from all components
func printLiveStats(uptime time.Duration, layer *datalayer.Layer, bus eventbus.Bus, emitter *telemetry.Emitter) {
	stats := layer.Stats()
	busStats := bus.Stats()
	batchBytes := uint64(4 * product(layer.Shape()))

	fmt.Println()
	fmt.Println("╭─────────────────────────────────────────────────────────────────╮")
	fmt.Printf("│ Pipeline Statistics (Uptime: %v)\n", uptime.Round(time.Second))
	fmt.Println("├─────────────────────────────────────────────────────────────────┤")

	fmt.Println("│ Batch Supplier:")
	fmt.Printf("│   Batches Filled:     %6d (%s each)\n", stats.BatchesFilled, humanize.IBytes(batchBytes))
	fmt.Printf("│   Batches Consumed:   %6d\n", stats.BatchesConsumed)
	fmt.Printf("│   Ready Buffers:      %6d\n", stats.ReadyDepth)
	fmt.Printf("│   Epoch:              %6d\n", stats.Epoch)
	fmt.Printf("│   Samples Skipped:    %6d\n", stats.SamplesSkipped)
	fmt.Printf("│   Last Fill:          %6d ms\n", stats.LastFill.Milliseconds())
	fmt.Printf("│   Consumer Wait:      %6d ms total (%.1f%% of uptime)\n",
		stats.TotalWait.Milliseconds(), percent(stats.TotalWait, uptime))

	c := stats.Cadence
	if c.Batches > 1 {
		fmt.Println("│")
		fmt.Println("│ Cadence:")
		fmt.Printf("│   Rate:               %6.2f batches/s (min %.2f, max %.2f)\n", c.RateMean, c.RateMin, c.RateMax)
		fmt.Printf("│   Throughput:         %s/s\n", humanize.IBytes(uint64(c.RateMean*float64(batchBytes))))
		fmt.Printf("│   Jitter:             %6.1f ms mean, %.1f ms max\n", c.JitterMean*1000, c.JitterMax*1000)
		fmt.Printf("│   Stable:             %6v\n", c.IsStable)
	}

	fmt.Println("│")
	fmt.Println("│ Event Bus:")
	fmt.Printf("│   Published:          %6d\n", busStats.TotalPublished)
	fmt.Printf("│   Dropped:            %6d (%.1f%%)\n", busStats.TotalDropped, eventbus.DropRate(busStats)*100)

	if emitter != nil {
		es := emitter.Stats()
		fmt.Println("│")
		fmt.Println("│ Telemetry:")
		fmt.Printf("│   Connected:          %6v\n", es.Connected)
		fmt.Printf("│   Published:          %6d\n", es.Published)
		fmt.Printf("│   Errors:             %6d\n", es.Errors)
	}

	if stats.Err != nil {
		fmt.Println("│")
		fmt.Printf("│ Fill Error: %v\n", stats.Err)
	}

	fmt.Println("╰─────────────────────────────────────────────────────────────────╯")
	fmt.Println()
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(layer *datalayer.Layer, consumed, samples int, elapsed time.Duration, emitter *telemetry.Emitter) {
	stats := layer.Stats()

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     Final Statistics                         ")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	fmt.Printf("  Batches Consumed:      %d (%s samples)\n", consumed, humanize.Comma(int64(samples)))
	fmt.Printf("  Batches Filled:        %d\n", stats.BatchesFilled)
	fmt.Printf("  Samples Skipped:       %d\n", stats.SamplesSkipped)
	fmt.Printf("  Epochs Reached:        %d\n", stats.Epoch)
	fmt.Printf("  Elapsed:               %v\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("  Samples/s:             %.1f\n", float64(samples)/elapsed.Seconds())
	}
	fmt.Printf("  Consumer Wait:         %v (%.1f%%)\n", stats.TotalWait.Round(time.Millisecond), percent(stats.TotalWait, elapsed))

	if emitter != nil {
		es := emitter.Stats()
		fmt.Println()
		fmt.Printf("  Health Published:      %d (%d errors)\n", es.Published, es.Errors)
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

func printBanner(cfg *config.Config, batches int) {
	p := cfg.Pipeline
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           clipfeed - Video/Image Batch Ingestion              ║")
	fmt.Printf("║                    Version %-30s     ║\n", version)
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Manifest:        %s\n", p.Source)
	fmt.Printf("  Layout:          %s (%s)\n", p.Layout, p.SourceKind)
	fmt.Printf("  Phase:           %s\n", p.Phase)
	fmt.Printf("  Batch Size:      %d\n", p.BatchSize)
	if p.Temporal() {
		fmt.Printf("  Length:          %d (stride %d, jitter %v)\n", p.NewLength, p.SamplingStride, p.TemporalJitter)
	}
	if p.CropSize > 0 {
		fmt.Printf("  Crop:            %d (mirror %v)\n", p.CropSize, p.Mirror)
	}
	fmt.Printf("  Prefetch:        %d buffers\n", p.PrefetchBuffers)
	if batches > 0 {
		fmt.Printf("  Batches:         %d\n", batches)
	} else {
		fmt.Printf("  Batches:         until interrupted\n")
	}
	fmt.Println()
	fmt.Println("Pipeline:")
	fmt.Println("  manifest → decoder → transform → batch supplier → consumer")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop gracefully")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

func percent(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100.0
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/internal/metrics"
	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/datalayer"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/telemetry"
)

var (
	runFlags         pipelineFlags
	runBatches       int
	runMetricsAddr   string
	runStatsInterval time.Duration

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Consume batches and report pipeline statistics",
		Long:  `Starts the pipeline and consumes batches as a training loop would, printing a statistics box periodically. Optionally serves Prometheus metrics and publishes MQTT health snapshots.`,
		Args:  cobra.NoArgs,
		RunE:  runPipeline,
	}
)

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().IntVar(&runBatches, "batches", 0, "Batches to consume (0 = until interrupted)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.listen_addr)")
	runCmd.Flags().DurationVar(&runStatsInterval, "stats-interval", 5*time.Second, "Statistics reporting interval (0 disables)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := runFlags.load(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.ListenAddr = runMetricsAddr
	}

	printBanner(cfg, runBatches)

	bus := eventbus.New()
	defer bus.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.ListenAddr != "" {
		srv := serveMetrics(cfg.Metrics.ListenAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	layer, err := datalayer.Setup(ctx, cfg.Pipeline,
		datalayer.WithDecoder(newDecoder()),
		datalayer.WithBus(bus),
		datalayer.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer layer.Close()

	var emitter *telemetry.Emitter
	if cfg.Telemetry.Broker != "" {
		emitter, err = startTelemetry(ctx, cfg.Telemetry, layer, bus)
		if err != nil {
			return err
		}
		defer emitter.Stop()
	}

	started := time.Now()
	if runStatsInterval > 0 {
		statsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go reportStats(statsCtx, runStatsInterval, layer, bus, emitter)
	}

	var consumed, samples int
	for runBatches == 0 || consumed < runBatches {
		b, err := layer.Consume()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, batchsupplier.ErrStopped) {
				slog.Info("clipfeed: interrupted, stopping")
				break
			}
			return err
		}
		consumed++
		samples += b.Size
		slog.Debug("clipfeed: batch consumed",
			"seq", b.Seq,
			"trace_id", b.TraceID,
			"epoch", b.Epoch,
			"skipped", b.Skipped,
		)
	}

	if err := layer.Close(); err != nil {
		slog.Error("clipfeed: failed to stop pipeline gracefully", "error", err)
	}
	printFinalStats(layer, consumed, samples, time.Since(started), emitter)
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("clipfeed: serving metrics", "addr", addr, "path", "/metrics")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("clipfeed: metrics server failed", "error", err)
		}
	}()
	return srv
}

func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, layer *datalayer.Layer, bus eventbus.Bus) (*telemetry.Emitter, error) {
	emitter, err := telemetry.NewEmitter(cfg, layer.Stats, bus)
	if err != nil {
		return nil, err
	}
	if err := emitter.Connect(ctx); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if err := emitter.Start(ctx); err != nil {
		return nil, err
	}
	return emitter, nil
}

// Command clipfeed runs the video/image ingestion pipeline outside a training
// process: consume batches, dump them, preview them, compute a mean file or
// probe the shapes a configuration produces.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var (
	debugLogs bool
	logFormat string

	rootCmd = &cobra.Command{
		Use:           "clipfeed",
		Short:         "Video and image batch ingestion pipeline",
		Long:          `clipfeed decodes still images, frame directories and video clips listed in a manifest and assembles them into prefetched, transformed tensor batches.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(debugLogs, logFormat)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(runCmd, dumpCmd, previewCmd, meanCmd, probeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("clipfeed: command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool, format string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid --log-format %q (must be text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

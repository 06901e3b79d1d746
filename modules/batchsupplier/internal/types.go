package internal

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/clipfeed/internal/metrics"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/volume"
)

var (
	// ErrStopped is returned by Consume after Stop.
	ErrStopped = errors.New("batchsupplier: stopped")

	// ErrNotStarted is returned by Consume before Start.
	ErrNotStarted = errors.New("batchsupplier: not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("batchsupplier: already started")
)

// Filler writes exactly Batch.Size samples into a batch.
//
// Contract:
//   - Called only from the fill loop goroutine (never concurrently)
//   - On success every slot, Indices and (if present) Labels are written
//   - On error the batch is discarded; the error becomes sticky
type Filler interface {
	Fill(ctx context.Context, b *Batch) error
}

// FillerFunc adapts a function to Filler.
type FillerFunc func(ctx context.Context, b *Batch) error

// Fill implements Filler.
func (f FillerFunc) Fill(ctx context.Context, b *Batch) error { return f(ctx, b) }

// Config sizes the supplier.
type Config struct {
	// BatchSize is B.
	BatchSize int

	// SampleShape is the per-sample output shape.
	SampleShape volume.Shape

	// NumLabels is the label count per sample; 0 disables labels.
	NumLabels int

	// Buffers is the number of preallocated batches (>= 2, default 2).
	Buffers int

	// Bus receives one event per completed batch (optional).
	Bus eventbus.Bus

	// Metrics records fill and wait times (optional).
	Metrics *metrics.Pipeline
}

// SupplierStats is a snapshot of supplier operational state.
type SupplierStats struct {
	// BatchesFilled counts completed fills.
	BatchesFilled uint64

	// BatchesConsumed counts batches handed to the consumer.
	BatchesConsumed uint64

	// SamplesSkipped totals Batch.Skipped over all fills.
	SamplesSkipped uint64

	// ReadyDepth is the number of filled batches waiting.
	ReadyDepth int

	// Epoch is the epoch of the last filled batch.
	Epoch int

	// LastFill is the duration of the last fill.
	LastFill time.Duration

	// TotalWait is the cumulative time Consume blocked.
	// Near zero means the producer keeps up with the consumer.
	TotalWait time.Duration

	// Err is the sticky fill error, if any.
	Err error

	// Cadence summarizes recent batch completion times.
	Cadence CadenceStats
}

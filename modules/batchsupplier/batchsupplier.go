// Package batchsupplier prefetches training batches on a background
// goroutine while the consumer works on the previous one.
//
// Design:
//   - N preallocated batch buffers (N >= 2, double buffering by default)
//   - One long-lived fill goroutine, started once, never one per batch
//   - Blocking Consume() with sync.Cond handoff, FIFO order
//   - Sticky fill errors, delivered after the batches completed before them
//   - Stop() never interrupts a fill: no partial batch is ever exposed
package batchsupplier

import (
	"context"

	"github.com/e7canasta/clipfeed/modules/batchsupplier/internal"
)

// Batch is re-exported from the internal package.
// See internal/batch.go for the ownership contract.
type Batch = internal.Batch

// Filler writes one batch. See internal/types.go.
type Filler = internal.Filler

// FillerFunc adapts a function to Filler.
type FillerFunc = internal.FillerFunc

// Config sizes the supplier.
type Config = internal.Config

// SupplierStats is an operational snapshot.
type SupplierStats = internal.SupplierStats

// CadenceStats summarizes batch completion regularity.
type CadenceStats = internal.CadenceStats

var (
	ErrStopped        = internal.ErrStopped
	ErrNotStarted     = internal.ErrNotStarted
	ErrAlreadyStarted = internal.ErrAlreadyStarted
)

// Supplier is the public interface of the prefetcher.
//
// Lifecycle: New() → Start() → Consume()... → Stop()
type Supplier interface {
	// Start spawns the fill loop; the first fill begins immediately.
	// Returns ErrAlreadyStarted on a second call.
	Start(ctx context.Context) error

	// Stop waits for the fill in progress, then shuts the loop down.
	// Idempotent. After Stop, Consume returns ErrStopped.
	Stop() error

	// Consume hands the previous batch back to the producer and blocks until
	// the next one is ready.
	//
	// The returned batch stays valid until the next Consume call.
	//
	// Example:
	//   for {
	//       b, err := supplier.Consume()
	//       if err != nil { return err }
	//       train(b.Data, b.Labels)
	//   }
	Consume() (*Batch, error)

	// Stats returns a non-blocking snapshot.
	Stats() SupplierStats
}

// New validates cfg and preallocates cfg.Buffers batches.
func New(cfg Config, filler Filler) (Supplier, error) {
	s, err := internal.NewSupplier(cfg, filler)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CalculateCadence computes batch-rate statistics from completion times.
var CalculateCadence = internal.CalculateCadence

// Package internal implements the batch supplier.
//
// This package is INTERNAL - clients MUST use the public API in the parent package.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/e7canasta/clipfeed/modules/eventbus"
)

// supplier is the concrete implementation of batchsupplier.Supplier.
//
// Goroutine topology:
//   - 1 fixed: fillLoop (spawned by Start, joined by Stop)
//   - 1 external: the consumer calling Consume
//
// Buffer lifecycle (all transitions under mu):
//
//	free ──fillLoop──▶ ready ──Consume──▶ active ──next Consume──▶ free
//
// Thread-safety: all public methods are safe for concurrent use, but batches
// are handed out to a single consumer.
type supplier struct {
	cfg    Config
	filler Filler

	// --- Mailbox ---

	mu       sync.Mutex
	cond     *sync.Cond
	free     []*Batch
	ready    []*Batch
	active   *Batch
	fillErr  error // sticky
	stopping bool  // Stop called: no new fills, Consume returns ErrStopped
	loopDone bool  // fillLoop exited
	epoch    int
	cadence  cadenceRing

	// --- Counters (atomic, read by Stats without mu) ---

	seq             uint64
	batchesFilled   uint64
	batchesConsumed uint64
	samplesSkipped  uint64
	lastFillNanos   int64
	waitNanos       int64

	// --- Lifecycle ---

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopped   bool
}

// NewSupplier validates cfg and preallocates every batch buffer.
func NewSupplier(cfg Config, filler Filler) (*supplier, error) {
	if filler == nil {
		return nil, fmt.Errorf("batchsupplier: nil filler")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batchsupplier: batch size must be positive, got %d", cfg.BatchSize)
	}
	if err := cfg.SampleShape.Validate(); err != nil {
		return nil, fmt.Errorf("batchsupplier: sample shape: %w", err)
	}
	if cfg.NumLabels < 0 {
		return nil, fmt.Errorf("batchsupplier: negative label count %d", cfg.NumLabels)
	}
	if cfg.Buffers == 0 {
		cfg.Buffers = 2
	}
	if cfg.Buffers < 2 {
		return nil, fmt.Errorf("batchsupplier: need at least 2 buffers, got %d", cfg.Buffers)
	}

	s := &supplier{cfg: cfg, filler: filler}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < cfg.Buffers; i++ {
		s.free = append(s.free, newBatch(cfg.BatchSize, cfg.NumLabels, cfg.SampleShape))
	}

	slog.Info("batchsupplier: buffers allocated",
		"buffers", cfg.Buffers,
		"batch_size", cfg.BatchSize,
		"sample_shape", cfg.SampleShape.String(),
		"labels", cfg.NumLabels,
		"memory", humanize.IBytes(uint64(cfg.Buffers)*s.free[0].Bytes()),
	)
	return s, nil
}

// Start spawns the fill loop. The first fill begins immediately.
func (s *supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	// Wake the loop and the consumer when the caller's context ends.
	context.AfterFunc(s.ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})

	s.wg.Add(1)
	go s.fillLoop()

	slog.Info("batchsupplier: started")
	return nil
}

// Stop waits for the fill in progress to complete, then shuts down.
//
// No partial batch is ever exposed: a fill is never interrupted by Stop.
// Idempotent.
func (s *supplier) Stop() error {
	s.startedMu.Lock()
	if !s.started || s.stopped {
		s.startedMu.Unlock()
		return nil
	}
	s.stopped = true
	s.startedMu.Unlock()

	s.mu.Lock()
	s.stopping = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()

	slog.Info("batchsupplier: stopped",
		"filled", atomic.LoadUint64(&s.batchesFilled),
		"consumed", atomic.LoadUint64(&s.batchesConsumed),
	)
	return nil
}

// Consume releases the previously returned batch and blocks until the next
// one is ready.
//
// Order is FIFO. A fill error is returned only after all batches completed
// before it were delivered; from then on every call returns it.
func (s *supplier) Consume() (*Batch, error) {
	s.startedMu.Lock()
	started := s.started
	s.startedMu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	waitStart := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.free = append(s.free, s.active)
		s.active = nil
		s.cond.Broadcast()
	}

	for len(s.ready) == 0 && s.fillErr == nil && !s.stopping && !s.loopDone {
		s.cond.Wait()
	}

	if s.stopping {
		return nil, ErrStopped
	}
	if len(s.ready) > 0 {
		b := s.ready[0]
		s.ready = s.ready[1:]
		s.active = b

		waited := time.Since(waitStart)
		atomic.AddInt64(&s.waitNanos, int64(waited))
		atomic.AddUint64(&s.batchesConsumed, 1)
		s.cfg.Metrics.ObserveWait(waited)
		s.cfg.Metrics.SetReady(len(s.ready))
		return b, nil
	}
	if s.fillErr != nil {
		return nil, s.fillErr
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStopped, err)
	}
	return nil, ErrStopped
}

// fillLoop is the single long-lived producer.
//
// Algorithm:
//  1. Wait for a free buffer (sync.Cond)
//  2. Fill it outside the lock
//  3. Stamp Seq, TraceID, FilledAt and queue it as ready
//  4. Publish a BatchReady event, record metrics
//  5. Repeat until Stop, context end or a fill error
func (s *supplier) fillLoop() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.loopDone = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		for len(s.free) == 0 && !s.stopping && s.ctx.Err() == nil {
			s.cond.Wait()
		}
		if s.stopping || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		b := s.free[0]
		s.free = s.free[1:]
		s.mu.Unlock()

		b.reset()
		started := time.Now()
		err := s.filler.Fill(s.ctx, b)
		elapsed := time.Since(started)

		if err != nil {
			s.mu.Lock()
			s.free = append(s.free, b)
			shutdown := s.ctx.Err() != nil && errors.Is(err, s.ctx.Err())
			if !shutdown {
				s.fillErr = err
			}
			s.cond.Broadcast()
			s.mu.Unlock()

			if shutdown {
				return
			}
			slog.Error("batchsupplier: fill failed", "error", err, "fill_ms", elapsed.Milliseconds())
			s.publish(eventbus.Event{Kind: eventbus.FillFailed, Err: err.Error(), Timestamp: time.Now()})
			return
		}

		b.Seq = atomic.AddUint64(&s.seq, 1)
		b.TraceID = uuid.NewString()
		b.FilledAt = time.Now()
		b.FillDuration = elapsed

		atomic.AddUint64(&s.batchesFilled, 1)
		atomic.AddUint64(&s.samplesSkipped, uint64(b.Skipped))
		atomic.StoreInt64(&s.lastFillNanos, int64(elapsed))

		s.mu.Lock()
		s.ready = append(s.ready, b)
		s.epoch = b.Epoch
		s.cadence.add(b.FilledAt)
		depth := len(s.ready)
		s.cond.Broadcast()
		s.mu.Unlock()

		s.cfg.Metrics.ObserveFill(elapsed, b.Size)
		s.cfg.Metrics.SetReady(depth)
		s.cfg.Metrics.SetEpoch(b.Epoch)

		slog.Debug("batchsupplier: fill complete",
			"seq", b.Seq,
			"trace_id", b.TraceID,
			"epoch", b.Epoch,
			"skipped", b.Skipped,
			"fill_ms", elapsed.Milliseconds(),
			"ready", depth,
		)
		s.publish(eventbus.Event{
			Kind:      eventbus.BatchReady,
			Seq:       b.Seq,
			Epoch:     b.Epoch,
			TraceID:   b.TraceID,
			BatchSize: b.Size,
			Skipped:   b.Skipped,
			Fill:      elapsed,
			Timestamp: b.FilledAt,
		})
	}
}

func (s *supplier) publish(ev eventbus.Event) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(ev)
	}
}

package internal

import (
	"sync/atomic"
	"time"
)

// Stats returns an operational snapshot (implements Supplier.Stats).
//
// Counters are atomic reads; queue depth, epoch, the sticky error and the
// cadence window are read under mu for a consistent view.
func (s *supplier) Stats() SupplierStats {
	stats := SupplierStats{
		BatchesFilled:   atomic.LoadUint64(&s.batchesFilled),
		BatchesConsumed: atomic.LoadUint64(&s.batchesConsumed),
		SamplesSkipped:  atomic.LoadUint64(&s.samplesSkipped),
		LastFill:        time.Duration(atomic.LoadInt64(&s.lastFillNanos)),
		TotalWait:       time.Duration(atomic.LoadInt64(&s.waitNanos)),
	}

	s.mu.Lock()
	stats.ReadyDepth = len(s.ready)
	stats.Epoch = s.epoch
	stats.Err = s.fillErr
	times := s.cadence.ordered()
	s.mu.Unlock()

	stats.Cadence = CalculateCadence(times)
	return stats
}

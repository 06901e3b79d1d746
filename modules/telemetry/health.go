package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/eventbus"
)

// Health states
const (
	StatusStarting = "starting" // no batch filled yet
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded" // samples skipped since the previous snapshot
	StatusFailed   = "failed"   // sticky fill error
)

// Health is one pipeline snapshot as published on the health topic.
type Health struct {
	InstanceID    string `json:"instance_id" msgpack:"instance_id"`
	Status        string `json:"status" msgpack:"status"`
	UptimeSeconds int64  `json:"uptime_seconds" msgpack:"uptime_seconds"`

	BatchesFilled   uint64 `json:"batches_filled" msgpack:"batches_filled"`
	BatchesConsumed uint64 `json:"batches_consumed" msgpack:"batches_consumed"`
	SamplesSkipped  uint64 `json:"samples_skipped" msgpack:"samples_skipped"`
	ReadyDepth      int    `json:"ready_depth" msgpack:"ready_depth"`
	Epoch           int    `json:"epoch" msgpack:"epoch"`

	LastFillMS    float64 `json:"last_fill_ms" msgpack:"last_fill_ms"`
	AvgWaitMS     float64 `json:"avg_wait_ms" msgpack:"avg_wait_ms"`
	BatchesPerSec float64 `json:"batches_per_sec" msgpack:"batches_per_sec"`
	Stable        bool    `json:"stable" msgpack:"stable"`

	LastSeq     uint64 `json:"last_seq,omitempty" msgpack:"last_seq,omitempty"`
	LastTraceID string `json:"last_trace_id,omitempty" msgpack:"last_trace_id,omitempty"`
	Error       string `json:"error,omitempty" msgpack:"error,omitempty"`

	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// BuildHealth derives a snapshot from supplier stats and the latest batch
// event. prevSkipped is SamplesSkipped of the previous snapshot.
func BuildHealth(instanceID string, started time.Time, stats batchsupplier.SupplierStats, last *eventbus.Event, prevSkipped uint64, now time.Time) Health {
	h := Health{
		InstanceID:      instanceID,
		Status:          StatusHealthy,
		UptimeSeconds:   int64(now.Sub(started).Seconds()),
		BatchesFilled:   stats.BatchesFilled,
		BatchesConsumed: stats.BatchesConsumed,
		SamplesSkipped:  stats.SamplesSkipped,
		ReadyDepth:      stats.ReadyDepth,
		Epoch:           stats.Epoch,
		LastFillMS:      float64(stats.LastFill.Microseconds()) / 1000,
		BatchesPerSec:   stats.Cadence.RateMean,
		Stable:          stats.Cadence.IsStable,
		Timestamp:       now,
	}
	if stats.BatchesConsumed > 0 {
		h.AvgWaitMS = float64(stats.TotalWait.Microseconds()) / 1000 / float64(stats.BatchesConsumed)
	}
	if last != nil && last.Kind == eventbus.BatchReady {
		h.LastSeq = last.Seq
		h.LastTraceID = last.TraceID
	}

	switch {
	case stats.Err != nil:
		h.Status = StatusFailed
		h.Error = stats.Err.Error()
	case stats.BatchesFilled == 0:
		h.Status = StatusStarting
	case stats.SamplesSkipped > prevSkipped:
		h.Status = StatusDegraded
	}
	return h
}

// Encode serializes h in the given format (config.FormatJSON or
// config.FormatMsgpack).
func Encode(h Health, format string) ([]byte, error) {
	switch format {
	case config.FormatJSON, "":
		return json.Marshal(h)
	case config.FormatMsgpack:
		return msgpack.Marshal(h)
	default:
		return nil, fmt.Errorf("telemetry: unknown format %q", format)
	}
}

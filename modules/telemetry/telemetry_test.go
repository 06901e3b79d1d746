package telemetry_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/eventbus"
	"github.com/e7canasta/clipfeed/modules/telemetry"
)

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{topic, qos, payload})
	return nil
}

func (p *fakePublisher) messages() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func TestBuildHealthStatus(t *testing.T) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)

	tests := []struct {
		name        string
		stats       batchsupplier.SupplierStats
		prevSkipped uint64
		want        string
	}{
		{"starting", batchsupplier.SupplierStats{}, 0, telemetry.StatusStarting},
		{"healthy", batchsupplier.SupplierStats{BatchesFilled: 4}, 0, telemetry.StatusHealthy},
		{"degraded", batchsupplier.SupplierStats{BatchesFilled: 4, SamplesSkipped: 3}, 1, telemetry.StatusDegraded},
		{"old skips only", batchsupplier.SupplierStats{BatchesFilled: 4, SamplesSkipped: 3}, 3, telemetry.StatusHealthy},
		{"failed", batchsupplier.SupplierStats{BatchesFilled: 4, Err: errors.New("boom")}, 0, telemetry.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := telemetry.BuildHealth("node-1", started, tt.stats, nil, tt.prevSkipped, now)
			if h.Status != tt.want {
				t.Errorf("Status = %q, want %q", h.Status, tt.want)
			}
			if h.UptimeSeconds != 90 {
				t.Errorf("UptimeSeconds = %d, want 90", h.UptimeSeconds)
			}
		})
	}
}

func TestBuildHealthDerivedFields(t *testing.T) {
	stats := batchsupplier.SupplierStats{
		BatchesFilled:   10,
		BatchesConsumed: 4,
		TotalWait:       40 * time.Millisecond,
		LastFill:        1500 * time.Microsecond,
		Cadence:         batchsupplier.CadenceStats{RateMean: 12.5, IsStable: true},
	}
	last := &eventbus.Event{Kind: eventbus.BatchReady, Seq: 10, TraceID: "abc"}

	h := telemetry.BuildHealth("n", time.Now(), stats, last, 0, time.Now())
	if h.AvgWaitMS != 10 {
		t.Errorf("AvgWaitMS = %v, want 10", h.AvgWaitMS)
	}
	if h.LastFillMS != 1.5 {
		t.Errorf("LastFillMS = %v, want 1.5", h.LastFillMS)
	}
	if h.BatchesPerSec != 12.5 || !h.Stable {
		t.Errorf("cadence fields = %v/%v", h.BatchesPerSec, h.Stable)
	}
	if h.LastSeq != 10 || h.LastTraceID != "abc" {
		t.Errorf("last batch = %d/%q", h.LastSeq, h.LastTraceID)
	}
}

func TestEncodeFormats(t *testing.T) {
	h := telemetry.Health{InstanceID: "node-1", Status: telemetry.StatusHealthy, BatchesFilled: 7}

	data, err := telemetry.Encode(h, config.FormatJSON)
	if err != nil {
		t.Fatalf("Encode(json) failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if fields["instance_id"] != "node-1" || fields["batches_filled"] != float64(7) {
		t.Errorf("json fields = %v", fields)
	}
	if _, ok := fields["error"]; ok {
		t.Error("empty error field was not omitted")
	}

	data, err = telemetry.Encode(h, config.FormatMsgpack)
	if err != nil {
		t.Fatalf("Encode(msgpack) failed: %v", err)
	}
	var back telemetry.Health
	if err := msgpack.Unmarshal(data, &back); err != nil {
		t.Fatalf("payload is not msgpack: %v", err)
	}
	if back.Status != telemetry.StatusHealthy || back.BatchesFilled != 7 {
		t.Errorf("msgpack decoded = %+v", back)
	}

	if _, err := telemetry.Encode(h, "xml"); err == nil {
		t.Error("Encode(xml) succeeded, want error")
	}
}

// TestEmitterPublishesLatestBatch validates the emitter loop without a broker.
//
// Scenario:
//  1. Two batch events are published on the bus
//  2. PublishNow sends one snapshot
//  3. Assert: topic, QoS, and the newest batch sequence in the payload
//  4. Stop sends a final snapshot
func TestEmitterPublishesLatestBatch(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	pub := &fakePublisher{}

	cfg := config.TelemetryConfig{
		Broker:     "localhost:1883",
		InstanceID: "node-1",
		Topic:      "clipfeed/health/node-1",
		IntervalS:  60,
		QoS:        1,
		Format:     config.FormatJSON,
	}
	stats := func() batchsupplier.SupplierStats {
		return batchsupplier.SupplierStats{BatchesFilled: 2}
	}

	e, err := telemetry.NewEmitter(cfg, stats, bus, telemetry.WithPublisher(pub))
	if err != nil {
		t.Fatalf("NewEmitter() failed: %v", err)
	}
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	bus.Publish(eventbus.Event{Kind: eventbus.BatchReady, Seq: 1, TraceID: "a"})
	bus.Publish(eventbus.Event{Kind: eventbus.BatchReady, Seq: 2, TraceID: "b"})

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}

	msgs := pub.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1 (final snapshot)", len(msgs))
	}
	if msgs[0].topic != cfg.Topic || msgs[0].qos != 1 {
		t.Errorf("message topic/qos = %s/%d", msgs[0].topic, msgs[0].qos)
	}
	var h telemetry.Health
	if err := json.Unmarshal(msgs[0].payload, &h); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if h.LastSeq != 2 || h.LastTraceID != "b" || h.Status != telemetry.StatusHealthy {
		t.Errorf("health = %+v, want last seq 2", h)
	}
	if got := e.Stats().Published; got != 1 {
		t.Errorf("Stats().Published = %d, want 1", got)
	}
	t.Logf("✅ %s", msgs[0].payload)
}

func TestEmitterCountsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	e, err := telemetry.NewEmitter(config.TelemetryConfig{Topic: "t"},
		func() batchsupplier.SupplierStats { return batchsupplier.SupplierStats{} },
		nil, telemetry.WithPublisher(pub))
	if err != nil {
		t.Fatalf("NewEmitter() failed: %v", err)
	}

	e.PublishNow()
	e.PublishNow()

	stats := e.Stats()
	if stats.Errors != 2 || stats.Published != 0 {
		t.Errorf("Stats() = %+v, want 2 errors", stats)
	}
	if stats.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestEmitterRequiresConnection(t *testing.T) {
	e, err := telemetry.NewEmitter(config.TelemetryConfig{Topic: "t"},
		func() batchsupplier.SupplierStats { return batchsupplier.SupplierStats{} }, nil)
	if err != nil {
		t.Fatalf("NewEmitter() failed: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("Start() without Connect succeeded")
	}
	if _, err := telemetry.NewEmitter(config.TelemetryConfig{}, nil, nil); err == nil {
		t.Error("NewEmitter(nil stats) succeeded")
	}
}

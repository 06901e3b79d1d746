// Package telemetry publishes periodic pipeline health snapshots to MQTT.
//
// The emitter never sits on the fill path: it reads supplier stats on a ticker
// and observes batches through a latest-only event bus subscription, so a
// slow or disconnected broker cannot stall training.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/clipfeed/internal/config"
	"github.com/e7canasta/clipfeed/modules/batchsupplier"
	"github.com/e7canasta/clipfeed/modules/eventbus"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	subscriberID   = "telemetry"
)

// Publisher sends one payload. The MQTT client is the production Publisher.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// StatsFunc returns the current supplier snapshot.
type StatsFunc func() batchsupplier.SupplierStats

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
	LastError string
}

// Option customizes an Emitter.
type Option func(*Emitter)

// WithPublisher replaces the MQTT client, skipping Connect.
func WithPublisher(p Publisher) Option {
	return func(e *Emitter) { e.publisher = p }
}

// WithClock overrides time.Now for snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// Emitter publishes Health snapshots every IntervalS seconds.
//
// Lifecycle: NewEmitter() → Connect() → Start() → Stop()
type Emitter struct {
	cfg    config.TelemetryConfig
	stats  StatsFunc
	bus    eventbus.Bus
	latest eventbus.Receiver

	client    mqtt.Client
	publisher Publisher
	now       func() time.Time

	// --- snapshot state, owned by the loop ---
	started     time.Time
	last        *eventbus.Event
	prevSkipped uint64

	published uint64
	errors    uint64

	mu        sync.RWMutex
	connected bool
	lastErr   string

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runMu     sync.Mutex
	isRunning bool
}

// NewEmitter subscribes to bus (may be nil) and prepares an emitter for cfg.
// cfg must already be validated.
func NewEmitter(cfg config.TelemetryConfig, stats StatsFunc, bus eventbus.Bus, opts ...Option) (*Emitter, error) {
	if stats == nil {
		return nil, fmt.Errorf("telemetry: nil stats function")
	}
	e := &Emitter{cfg: cfg, stats: stats, bus: bus, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher != nil {
		e.connected = true
	}
	if bus != nil {
		latest, err := bus.SubscribeLatest(subscriberID)
		if err != nil {
			return nil, fmt.Errorf("telemetry: subscribe: %w", err)
		}
		e.latest = latest
	}
	return e, nil
}

// Connect establishes the MQTT connection with automatic reconnection.
// A no-op when a Publisher was injected.
func (e *Emitter) Connect(ctx context.Context) error {
	if e.publisher != nil {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)
	slog.Info("telemetry: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout after %v", connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	e.publisher = mqttPublisher{client: e.client}
	return nil
}

// Start spawns the publishing loop. The first snapshot goes out after one
// interval.
func (e *Emitter) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.isRunning {
		return fmt.Errorf("telemetry: already started")
	}
	if e.publisher == nil {
		return fmt.Errorf("telemetry: not connected")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = e.now()
	e.isRunning = true

	interval := time.Duration(e.cfg.IntervalS) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	e.wg.Add(1)
	go e.loop(interval)

	slog.Info("telemetry: started",
		"topic", e.cfg.Topic,
		"interval", interval,
		"format", e.cfg.Format,
		"qos", e.cfg.QoS,
	)
	return nil
}

// Stop publishes a final snapshot, stops the loop and disconnects. Idempotent.
func (e *Emitter) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.isRunning {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	e.isRunning = false

	e.PublishNow()

	if e.bus != nil {
		_ = e.bus.Unsubscribe(subscriberID)
	}
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

func (e *Emitter) loop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.PublishNow()
		}
	}
}

// PublishNow builds and publishes one snapshot. Not safe for concurrent use
// with the loop; Stop calls it after the loop exited.
func (e *Emitter) PublishNow() {
	if e.latest != nil {
		if ev, ok := e.latest.TryReceive(); ok {
			e.last = &ev
		}
	}

	stats := e.stats()
	h := BuildHealth(e.cfg.InstanceID, e.started, stats, e.last, e.prevSkipped, e.now())
	e.prevSkipped = stats.SamplesSkipped

	payload, err := Encode(h, e.cfg.Format)
	if err == nil {
		err = e.publish(payload)
	}
	if err != nil {
		atomic.AddUint64(&e.errors, 1)
		e.mu.Lock()
		e.lastErr = err.Error()
		e.mu.Unlock()
		slog.Warn("telemetry: publish failed", "topic", e.cfg.Topic, "error", err)
		return
	}

	atomic.AddUint64(&e.published, 1)
	slog.Debug("telemetry: health published",
		"topic", e.cfg.Topic,
		"status", h.Status,
		"size", len(payload),
	)
}

func (e *Emitter) publish(payload []byte) error {
	if !e.isConnected() {
		return fmt.Errorf("telemetry: mqtt not connected")
	}
	return e.publisher.Publish(e.cfg.Topic, e.cfg.QoS, payload)
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: atomic.LoadUint64(&e.published),
		Errors:    atomic.LoadUint64(&e.errors),
		LastError: e.lastErr,
	}
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

// mqttPublisher adapts an mqtt.Client to Publisher.
type mqttPublisher struct {
	client mqtt.Client
}

func (p mqttPublisher) Publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("telemetry: publish timeout")
	}
	return token.Error()
}

// brokerURL accepts "host:port" or a full URL.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

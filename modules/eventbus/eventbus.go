// Package eventbus fans pipeline events out to observers without ever
// blocking the publisher.
//
// The fill loop publishes one Event per completed batch (plus skip and
// failure notices). Observers such as the stats display, the MQTT emitter or
// a progress bar subscribe with one of two drop policies:
//   - DropNew: buffered channel, a full channel drops the incoming event
//   - DropOld: latest-only Receiver, older unread events are overwritten
//
// Usage:
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	ch := make(chan eventbus.Event, 16)
//	bus.Subscribe("progress", ch)
//
//	latest, _ := bus.SubscribeLatest("telemetry")
//	defer latest.Close()
//
//	bus.Publish(eventbus.Event{Kind: eventbus.BatchReady, Seq: 1})
package eventbus

import "github.com/e7canasta/clipfeed/modules/eventbus/internal/bus"

// New creates an empty bus.
func New() Bus {
	return bus.New()
}

// DropPolicy defines how the bus handles a subscriber that cannot keep up.
type DropPolicy = bus.DropPolicy

const (
	DropNew = bus.DropNew
	DropOld = bus.DropOld
)

// Kind tags an Event.
type Kind = bus.Kind

const (
	BatchReady    = bus.BatchReady
	SampleSkipped = bus.SampleSkipped
	FillFailed    = bus.FillFailed
)

// Event is one pipeline notification.
type Event = bus.Event

// Receiver gives latest-only access for DropOld subscribers.
type Receiver = bus.Receiver

// SubscriberStats counts events sent and dropped for one subscriber.
type SubscriberStats = bus.SubscriberStats

// BusStats aggregates counters over all subscribers.
type BusStats = bus.BusStats

// Bus distributes events to subscribers.
type Bus = bus.Bus

var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
)

// DropRate returns the fraction of deliveries dropped (0.0 to 1.0).
func DropRate(stats BusStats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0
	}
	return float64(stats.TotalDropped) / float64(total)
}

package bus

import (
	"errors"
	"time"
)

// Internal errors - mapped to public errors in eventbus package
var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrNilChannel         = errors.New("eventbus: nil channel provided")
)

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// Kind tags what happened in the pipeline.
type Kind int

const (
	// BatchReady is published after every completed batch.
	BatchReady Kind = iota
	// SampleSkipped is published when a training sample failed to decode.
	SampleSkipped
	// FillFailed is published once when the fill loop stops on an error.
	FillFailed
)

func (k Kind) String() string {
	switch k {
	case BatchReady:
		return "batch_ready"
	case SampleSkipped:
		return "sample_skipped"
	case FillFailed:
		return "fill_failed"
	default:
		return "unknown"
	}
}

// Event is one pipeline notification. Fields not relevant to Kind are zero.
type Event struct {
	Kind      Kind
	Seq       uint64
	Epoch     int
	TraceID   string
	BatchSize int
	Skipped   int
	Fill      time.Duration
	Path      string
	Err       string
	Timestamp time.Time
}

// Receiver provides latest-only access for DropOld subscribers
type Receiver interface {
	// Receive blocks until an event newer than the last one received is
	// available. ok is false once the receiver is closed.
	Receive() (ev Event, ok bool)
	TryReceive() (Event, bool)
	Close()
}

// SubscriberStats tracks event distribution for one subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// BusStats contains global and per-subscriber counters
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// Bus distributes events to multiple subscribers
type Bus interface {
	Subscribe(id string, ch chan<- Event) error
	SubscribeLatest(id string) (Receiver, error)
	Publish(ev Event)
	Unsubscribe(id string) error
	Stats() BusStats
	Close()
}

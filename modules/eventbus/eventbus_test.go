package eventbus_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/clipfeed/modules/eventbus"
)

// TestPublishNeverBlocks validates DropNew semantics.
//
// Scenario:
//  1. Subscribe a channel with capacity 2
//  2. Publish 5 events without reading
//  3. Assert: 2 sent, 3 dropped, Publish returned promptly
func TestPublishNeverBlocks(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	ch := make(chan eventbus.Event, 2)
	if err := bus.Subscribe("slow", ch); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	start := time.Now()
	for i := 1; i <= 5; i++ {
		bus.Publish(eventbus.Event{Kind: eventbus.BatchReady, Seq: uint64(i)})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Publish() blocked: %v", elapsed)
	}

	stats := bus.Stats()
	if stats.TotalPublished != 5 {
		t.Errorf("TotalPublished = %d, want 5", stats.TotalPublished)
	}
	sub := stats.Subscribers["slow"]
	if sub.Sent != 2 || sub.Dropped != 3 {
		t.Errorf("slow stats = %+v, want Sent=2 Dropped=3", sub)
	}
	if got := (<-ch).Seq; got != 1 {
		t.Errorf("first event Seq = %d, want 1 (oldest kept)", got)
	}
	if rate := eventbus.DropRate(stats); rate != 0.6 {
		t.Errorf("DropRate() = %v, want 0.6", rate)
	}
	t.Logf("✅ 5 publishes, %d dropped", sub.Dropped)
}

// TestLatestReceiver validates DropOld semantics: only the newest event is
// observed and Receive blocks until something new arrives.
func TestLatestReceiver(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	latest, err := bus.SubscribeLatest("telemetry")
	if err != nil {
		t.Fatalf("SubscribeLatest() failed: %v", err)
	}

	if _, ok := latest.TryReceive(); ok {
		t.Fatal("TryReceive() on empty receiver returned an event")
	}

	for i := 1; i <= 3; i++ {
		bus.Publish(eventbus.Event{Seq: uint64(i)})
	}
	ev, ok := latest.Receive()
	if !ok || ev.Seq != 3 {
		t.Fatalf("Receive() = %+v/%v, want Seq 3", ev, ok)
	}
	if _, ok := latest.TryReceive(); ok {
		t.Error("TryReceive() returned an already received event")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ev, ok := latest.Receive()
		if !ok || ev.Seq != 4 {
			t.Errorf("blocked Receive() = %+v/%v, want Seq 4", ev, ok)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	bus.Publish(eventbus.Event{Seq: 4})
	wg.Wait()

	if got := bus.Stats().Subscribers["telemetry"].Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2 (events 1 and 2 overwritten)", got)
	}
}

func TestSubscriptionErrors(t *testing.T) {
	bus := eventbus.New()

	ch := make(chan eventbus.Event, 1)
	if err := bus.Subscribe("a", ch); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate id", bus.Subscribe("a", ch), eventbus.ErrSubscriberExists},
		{"nil channel", bus.Subscribe("b", nil), eventbus.ErrNilChannel},
		{"unknown unsubscribe", bus.Unsubscribe("zzz"), eventbus.ErrSubscriberNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if err := bus.Unsubscribe("a"); err != nil {
		t.Errorf("Unsubscribe() failed: %v", err)
	}

	latest, _ := bus.SubscribeLatest("l")
	bus.Close()
	bus.Close()

	if _, ok := latest.Receive(); ok {
		t.Error("Receive() after Close returned an event")
	}
	if err := bus.Subscribe("c", ch); !errors.Is(err, eventbus.ErrBusClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrBusClosed", err)
	}
	bus.Publish(eventbus.Event{})
}

func TestKindString(t *testing.T) {
	tests := map[eventbus.Kind]string{
		eventbus.BatchReady:    "batch_ready",
		eventbus.SampleSkipped: "sample_skipped",
		eventbus.FillFailed:    "fill_failed",
		eventbus.Kind(99):      "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}

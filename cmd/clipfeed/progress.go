package main

import (
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/e7canasta/clipfeed/modules/eventbus"
)

const progressSubscriber = "progress"

// progressWatcher mirrors fill events into a progress bar description, so the
// bar shows how far the prefetcher is ahead and how many samples it skipped.
//
// It subscribes with DropNew: a slow terminal loses description updates, never
// pipeline throughput. Counts are exact only up to the channel capacity.
type progressWatcher struct {
	bus  eventbus.Bus
	ch   chan eventbus.Event
	done chan struct{}
	once sync.Once

	filled  int
	skipped int
}

func watchProgress(bus eventbus.Bus, bar *progressbar.ProgressBar, verb string) (*progressWatcher, error) {
	w := &progressWatcher{
		bus:  bus,
		ch:   make(chan eventbus.Event, 64),
		done: make(chan struct{}),
	}
	if err := bus.Subscribe(progressSubscriber, w.ch); err != nil {
		return nil, fmt.Errorf("failed to subscribe progress: %w", err)
	}
	go w.loop(bar, verb)
	return w, nil
}

func (w *progressWatcher) loop(bar *progressbar.ProgressBar, verb string) {
	defer close(w.done)
	for ev := range w.ch {
		switch ev.Kind {
		case eventbus.BatchReady:
			w.filled++
		case eventbus.SampleSkipped:
			w.skipped++
		default:
			continue
		}
		bar.Describe(progressDescription(verb, w.filled, w.skipped))
	}
}

// Stop detaches from the bus and returns the final counts. It is idempotent.
// After Unsubscribe returns no publisher can send on ch, so closing it is safe.
func (w *progressWatcher) Stop() (filled, skipped int) {
	w.once.Do(func() {
		_ = w.bus.Unsubscribe(progressSubscriber)
		close(w.ch)
	})
	<-w.done
	return w.filled, w.skipped
}

func progressDescription(verb string, filled, skipped int) string {
	if skipped == 0 {
		return fmt.Sprintf("%s (%d filled)", verb, filled)
	}
	return fmt.Sprintf("%s (%d filled, %d skipped)", verb, filled, skipped)
}

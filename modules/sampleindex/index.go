// Package sampleindex owns the dataset traversal: the manifest entries, the
// (optionally shuffled) visiting order and the epoch cursor.
//
// Invariants:
//   - order is always a permutation of [0, N)
//   - cursor stays in [0, N); reaching N resets it to 0, bumps the epoch and
//     re-permutes when shuffling is enabled
//
// Thread-safety: an Index is owned by the single fill goroutine and is not
// safe for concurrent use.
package sampleindex

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
)

// Options configures traversal.
type Options struct {
	// Shuffle re-permutes the order at construction and at every wraparound.
	Shuffle bool

	// Rand drives the permutation. Required when Shuffle is true.
	Rand *rand.Rand
}

// Index is the Sample Index.
type Index struct {
	entries []Entry
	order   []int
	cursor  int
	epoch   int
	shuffle bool
	rng     *rand.Rand
}

// New builds an index over entries.
func New(entries []Entry, opts Options) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyManifest
	}
	if opts.Shuffle && opts.Rand == nil {
		return nil, errors.New("sampleindex: shuffle requires a random source")
	}

	x := &Index{
		entries: entries,
		order:   make([]int, len(entries)),
		shuffle: opts.Shuffle,
		rng:     opts.Rand,
	}
	for i := range x.order {
		x.order[i] = i
	}
	if x.shuffle {
		x.permute()
		slog.Info("sampleindex: shuffling enabled", "entries", len(entries))
	}
	return x, nil
}

// Advance returns the dataset index at the cursor and moves the cursor forward.
func (x *Index) Advance() int {
	idx := x.order[x.cursor]
	x.step()
	return idx
}

// Peek returns the index the next Advance will return.
func (x *Index) Peek() int {
	return x.order[x.cursor]
}

// Skip moves the cursor forward by k without emitting. Used once at startup to
// resume a partially consumed epoch.
func (x *Index) Skip(k int) error {
	if k < 0 {
		return fmt.Errorf("sampleindex: negative skip %d", k)
	}
	if k >= len(x.order) {
		return fmt.Errorf("sampleindex: not enough entries to skip: skip=%d entries=%d", k, len(x.order))
	}
	for i := 0; i < k; i++ {
		x.step()
	}
	return nil
}

// RandomSkip draws k uniformly from [0, bound) with r and skips k entries.
// r must be independent of the shuffle generator. A bound <= 0 skips nothing.
func (x *Index) RandomSkip(bound int, r *rand.Rand) (int, error) {
	if bound <= 0 {
		return 0, nil
	}
	if r == nil {
		return 0, errors.New("sampleindex: random skip requires a random source")
	}
	k := r.Intn(bound)
	if err := x.Skip(k); err != nil {
		return 0, err
	}
	slog.Info("sampleindex: skipping first entries", "skip", k, "bound", bound)
	return k, nil
}

// Len returns the number of entries.
func (x *Index) Len() int { return len(x.entries) }

// Cursor returns the current cursor position in [0, N).
func (x *Index) Cursor() int { return x.cursor }

// Epoch returns the number of completed wraparounds.
func (x *Index) Epoch() int { return x.epoch }

// Entry returns the entry at dataset index i.
func (x *Index) Entry(i int) Entry { return x.entries[i] }

// Order returns a copy of the current visiting order.
func (x *Index) Order() []int {
	out := make([]int, len(x.order))
	copy(out, x.order)
	return out
}

func (x *Index) step() {
	x.cursor++
	if x.cursor < len(x.order) {
		return
	}
	x.cursor = 0
	x.epoch++
	if x.shuffle {
		x.permute()
	}
	slog.Debug("sampleindex: epoch wraparound", "epoch", x.epoch, "shuffle", x.shuffle)
}

func (x *Index) permute() {
	x.rng.Shuffle(len(x.order), func(i, j int) {
		x.order[i], x.order[j] = x.order[j], x.order[i]
	})
}

// Package voxel assembles fixed-length temporal windows from a stream of
// frames, one window per call, carrying the tail of the previous window so
// that sliding by one frame costs exactly one decode.
//
// State machine:
//
//	SequenceStart ──Next──▶ MidSequence ──Next──▶ MidSequence
//	      ▲                      │
//	      └────────Reset─────────┘
//
// Window layout is channel-major (C, L, H, W). At SequenceStart the first
// frame is replicated into slots 0..repeatStart so the first real frame sits
// at the window center, repeatStart = (L-1)/2.
//
// Thread-safety: an Assembler is owned by a single goroutine (the fill loop).
package voxel

import (
	"errors"
	"fmt"

	"github.com/e7canasta/clipfeed/modules/volume"
)

var (
	// ErrSequenceEnd is returned by a FrameFunc when the current sequence has
	// no more frames.
	ErrSequenceEnd = errors.New("voxel: end of sequence")

	// ErrNotStarted is returned by PadEnd before any window was assembled.
	ErrNotStarted = errors.New("voxel: no window in progress")
)

// State is the assembler phase.
type State int

const (
	SequenceStart State = iota
	MidSequence
)

func (s State) String() string {
	switch s {
	case SequenceStart:
		return "sequence_start"
	case MidSequence:
		return "mid_sequence"
	default:
		return "unknown"
	}
}

// FrameFunc decodes and transforms exactly one frame into dst.
type FrameFunc func(dst volume.View) error

// Assembler slides an L-frame window over a frame stream.
type Assembler struct {
	frame       volume.Shape
	window      volume.Shape
	length      int
	repeatStart int
	repeatEnd   int

	// carry holds slots 1..L-1 of the last window, laid out (C, L-1, H, W).
	carry []float32
	state State
}

// New returns an assembler for frames of shape (C, H, W) and windows of
// length frames.
func New(frame volume.Shape, length int) (*Assembler, error) {
	frame = frame.FrameShape()
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("voxel: frame shape: %w", err)
	}
	if length < 1 {
		return nil, fmt.Errorf("voxel: window length must be positive, got %d", length)
	}

	repeatStart := (length - 1) / 2
	return &Assembler{
		frame:       frame,
		window:      frame.WithLength(length),
		length:      length,
		repeatStart: repeatStart,
		repeatEnd:   length - 1 - repeatStart,
		carry:       make([]float32, frame.Channels*(length-1)*frame.Height*frame.Width),
		state:       SequenceStart,
	}, nil
}

// WindowShape returns (C, L, H, W).
func (a *Assembler) WindowShape() volume.Shape { return a.window }

// Length returns L.
func (a *Assembler) Length() int { return a.length }

// RepeatStart returns the number of leading copies of the first frame.
func (a *Assembler) RepeatStart() int { return a.repeatStart }

// RepeatEnd returns the number of PadEnd calls that center the last frame.
func (a *Assembler) RepeatEnd() int { return a.repeatEnd }

// State returns the current phase.
func (a *Assembler) State() State { return a.state }

// Reset returns to SequenceStart. The carry is discarded.
func (a *Assembler) Reset() { a.state = SequenceStart }

// FrameView returns the view of slot l in window.
func (a *Assembler) FrameView(window []float32, l int) volume.View {
	return volume.Contiguous(window, 0, a.window).Frame(l)
}

// Next assembles one window into window.
//
// SequenceStart: L-repeatStart calls to produce. If produce reports
// ErrSequenceEnd after the first frame, the remaining slots replicate the
// last produced frame and the window is still complete. A failure on the
// first frame, or any other error, leaves the state at SequenceStart.
//
// MidSequence: exactly one call to produce, into slot L-1. On error the carry
// is untouched so the caller may retry with another frame.
func (a *Assembler) Next(window []float32, produce FrameFunc) error {
	if len(window) != a.window.Count() {
		return fmt.Errorf("voxel: %w: window buffer has %d elements, want %d",
			volume.ErrShape, len(window), a.window.Count())
	}
	view := volume.Contiguous(window, 0, a.window)

	if a.state == MidSequence {
		a.restore(window)
		if err := produce(view.Frame(a.length - 1)); err != nil {
			return err
		}
		a.save(window)
		return nil
	}

	if err := produce(view.Frame(0)); err != nil {
		return err
	}
	for l := 1; l <= a.repeatStart; l++ {
		view.CopyFrame(l, 0)
	}
	for l := a.repeatStart + 1; l < a.length; l++ {
		err := produce(view.Frame(l))
		if errors.Is(err, ErrSequenceEnd) {
			for rest := l; rest < a.length; rest++ {
				view.CopyFrame(rest, l-1)
			}
			break
		}
		if err != nil {
			return err
		}
	}

	a.save(window)
	a.state = MidSequence
	return nil
}

// PadEnd slides the window by one without producing: the newest frame is
// replicated into slot L-1. After RepeatEnd calls the last real frame of the
// sequence sits at the window center.
func (a *Assembler) PadEnd(window []float32) error {
	if a.state != MidSequence {
		return ErrNotStarted
	}
	if len(window) != a.window.Count() {
		return fmt.Errorf("voxel: %w: window buffer has %d elements, want %d",
			volume.ErrShape, len(window), a.window.Count())
	}
	if a.length == 1 {
		return nil
	}

	a.restore(window)
	volume.Contiguous(window, 0, a.window).CopyFrame(a.length-1, a.length-2)
	a.save(window)
	return nil
}

// restore copies the carry into slots 0..L-2.
func (a *Assembler) restore(window []float32) {
	plane := a.frame.Height * a.frame.Width
	n := (a.length - 1) * plane
	for c := 0; c < a.frame.Channels; c++ {
		w := c * a.length * plane
		copy(window[w:w+n], a.carry[c*n:(c+1)*n])
	}
}

// save copies slots 1..L-1 into the carry.
func (a *Assembler) save(window []float32) {
	plane := a.frame.Height * a.frame.Width
	n := (a.length - 1) * plane
	for c := 0; c < a.frame.Channels; c++ {
		w := c*a.length*plane + plane
		copy(a.carry[c*n:(c+1)*n], window[w:w+n])
	}
}

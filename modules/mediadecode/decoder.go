package mediadecode

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/e7canasta/clipfeed/modules/volume"
)

// Decoder turns a Source into a dense volume.
//
// Contract:
//   - Returns a freshly allocated Volume; never writes into caller buffers,
//     so a failure cannot corrupt batch memory.
//   - r is the caller's generator; it is only consulted for StartJitter.
//   - Failures are *DecodeError wrapping one of the package sentinels.
type Decoder interface {
	Decode(ctx context.Context, src Source, r *rand.Rand) (*volume.Volume, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, src Source, r *rand.Rand) (*volume.Volume, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(ctx context.Context, src Source, r *rand.Rand) (*volume.Volume, error) {
	return f(ctx, src, r)
}

// Option configures the dispatching decoder.
type Option func(*dispatcher)

// WithBackend routes kind to d, replacing any default backend.
func WithBackend(kind Kind, d Decoder) Option {
	return func(m *dispatcher) {
		m.backends[kind] = d
	}
}

type dispatcher struct {
	backends map[Kind]Decoder
}

// New returns a Decoder that selects a backend by Source.Kind.
//
// Built in: KindImage, KindImageSequence, KindTensor. KindVideo needs a
// backend (see package gstvideo) passed through WithBackend.
func New(opts ...Option) Decoder {
	m := &dispatcher{backends: map[Kind]Decoder{
		KindImage:         DecoderFunc(decodeImage),
		KindImageSequence: DecoderFunc(decodeSequence),
		KindTensor:        DecoderFunc(decodeTensor),
	}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *dispatcher) Decode(ctx context.Context, src Source, r *rand.Rand) (*volume.Volume, error) {
	backend, ok := m.backends[src.Kind]
	if !ok {
		return nil, decodeErr(src, "", ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := backend.Decode(ctx, src, r)
	if err != nil {
		slog.Debug("mediadecode: decode failed",
			"kind", src.Kind.String(),
			"path", src.Path,
			"category", Classify(err).String(),
			"error", err,
		)
		return nil, err
	}
	if v.Labels == nil {
		v.Labels = src.Labels
	}
	return v, nil
}

// ResolveStart returns the first frame of the window.
//
// available is the number of frames in the source; first is the number of the
// first frame (1 for numbered image sequences, 0 for video). For StartJitter
// the start is first + r.Intn(available-span+1), span = Length*Stride.
// StartFixed trusts the offset; reading past the end fails later.
func ResolveStart(src Source, available, first int, r *rand.Rand) (int, error) {
	switch src.Start.Mode {
	case StartFixed:
		return src.Start.Offset, nil
	case StartJitter, StartFirst:
		span := src.span()
		if available < span {
			return 0, decodeErr(src,
				fmt.Sprintf("have %d frames, need %d (length %d x stride %d)", available, span, src.Length, src.stride()),
				ErrInsufficientFrames)
		}
		if src.Start.Mode == StartFirst {
			return first, nil
		}
		if r == nil {
			return 0, decodeErr(src, "temporal jitter without random source", ErrCorrupt)
		}
		return first + r.Intn(available-span+1), nil
	default:
		return 0, decodeErr(src, fmt.Sprintf("unknown start mode %d", src.Start.Mode), ErrCorrupt)
	}
}

// PackInterleaved copies one interleaved frame (HWC, inChannels per pixel)
// into slice l of a channel-major byte volume. With a single output channel
// the first input channel is taken.
func PackInterleaved(dst *volume.Volume, l int, pix []byte, rowStride, inChannels int) {
	s := dst.Shape
	for c := 0; c < s.Channels; c++ {
		base := dst.Index(c, l, 0, 0)
		for y := 0; y < s.Height; y++ {
			row := pix[y*rowStride:]
			out := dst.Bytes[base+y*s.Width : base+(y+1)*s.Width]
			for x := range out {
				out[x] = row[x*inChannels+c]
			}
		}
	}
}

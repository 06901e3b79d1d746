// Package gstvideo is the GStreamer backend for mediadecode.KindVideo.
//
// Each Decode builds a short-lived file pipeline, pulls decoded RGB (or GRAY8)
// frames synchronously from an appsink and packs the sampled window into a
// channel-major (C, L, H, W) byte volume.
//
// Requirements:
//   - GStreamer 1.x with the base and good plugin sets (decodebin, videoconvert)
//   - Source.Height and Source.Width must be set: the appsink caps lock the size
//
// Kept out of package mediadecode so that the image and tensor paths build
// without cgo.
package gstvideo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/clipfeed/modules/mediadecode"
	"github.com/e7canasta/clipfeed/modules/volume"
)

const pollInterval = 50 * time.Millisecond

// Config tunes the backend.
type Config struct {
	// PullTimeout bounds the wait for any single frame (default 10s).
	PullTimeout time.Duration
}

// Decoder implements mediadecode.Decoder for video files.
type Decoder struct {
	pullTimeout time.Duration
}

// New returns a video decoder with default settings.
func New() *Decoder {
	return NewWithConfig(Config{})
}

// NewWithConfig returns a video decoder.
func NewWithConfig(cfg Config) *Decoder {
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 10 * time.Second
	}
	return &Decoder{pullTimeout: cfg.PullTimeout}
}

// Decode reads src.Length frames, every src.Stride-th frame from the resolved
// start. Frame numbers are 0-based.
func (d *Decoder) Decode(ctx context.Context, src mediadecode.Source, r *rand.Rand) (*volume.Volume, error) {
	if src.Height <= 0 || src.Width <= 0 {
		return nil, failure(src, "video decoding requires height and width", mediadecode.ErrCorrupt)
	}
	if src.Length <= 0 {
		return nil, failure(src, "video length must be positive", mediadecode.ErrCorrupt)
	}
	if _, err := os.Stat(src.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure(src, "", mediadecode.ErrNotFound)
		}
		return nil, failure(src, err.Error(), mediadecode.ErrNotFound)
	}

	started := time.Now()

	start := src.Start.Offset
	if src.Start.Mode != mediadecode.StartFixed {
		total, err := d.frameCount(ctx, src)
		if err != nil {
			return nil, err
		}
		start, err = mediadecode.ResolveStart(src, total, 0, r)
		if err != nil {
			return nil, err
		}
	}

	v, err := d.readWindow(ctx, src, start)
	if err != nil {
		return nil, err
	}

	slog.Debug("gstvideo: clip decoded",
		"path", src.Path,
		"start", start,
		"length", src.Length,
		"stride", src.Stride,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return v, nil
}

func (d *Decoder) readWindow(ctx context.Context, src mediadecode.Source, start int) (*volume.Volume, error) {
	sess, err := d.open(src)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	channels := 3
	if !src.Color {
		channels = 1
	}
	stride := src.Stride
	if stride < 1 {
		stride = 1
	}

	v := volume.NewBytes(volume.Shape{Channels: channels, Length: src.Length, Height: src.Height, Width: src.Width})
	rowBytes := rowStride(src.Width, channels)

	taken := 0
	for idx := 0; taken < src.Length; idx++ {
		keep := idx >= start && (idx-start)%stride == 0
		frame, err := sess.next(ctx, keep)
		if errors.Is(err, io.EOF) {
			return nil, failure(src,
				fmt.Sprintf("end of stream after %d frames, window needs frame %d", idx, start+(src.Length-1)*stride),
				mediadecode.ErrInsufficientFrames)
		}
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		if len(frame) < rowBytes*src.Height {
			return nil, failure(src,
				fmt.Sprintf("frame %d has %d bytes, want %d", idx, len(frame), rowBytes*src.Height),
				mediadecode.ErrCorrupt)
		}
		mediadecode.PackInterleaved(v, taken, frame, rowBytes, channels)
		taken++
	}

	v.Labels = src.Labels
	return v, nil
}

// frameCount asks the pipeline for its duration in frames and falls back to
// decoding the whole stream when the demuxer cannot answer.
func (d *Decoder) frameCount(ctx context.Context, src mediadecode.Source) (int, error) {
	sess, err := d.open(src)
	if err != nil {
		return 0, err
	}
	defer sess.close()

	if _, err := sess.next(ctx, false); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}

	if ok, n := sess.elements.Pipeline.QueryDuration(gst.FormatDefault); ok && n > 0 {
		return int(n), nil
	}

	count := 1
	for {
		_, err := sess.next(ctx, false)
		if errors.Is(err, io.EOF) {
			slog.Debug("gstvideo: frame count by full scan", "path", src.Path, "frames", count)
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}

// session is one playing pipeline.
type session struct {
	src      mediadecode.Source
	elements *pipelineElements
	sink     *app.Sink
	bus      *gst.Bus
	timeout  time.Duration
}

func (d *Decoder) open(src mediadecode.Source) (*session, error) {
	elements, err := createPipeline(pipelineConfig{
		Path:   src.Path,
		Width:  src.Width,
		Height: src.Height,
		Gray:   !src.Color,
	})
	if err != nil {
		return nil, failure(src, err.Error(), mediadecode.ErrCorrupt)
	}

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		destroyPipeline(elements)
		return nil, failure(src, "failed to start pipeline", fmt.Errorf("%w: %v", mediadecode.ErrCorrupt, err))
	}

	return &session{
		src:      src,
		elements: elements,
		sink:     elements.AppSink,
		bus:      elements.Pipeline.GetPipelineBus(),
		timeout:  d.pullTimeout,
	}, nil
}

// next pulls the next decoded frame. The pixel data is copied out only when
// keep is true. io.EOF marks the end of the stream.
func (s *session) next(ctx context.Context, keep bool) ([]byte, error) {
	deadline := time.Now().Add(s.timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.busError(); err != nil {
			return nil, err
		}

		sample := s.sink.TryPullSample(pollInterval)
		if sample != nil {
			if !keep {
				return nil, nil
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return nil, failure(s.src, "sample without buffer", mediadecode.ErrCorrupt)
			}
			mapInfo := buffer.Map(gst.MapRead)
			data := mapInfo.Bytes()
			frame := make([]byte, len(data))
			copy(frame, data)
			buffer.Unmap()
			return frame, nil
		}

		if s.sink.IsEOS() {
			return nil, io.EOF
		}
		if time.Now().After(deadline) {
			return nil, failure(s.src, fmt.Sprintf("no frame within %v", s.timeout), mediadecode.ErrCorrupt)
		}
	}
}

// busError drains pending bus messages without blocking and reports the first
// pipeline error.
func (s *session) busError() error {
	for {
		msg := s.bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		if msg.Type() != gst.MessageError {
			continue
		}
		gerr := msg.ParseError()
		sentinel := classifyGError(gerr)
		slog.Warn("gstvideo: pipeline error",
			"path", s.src.Path,
			"error", gerr.Error(),
			"debug", gerr.DebugString(),
			"category", mediadecode.Classify(sentinel).String(),
		)
		return failure(s.src, gerr.Error(), sentinel)
	}
}

func (s *session) close() {
	if err := destroyPipeline(s.elements); err != nil {
		slog.Warn("gstvideo: pipeline teardown failed", "path", s.src.Path, "error", err)
	}
}

func failure(src mediadecode.Source, reason string, err error) error {
	return &mediadecode.DecodeError{Path: src.Path, Kind: src.Kind, Reason: reason, Err: err}
}

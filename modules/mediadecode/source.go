package mediadecode

import "fmt"

// Kind selects the decoding backend.
type Kind int

const (
	// KindImage is a single still image decoded to (C, H, W).
	KindImage Kind = iota
	// KindImageSequence is a directory of numbered frames decoded to (C, L, H, W).
	KindImageSequence
	// KindVideo is a video container decoded to (C, L, H, W).
	KindVideo
	// KindTensor is a msgpack tensor file (byte or float raw data).
	KindTensor
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindImageSequence:
		return "image_sequence"
	case KindVideo:
		return "video"
	case KindTensor:
		return "tensor"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "image":
		return KindImage, nil
	case "image_sequence":
		return KindImageSequence, nil
	case "video":
		return KindVideo, nil
	case "tensor":
		return KindTensor, nil
	default:
		return 0, fmt.Errorf("mediadecode: unknown source kind %q", s)
	}
}

// Temporal reports whether the kind produces a 4-D volume.
func (k Kind) Temporal() bool {
	return k == KindImageSequence || k == KindVideo
}

// StartMode is the tag of a StartPolicy.
type StartMode int

const (
	// StartFixed reads from an explicit frame offset.
	StartFixed StartMode = iota
	// StartJitter draws a uniformly random start so the window fits.
	StartJitter
	// StartFirst reads from the first frame but still checks the window fits.
	// Evaluation uses it wherever training would jitter.
	StartFirst
)

// StartPolicy decides where a temporal window begins.
type StartPolicy struct {
	Mode   StartMode
	Offset int
}

// Fixed starts at offset.
func Fixed(offset int) StartPolicy { return StartPolicy{Mode: StartFixed, Offset: offset} }

// Jitter starts at a random frame.
func Jitter() StartPolicy { return StartPolicy{Mode: StartJitter} }

// First starts at the first frame.
func First() StartPolicy { return StartPolicy{Mode: StartFirst} }

// Source describes one decode request.
type Source struct {
	Kind Kind
	Path string

	Start StartPolicy

	// FrameCount is the number of frames available in an image sequence.
	// Required by StartJitter and StartFirst for sequences; video probes it.
	FrameCount int

	// Length is the number of frames to read (temporal kinds only).
	Length int
	// Height and Width resize every frame when both are > 0.
	Height int
	Width  int
	// Stride is the frame step between sampled frames (>= 1).
	Stride int

	// Color selects 3-channel RGB; false decodes a single luma channel.
	Color bool

	// Pattern names sequence frames relative to Path (default "%06d.jpg").
	Pattern string

	// Labels are attached to the decoded volume.
	Labels []int
}

func (s Source) channels() int {
	if s.Color {
		return 3
	}
	return 1
}

func (s Source) stride() int {
	if s.Stride < 1 {
		return 1
	}
	return s.Stride
}

// span is the number of source frames a window needs.
func (s Source) span() int {
	return s.Length * s.stride()
}

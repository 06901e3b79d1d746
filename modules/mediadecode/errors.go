package mediadecode

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by DecodeError; test with errors.Is.
var (
	ErrNotFound           = errors.New("mediadecode: source not found")
	ErrInsufficientFrames = errors.New("mediadecode: insufficient frames")
	ErrCorrupt            = errors.New("mediadecode: corrupt or undecodable media")
	ErrUnsupported        = errors.New("mediadecode: no backend for source kind")
)

// DecodeError reports a failed decode of one source.
type DecodeError struct {
	Path   string
	Kind   Kind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("mediadecode: %s %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("mediadecode: %s %s: %s: %v", e.Kind, e.Path, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(src Source, reason string, err error) error {
	return &DecodeError{Path: src.Path, Kind: src.Kind, Reason: reason, Err: err}
}

// Category classifies decode failures for logs and metrics.
type Category int

const (
	CategoryNotFound Category = iota
	CategoryInsufficientFrames
	CategoryCodec
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNotFound:
		return "not_found"
	case CategoryInsufficientFrames:
		return "insufficient_frames"
	case CategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a Decoder to its category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInsufficientFrames):
		return CategoryInsufficientFrames
	case errors.Is(err, ErrCorrupt):
		return CategoryCodec
	default:
		return CategoryUnknown
	}
}

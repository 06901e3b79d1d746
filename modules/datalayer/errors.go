package datalayer

import (
	"errors"
	"fmt"
)

// ErrNoDecodableSamples aborts training when a whole pass of the dataset fails
// to decode in a row.
var ErrNoDecodableSamples = errors.New("datalayer: no decodable samples")

// SampleError is the fatal evaluation-phase failure of one dataset item.
type SampleError struct {
	// Index is the dataset index (manifest order).
	Index int
	// Path is the media path after root_folder resolution.
	Path string
	// Line is the 1-based manifest line.
	Line int
	Err  error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("datalayer: sample %d (manifest line %d, %s): %v", e.Index, e.Line, e.Path, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

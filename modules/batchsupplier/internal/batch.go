package internal

import (
	"time"

	"github.com/e7canasta/clipfeed/modules/volume"
)

// Batch is one preallocated batch buffer.
//
// OWNERSHIP CONTRACT:
//   - Free/filling: owned by the fill loop, the consumer MUST NOT touch it
//   - Ready: queued, owned by nobody
//   - Active: returned by Consume, owned by the consumer until the next Consume
//
// Memory layout:
//
//	Data   (B, C, [L,] H, W)        channel-major per sample
//	Labels (B, NumLabels, 1, 1, [1]) nil when NumLabels == 0
type Batch struct {
	// Data holds Size samples of Shape, contiguous.
	Data []float32

	// Labels holds NumLabels values per sample, or nil.
	Labels []float32

	// Indices is the dataset index written into each slot.
	Indices []int

	// Shape is the per-sample shape.
	Shape volume.Shape

	// Size is the batch size B.
	Size int

	// NumLabels is the label count per sample.
	NumLabels int

	// Epoch is the dataset pass the first slot was read in (set by the filler).
	Epoch int

	// Skipped counts samples that failed to decode while filling this batch.
	Skipped int

	// Seq is assigned by the supplier on completion. Monotonic from 1.
	Seq uint64

	// TraceID identifies the batch in logs and events.
	TraceID string

	// FilledAt is when the fill completed.
	FilledAt time.Time

	// FillDuration is the wall time of the fill.
	FillDuration time.Duration
}

func newBatch(size, numLabels int, shape volume.Shape) *Batch {
	b := &Batch{
		Data:      make([]float32, size*shape.Count()),
		Indices:   make([]int, size),
		Shape:     shape,
		Size:      size,
		NumLabels: numLabels,
	}
	if numLabels > 0 {
		b.Labels = make([]float32, size*numLabels)
	}
	return b
}

// Slot returns the view of sample i.
func (b *Batch) Slot(i int) volume.View {
	return volume.Contiguous(b.Data, i*b.Shape.Count(), b.Shape)
}

// Sample returns the raw data of sample i.
func (b *Batch) Sample(i int) []float32 {
	n := b.Shape.Count()
	return b.Data[i*n : (i+1)*n]
}

// SetLabels writes the labels of sample i. Extra labels are ignored, missing
// ones are left at zero. No-op when the batch carries no labels.
func (b *Batch) SetLabels(i int, labels []int) {
	if b.NumLabels == 0 {
		return
	}
	row := b.Labels[i*b.NumLabels : (i+1)*b.NumLabels]
	for j := range row {
		row[j] = 0
		if j < len(labels) {
			row[j] = float32(labels[j])
		}
	}
}

// LabelDims returns the label tensor shape (B, NumLabels, 1, 1[, 1]).
func (b *Batch) LabelDims() []int {
	if b.NumLabels == 0 {
		return nil
	}
	if b.Shape.Length > 0 {
		return []int{b.Size, b.NumLabels, 1, 1, 1}
	}
	return []int{b.Size, b.NumLabels, 1, 1}
}

// DataDims returns the data tensor shape (B, C, [L,] H, W).
func (b *Batch) DataDims() []int {
	return append([]int{b.Size}, b.Shape.Dims()...)
}

// Bytes returns the memory held by Data and Labels.
func (b *Batch) Bytes() uint64 {
	return uint64(4 * (len(b.Data) + len(b.Labels)))
}

// reset clears per-fill metadata; Data is fully overwritten by every fill.
func (b *Batch) reset() {
	b.Epoch = 0
	b.Skipped = 0
	b.Seq = 0
	b.TraceID = ""
	b.FilledAt = time.Time{}
	b.FillDuration = 0
	for i := range b.Indices {
		b.Indices[i] = -1
	}
}

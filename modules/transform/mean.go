package transform

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/clipfeed/modules/volume"
)

// ErrNoSamples is returned when a mean is requested from an empty accumulator.
var ErrNoSamples = errors.New("transform: no samples accumulated")

// Mean is the reference subtracted from every raw element: either a scalar
// broadcast or a per-element tensor with the native sample shape.
// Read-only once built.
type Mean struct {
	Shape  volume.Shape
	Data   []float32
	Scalar float32
}

// ScalarMean returns a broadcast mean.
func ScalarMean(v float32) *Mean {
	return &Mean{Scalar: v}
}

// TensorMean wraps per-element mean values of the given shape.
func TensorMean(shape volume.Shape, data []float32) (*Mean, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Count() {
		return nil, fmt.Errorf("%w: mean has %d values for shape %s", volume.ErrShape, len(data), shape)
	}
	return &Mean{Shape: shape, Data: data}, nil
}

// IsScalar reports whether the mean is a broadcast value.
func (m *Mean) IsScalar() bool {
	return m.Data == nil
}

// Average returns the scalar, or the mean of all tensor elements.
func (m *Mean) Average() float32 {
	if m.IsScalar() {
		return m.Scalar
	}
	var sum float64
	for _, v := range m.Data {
		sum += float64(v)
	}
	return float32(sum / float64(len(m.Data)))
}

func (m *Mean) at(i int) float32 {
	if m.Data == nil {
		return m.Scalar
	}
	return m.Data[i]
}

// LoadMean reads a mean file written by SaveMean (a float32 msgpack tensor).
func LoadMean(path string) (*Mean, error) {
	v, err := volume.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transform: load mean %s: %w", path, err)
	}

	data := v.Floats
	if !v.IsFloat() {
		data = make([]float32, len(v.Bytes))
		for i, b := range v.Bytes {
			data[i] = float32(b)
		}
	}

	slog.Info("transform: mean loaded", "path", path, "shape", v.Shape.String())
	return TensorMean(v.Shape, data)
}

// SaveMean writes a tensor mean to path.
func SaveMean(path string, m *Mean) error {
	if m.IsScalar() {
		return fmt.Errorf("transform: cannot save scalar mean")
	}
	return volume.WriteFile(path, &volume.Volume{Shape: m.Shape, Floats: m.Data})
}

// MeanAccumulator computes a per-element mean over decoded samples of one shape.
type MeanAccumulator struct {
	shape volume.Shape
	sum   []float64
	n     int
}

// NewMeanAccumulator returns an accumulator for samples of shape s.
func NewMeanAccumulator(s volume.Shape) *MeanAccumulator {
	return &MeanAccumulator{shape: s, sum: make([]float64, s.Count())}
}

// Add accumulates one sample.
func (a *MeanAccumulator) Add(v *volume.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if !sameFrames(v.Shape, a.shape) {
		return fmt.Errorf("transform: %w: sample %s, accumulating %s", volume.ErrShape, v.Shape, a.shape)
	}
	if v.IsFloat() {
		for i, x := range v.Floats {
			a.sum[i] += float64(x)
		}
	} else {
		for i, x := range v.Bytes {
			a.sum[i] += float64(x)
		}
	}
	a.n++
	return nil
}

// Count returns the number of samples added.
func (a *MeanAccumulator) Count() int { return a.n }

// Mean returns the element-wise average of everything added so far.
func (a *MeanAccumulator) Mean() (*Mean, error) {
	if a.n == 0 {
		return nil, ErrNoSamples
	}
	data := make([]float32, len(a.sum))
	for i, s := range a.sum {
		data[i] = float32(s / float64(a.n))
	}
	return TensorMean(a.shape, data)
}

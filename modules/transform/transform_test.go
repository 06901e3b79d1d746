package transform_test

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/e7canasta/clipfeed/modules/transform"
	"github.com/e7canasta/clipfeed/modules/volume"
)

// ramp builds a byte volume whose element at flat index i is i%251.
func ramp(s volume.Shape) *volume.Volume {
	v := volume.NewBytes(s)
	for i := range v.Bytes {
		v.Bytes[i] = uint8(i % 251)
	}
	return v
}

func run(t *testing.T, e *transform.Engine, src *volume.Volume, d transform.Decision) volume.View {
	t.Helper()
	out := e.OutputShape()
	dst := volume.Contiguous(make([]float32, out.Count()), 0, out)
	if err := e.Apply(src, dst, d); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	return dst
}

// TestIdentity validates that scale=1, mean=0, crop=0 copies raw values.
//
// Contract:
//   - No crop, no mean, unit scale is the identity on raw data
//   - Decide() with crop 0 never consumes randomness
func TestIdentity(t *testing.T) {
	shape := volume.Shape{Channels: 3, Length: 2, Height: 4, Width: 5}
	e, err := transform.New(transform.Params{Train: true}, shape)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	r := rand.New(rand.NewSource(1))
	before := rand.New(rand.NewSource(1)).Int63()
	d := e.Decide(r)
	if d != (transform.Decision{}) {
		t.Errorf("Decide() with crop 0 = %+v, want zero decision", d)
	}
	if got := r.Int63(); got != before {
		t.Error("Decide() with crop 0 consumed random numbers")
	}

	src := ramp(shape)
	dst := run(t, e, src, d)
	for i, b := range src.Bytes {
		if dst.Data[i] != float32(b) {
			t.Fatalf("element %d = %v, want %v", i, dst.Data[i], b)
		}
	}
	t.Logf("✅ identity over %d elements", shape.Count())
}

// TestCenterCropDeterministic validates evaluation-phase cropping.
//
// Scenario: 1x6x8 sample, crop 4 → offsets ((6-4)/2, (8-4)/2) = (1, 2)
func TestCenterCropDeterministic(t *testing.T) {
	shape := volume.Shape{Channels: 1, Height: 6, Width: 8}
	e, err := transform.New(transform.Params{CropSize: 4, Train: false}, shape)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		d := e.Decide(rand.New(rand.NewSource(int64(i))))
		if d.HOff != 1 || d.WOff != 2 || d.Mirror {
			t.Fatalf("Decide() = %+v, want {1 2 false}", d)
		}
	}

	src := ramp(shape)
	dst := run(t, e, src, e.Decide(nil))
	for h := 0; h < 4; h++ {
		for w := 0; w < 4; w++ {
			want := float32(src.Bytes[src.Index(0, 0, h+1, w+2)])
			if got := dst.At(0, 0, h, w); got != want {
				t.Errorf("(%d,%d) = %v, want %v", h, w, got, want)
			}
		}
	}
}

// TestMirrorReversal validates that mirrored output reversed along w equals
// the unmirrored output for the same offsets.
func TestMirrorReversal(t *testing.T) {
	shape := volume.Shape{Channels: 2, Length: 3, Height: 5, Width: 7}
	e, err := transform.New(transform.Params{CropSize: 4, Mirror: true, Train: true, Scale: 0.5}, shape)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	src := ramp(shape)
	plain := run(t, e, src, transform.Decision{HOff: 1, WOff: 2})
	flipped := run(t, e, src, transform.Decision{HOff: 1, WOff: 2, Mirror: true})

	for c := 0; c < 2; c++ {
		for l := 0; l < 3; l++ {
			for h := 0; h < 4; h++ {
				for w := 0; w < 4; w++ {
					if plain.At(c, l, h, w) != flipped.At(c, l, h, 3-w) {
						t.Fatalf("(%d,%d,%d,%d) mirror mismatch", c, l, h, w)
					}
				}
			}
		}
	}
	t.Logf("✅ mirrored output is the reversed plain output")
}

// TestTrainingDrawOrder validates offsets ranges and the draw order
// (h_off, w_off, mirror) against a reference generator with the same seed.
func TestTrainingDrawOrder(t *testing.T) {
	shape := volume.Shape{Channels: 3, Height: 10, Width: 12}
	e, err := transform.New(transform.Params{CropSize: 8, Mirror: true, Train: true}, shape)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	r := rand.New(rand.NewSource(42))
	ref := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		d := e.Decide(r)
		want := transform.Decision{
			HOff:   ref.Intn(3),
			WOff:   ref.Intn(5),
			Mirror: ref.Intn(2) == 1,
		}
		if d != want {
			t.Fatalf("draw %d: got %+v, want %+v", i, d, want)
		}
	}
}

// TestEvaluationMirror validates that evaluation keeps the centred offsets
// but still flips the mirror coin when mirroring is enabled.
//
// Scenario: 1x4x4 sample, crop 2, mirror on, test phase, 100 draws.
// Expected: offsets always (1, 1); mirror follows r.Intn(2) of a reference
// generator, so both outcomes occur.
func TestEvaluationMirror(t *testing.T) {
	shape := volume.Shape{Channels: 1, Height: 4, Width: 4}
	e, err := transform.New(transform.Params{CropSize: 2, Mirror: true, Train: false}, shape)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	r := rand.New(rand.NewSource(7))
	ref := rand.New(rand.NewSource(7))
	mirrored := 0
	for i := 0; i < 100; i++ {
		d := e.Decide(r)
		want := transform.Decision{HOff: 1, WOff: 1, Mirror: ref.Intn(2) == 1}
		if d != want {
			t.Fatalf("draw %d: got %+v, want %+v", i, d, want)
		}
		if d.Mirror {
			mirrored++
		}
	}
	if mirrored == 0 || mirrored == 100 {
		t.Errorf("mirrored %d/100 decisions, want a mix", mirrored)
	}
	t.Logf("✅ evaluation mirrored %d/100 with centred offsets", mirrored)
}

// TestMeanAndScale validates (raw - mean) * scale for both mean kinds and the
// float raw path.
func TestMeanAndScale(t *testing.T) {
	shape := volume.Shape{Channels: 1, Height: 2, Width: 2}
	tensor, err := transform.TensorMean(shape, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("TensorMean() failed: %v", err)
	}

	floatSrc := volume.NewFloats(shape)
	copy(floatSrc.Floats, []float32{10.5, 20, 30, 40})
	byteSrc := volume.NewBytes(shape)
	copy(byteSrc.Bytes, []uint8{10, 20, 30, 40})

	tests := []struct {
		name string
		mean *transform.Mean
		src  *volume.Volume
		want []float32
	}{
		{"scalar mean bytes", transform.ScalarMean(10), byteSrc, []float32{0, 20, 40, 60}},
		{"tensor mean bytes", tensor, byteSrc, []float32{18, 36, 54, 72}},
		{"tensor mean floats", tensor, floatSrc, []float32{19, 36, 54, 72}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := transform.New(transform.Params{Scale: 2, Mean: tt.mean}, shape)
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			dst := run(t, e, tt.src, transform.Decision{})
			for i, w := range tt.want {
				if dst.Data[i] != w {
					t.Errorf("element %d = %v, want %v", i, dst.Data[i], w)
				}
			}
		})
	}
}

// TestStridedDestination validates writing into one frame slot of a larger
// (C, L, H, W) window.
func TestStridedDestination(t *testing.T) {
	frame := volume.Shape{Channels: 2, Height: 3, Width: 3}
	e, err := transform.New(transform.Params{}, frame)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	window := volume.Shape{Channels: 2, Length: 4, Height: 3, Width: 3}
	buf := make([]float32, window.Count())
	slot := volume.Contiguous(buf, 0, window).Frame(2)

	src := ramp(frame)
	if err := e.Apply(src, slot, transform.Decision{}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	full := volume.Contiguous(buf, 0, window)
	for c := 0; c < 2; c++ {
		for l := 0; l < 4; l++ {
			got := full.At(c, l, 1, 1)
			want := float32(0)
			if l == 2 {
				want = float32(src.Bytes[src.Index(c, 0, 1, 1)])
			}
			if got != want {
				t.Errorf("(c=%d,l=%d) = %v, want %v", c, l, got, want)
			}
		}
	}
}

func TestNewValidation(t *testing.T) {
	native := volume.Shape{Channels: 3, Height: 8, Width: 10}
	wrongMean, _ := transform.TensorMean(volume.Shape{Channels: 3, Height: 4, Width: 4}, make([]float32, 48))

	tests := []struct {
		name    string
		params  transform.Params
		wantErr bool
	}{
		{"defaults", transform.Params{}, false},
		{"crop equals height", transform.Params{CropSize: 8}, false},
		{"crop too large", transform.Params{CropSize: 9}, true},
		{"mirror without crop", transform.Params{Mirror: true}, true},
		{"negative crop", transform.Params{CropSize: -1}, true},
		{"mean shape mismatch", transform.Params{Mean: wrongMean}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transform.New(tt.params, native)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, transform.ErrInvalidParams) {
				t.Errorf("error %v does not wrap ErrInvalidParams", err)
			}
		})
	}
}

func TestApplyRejectsWrongShapes(t *testing.T) {
	native := volume.Shape{Channels: 1, Height: 4, Width: 4}
	e, err := transform.New(transform.Params{CropSize: 2}, native)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	wrongSrc := ramp(volume.Shape{Channels: 1, Height: 5, Width: 4})
	dst := volume.Contiguous(make([]float32, 4), 0, e.OutputShape())
	if err := e.Apply(wrongSrc, dst, transform.Decision{}); !errors.Is(err, volume.ErrShape) {
		t.Errorf("Apply(wrong source) error = %v, want ErrShape", err)
	}

	short := volume.Contiguous(make([]float32, 3), 0, e.OutputShape())
	if err := e.Apply(ramp(native), short, transform.Decision{}); !errors.Is(err, volume.ErrShape) {
		t.Errorf("Apply(short destination) error = %v, want ErrShape", err)
	}

	if err := e.Apply(ramp(native), dst, transform.Decision{HOff: 3}); err == nil {
		t.Error("Apply(offset out of range) succeeded, want error")
	}
}

func TestMeanFileRoundTrip(t *testing.T) {
	shape := volume.Shape{Channels: 1, Length: 2, Height: 2, Width: 2}
	acc := transform.NewMeanAccumulator(shape)

	if _, err := acc.Mean(); !errors.Is(err, transform.ErrNoSamples) {
		t.Fatalf("Mean() on empty accumulator error = %v, want ErrNoSamples", err)
	}

	a := volume.NewBytes(shape)
	b := volume.NewBytes(shape)
	for i := range a.Bytes {
		a.Bytes[i] = uint8(i)
		b.Bytes[i] = uint8(3 * i)
	}
	for _, v := range []*volume.Volume{a, b} {
		if err := acc.Add(v); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}
	if err := acc.Add(volume.NewBytes(volume.Shape{Channels: 1, Height: 2, Width: 2})); err == nil {
		t.Error("Add(wrong shape) succeeded, want error")
	}

	m, err := acc.Mean()
	if err != nil {
		t.Fatalf("Mean() failed: %v", err)
	}
	for i, v := range m.Data {
		if v != float32(2*i) {
			t.Fatalf("mean[%d] = %v, want %v", i, v, 2*i)
		}
	}

	path := filepath.Join(t.TempDir(), "mean.msgpack")
	if err := transform.SaveMean(path, m); err != nil {
		t.Fatalf("SaveMean() failed: %v", err)
	}
	loaded, err := transform.LoadMean(path)
	if err != nil {
		t.Fatalf("LoadMean() failed: %v", err)
	}
	if loaded.Shape != shape || len(loaded.Data) != len(m.Data) {
		t.Fatalf("loaded mean %s/%d, want %s/%d", loaded.Shape, len(loaded.Data), shape, len(m.Data))
	}
	if got := loaded.Average(); got != 7 {
		t.Errorf("Average() = %v, want 7", got)
	}

	if err := transform.SaveMean(path, transform.ScalarMean(1)); err == nil {
		t.Error("SaveMean(scalar) succeeded, want error")
	}
	t.Logf("✅ mean of %d samples saved and reloaded", acc.Count())
}

package volume

import (
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// Tensor file dtypes.
const (
	DTypeUint8   = "uint8"
	DTypeFloat32 = "float32"
)

// tensorFile is the msgpack wire form shared by tensor samples, mean files and
// dumped batch items.
type tensorFile struct {
	Shape  []int     `msgpack:"shape"`
	DType  string    `msgpack:"dtype"`
	Bytes  []byte    `msgpack:"bytes,omitempty"`
	Floats []float32 `msgpack:"floats,omitempty"`
	Labels []int     `msgpack:"labels,omitempty"`
}

// Encode writes v as a msgpack tensor.
func Encode(w io.Writer, v *Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	tf := tensorFile{Shape: v.Shape.Dims(), Labels: v.Labels}
	if v.IsFloat() {
		tf.DType = DTypeFloat32
		tf.Floats = v.Floats
	} else {
		tf.DType = DTypeUint8
		tf.Bytes = v.Bytes
	}
	if err := msgpack.NewEncoder(w).Encode(&tf); err != nil {
		return fmt.Errorf("volume: encode: %w", err)
	}
	return nil
}

// Decode reads a msgpack tensor written by Encode.
func Decode(r io.Reader) (*Volume, error) {
	var tf tensorFile
	if err := msgpack.NewDecoder(r).Decode(&tf); err != nil {
		return nil, fmt.Errorf("volume: decode: %w", err)
	}

	shape, err := ShapeFromDims(tf.Shape)
	if err != nil {
		return nil, err
	}

	v := &Volume{Shape: shape, Labels: tf.Labels}
	switch tf.DType {
	case DTypeUint8:
		v.Bytes = tf.Bytes
		if v.Bytes == nil {
			v.Bytes = []byte{}
		}
	case DTypeFloat32:
		v.Floats = tf.Floats
		if v.Floats == nil {
			v.Floats = []float32{}
		}
	default:
		return nil, fmt.Errorf("volume: unsupported dtype %q", tf.DType)
	}

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// WriteFile encodes v into path.
func WriteFile(path string, v *Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("volume: create %s: %w", path, err)
	}
	if err := Encode(f, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile decodes the tensor stored at path.
func ReadFile(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

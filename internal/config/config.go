// Package config loads the YAML configuration of a clipfeed run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete clipfeed configuration
type Config struct {
	Pipeline  Pipeline        `yaml:"pipeline"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Layouts
const (
	LayoutImage  = "image"  // still images → (B, C, H, W)
	LayoutClip   = "clip"   // one clip per entry → (B, C, L, H, W)
	LayoutVoxel  = "voxel"  // one frame per entry, sliding window → (B, C, L, H, W)
	LayoutTensor = "tensor" // msgpack tensor files, float or byte
)

// Phases
const (
	PhaseTrain = "train"
	PhaseTest  = "test"
)

// Sequence reset policies for the voxel layout
const (
	ResetBatch    = "batch"    // restart the window at every batch
	ResetSequence = "sequence" // restart when Entry.Sequence changes or the epoch wraps
)

// Pipeline describes the dataset and its transforms
type Pipeline struct {
	Source     string `yaml:"source"`      // manifest path
	RootFolder string `yaml:"root_folder"` // prefix for relative manifest paths
	Layout     string `yaml:"layout"`      // image, clip, voxel, tensor
	SourceKind string `yaml:"source_kind"` // image, image_sequence, video, tensor
	Phase      string `yaml:"phase"`       // train, test

	BatchSize int  `yaml:"batch_size"`
	CropSize  int  `yaml:"crop_size"` // 0 = no crop
	Mirror    bool `yaml:"mirror"`    // requires crop_size > 0

	NewLength      int  `yaml:"new_length"`
	NewHeight      int  `yaml:"new_height"`
	NewWidth       int  `yaml:"new_width"`
	SamplingStride int  `yaml:"sampling_stride"`
	TemporalJitter bool `yaml:"use_temporal_jitter"`

	Shuffle  bool  `yaml:"shuffle"`
	RandSkip int   `yaml:"rand_skip"` // skip k ~ U[0, rand_skip) entries at startup
	Seed     int64 `yaml:"seed"`      // 0 = one entropy draw

	MeanFile  string   `yaml:"mean_file"`
	MeanValue *float64 `yaml:"mean_value"`
	Scale     float64  `yaml:"scale"`

	PrefetchBuffers int    `yaml:"prefetch_buffers"`
	IsColor         *bool  `yaml:"is_color"`
	FramePattern    string `yaml:"frame_pattern"`
	OutputLabels    *bool  `yaml:"output_labels"`

	SequenceReset string `yaml:"sequence_reset"`
	PadEnd        bool   `yaml:"pad_end"`

	DebugDir     string `yaml:"debug_dir"`
	DebugBatches int    `yaml:"debug_batches"`
}

// MetricsConfig contains the Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty = disabled
}

// TelemetryConfig contains MQTT health publishing settings
type TelemetryConfig struct {
	Broker     string `yaml:"mqtt_broker"` // empty = disabled
	InstanceID string `yaml:"instance_id"`
	Topic      string `yaml:"topic"`
	IntervalS  int    `yaml:"interval_s"`
	QoS        byte   `yaml:"qos"`
	Format     string `yaml:"format"` // json (default) or msgpack
}

// Telemetry payload encodings
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Train reports whether the pipeline runs in the training phase.
func (p Pipeline) Train() bool { return p.Phase == PhaseTrain }

// Color reports whether samples are decoded as RGB (default true).
func (p Pipeline) Color() bool { return p.IsColor == nil || *p.IsColor }

// Labels reports whether a label tensor is produced (default true).
func (p Pipeline) Labels() bool { return p.OutputLabels == nil || *p.OutputLabels }

// Temporal reports whether samples carry a time axis.
func (p Pipeline) Temporal() bool {
	return p.Layout == LayoutClip || p.Layout == LayoutVoxel
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown fields, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

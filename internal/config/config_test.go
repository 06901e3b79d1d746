package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimal = `
pipeline:
  source: train.txt
  batch_size: 8
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	p := cfg.Pipeline
	if p.Phase != PhaseTrain || !p.Train() {
		t.Errorf("Phase = %q, want train", p.Phase)
	}
	if p.Layout != LayoutImage || p.SourceKind != "image" {
		t.Errorf("Layout/SourceKind = %q/%q, want image/image", p.Layout, p.SourceKind)
	}
	if p.Scale != 1 || p.SamplingStride != 1 || p.PrefetchBuffers != 2 {
		t.Errorf("defaults: scale=%v stride=%d buffers=%d", p.Scale, p.SamplingStride, p.PrefetchBuffers)
	}
	if !p.Color() || !p.Labels() {
		t.Error("is_color and output_labels should default to true")
	}
	if cfg.Telemetry.Topic != "" {
		t.Errorf("telemetry defaults applied without broker: %+v", cfg.Telemetry)
	}
	t.Logf("✅ defaults: %+v", p)
}

func TestParseFull(t *testing.T) {
	doc := `
pipeline:
  source: clips.txt
  root_folder: /data/ucf
  layout: clip
  source_kind: image_sequence
  phase: test
  batch_size: 30
  crop_size: 112
  new_length: 16
  new_height: 128
  new_width: 171
  use_temporal_jitter: true
  mean_value: 128
  scale: 0.0078125
  is_color: false
  output_labels: false
  seed: 7
metrics:
  listen_addr: ":9090"
telemetry:
  mqtt_broker: tcp://localhost:1883
  instance_id: node-1
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	p := cfg.Pipeline
	if p.Train() || p.Color() || p.Labels() || !p.Temporal() {
		t.Errorf("flags: train=%v color=%v labels=%v temporal=%v", p.Train(), p.Color(), p.Labels(), p.Temporal())
	}
	if p.MeanValue == nil || *p.MeanValue != 128 {
		t.Errorf("MeanValue = %v, want 128", p.MeanValue)
	}
	if cfg.Telemetry.Topic != "clipfeed/health/node-1" || cfg.Telemetry.IntervalS != 10 {
		t.Errorf("telemetry defaults = %+v", cfg.Telemetry)
	}
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.Metrics.ListenAddr)
	}
}

// TestValidationErrors validates that every configuration error is fatal and
// names the offending field.
func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		field string
	}{
		{"mirror without crop", "mirror: true", "mirror"},
		{"zero batch", "batch_size: 0", "batch_size"},
		{"bad phase", "phase: eval", "phase"},
		{"bad layout", "layout: cube", "layout"},
		{"mean xor", "mean_file: m.msgpack\n  mean_value: 1", "mean_value"},
		{"single buffer", "prefetch_buffers: 1", "prefetch_buffers"},
		{"height without width", "new_height: 10", "new_width"},
		{"clip without length", "layout: clip\n  source_kind: image_sequence", "new_length"},
		{"video without size", "layout: clip\n  new_length: 8", "video"},
		{"voxel shuffle", "layout: voxel\n  new_length: 5\n  shuffle: true", "shuffle"},
		{"jitter on images", "use_temporal_jitter: true", "use_temporal_jitter"},
		{"pad_end without reset", "layout: voxel\n  new_length: 5\n  pad_end: true", "pad_end"},
		{"reset on images", "sequence_reset: sequence", "sequence_reset"},
		{"negative rand_skip", "rand_skip: -1", "rand_skip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "pipeline:\n  source: a.txt\n  batch_size: 4\n  " + tt.extra + "\n"
			// yaml.v3 rejects duplicate keys
			if strings.HasPrefix(tt.extra, "batch_size") {
				doc = "pipeline:\n  source: a.txt\n  " + tt.extra + "\n"
			}
			_, err := Parse([]byte(doc))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %q", err, tt.field)
			}
		})
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("pipeline:\n  source: a.txt\n  batch_size: 1\n  crop: 3\n"))
	if err == nil || !strings.Contains(err.Error(), "crop") {
		t.Fatalf("Parse() error = %v, want unknown field error", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipfeed.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Pipeline.BatchSize != 8 {
		t.Errorf("BatchSize = %d, want 8", cfg.Pipeline.BatchSize)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) succeeded, want error")
	}
}

func TestTelemetryValidation(t *testing.T) {
	tests := []struct {
		name    string
		tc      TelemetryConfig
		wantErr bool
	}{
		{"disabled", TelemetryConfig{}, false},
		{"missing id", TelemetryConfig{Broker: "tcp://b:1883"}, true},
		{"bad id", TelemetryConfig{Broker: "tcp://b:1883", InstanceID: "Node_1"}, true},
		{"bad qos", TelemetryConfig{Broker: "tcp://b:1883", InstanceID: "n1", QoS: 3}, true},
		{"bad format", TelemetryConfig{Broker: "tcp://b:1883", InstanceID: "n1", Format: "xml"}, true},
		{"ok", TelemetryConfig{Broker: "tcp://b:1883", InstanceID: "n1", QoS: 1}, false},
		{"ok msgpack", TelemetryConfig{Broker: "tcp://b:1883", InstanceID: "n1", Format: FormatMsgpack}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTelemetry(&tt.tc)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTelemetry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Validate checks the configuration and fills defaults in place
func Validate(cfg *Config) error {
	if err := ValidatePipeline(&cfg.Pipeline); err != nil {
		return err
	}
	return validateTelemetry(&cfg.Telemetry)
}

// ValidatePipeline checks the dataset options. Every error names the field.
func ValidatePipeline(p *Pipeline) error {
	if p.Source == "" {
		return invalid("pipeline.source is required")
	}

	if p.Phase == "" {
		p.Phase = PhaseTrain
	}
	if p.Phase != PhaseTrain && p.Phase != PhaseTest {
		return invalid("pipeline.phase must be %q or %q, got %q", PhaseTrain, PhaseTest, p.Phase)
	}

	if p.Layout == "" {
		p.Layout = LayoutImage
	}
	switch p.Layout {
	case LayoutImage:
		if p.SourceKind == "" {
			p.SourceKind = "image"
		}
		if p.SourceKind != "image" {
			return invalid("pipeline.source_kind %q not valid for image layout (image)", p.SourceKind)
		}
	case LayoutClip:
		if p.SourceKind == "" {
			p.SourceKind = "video"
		}
		if p.SourceKind != "video" && p.SourceKind != "image_sequence" {
			return invalid("pipeline.source_kind %q not valid for clip layout (video, image_sequence)", p.SourceKind)
		}
	case LayoutVoxel:
		if p.SourceKind == "" {
			p.SourceKind = "image"
		}
		if p.SourceKind != "image" {
			return invalid("pipeline.source_kind %q not valid for voxel layout (image)", p.SourceKind)
		}
		if p.Shuffle {
			return invalid("pipeline.shuffle is not supported with the voxel layout")
		}
	case LayoutTensor:
		p.SourceKind = "tensor"
	default:
		return invalid("pipeline.layout must be image, clip, voxel or tensor, got %q", p.Layout)
	}

	if p.BatchSize <= 0 {
		return invalid("pipeline.batch_size must be > 0")
	}
	if p.CropSize < 0 {
		return invalid("pipeline.crop_size must be >= 0")
	}
	if p.Mirror && p.CropSize == 0 {
		return invalid("pipeline.mirror requires crop_size > 0")
	}
	if p.NewHeight < 0 || p.NewWidth < 0 {
		return invalid("pipeline.new_height and new_width must be >= 0")
	}
	if (p.NewHeight == 0) != (p.NewWidth == 0) {
		return invalid("pipeline.new_height and new_width must be set together")
	}
	if p.SourceKind == "video" && p.NewHeight == 0 {
		return invalid("pipeline.new_height and new_width are required for video sources")
	}

	if p.Temporal() {
		if p.NewLength <= 0 {
			return invalid("pipeline.new_length must be > 0 for the %s layout", p.Layout)
		}
	} else if p.NewLength != 0 && p.Layout != LayoutTensor {
		return invalid("pipeline.new_length is only valid for clip and voxel layouts")
	}
	if p.SamplingStride == 0 {
		p.SamplingStride = 1
	}
	if p.SamplingStride < 0 {
		return invalid("pipeline.sampling_stride must be > 0")
	}
	if p.TemporalJitter && p.Layout != LayoutClip {
		return invalid("pipeline.use_temporal_jitter requires the clip layout")
	}

	if p.RandSkip < 0 {
		return invalid("pipeline.rand_skip must be >= 0")
	}
	if p.MeanFile != "" && p.MeanValue != nil {
		return invalid("pipeline.mean_file and mean_value are mutually exclusive")
	}
	if p.Scale == 0 {
		p.Scale = 1
	}

	if p.PrefetchBuffers == 0 {
		p.PrefetchBuffers = 2
	}
	if p.PrefetchBuffers < 2 {
		return invalid("pipeline.prefetch_buffers must be >= 2")
	}

	if p.Layout == LayoutVoxel {
		if p.SequenceReset == "" {
			p.SequenceReset = ResetBatch
		}
		if p.SequenceReset != ResetBatch && p.SequenceReset != ResetSequence {
			return invalid("pipeline.sequence_reset must be %q or %q", ResetBatch, ResetSequence)
		}
		if p.PadEnd && p.SequenceReset != ResetSequence {
			return invalid("pipeline.pad_end requires sequence_reset: %s", ResetSequence)
		}
	} else if p.SequenceReset != "" || p.PadEnd {
		return invalid("pipeline.sequence_reset and pad_end are only valid for the voxel layout")
	}

	if p.DebugBatches < 0 {
		return invalid("pipeline.debug_batches must be >= 0")
	}
	if p.DebugDir != "" && p.DebugBatches == 0 {
		p.DebugBatches = 1
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	if t.Broker == "" {
		return nil
	}
	if t.InstanceID == "" {
		return invalid("telemetry.instance_id is required when mqtt_broker is set")
	}
	if !instanceIDPattern.MatchString(t.InstanceID) {
		return invalid("telemetry.instance_id must match pattern [a-z0-9-]+")
	}
	if t.Topic == "" {
		t.Topic = fmt.Sprintf("clipfeed/health/%s", t.InstanceID)
	}
	if t.IntervalS <= 0 {
		t.IntervalS = 10
	}
	if t.QoS > 2 {
		return invalid("telemetry.qos must be 0, 1 or 2")
	}
	if t.Format == "" {
		t.Format = FormatJSON
	}
	if t.Format != FormatJSON && t.Format != FormatMsgpack {
		return invalid("telemetry.format must be %q or %q, got %q", FormatJSON, FormatMsgpack, t.Format)
	}
	return nil
}

package gstvideo

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineConfig describes one file-decoding pipeline.
type pipelineConfig struct {
	Path   string
	Width  int
	Height int
	Gray   bool
}

// pipelineElements keeps the references needed while pulling and on teardown.
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// createPipeline builds
//
//	filesrc → decodebin → videoconvert → videoscale → capsfilter → appsink
//
// decodebin exposes its video pad dynamically; it is linked in the pad-added
// callback. The pipeline is returned in NULL state.
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesrc: %w", err)
	}
	filesrc.SetProperty("location", cfg.Path)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("failed to create decodebin: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildRawCaps(cfg.Width, cfg.Height, cfg.Gray)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	// Training clips need every frame: block upstream instead of dropping.
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 4)
	appsink.SetProperty("drop", false)

	pipeline.AddMany(filesrc, decodebin, converter, scaler, capsfilter, appsink.Element)

	if err := filesrc.Link(decodebin); err != nil {
		return nil, fmt.Errorf("failed to link filesrc to decodebin: %w", err)
	}
	if err := gst.ElementLinkMany(converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link conversion chain: %w", err)
	}

	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		onPadAdded(srcPad, converter)
	})

	return &pipelineElements{Pipeline: pipeline, AppSink: appsink}, nil
}

// onPadAdded links the first decodebin pad that videoconvert accepts.
// Audio pads fail caps negotiation and are left unlinked.
func onPadAdded(srcPad *gst.Pad, converter *gst.Element) {
	sinkPad := converter.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gstvideo: failed to get videoconvert sink pad")
		return
	}
	if sinkPad.IsLinked() {
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Debug("gstvideo: decodebin pad not linked",
			"src_pad", srcPad.GetName(),
			"ret", ret,
		)
		return
	}
	slog.Debug("gstvideo: decodebin pad linked", "src_pad", srcPad.GetName())
}

// destroyPipeline releases all pipeline resources. Safe on nil.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// buildRawCaps locks the appsink format and size.
func buildRawCaps(width, height int, gray bool) string {
	format := "RGB"
	if gray {
		format = "GRAY8"
	}
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format, width, height)
}

// rowStride is the GStreamer default stride for packed 8-bit formats:
// rows are padded to a multiple of 4 bytes.
func rowStride(width, bytesPerPixel int) int {
	return (width*bytesPerPixel + 3) &^ 3
}

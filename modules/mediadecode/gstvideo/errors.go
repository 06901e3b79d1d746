package gstvideo

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/clipfeed/modules/mediadecode"
)

// classifyGError maps a GStreamer bus error to a mediadecode sentinel.
//
// go-gst's GError does not expose the error domain, so classification relies
// on message heuristics, resource errors first.
func classifyGError(gerr *gst.GError) error {
	if gerr == nil {
		return mediadecode.ErrCorrupt
	}
	return classifyMessage(gerr.Error(), gerr.DebugString())
}

func classifyMessage(errMsg, debugStr string) error {
	combined := strings.ToLower(errMsg + " " + debugStr)

	if containsAny(combined, resourceKeywords) {
		return mediadecode.ErrNotFound
	}
	return mediadecode.ErrCorrupt
}

var resourceKeywords = []string{
	"no such file",
	"not found",
	"could not open",
	"resource not found",
	"permission denied",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

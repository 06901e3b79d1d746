// Package mediadecode decodes on-disk media into dense byte or float volumes.
//
// One Decoder interface serves every source. The Source descriptor is a
// tagged variant (Kind) plus a StartPolicy (Fixed, Jitter, First), so call
// sites never branch on "use_image" or "use_temporal_jitter" flags.
//
//	dec := mediadecode.New(
//	    mediadecode.WithBackend(mediadecode.KindVideo, gstvideo.New()),
//	)
//	v, err := dec.Decode(ctx, mediadecode.Source{
//	    Kind:   mediadecode.KindImageSequence,
//	    Path:   "/data/frames/clip_0001",
//	    Start:  mediadecode.Jitter(),
//	    FrameCount: 120,
//	    Length: 16, Height: 128, Width: 171, Stride: 1,
//	    Color:  true,
//	}, rng)
//
// Backends:
//   - KindImage: disintegration/imaging (EXIF orientation, linear resize)
//   - KindImageSequence: numbered frames "%06d.jpg", 1-based
//   - KindTensor: msgpack tensor files, the float raw-data path
//   - KindVideo: GStreamer, see subpackage gstvideo
//
// Temporal jitter draws start = first + r.Intn(available - length*stride + 1).
// A source with fewer than length*stride frames fails with
// ErrInsufficientFrames. Training callers skip such samples; evaluation
// callers abort.
package mediadecode

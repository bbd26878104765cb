package sink

import (
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

// WebMRecorder muxes the two stream legs into one WebM container. Each leg is
// exposed as a stream.Sink; writes from the two workers are serialized on the
// recorder's mutex. PTS is in microseconds (device clock domain).
type WebMRecorder struct {
	mu          sync.Mutex
	videoWriter webm.BlockWriteCloser
	audioWriter webm.BlockWriteCloser
	closed      bool
}

// NewWebMRecorder initializes the container on w with an H.264 video track of
// the given dimensions and an Opus audio track.
func NewWebMRecorder(w io.WriteCloser, width, height int) (*WebMRecorder, error) {
	logger := util.GetLogger()

	writers, err := webm.NewSimpleBlockWriter(w, []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "V_MPEG4/ISO/AVC",
			TrackType:       1,
			DefaultDuration: 33333333, // ~30fps in nanoseconds
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		},
		{
			Name:            "Audio",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: 20000000, // 20ms Opus frame in nanoseconds
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		},
	}, mkvcore.WithOnFatalHandler(func(err error) {
		logger.Warn("WebM writer error", "error", err)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create WebM writer")
	}

	logger.Info("WebM recording started", "width", width, "height", height)
	return &WebMRecorder{
		videoWriter: writers[0],
		audioWriter: writers[1],
	}, nil
}

// VideoSink returns the video leg of the recorder.
func (r *WebMRecorder) VideoSink() stream.Sink {
	return &webmLeg{rec: r, kind: stream.KindVideo}
}

// AudioSink returns the audio leg of the recorder.
func (r *WebMRecorder) AudioSink() stream.Sink {
	return &webmLeg{rec: r, kind: stream.KindAudio}
}

func (r *WebMRecorder) writeBlock(kind stream.Kind, p []byte, pts uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("WebM recorder is closed")
	}
	if len(p) == 0 {
		return nil
	}

	ns := int64(time.Duration(pts) * time.Microsecond)

	if kind == stream.KindVideo {
		// Only video blocks carry a meaningful keyframe flag.
		_, err := r.videoWriter.Write(isIDRFrame(p), ns, p)
		return errors.Wrap(err, "video block write")
	}
	_, err := r.audioWriter.Write(true, ns, p)
	return errors.Wrap(err, "audio block write")
}

// Close finalizes the container. Safe to call multiple times.
func (r *WebMRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if err := r.videoWriter.Close(); err != nil {
		firstErr = errors.Wrap(err, "video writer close")
	}
	if err := r.audioWriter.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "audio writer close")
	}

	util.GetLogger().Info("WebM recording finalized")
	return firstErr
}

// webmLeg is the per-kind sink view onto one recorder.
type webmLeg struct {
	rec  *WebMRecorder
	kind stream.Kind
}

func (l *webmLeg) SendChunk(p []byte, off, n int, pts uint64) error {
	return l.rec.writeBlock(l.kind, p[off:off+n], pts)
}

// isIDRFrame reports whether an Annex-B access unit contains an IDR NALU.
func isIDRFrame(au []byte) bool {
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(au); err != nil {
		return false
	}
	for _, nalu := range annexB {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

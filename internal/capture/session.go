package capture

import (
	"context"
	"io"
	"sync"

	"github.com/dchest/uniuri"
	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/protocol"
	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

// chunkBuffer is the per-kind channel depth between the reader goroutine and
// the stream worker. When the worker falls behind, the oldest chunk is
// dropped so the producer never blocks indefinitely.
const chunkBuffer = 64

// Session adapts a connected device into per-kind stream sources. Each
// requested kind gets its own channel to the capture service and its own
// reader goroutine; the two flows are never synchronized here.
type Session struct {
	id  string
	dev *device.Device

	mu        sync.RWMutex
	cancel    context.CancelFunc
	videoMeta *protocol.VideoMeta
	audioMeta *protocol.AudioMeta
	configNAL []byte

	videoSrc *mediaSource
	audioSrc *mediaSource

	wg      sync.WaitGroup
	closers []io.Closer
}

// NewSession creates a session for a connected device. The device must have
// been opened by Discovery.Connect.
func NewSession(dev *device.Device) *Session {
	return &Session{
		id:  uniuri.NewLen(8),
		dev: dev,
	}
}

// ID returns the session's random identifier, used in logs.
func (s *Session) ID() string { return s.id }

// Start opens the requested media channels, reads their handshakes
// synchronously, and spawns one reader goroutine per kind. At least one kind
// must be requested.
func (s *Session) Start(ctx context.Context, wantVideo, wantAudio bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("capture session already started")
	}
	if !wantVideo && !wantAudio {
		return errors.New("capture session needs at least one stream kind")
	}

	conn := s.dev.Conn()
	if conn == nil {
		return errors.New("device is not connected")
	}

	ctx, cancel := context.WithCancel(ctx)

	if wantVideo {
		if err := s.startVideo(ctx, conn); err != nil {
			cancel()
			s.closeChannels()
			return err
		}
	}
	if wantAudio {
		if err := s.startAudio(ctx, conn); err != nil {
			cancel()
			s.closeChannels()
			return err
		}
	}

	s.cancel = cancel
	util.GetLogger().Info("Capture session started",
		"session", s.id, "device", s.dev.Serial(), "video", wantVideo, "audio", wantAudio)
	return nil
}

func (s *Session) startVideo(ctx context.Context, conn device.Conn) error {
	ch, err := conn.OpenStream(stream.KindVideo)
	if err != nil {
		return errors.Wrap(err, "failed to open video channel")
	}
	s.closers = append(s.closers, ch)

	meta, err := protocol.ReadVideoMeta(ch)
	if err != nil {
		return errors.Wrap(err, "failed to read video handshake")
	}
	s.videoMeta = meta
	util.GetLogger().Info("Video channel ready", "session", s.id,
		"name", meta.DeviceName, "codec_id", meta.CodecID,
		"width", meta.Width, "height", meta.Height)

	s.videoSrc = newMediaSource(stream.KindVideo, chunkBuffer)
	s.wg.Add(1)
	go s.readLoop(ctx, stream.KindVideo, ch, s.videoSrc, protocol.MaxVideoPacketSize)
	return nil
}

func (s *Session) startAudio(ctx context.Context, conn device.Conn) error {
	ch, err := conn.OpenStream(stream.KindAudio)
	if err != nil {
		return errors.Wrap(err, "failed to open audio channel")
	}
	s.closers = append(s.closers, ch)

	meta, err := protocol.ReadAudioMeta(ch)
	if err != nil {
		return errors.Wrap(err, "failed to read audio handshake")
	}
	s.audioMeta = meta
	util.GetLogger().Info("Audio channel ready", "session", s.id, "codec_id", meta.CodecID)

	s.audioSrc = newMediaSource(stream.KindAudio, chunkBuffer)
	s.wg.Add(1)
	go s.readLoop(ctx, stream.KindAudio, ch, s.audioSrc, protocol.MaxAudioPacketSize)
	return nil
}

// readLoop reads framed packets off one channel and feeds the kind's source.
// Config packets are cached and never delivered as media chunks.
func (s *Session) readLoop(ctx context.Context, kind stream.Kind, ch io.ReadCloser, src *mediaSource, maxSize uint32) {
	logger := util.GetLogger()
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			src.finish(nil)
			return
		default:
		}

		packet, err := protocol.ReadPacket(ch, maxSize)
		if err != nil {
			// Distinguish teardown from a mid-stream failure.
			select {
			case <-ctx.Done():
				logger.Debug("Capture read cancelled", "session", s.id, "kind", kind.String())
				src.finish(nil)
				return
			default:
			}

			if err == io.EOF {
				logger.Info("Capture stream ended", "session", s.id, "kind", kind.String())
				src.finish(nil)
			} else {
				logger.Error("Capture read failed", "session", s.id, "kind", kind.String(), "error", err)
				src.finish(errors.Wrapf(err, "%s channel read", kind))
			}
			return
		}

		if packet.IsConfig {
			if kind == stream.KindVideo {
				s.mu.Lock()
				s.configNAL = append([]byte{}, packet.Data...)
				s.mu.Unlock()
				logger.Info("Codec config cached", "session", s.id, "size", len(packet.Data))
			}
			continue
		}

		if kind == stream.KindVideo && packet.IsKeyFrame {
			logger.Debug("Keyframe received", "session", s.id, "size", len(packet.Data))
		}

		src.push(stream.Chunk{Data: packet.Data, PTS: packet.PTS}, logger, s.id)
	}
}

// VideoSource returns the video leg's source, nil when video was not started.
func (s *Session) VideoSource() stream.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.videoSrc == nil {
		return nil
	}
	return s.videoSrc
}

// AudioSource returns the audio leg's source, nil when audio was not started.
func (s *Session) AudioSource() stream.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.audioSrc == nil {
		return nil
	}
	return s.audioSrc
}

// VideoMeta returns the video handshake, nil before Start.
func (s *Session) VideoMeta() *protocol.VideoMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoMeta
}

// AudioMeta returns the audio handshake, nil before Start.
func (s *Session) AudioMeta() *protocol.AudioMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioMeta
}

// ConfigNAL returns the cached codec config packet (SPS/PPS), nil until the
// device sends one.
func (s *Session) ConfigNAL() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configNAL
}

// Close cancels the readers, closes the media channels and releases the
// device handle. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.closeChannels()
	s.wg.Wait()
	s.dev.Dispose()

	util.GetLogger().Info("Capture session closed", "session", s.id, "device", s.dev.Serial())
}

func (s *Session) closeChannels() {
	for _, c := range s.closers {
		c.Close()
	}
	s.closers = nil
}

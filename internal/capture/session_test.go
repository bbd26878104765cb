package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/protocol"
	"github.com/openconsole/capstream/internal/stream"
)

// scriptedChannel serves pre-built channel bytes and reports io.EOF after.
type scriptedChannel struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func newScriptedChannel(data []byte) *scriptedChannel {
	return &scriptedChannel{Reader: bytes.NewReader(data)}
}

func (c *scriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeDeviceConn hands out one scripted channel per kind.
type fakeDeviceConn struct {
	channels map[stream.Kind]io.ReadCloser
	openErr  map[stream.Kind]error
	closed   bool
}

func (c *fakeDeviceConn) OpenStream(kind stream.Kind) (io.ReadCloser, error) {
	if err := c.openErr[kind]; err != nil {
		return nil, err
	}
	ch, ok := c.channels[kind]
	if !ok {
		return nil, errors.Errorf("no %s channel scripted", kind)
	}
	return ch, nil
}

func (c *fakeDeviceConn) Close() error {
	c.closed = true
	return nil
}

func connectedDevice(t *testing.T, conn device.Conn) *device.Device {
	t.Helper()
	blob := make([]byte, 8)
	copy(blob, "CAPS")
	binary.BigEndian.PutUint16(blob[4:6], protocol.ProtocolVersion)
	dev := device.FromDescriptor(device.Descriptor{
		Transport:    device.TransportNetwork,
		Serial:       "ABC123",
		ProtocolInfo: blob,
	})
	dev.Attach(conn)
	return dev
}

func videoChannelBytes(t *testing.T, packets ...*protocol.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteVideoMeta(&buf, &protocol.VideoMeta{
		DeviceName: "Console ABC123",
		CodecID:    protocol.CodecIDH264,
		Width:      1280,
		Height:     720,
	}))
	for _, pkt := range packets {
		require.NoError(t, protocol.WritePacket(&buf, pkt))
	}
	return buf.Bytes()
}

func audioChannelBytes(t *testing.T, packets ...*protocol.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteAudioMeta(&buf, &protocol.AudioMeta{
		CodecID: protocol.CodecIDOpus,
	}))
	for _, pkt := range packets {
		require.NoError(t, protocol.WritePacket(&buf, pkt))
	}
	return buf.Bytes()
}

func drainSource(t *testing.T, src stream.Source) []stream.Chunk {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var chunks []stream.Chunk
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestSessionReadsHandshakesAndDeliversChunks(t *testing.T) {
	conn := &fakeDeviceConn{channels: map[stream.Kind]io.ReadCloser{
		stream.KindVideo: newScriptedChannel(videoChannelBytes(t,
			&protocol.Packet{Data: []byte{0x67, 0x68}, IsConfig: true},
			&protocol.Packet{Data: []byte{0x65, 1}, PTS: 1000, IsKeyFrame: true},
			&protocol.Packet{Data: []byte{0x41, 2}, PTS: 2000},
		)),
		stream.KindAudio: newScriptedChannel(audioChannelBytes(t,
			&protocol.Packet{Data: []byte{0xaa}, PTS: 500},
		)),
	}}
	dev := connectedDevice(t, conn)

	session := NewSession(dev)
	require.NoError(t, session.Start(context.Background(), true, true))
	defer session.Close()

	videoMeta := session.VideoMeta()
	require.NotNil(t, videoMeta)
	assert.Equal(t, "Console ABC123", videoMeta.DeviceName)
	assert.Equal(t, 1280, videoMeta.Width)
	assert.Equal(t, 720, videoMeta.Height)

	audioMeta := session.AudioMeta()
	require.NotNil(t, audioMeta)
	assert.Equal(t, protocol.CodecIDOpus, audioMeta.CodecID)

	// Config packet is cached, not delivered as a media chunk.
	videoChunks := drainSource(t, session.VideoSource())
	require.Len(t, videoChunks, 2)
	assert.Equal(t, []byte{0x65, 1}, videoChunks[0].Data)
	assert.Equal(t, uint64(1000), videoChunks[0].PTS)
	assert.Equal(t, []byte{0x41, 2}, videoChunks[1].Data)

	audioChunks := drainSource(t, session.AudioSource())
	require.Len(t, audioChunks, 1)
	assert.Equal(t, uint64(500), audioChunks[0].PTS)

	assert.Eventually(t, func() bool {
		return session.ConfigNAL() != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, []byte{0x67, 0x68}, session.ConfigNAL())
}

func TestSessionVideoOnly(t *testing.T) {
	conn := &fakeDeviceConn{channels: map[stream.Kind]io.ReadCloser{
		stream.KindVideo: newScriptedChannel(videoChannelBytes(t)),
	}}
	session := NewSession(connectedDevice(t, conn))

	require.NoError(t, session.Start(context.Background(), true, false))
	defer session.Close()

	assert.NotNil(t, session.VideoSource())
	assert.Nil(t, session.AudioSource())
	assert.Nil(t, session.AudioMeta())
}

func TestSessionStartValidation(t *testing.T) {
	conn := &fakeDeviceConn{channels: map[stream.Kind]io.ReadCloser{}}
	session := NewSession(connectedDevice(t, conn))

	err := session.Start(context.Background(), false, false)
	require.Error(t, err)

	// Not connected at all.
	unattached := NewSession(device.FromDescriptor(device.Descriptor{Serial: "X"}))
	err = unattached.Start(context.Background(), true, false)
	require.Error(t, err)
}

func TestSessionStartFailureClosesOpenedChannels(t *testing.T) {
	video := newScriptedChannel(videoChannelBytes(t))
	conn := &fakeDeviceConn{
		channels: map[stream.Kind]io.ReadCloser{stream.KindVideo: video},
		openErr:  map[stream.Kind]error{stream.KindAudio: errors.New("channel refused")},
	}
	session := NewSession(connectedDevice(t, conn))

	err := session.Start(context.Background(), true, true)
	require.Error(t, err)

	video.mu.Lock()
	closed := video.closed
	video.mu.Unlock()
	assert.True(t, closed, "video channel must be released when audio setup fails")
}

func TestSessionSourceReportsMidStreamFailure(t *testing.T) {
	// Truncate the channel inside a packet so the read fails mid-frame.
	full := videoChannelBytes(t, &protocol.Packet{Data: []byte{1, 2, 3, 4}, PTS: 1})
	conn := &fakeDeviceConn{channels: map[stream.Kind]io.ReadCloser{
		stream.KindVideo: newScriptedChannel(full[:len(full)-2]),
	}}
	session := NewSession(connectedDevice(t, conn))
	require.NoError(t, session.Start(context.Background(), true, false))
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := session.VideoSource().Next(ctx)
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestSessionCloseReleasesDevice(t *testing.T) {
	conn := &fakeDeviceConn{channels: map[stream.Kind]io.ReadCloser{
		stream.KindVideo: newScriptedChannel(videoChannelBytes(t)),
	}}
	dev := connectedDevice(t, conn)
	session := NewSession(dev)
	require.NoError(t, session.Start(context.Background(), true, false))

	session.Close()
	assert.True(t, conn.closed)
	assert.Nil(t, dev.Conn())

	// Close again: no panic, no double release.
	session.Close()
}

// logRecorder captures emitted log messages for assertions.
type logRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (h *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *logRecorder) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *logRecorder) WithGroup(string) slog.Handler { return h }

func (h *logRecorder) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.msgs...)
}

func TestMediaSourceDropsOldestWhenConsumerBehind(t *testing.T) {
	src := newMediaSource(stream.KindVideo, 2)
	rec := &logRecorder{}
	logger := slog.New(rec)

	src.push(stream.Chunk{PTS: 1}, logger, "s")
	src.push(stream.Chunk{PTS: 2}, logger, "s")
	src.push(stream.Chunk{PTS: 3}, logger, "s") // drops PTS 1
	src.finish(nil)

	chunks := drainSource(t, src)
	require.Len(t, chunks, 2)
	assert.Equal(t, uint64(2), chunks[0].PTS)
	assert.Equal(t, uint64(3), chunks[1].PTS)
	assert.Contains(t, rec.messages(), "Consumer behind, dropping oldest chunk")
}

func TestMediaSourceLogsIncomingDropWhenRetrySendFails(t *testing.T) {
	// Unbuffered channel with no receiver: the drop-oldest retry cannot make
	// room, so the incoming chunk itself is lost. That loss must be logged.
	src := newMediaSource(stream.KindAudio, 0)
	rec := &logRecorder{}

	src.push(stream.Chunk{PTS: 9}, slog.New(rec), "s")
	src.finish(nil)

	chunks := drainSource(t, src)
	assert.Empty(t, chunks)
	assert.Contains(t, rec.messages(), "Consumer behind, dropping incoming chunk")
}

func TestMediaSourceFinishTwiceIsSafe(t *testing.T) {
	src := newMediaSource(stream.KindAudio, 1)
	src.finish(nil)
	src.finish(errors.New("late"))

	_, err := src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

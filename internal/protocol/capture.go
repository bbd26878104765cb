package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Capture packet header size
const PacketHeaderSize = 12

// Packet flags carried in the high bits of the PTS word
const (
	PacketFlagConfig   = uint64(1) << 63
	PacketFlagKeyFrame = uint64(1) << 62
	PacketPTSMask      = PacketFlagKeyFrame - 1
)

// Codec IDs
const (
	CodecIDH264     = uint32(0x68323634) // "h264" in ASCII
	CodecIDOpus     = uint32(0x6f707573) // "opus" in ASCII
	CodecIDDisabled = uint32(0x80000000) // stream disabled on the device
)

// Channel requests written when opening a per-kind stream channel
const (
	ChannelRequestVideo = byte(0x01)
	ChannelRequestAudio = byte(0x02)
)

// Packet size sanity bounds
const (
	MaxVideoPacketSize = 10 * 1024 * 1024
	MaxAudioPacketSize = 1 * 1024 * 1024
)

// Packet is one framed media payload as read off a capture channel.
type Packet struct {
	PTS        uint64
	Data       []byte
	IsKeyFrame bool
	IsConfig   bool
}

// VideoMeta is the per-channel handshake sent before video packets.
type VideoMeta struct {
	DeviceName string
	CodecID    uint32
	Width      int
	Height     int
}

// AudioMeta is the per-channel handshake sent before audio packets.
type AudioMeta struct {
	CodecID uint32
}

// ReadPacket reads one framed packet. maxSize bounds the declared payload
// size; use MaxVideoPacketSize or MaxAudioPacketSize per channel.
func ReadPacket(reader io.Reader, maxSize uint32) (*Packet, error) {
	header := make([]byte, PacketHeaderSize)
	n, err := io.ReadFull(reader, header)
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	ptsFlags := binary.BigEndian.Uint64(header[0:8])
	packetSize := binary.BigEndian.Uint32(header[8:12])

	if packetSize == 0 {
		return nil, fmt.Errorf("invalid packet size: 0")
	}
	if packetSize > maxSize {
		return nil, fmt.Errorf("packet size too large: %d", packetSize)
	}

	data := make([]byte, packetSize)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("failed to read packet data: %w", err)
	}

	return &Packet{
		PTS:        ptsFlags & PacketPTSMask,
		Data:       data,
		IsKeyFrame: (ptsFlags & PacketFlagKeyFrame) != 0,
		IsConfig:   (ptsFlags & PacketFlagConfig) != 0,
	}, nil
}

// WritePacket frames and writes one packet. Used by the device side of test
// fixtures; the real capture service implements the same layout.
func WritePacket(writer io.Writer, pkt *Packet) error {
	ptsFlags := pkt.PTS & PacketPTSMask
	if pkt.IsKeyFrame {
		ptsFlags |= PacketFlagKeyFrame
	}
	if pkt.IsConfig {
		ptsFlags |= PacketFlagConfig
	}

	header := make([]byte, PacketHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], ptsFlags)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(pkt.Data)))

	if _, err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := writer.Write(pkt.Data); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}

// ReadVideoMeta reads the video channel handshake: a 64-byte padded device
// name followed by codec id, width and height.
func ReadVideoMeta(reader io.Reader) (*VideoMeta, error) {
	const deviceNameFieldLength = 64
	nameBytes := make([]byte, deviceNameFieldLength)
	if _, err := io.ReadFull(reader, nameBytes); err != nil {
		return nil, fmt.Errorf("failed to read device name: %w", err)
	}

	metaBuf := make([]byte, 12)
	if _, err := io.ReadFull(reader, metaBuf); err != nil {
		return nil, fmt.Errorf("failed to read video metadata: %w", err)
	}

	return &VideoMeta{
		DeviceName: strings.TrimRight(string(nameBytes), "\x00"),
		CodecID:    binary.BigEndian.Uint32(metaBuf[0:4]),
		Width:      int(binary.BigEndian.Uint32(metaBuf[4:8])),
		Height:     int(binary.BigEndian.Uint32(metaBuf[8:12])),
	}, nil
}

// WriteVideoMeta writes the video channel handshake.
func WriteVideoMeta(writer io.Writer, meta *VideoMeta) error {
	nameBytes := make([]byte, 64)
	copy(nameBytes, meta.DeviceName)
	if _, err := writer.Write(nameBytes); err != nil {
		return err
	}

	metaBuf := make([]byte, 12)
	binary.BigEndian.PutUint32(metaBuf[0:4], meta.CodecID)
	binary.BigEndian.PutUint32(metaBuf[4:8], uint32(meta.Width))
	binary.BigEndian.PutUint32(metaBuf[8:12], uint32(meta.Height))
	_, err := writer.Write(metaBuf)
	return err
}

// ReadAudioMeta reads the audio channel handshake: the codec id only.
func ReadAudioMeta(reader io.Reader) (*AudioMeta, error) {
	metaBuf := make([]byte, 4)
	if _, err := io.ReadFull(reader, metaBuf); err != nil {
		return nil, fmt.Errorf("failed to read audio metadata: %w", err)
	}
	return &AudioMeta{CodecID: binary.BigEndian.Uint32(metaBuf)}, nil
}

// WriteAudioMeta writes the audio channel handshake.
func WriteAudioMeta(writer io.Writer, meta *AudioMeta) error {
	metaBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(metaBuf, meta.CodecID)
	_, err := writer.Write(metaBuf)
	return err
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is the capture protocol version this build speaks.
const ProtocolVersion = uint16(1)

var helloMagic = [4]byte{'C', 'A', 'P', 'S'}

// helloInfoSize is the fixed part of the hello: magic + version + flags.
const helloInfoSize = 8

// Hello is the banner a capture service presents when probed. Info is the
// raw protocol-info blob carried on the device descriptor; Serial identifies
// the device.
type Hello struct {
	Serial  string
	Version uint16
	Flags   uint16
	Info    []byte
}

// Compatible reports whether the announced protocol version is one this
// build can drive.
func (h *Hello) Compatible() bool {
	return h.Version == ProtocolVersion
}

// ParseHelloInfo parses a raw protocol-info blob. A malformed blob is an
// error; a well-formed blob with a foreign version parses fine and reports
// !Compatible().
func ParseHelloInfo(blob []byte) (*Hello, error) {
	if len(blob) < helloInfoSize {
		return nil, fmt.Errorf("protocol info too short: %d bytes", len(blob))
	}
	if string(blob[0:4]) != string(helloMagic[:]) {
		return nil, fmt.Errorf("bad protocol magic %q", blob[0:4])
	}
	return &Hello{
		Version: binary.BigEndian.Uint16(blob[4:6]),
		Flags:   binary.BigEndian.Uint16(blob[6:8]),
		Info:    blob,
	}, nil
}

// ReadHello reads the probe banner: the fixed info blob followed by a
// length-prefixed serial string.
func ReadHello(reader io.Reader) (*Hello, error) {
	blob := make([]byte, helloInfoSize)
	if _, err := io.ReadFull(reader, blob); err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}

	hello, err := ParseHelloInfo(blob)
	if err != nil {
		return nil, err
	}

	var serialLen [1]byte
	if _, err := io.ReadFull(reader, serialLen[:]); err != nil {
		return nil, fmt.Errorf("failed to read serial length: %w", err)
	}
	serial := make([]byte, serialLen[0])
	if _, err := io.ReadFull(reader, serial); err != nil {
		return nil, fmt.Errorf("failed to read serial: %w", err)
	}
	hello.Serial = string(serial)

	return hello, nil
}

// WriteHello writes the probe banner. Used by test fixtures standing in for
// the capture service.
func WriteHello(writer io.Writer, hello *Hello) error {
	blob := make([]byte, helloInfoSize)
	copy(blob[0:4], helloMagic[:])
	binary.BigEndian.PutUint16(blob[4:6], hello.Version)
	binary.BigEndian.PutUint16(blob[6:8], hello.Flags)
	if _, err := writer.Write(blob); err != nil {
		return err
	}

	if len(hello.Serial) > 255 {
		return fmt.Errorf("serial too long: %d bytes", len(hello.Serial))
	}
	if _, err := writer.Write([]byte{byte(len(hello.Serial))}); err != nil {
		return err
	}
	_, err := writer.Write([]byte(hello.Serial))
	return err
}

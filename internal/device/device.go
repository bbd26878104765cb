package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/openconsole/capstream/internal/protocol"
	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

// TransportKind identifies how a device is reachable.
type TransportKind int

const (
	TransportUSB TransportKind = iota
	TransportNetwork
)

func (t TransportKind) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Descriptor is the raw enumeration result a transport backend produces:
// enough to identify the device and judge protocol compatibility, nothing
// opened yet.
type Descriptor struct {
	Transport TransportKind
	Serial    string
	// Addr is the dialable address for network devices, empty for USB.
	Addr string
	// ProtocolInfo is the raw hello blob announced by the capture service.
	ProtocolInfo []byte
}

// Conn is an opened capture connection. Per-kind media channels are opened
// on demand and framed per internal/protocol.
type Conn interface {
	// OpenStream opens the media channel for the given kind.
	OpenStream(kind stream.Kind) (io.ReadCloser, error)
	Close() error
}

// Transport is the enumeration/open collaborator a Discovery drives. Backends
// exist for USB and TCP network transports.
type Transport interface {
	Kind() TransportKind
	// Enumerate returns descriptors for every currently reachable device.
	// Zero devices is a normal result, not an error; errors mean the
	// transport itself failed (permission denied, bus error).
	Enumerate() ([]Descriptor, error)
	// Open connects to the described device.
	Open(desc Descriptor) (Conn, error)
}

// Device is one discoverable capture endpoint. Created by enumeration;
// carries an opened connection only after Discovery.Connect.
type Device struct {
	desc  Descriptor
	hello *protocol.Hello

	mu   sync.Mutex
	conn Conn
}

// FromDescriptor wraps an enumerated descriptor, parsing its protocol-info
// blob. A device with an unparseable blob is kept visible but incompatible.
func FromDescriptor(desc Descriptor) *Device {
	hello, err := protocol.ParseHelloInfo(desc.ProtocolInfo)
	if err != nil {
		util.GetLogger().Debug("Unparseable protocol info",
			"serial", desc.Serial, "transport", desc.Transport.String(), "error", err)
		hello = nil
	}
	return &Device{desc: desc, hello: hello}
}

func (d *Device) Serial() string { return d.desc.Serial }

func (d *Device) Transport() TransportKind { return d.desc.Transport }

func (d *Device) Descriptor() Descriptor { return d.desc }

// Compatible reports whether the device announced a protocol version this
// build can drive.
func (d *Device) Compatible() bool {
	return d.hello != nil && d.hello.Compatible()
}

// ProtocolVersion returns the announced version, 0 when unknown.
func (d *Device) ProtocolVersion() uint16 {
	if d.hello == nil {
		return 0
	}
	return d.hello.Version
}

// Attach stores the opened connection. Called by Discovery.Connect.
func (d *Device) Attach(conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

// Conn returns the opened connection, nil before Connect.
func (d *Device) Conn() Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// Dispose releases the device's connection if one was opened. Safe to call
// multiple times and on never-connected devices.
func (d *Device) Dispose() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			util.GetLogger().Warn("Failed to close device connection",
				"serial", d.desc.Serial, "error", err)
		}
	}
}

func (d *Device) String() string {
	return fmt.Sprintf("%s device %s", d.desc.Transport, d.desc.Serial)
}

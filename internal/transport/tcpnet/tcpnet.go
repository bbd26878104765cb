package tcpnet

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"

	"github.com/openconsole/capstream/internal/device"
	"github.com/openconsole/capstream/internal/protocol"
	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

// Transport reaches capture services over TCP. Enumeration probes a fixed
// address list for the hello banner; an opened connection multiplexes the
// per-kind media channels as smux streams.
type Transport struct {
	addrs   []string
	timeout time.Duration
}

// New creates a network transport probing the given host:port addresses.
func New(addrs []string, probeTimeout time.Duration) *Transport {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Transport{addrs: addrs, timeout: probeTimeout}
}

func (t *Transport) Kind() device.TransportKind { return device.TransportNetwork }

// Enumerate probes every configured address. An unreachable address means
// the device is absent, not a transport failure; a malformed banner is
// logged and skipped.
func (t *Transport) Enumerate() ([]device.Descriptor, error) {
	logger := util.GetLogger()
	descs := []device.Descriptor{}

	for _, addr := range t.addrs {
		hello, err := t.probe(addr)
		if err != nil {
			logger.Debug("Probe failed", "addr", addr, "error", err)
			continue
		}

		descs = append(descs, device.Descriptor{
			Transport:    device.TransportNetwork,
			Serial:       hello.Serial,
			Addr:         addr,
			ProtocolInfo: hello.Info,
		})
	}

	return descs, nil
}

func (t *Transport) probe(addr string) (*protocol.Hello, error) {
	conn, err := net.DialTimeout("tcp", addr, t.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(t.timeout))
	hello, err := protocol.ReadHello(conn)
	if err != nil {
		return nil, errors.Wrap(err, "bad hello banner")
	}
	return hello, nil
}

// Open dials the device and sets up the smux session the media channels are
// opened on.
func (t *Transport) Open(desc device.Descriptor) (device.Conn, error) {
	conn, err := net.DialTimeout("tcp", desc.Addr, t.timeout)
	if err != nil {
		return nil, &device.TransportError{
			Transport: device.TransportNetwork, Op: "open",
			Err: errors.Wrapf(err, "dial %s", desc.Addr),
		}
	}

	// The service re-sends its banner on every connection; consume it.
	conn.SetReadDeadline(time.Now().Add(t.timeout))
	if _, err := protocol.ReadHello(conn); err != nil {
		conn.Close()
		return nil, &device.TransportError{
			Transport: device.TransportNetwork, Op: "open",
			Err: errors.Wrap(err, "bad hello banner"),
		}
	}
	conn.SetReadDeadline(time.Time{})

	session, err := smux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return nil, &device.TransportError{
			Transport: device.TransportNetwork, Op: "open",
			Err: errors.Wrap(err, "smux session"),
		}
	}

	util.GetLogger().Info("Network device opened", "serial", desc.Serial, "addr", desc.Addr)
	return &netConn{conn: conn, session: session}, nil
}

// netConn is an opened network capture connection.
type netConn struct {
	conn    net.Conn
	session *smux.Session
}

// OpenStream opens one smux stream per kind and announces the requested
// channel with a single request byte.
func (c *netConn) OpenStream(kind stream.Kind) (io.ReadCloser, error) {
	st, err := c.session.OpenStream()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s stream", kind)
	}

	request := protocol.ChannelRequestVideo
	if kind == stream.KindAudio {
		request = protocol.ChannelRequestAudio
	}
	if _, err := st.Write([]byte{request}); err != nil {
		st.Close()
		return nil, errors.Wrapf(err, "failed to request %s channel", kind)
	}

	return st, nil
}

func (c *netConn) Close() error {
	err := c.session.Close()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

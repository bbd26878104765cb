package sink

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/stream"
	"github.com/openconsole/capstream/internal/util"
)

// wsWriteTimeout bounds a single forward write so a stalled peer cannot
// block a stream worker indefinitely.
const wsWriteTimeout = 5 * time.Second

// WSForward forwards chunks to a WebSocket peer as binary messages:
// {kind:uint8}{pts:uint64}{payload}, big endian. Both legs share one
// connection; gorilla allows a single concurrent writer, so sends are
// serialized on the forwarder's mutex.
type WSForward struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// DialWSForward connects to the forward target URL (ws:// or wss://).
func DialWSForward(ctx context.Context, url string) (*WSForward, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial forward target %s", url)
	}
	util.GetLogger().Info("Forward target connected", "url", url)
	return &WSForward{conn: conn}, nil
}

// SinkFor returns the per-kind sink view onto this forwarder.
func (f *WSForward) SinkFor(kind stream.Kind) stream.Sink {
	return &wsLeg{fwd: f, kind: kind}
}

func (f *WSForward) send(kind stream.Kind, p []byte, pts uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("forwarder is closed")
	}

	msg := make([]byte, 9+len(p))
	msg[0] = byte(kind)
	binary.BigEndian.PutUint64(msg[1:9], pts)
	copy(msg[9:], p)

	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := f.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return errors.Wrap(err, "forward write")
	}
	return nil
}

// Close sends a close frame and drops the connection. Safe to call multiple
// times.
func (f *WSForward) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	f.conn.SetWriteDeadline(time.Now().Add(time.Second))
	f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return f.conn.Close()
}

type wsLeg struct {
	fwd  *WSForward
	kind stream.Kind
}

func (l *wsLeg) SendChunk(p []byte, off, n int, pts uint64) error {
	return l.fwd.send(l.kind, p[off:off+n], pts)
}

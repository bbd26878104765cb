package capture

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/openconsole/capstream/internal/stream"
)

// mediaSource is the channel-backed stream.Source one session reader feeds.
// finish closes the channel, optionally recording the error that ended the
// stream so the worker can distinguish a fault from a clean end.
type mediaSource struct {
	kind stream.Kind
	ch   chan stream.Chunk

	mu     sync.Mutex
	err    error
	closed bool
}

func newMediaSource(kind stream.Kind, buffer int) *mediaSource {
	return &mediaSource{
		kind: kind,
		ch:   make(chan stream.Chunk, buffer),
	}
}

func (m *mediaSource) Kind() stream.Kind { return m.kind }

func (m *mediaSource) Next(ctx context.Context) (stream.Chunk, error) {
	select {
	case chunk, ok := <-m.ch:
		if !ok {
			m.mu.Lock()
			err := m.err
			m.mu.Unlock()
			if err != nil {
				return stream.Chunk{}, err
			}
			return stream.Chunk{}, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return stream.Chunk{}, ctx.Err()
	}
}

// push delivers a chunk without ever blocking the reader: when the consumer
// is behind, the oldest buffered chunk is dropped first.
func (m *mediaSource) push(chunk stream.Chunk, logger *slog.Logger, session string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	select {
	case m.ch <- chunk:
	default:
		select {
		case dropped := <-m.ch:
			logger.Warn("Consumer behind, dropping oldest chunk",
				"session", session, "kind", m.kind.String(), "dropped_pts", dropped.PTS)
		default:
		}
		select {
		case m.ch <- chunk:
		default:
			logger.Warn("Consumer behind, dropping incoming chunk",
				"session", session, "kind", m.kind.String(), "dropped_pts", chunk.PTS)
		}
	}
}

// finish ends the stream. A nil err means a clean end (workers see io.EOF).
func (m *mediaSource) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.err = err
	m.closed = true
	close(m.ch)
}

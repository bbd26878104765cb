package stream

import (
	"context"
	"io"
)

// Source is a pull-style producer of timestamped chunks for one stream kind.
type Source interface {
	// Kind returns the stream kind this source produces.
	Kind() Kind

	// Next blocks until the next chunk is available, the context is done,
	// or the stream ends. End of stream is reported as io.EOF.
	Next(ctx context.Context) (Chunk, error)
}

// ChanSource adapts a chunk channel into a Source. Closing the channel ends
// the stream.
type ChanSource struct {
	kind Kind
	ch   <-chan Chunk
}

func NewChanSource(kind Kind, ch <-chan Chunk) *ChanSource {
	return &ChanSource{kind: kind, ch: ch}
}

func (s *ChanSource) Kind() Kind { return s.kind }

func (s *ChanSource) Next(ctx context.Context) (Chunk, error) {
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			return Chunk{}, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

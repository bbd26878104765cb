package stream

import (
	"github.com/pkg/errors"
)

// Sink is a push-style consumer of timestamped chunks. Implementations may
// render, record or forward; the pipeline does not care. A sink must not
// retain p beyond the call unless it copies.
type Sink interface {
	// SendChunk consumes n bytes of p starting at off, tagged with pts.
	// Callers are expected to go through Send or SendRange, which validate
	// the range; implementations may assume it is in bounds.
	SendChunk(p []byte, off, n int, pts uint64) error
}

// Send forwards the full payload, equivalent to SendRange(s, p, 0, len(p), pts).
func Send(s Sink, p []byte, pts uint64) error {
	return SendRange(s, p, 0, len(p), pts)
}

// SendRange validates the (off, n) range against p and forwards it to the
// sink. An out-of-bounds range fails with ErrInvalidArgument and nothing is
// sent. The two operands are checked separately; off+n may not be computed
// first, it overflows for huge n.
func SendRange(s Sink, p []byte, off, n int, pts uint64) error {
	if off < 0 || n < 0 || off > len(p) || n > len(p)-off {
		return errors.Wrapf(ErrInvalidArgument, "chunk range (off=%d, n=%d) out of bounds for %d byte payload", off, n, len(p))
	}
	return s.SendChunk(p, off, n, pts)
}

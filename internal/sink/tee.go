package sink

import (
	stderrors "errors"

	"github.com/openconsole/capstream/internal/stream"
)

// Tee duplicates each send across several sinks of the same kind. Every sink
// is attempted; errors are joined.
type Tee struct {
	sinks []stream.Sink
}

// Combine returns a sink fanning out to all the given sinks. A single sink
// is returned as-is; nil for none.
func Combine(sinks ...stream.Sink) stream.Sink {
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return &Tee{sinks: sinks}
	}
}

func (t *Tee) SendChunk(p []byte, off, n int, pts uint64) error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.SendChunk(p, off, n, pts); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

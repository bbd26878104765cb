package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument reports an out-of-bounds chunk range or a
	// kind-mismatched source.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWorkerRunning reports an operation that is only valid while the
	// worker is idle.
	ErrWorkerRunning = errors.New("stream worker is running")
)

// StreamFault reports an unrecoverable source or sink error that stopped one
// stream leg. The other leg and the owning manager are unaffected.
type StreamFault struct {
	Kind Kind
	Err  error
}

func (f *StreamFault) Error() string {
	return fmt.Sprintf("%s stream fault: %v", f.Kind, f.Err)
}

func (f *StreamFault) Unwrap() error { return f.Err }

// RecoverableError marks a transient read error. Workers retry these a
// bounded number of times instead of faulting the leg.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return e.Err.Error() }

func (e *RecoverableError) Unwrap() error { return e.Err }

// Recoverable wraps err as transient. Returns nil for a nil err.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

// IsRecoverable reports whether err was marked transient via Recoverable.
func IsRecoverable(err error) bool {
	var r *RecoverableError
	return errors.As(err, &r)
}


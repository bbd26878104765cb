package device

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceNotFound reports that enumeration succeeded but nothing
	// matched. Not an I/O failure; the caller decides whether to retry.
	ErrDeviceNotFound = errors.New("no matching device found")

	// ErrIncompatibleDevice reports a device that was found but announces a
	// protocol version this build cannot drive.
	ErrIncompatibleDevice = errors.New("device protocol is not compatible")
)

// TransportError reports an enumeration or open failure at the transport
// layer. Recoverable by retrying enumeration later.
type TransportError struct {
	Transport TransportKind
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport %s: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

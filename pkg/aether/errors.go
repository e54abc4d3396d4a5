package aether

import (
	"errors"
	"fmt"

	"github.com/aetherlab/aether-go/pkg/wire"
)

// Client errors.
var (
	// ErrClientClosed is returned once the client has shut down.
	ErrClientClosed = errors.New("client closed")

	// ErrNotConnected is returned when no session is up and none is
	// being established.
	ErrNotConnected = errors.New("not connected")

	// ErrAckTimeout is returned when the device does not acknowledge
	// a command in time.
	ErrAckTimeout = errors.New("acknowledgment timed out")

	// ErrQueueFull is returned when a command is submitted during an
	// outage and the offline queue is at capacity.
	ErrQueueFull = errors.New("offline queue full")

	// ErrSessionLost is returned for commands that were sent but whose
	// session ended before the ack arrived. Whether the device applied
	// them is unknown.
	ErrSessionLost = errors.New("session lost before acknowledgment")
)

// RejectedError is a device-side rejection of an acknowledged command.
type RejectedError struct {
	Status  wire.Status
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("device rejected command: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("device rejected command: %s", e.Status)
}

// IsRejected reports whether err is a device rejection, and returns
// the status if so.
func IsRejected(err error) (wire.Status, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Status, true
	}
	return 0, false
}

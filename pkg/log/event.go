package log

import (
	"time"

	"github.com/aetherlab/aether-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the physical connection (UUID).
	// A new ID is assigned on every reconnect.
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the device address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceName is the advertised device name, when known.
	DeviceName string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerSession is the connection/session layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryControl indicates a control frame (heartbeat/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message at the wire layer.
type MessageEvent struct {
	// Kind is the frame kind.
	Kind wire.Kind `cbor:"1,keyasint"`

	// CorrelationID links commands to acknowledgments (0 when absent).
	CorrelationID uint32 `cbor:"2,keyasint,omitempty"`

	// For commands: the target engine tag.
	Engine string `cbor:"3,keyasint,omitempty"`

	// For commands: the target parameter key.
	Param string `cbor:"4,keyasint,omitempty"`

	// For acknowledgments: the device status.
	Status *wire.Status `cbor:"5,keyasint,omitempty"`

	// For telemetry and heartbeats: the device sequence number.
	Seq uint64 `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures session lifecycle transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

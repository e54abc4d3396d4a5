package wire

import (
	"fmt"
	"time"

	"github.com/aetherlab/aether-go/pkg/model"
)

// Kind tags a wire frame. Key 1 of every frame map.
type Kind uint8

const (
	// KindHello opens a session; the device answers with an Ack.
	KindHello Kind = 1

	// KindCommand is a single parameter-set instruction.
	KindCommand Kind = 2

	// KindElementBus is an atomic whole-bus update.
	KindElementBus Kind = 3

	// KindSubscribe starts telemetry delivery.
	KindSubscribe Kind = 4

	// KindUnsubscribe stops telemetry delivery.
	KindUnsubscribe Kind = 5

	// KindAck acknowledges a client frame by correlation ID.
	KindAck Kind = 6

	// KindTelemetry is a device telemetry snapshot.
	KindTelemetry Kind = 7

	// KindHeartbeat keeps the silence window fed when telemetry is idle.
	KindHeartbeat Kind = 8

	// KindError is a device-side protocol fault notice.
	KindError Kind = 9

	// KindClose initiates graceful shutdown.
	KindClose Kind = 10
)

// String returns the frame kind name.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindCommand:
		return "command"
	case KindElementBus:
		return "element-bus"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindAck:
		return "ack"
	case KindTelemetry:
		return "telemetry"
	case KindHeartbeat:
		return "heartbeat"
	case KindError:
		return "error"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// IsValid returns true for a known frame kind.
func (k Kind) IsValid() bool {
	return k >= KindHello && k <= KindClose
}

// Status is the device's disposition of an acknowledged frame.
type Status uint8

const (
	// StatusOK indicates the frame was applied.
	StatusOK Status = 0

	// StatusInvalidTarget indicates an unknown engine or parameter.
	StatusInvalidTarget Status = 1

	// StatusOutOfRange indicates a value outside the parameter domain.
	StatusOutOfRange Status = 2

	// StatusBusy indicates the engine cannot apply the change now.
	StatusBusy Status = 3

	// StatusUnsupported indicates the operation is not available on
	// this firmware.
	StatusUnsupported Status = 4
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidTarget:
		return "INVALID_TARGET"
	case StatusOutOfRange:
		return "OUT_OF_RANGE"
	case StatusBusy:
		return "BUSY"
	case StatusUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the acknowledgment is positive.
func (s Status) IsSuccess() bool { return s == StatusOK }

// Hello opens a session.
//
// CBOR: {1: kind, 2: id, 3: clientId, 4: version}
type Hello struct {
	Kind     Kind   `cbor:"1,keyasint"`
	ID       uint32 `cbor:"2,keyasint"`
	ClientID string `cbor:"3,keyasint"`
	Version  uint8  `cbor:"4,keyasint"`
}

// ProtocolVersion is the wire protocol revision this package speaks.
const ProtocolVersion uint8 = 1

// Command is a parameter-set frame.
//
// CBOR: {1: kind, 2: id, 3: engine, 4: param, 5: value}
type Command struct {
	Kind   Kind    `cbor:"1,keyasint"`
	ID     uint32  `cbor:"2,keyasint"`
	Engine string  `cbor:"3,keyasint"`
	Param  string  `cbor:"4,keyasint"`
	Value  float64 `cbor:"5,keyasint"`
}

// ElementBus is an atomic whole-bus update. Elements is always exactly
// model.ElementCount signed bytes in canonical order, each scaled by
// 127.
//
// CBOR: {1: kind, 2: id, 3: elements}
type ElementBus struct {
	Kind     Kind   `cbor:"1,keyasint"`
	ID       uint32 `cbor:"2,keyasint"`
	Elements []byte `cbor:"3,keyasint"`
}

// Frame decodes the packed element bytes into a frame.
func (e *ElementBus) Frame() (model.ElementFrame, error) {
	values, err := UnpackElements(e.Elements)
	if err != nil {
		return nil, err
	}
	frame := make(model.ElementFrame, model.ElementCount)
	for i, el := range model.Elements() {
		frame[el] = values[i]
	}
	return frame, nil
}

// Subscribe starts telemetry delivery at the hinted rate.
//
// CBOR: {1: kind, 2: id, 3: rateMs}
type Subscribe struct {
	Kind   Kind   `cbor:"1,keyasint"`
	ID     uint32 `cbor:"2,keyasint"`
	RateMs uint32 `cbor:"3,keyasint,omitempty"`
}

// Unsubscribe stops telemetry delivery.
//
// CBOR: {1: kind, 2: id}
type Unsubscribe struct {
	Kind Kind   `cbor:"1,keyasint"`
	ID   uint32 `cbor:"2,keyasint"`
}

// Ack acknowledges a client frame. ID matches the acknowledged frame's
// correlation ID. A non-success status carries a reason message.
//
// CBOR: {1: kind, 2: id, 3: status, 4: message}
type Ack struct {
	Kind    Kind   `cbor:"1,keyasint"`
	ID      uint32 `cbor:"2,keyasint"`
	Status  Status `cbor:"3,keyasint"`
	Message string `cbor:"4,keyasint,omitempty"`
}

// Sensors is the environmental sensing block of a telemetry snapshot.
// Optional sensors are nil when the device does not carry them.
//
// CBOR: {1: temperature, 2: humidity, 3: pressure, 4: co2,
// 5: voc, 6: radar, 7: efield}
type Sensors struct {
	Temperature float64  `cbor:"1,keyasint"`
	Humidity    float64  `cbor:"2,keyasint"`
	Pressure    float64  `cbor:"3,keyasint"`
	CO2         float64  `cbor:"4,keyasint"`
	VOC         *float64 `cbor:"5,keyasint,omitempty"`
	Radar       *float64 `cbor:"6,keyasint,omitempty"`
	EField      *float64 `cbor:"7,keyasint,omitempty"`
}

// AudioStats is the audio-engine health block of a telemetry snapshot.
//
// CBOR: {1: cpu, 2: xruns, 3: latencyMs}
type AudioStats struct {
	CPU       float64 `cbor:"1,keyasint"`
	XRuns     uint32  `cbor:"2,keyasint"`
	LatencyMs float64 `cbor:"3,keyasint"`
}

// Telemetry is one device snapshot. Seq increases monotonically per
// session. Elements is the last-applied bus frame, empty if none has
// been applied yet.
//
// CBOR: {1: kind, 2: seq, 3: timestamp, 4: sensors, 5: audio,
// 6: elements}
type Telemetry struct {
	Kind      Kind       `cbor:"1,keyasint"`
	Seq       uint64     `cbor:"2,keyasint"`
	Timestamp time.Time  `cbor:"3,keyasint"`
	Sensors   Sensors    `cbor:"4,keyasint"`
	Audio     AudioStats `cbor:"5,keyasint"`
	Elements  []byte     `cbor:"6,keyasint,omitempty"`
}

// ElementFrame decodes the last-applied bus frame, or nil if the
// snapshot carries none.
func (t *Telemetry) ElementFrame() (model.ElementFrame, error) {
	if len(t.Elements) == 0 {
		return nil, nil
	}
	values, err := UnpackElements(t.Elements)
	if err != nil {
		return nil, err
	}
	frame := make(model.ElementFrame, model.ElementCount)
	for i, el := range model.Elements() {
		frame[el] = values[i]
	}
	return frame, nil
}

// Heartbeat is a liveness filler sent when the telemetry rate is low.
//
// CBOR: {1: kind, 2: seq}
type Heartbeat struct {
	Kind Kind   `cbor:"1,keyasint"`
	Seq  uint64 `cbor:"2,keyasint"`
}

// DeviceError is a device-side fault notice not tied to a specific
// client frame.
//
// CBOR: {1: kind, 2: code, 3: message}
type DeviceError struct {
	Kind    Kind   `cbor:"1,keyasint"`
	Code    uint16 `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint,omitempty"`
}

func (e *DeviceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("device error %d", e.Code)
}

// Close initiates graceful shutdown.
//
// CBOR: {1: kind}
type Close struct {
	Kind Kind `cbor:"1,keyasint"`
}

// ProtocolError wraps bytes that could not be decoded as a known
// frame. It carries the raw payload for diagnostics and never
// propagates as a panic; the demultiplexer decides disposition.
type ProtocolError struct {
	Raw    []byte
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

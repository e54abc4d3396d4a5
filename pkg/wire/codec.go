package wire

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/aetherlab/aether-go/pkg/model"
)

// encMode is the CBOR encoder mode for Aether frames.
// Deterministic output with integer keys and unix timestamps.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode, lenient for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// PackElements packs normalized element values into the firmware's
// signed-byte representation: one byte per element in canonical order,
// each value scaled by 127.
func PackElements(values []float64) ([]byte, error) {
	if len(values) != model.ElementCount {
		return nil, fmt.Errorf("element pack: got %d values, want %d", len(values), model.ElementCount)
	}
	out := make([]byte, model.ElementCount)
	for i, v := range values {
		if v < -1.0 || v > 1.0 {
			return nil, fmt.Errorf("element pack: value %v outside [-1, 1]", v)
		}
		out[i] = byte(int8(math.Round(v * 127)))
	}
	return out, nil
}

// UnpackElements reverses PackElements, normalizing each signed byte
// by 127.
func UnpackElements(data []byte) ([]float64, error) {
	if len(data) != model.ElementCount {
		return nil, fmt.Errorf("element unpack: got %d bytes, want %d", len(data), model.ElementCount)
	}
	out := make([]float64, model.ElementCount)
	for i, b := range data {
		out[i] = float64(int8(b)) / 127.0
	}
	return out, nil
}

// EncodeCommand encodes a parameter-set command with the given
// correlation ID. The value domain is re-checked against the model
// registry; an out-of-domain command fails before any bytes are
// produced.
func EncodeCommand(cmd model.Command, id uint32) ([]byte, error) {
	if cmd.Engine == model.EngineElements {
		if v := model.Element(cmd.Param); !v.IsValid() {
			return nil, &model.ValidationError{Target: cmd.Param, Reason: "unknown element"}
		}
		if cmd.Value < -1.0 || cmd.Value > 1.0 {
			return nil, &model.ValidationError{
				Target: cmd.Param,
				Value:  cmd.Value,
				Reason: fmt.Sprintf("value %v outside [-1, 1]", cmd.Value),
			}
		}
	} else {
		r, err := model.LookupParam(cmd.Engine, cmd.Param)
		if err != nil {
			return nil, err
		}
		if !r.Contains(cmd.Value) {
			return nil, &model.ValidationError{
				Target: string(cmd.Engine) + "." + cmd.Param,
				Value:  cmd.Value,
				Reason: fmt.Sprintf("value %v outside %s", cmd.Value, r),
			}
		}
	}

	return Marshal(&Command{
		Kind:   KindCommand,
		ID:     id,
		Engine: string(cmd.Engine),
		Param:  cmd.Param,
		Value:  cmd.Value,
	})
}

// EncodeElementBus encodes a whole-bus update as a single frame.
func EncodeElementBus(frame model.ElementFrame, id uint32) ([]byte, error) {
	packed, err := PackElements(frame.Values())
	if err != nil {
		return nil, &model.ValidationError{Target: "elements", Reason: err.Error()}
	}
	return Marshal(&ElementBus{
		Kind:     KindElementBus,
		ID:       id,
		Elements: packed,
	})
}

// EncodeHello encodes the session-opening handshake frame.
func EncodeHello(id uint32, clientID string) ([]byte, error) {
	return Marshal(&Hello{
		Kind:     KindHello,
		ID:       id,
		ClientID: clientID,
		Version:  ProtocolVersion,
	})
}

// EncodeSubscribe encodes a telemetry subscription frame.
func EncodeSubscribe(id uint32, rateMs uint32) ([]byte, error) {
	return Marshal(&Subscribe{Kind: KindSubscribe, ID: id, RateMs: rateMs})
}

// EncodeUnsubscribe encodes a telemetry unsubscribe frame.
func EncodeUnsubscribe(id uint32) ([]byte, error) {
	return Marshal(&Unsubscribe{Kind: KindUnsubscribe, ID: id})
}

// EncodeClose encodes a graceful-close frame.
func EncodeClose() ([]byte, error) {
	return Marshal(&Close{Kind: KindClose})
}

// Decode classifies and decodes one inbound frame. The result is one
// of *Ack, *Telemetry, *Heartbeat, *DeviceError, or *Close. Malformed
// or unrecognized payloads return a *ProtocolError carrying the raw
// bytes; Decode never panics past this boundary.
func Decode(data []byte) (any, *ProtocolError) {
	var peek struct {
		Kind Kind `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return nil, &ProtocolError{Raw: data, Reason: "undecodable frame", Err: err}
	}

	switch peek.Kind {
	case KindAck:
		var ack Ack
		if err := Unmarshal(data, &ack); err != nil {
			return nil, &ProtocolError{Raw: data, Reason: "malformed ack", Err: err}
		}
		return &ack, nil

	case KindTelemetry:
		var tel Telemetry
		if err := Unmarshal(data, &tel); err != nil {
			return nil, &ProtocolError{Raw: data, Reason: "malformed telemetry", Err: err}
		}
		if len(tel.Elements) != 0 && len(tel.Elements) != model.ElementCount {
			return nil, &ProtocolError{Raw: data, Reason: "telemetry with malformed element block"}
		}
		return &tel, nil

	case KindHeartbeat:
		var hb Heartbeat
		if err := Unmarshal(data, &hb); err != nil {
			return nil, &ProtocolError{Raw: data, Reason: "malformed heartbeat", Err: err}
		}
		return &hb, nil

	case KindError:
		var derr DeviceError
		if err := Unmarshal(data, &derr); err != nil {
			return nil, &ProtocolError{Raw: data, Reason: "malformed device error", Err: err}
		}
		return &derr, nil

	case KindClose:
		return &Close{Kind: KindClose}, nil

	default:
		return nil, &ProtocolError{
			Raw:    data,
			Reason: fmt.Sprintf("unexpected frame kind %d", peek.Kind),
		}
	}
}

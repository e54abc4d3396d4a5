// Package wire implements the Aether control-channel message format.
//
// All frames are CBOR maps with integer keys. Key 1 always carries the
// frame kind, so every message is unambiguously tagged and can be
// classified without a full decode. Client-originated frames carry a
// caller-assigned correlation ID that the device echoes in its
// acknowledgment.
//
// Frame kinds:
//   - hello / ack: session handshake
//   - command: single parameter set
//   - element-bus: atomic whole-bus update (always one frame)
//   - subscribe / unsubscribe: telemetry stream control
//   - telemetry: sensor + audio-engine snapshot
//   - heartbeat: liveness filler when telemetry is idle
//   - error: device-side protocol fault notice
//   - close: graceful shutdown
//
// Elemental bus values travel as 4 signed bytes in canonical element
// order (earth, air, water, fire), each normalized by 127, matching
// the device firmware's packed representation.
package wire

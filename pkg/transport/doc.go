// Package transport provides the framed socket layer of the Aether
// control channel.
//
// The transport layer handles:
//   - Dialing the device over TCP, TLS, or WebSocket
//   - Length-prefixed message framing (TCP/TLS)
//   - Silence-window monitoring for connection liveness
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Frames               │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │  (or WebSocket binary messages)
//	├────────────────────────────────┤
//	│      TLS (optional)            │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// The endpoint URL scheme selects the transport: tcp:// for plain
// TCP, tls:// for TLS, ws:// and wss:// for WebSocket. Certificate
// verification for tls:// and wss:// is controlled by a single
// verify/no-verify toggle.
//
// # Liveness
//
// The device streams telemetry continuously, so liveness is not
// measured with client pings: a Watchdog tracks the time since the
// last inbound telemetry or heartbeat frame and reports the
// connection dead once a configurable silence window elapses.
package transport

// Package aether provides the client for the Aether ambient audio
// device's control-and-telemetry channel.
//
// A Client owns one logical session with a device: it dials the
// endpoint, performs the hello exchange, and then multiplexes
// parameter commands, elemental bus updates, and telemetry
// subscriptions over a single framed connection.
//
// # Commands
//
// Every outbound command carries a correlation ID and is acknowledged
// by the device. Callers block until the ack arrives, the ack timeout
// elapses, or their context is done. Commands are validated against
// the engine parameter registry before any bytes hit the wire.
//
// # Reconnection
//
// When the connection drops, or the session degrades from repeated
// protocol errors or telemetry silence, the client reconnects with
// exponential backoff. Commands submitted during an outage go into a
// bounded queue; once the new session is up, telemetry subscriptions
// are re-established first and the queue is flushed in submission
// order.
//
// # Telemetry
//
// Subscribe returns a telemetry.Stream with a bounded buffer: a slow
// consumer loses the oldest snapshots, never the newest, and the next
// delivered snapshot reports how many were lost.
package aether

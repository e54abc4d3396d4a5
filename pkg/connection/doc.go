// Package connection provides connection lifecycle management for the
// Aether control channel.
//
// This package handles:
//   - Connection state tracking, including the degraded state
//   - Exponential backoff for reconnection attempts
//   - Jitter to prevent thundering herd
//   - Automatic reconnection on connection loss
//
// # States
//
//	disconnected → connecting → ready
//	ready → degraded          (repeated protocol errors, silence)
//	ready → reconnecting      (transport loss, auto-reconnect on)
//	degraded → reconnecting   (auto-reconnect on)
//	degraded → closed         (auto-reconnect off)
//	any → closed              (explicit close)
//
// Degraded means the socket may still be open but the session is no
// longer trusted; the manager tears it down and either reconnects or
// closes depending on policy.
//
// # Reconnection Strategy
//
// When a connection is lost, the client uses exponential backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Exponential increase: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Continue at 30s until successful (or MaxAttempts reached)
//  5. Reset to 500ms on successful reconnection
//
// # Jitter
//
// To prevent thundering herd when multiple clients reconnect:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A reconnection counts as successful only once the hello exchange
// completes; transport-level success with a failed handshake does not
// reset backoff.
package connection

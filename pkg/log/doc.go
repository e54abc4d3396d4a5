// Package log provides structured protocol event logging for the
// Aether control channel.
//
// Events are captured at three layers: transport (raw frames), wire
// (decoded messages), and session (state changes, errors). The Event
// type is CBOR-serializable with integer keys, so a FileLogger
// produces compact binary logs that the Reader can replay and filter
// offline. SlogAdapter bridges events into a standard slog.Logger for
// console use, and MultiLogger fans out to several sinks at once.
package log

// Package telemetry provides client-side consumption of the device's
// telemetry stream.
//
// Each subscription is represented by a Stream: a bounded buffer of
// snapshots with a pull API. The device pushes at its own pace; if the
// consumer falls behind, the oldest snapshots are dropped and the next
// delivered snapshot carries the number of snapshots lost before it.
// Telemetry is a freshness feed, not a journal: the newest data always
// wins.
//
// The Registry tracks active streams so that a reconnecting session
// can re-establish every subscription on the new connection before any
// queued commands are flushed.
package telemetry

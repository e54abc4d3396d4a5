package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aetherlab/aether-go/pkg/model"
	"github.com/aetherlab/aether-go/pkg/wire"
)

// Stream errors.
var (
	// ErrStreamClosed is returned by Next once the stream has ended
	// and all buffered snapshots have been consumed.
	ErrStreamClosed = errors.New("telemetry stream closed")
)

// DefaultBufferSize is the default snapshot buffer capacity.
const DefaultBufferSize = 32

// Snapshot is one telemetry reading delivered to the consumer.
type Snapshot struct {
	// Seq is the device-assigned sequence number.
	Seq uint64

	// Time is the device timestamp.
	Time time.Time

	// Sensors holds the environmental sensor readings.
	Sensors wire.Sensors

	// Audio holds the audio engine statistics.
	Audio wire.AudioStats

	// Elements is the elemental bus state at the time of the reading.
	Elements model.ElementFrame

	// Dropped is the number of snapshots discarded between the
	// previously delivered snapshot and this one.
	Dropped uint64
}

// Stream is a bounded telemetry buffer with a pull API.
// It supports one concurrent consumer.
type Stream struct {
	// ID is the wire-level subscription identifier.
	ID uint32

	// RateMs is the requested update interval hint, in milliseconds.
	RateMs uint32

	mu sync.Mutex

	// Ring buffer of pending snapshots
	buf   []Snapshot
	head  int
	count int

	// Snapshots dropped since the last delivery
	dropped uint64

	// Lifetime drop counter
	totalDropped uint64

	closed   bool
	closeErr error

	// Signals a new snapshot (capacity 1)
	notify chan struct{}

	// Closed when the stream ends
	done chan struct{}
}

// NewStream creates a stream with the given buffer capacity.
// Capacity <= 0 uses DefaultBufferSize.
func NewStream(id, rateMs uint32, capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Stream{
		ID:     id,
		RateMs: rateMs,
		buf:    make([]Snapshot, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push adds a snapshot to the buffer. If the buffer is full, the
// oldest snapshot is discarded and counted as dropped. Push after
// close is a no-op.
func (s *Stream) Push(snap Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.count == len(s.buf) {
		// Drop oldest: freshness beats history.
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		s.dropped++
		s.totalDropped++
	}

	s.buf[(s.head+s.count)%len(s.buf)] = snap
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next snapshot, blocking until one is available, the
// stream ends, or the context is done. Buffered snapshots remain
// readable after the stream ends; once drained, Next returns the
// stream's end error.
func (s *Stream) Next(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			snap := s.buf[s.head]
			s.buf[s.head] = Snapshot{}
			s.head = (s.head + 1) % len(s.buf)
			s.count--

			snap.Dropped = s.dropped
			s.dropped = 0
			s.mu.Unlock()
			return snap, nil
		}
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			return Snapshot{}, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Cancel ends the stream from the consumer side. Buffered snapshots
// remain readable; after that, Next returns ErrStreamClosed.
func (s *Stream) Cancel() {
	s.CloseWithError(ErrStreamClosed)
}

// CloseWithError ends the stream with the given terminal error.
// A nil error means ErrStreamClosed. Only the first close takes
// effect.
func (s *Stream) CloseWithError(err error) {
	if err == nil {
		err = ErrStreamClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	s.mu.Unlock()

	close(s.done)
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending returns the number of buffered snapshots.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// TotalDropped returns the lifetime count of discarded snapshots.
func (s *Stream) TotalDropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDropped
}

// SnapshotFrom converts a wire telemetry message into a Snapshot.
func SnapshotFrom(t *wire.Telemetry) (Snapshot, error) {
	frame, err := t.ElementFrame()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Seq:      t.Seq,
		Time:     t.Timestamp,
		Sensors:  t.Sensors,
		Audio:    t.Audio,
		Elements: frame,
	}, nil
}

package telemetry

import (
	"errors"
	"sync"

	"github.com/aetherlab/aether-go/pkg/wire"
)

// Registry errors.
var (
	ErrStreamNotFound = errors.New("telemetry stream not found")
)

// DefaultMaxStreams bounds concurrent subscriptions per session.
const DefaultMaxStreams = 16

// ErrTooManyStreams is returned when the stream limit is reached.
var ErrTooManyStreams = errors.New("maximum telemetry streams reached")

// Registry tracks the active telemetry streams of a session.
type Registry struct {
	mu sync.RWMutex

	streams map[uint32]*Stream

	maxStreams int
}

// NewRegistry creates an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{
		streams:    make(map[uint32]*Stream),
		maxStreams: DefaultMaxStreams,
	}
}

// Open creates and registers a new stream under the given subscription
// ID. The caller allocates IDs; the subscribe frame's correlation ID
// doubles as the subscription identity.
func (r *Registry) Open(id, rateMs uint32, capacity int) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.streams) >= r.maxStreams {
		return nil, ErrTooManyStreams
	}

	s := NewStream(id, rateMs, capacity)
	r.streams[id] = s
	return s, nil
}

// Remove unregisters a stream. The stream itself is not closed.
func (r *Registry) Remove(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[id]; !ok {
		return ErrStreamNotFound
	}
	delete(r.streams, id)
	return nil
}

// Get returns a stream by subscription ID.
func (r *Registry) Get(id uint32) (*Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return s, nil
}

// Active returns all registered streams. Used on reconnect to
// re-establish every subscription before flushing queued commands.
func (r *Registry) Active() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// Dispatch delivers a telemetry message to every registered stream.
// Returns the conversion error, if any.
func (r *Registry) Dispatch(t *wire.Telemetry) error {
	snap, err := SnapshotFrom(t)
	if err != nil {
		return err
	}

	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	for _, s := range streams {
		s.Push(snap)
	}
	return nil
}

// CloseAll ends every stream with the given error and empties the
// registry. Used when the session closes for good.
func (r *Registry) CloseAll(err error) {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[uint32]*Stream)
	r.mu.Unlock()

	for _, s := range streams {
		s.CloseWithError(err)
	}
}

// Count returns the number of registered streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Logger is the interface applications implement to receive protocol
// log events. Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects
	// the session's read loop.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// FileLogger appends CBOR-encoded events to a log file. One file can
// hold many sessions; Reader filters by session ID afterwards.
type FileLogger struct {
	mu   sync.Mutex
	f    *os.File
	enc  *cbor.Encoder
	done bool
}

// NewFileLogger opens the log file at path for appending, creating it
// when missing.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{f: f, enc: NewEncoder(f)}, nil
}

// Log appends one event. Encoding failures are dropped: a broken log
// file must not take the session down with it.
func (fl *FileLogger) Log(event Event) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.done {
		return
	}
	_ = fl.enc.Encode(event)
}

// Close closes the file. Safe to call more than once; events logged
// after Close are dropped.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.done {
		return nil
	}
	fl.done = true
	return fl.f.Close()
}

// MultiLogger fans each event out to several sinks, typically a
// FileLogger plus the slog adapter.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines loggers into one. Events are delivered to
// every sink in argument order.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log delivers the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = (*FileLogger)(nil)
	_ Logger = (*MultiLogger)(nil)
)

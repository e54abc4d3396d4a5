package transport

import (
	"context"
	"sync"
	"time"
)

// Silence-window constants.
const (
	// DefaultSilenceWindow is the default time without telemetry or
	// heartbeat before the connection is considered dead.
	DefaultSilenceWindow = 6 * time.Second

	// MinSilenceWindow is the lower bound applied to derived windows.
	MinSilenceWindow = 2 * time.Second

	// SilenceWindowFactor scales the expected telemetry interval into
	// a silence window.
	SilenceWindowFactor = 3
)

// SilenceWindowFor derives a silence window from the expected
// telemetry interval. Zero yields the default window.
func SilenceWindowFor(telemetryInterval time.Duration) time.Duration {
	if telemetryInterval <= 0 {
		return DefaultSilenceWindow
	}
	w := telemetryInterval * SilenceWindowFactor
	if w < MinSilenceWindow {
		return MinSilenceWindow
	}
	return w
}

// Watchdog monitors connection liveness through inbound traffic.
// Every telemetry or heartbeat frame feeds the watchdog; if the
// silence window elapses without a feed, the timeout callback fires
// once and the watchdog stops.
type Watchdog struct {
	window    time.Duration
	onSilence func(sinceLast time.Duration)

	mu       sync.Mutex
	running  bool
	lastFeed time.Time
	stopCh   chan struct{}
	feedCh   chan struct{}
}

// NewWatchdog creates a silence watchdog. The callback is invoked from
// the watchdog's own goroutine.
func NewWatchdog(window time.Duration, onSilence func(sinceLast time.Duration)) *Watchdog {
	if window <= 0 {
		window = DefaultSilenceWindow
	}
	return &Watchdog{
		window:    window,
		onSilence: onSilence,
		feedCh:    make(chan struct{}, 1),
	}
}

// Start begins monitoring. The window is armed immediately.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.lastFeed = time.Now()
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop stops monitoring. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
}

// Feed resets the silence window. Called on every inbound telemetry or
// heartbeat frame.
func (w *Watchdog) Feed() {
	w.mu.Lock()
	w.lastFeed = time.Now()
	w.mu.Unlock()

	select {
	case w.feedCh <- struct{}{}:
	default:
	}
}

// IsRunning returns true while the watchdog is active.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Window returns the configured silence window.
func (w *Watchdog) Window() time.Duration {
	return w.window
}

// loop waits for feeds, rearming the window each time. One expiry
// fires the callback exactly once.
func (w *Watchdog) loop(ctx context.Context) {
	timer := time.NewTimer(w.window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.feedCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.window)
		case <-timer.C:
			w.mu.Lock()
			if !w.running {
				// Stop won the race with the expiry; stopCh is
				// already closed.
				w.mu.Unlock()
				return
			}
			sinceLast := time.Since(w.lastFeed)
			w.running = false
			close(w.stopCh)
			w.mu.Unlock()

			if w.onSilence != nil {
				w.onSilence(sinceLast)
			}
			return
		}
	}
}

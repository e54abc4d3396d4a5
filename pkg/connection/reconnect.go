package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrReconnectDisabled = errors.New("reconnection disabled")
	ErrConnectTimeout    = errors.New("connection timeout")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
	ErrAttemptsExhausted = errors.New("reconnection attempts exhausted")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateReady indicates an active, trusted session.
	StateReady

	// StateDegraded indicates the session is no longer trusted: the
	// socket may still be open, but repeated protocol errors or
	// telemetry silence mean its traffic can't be relied on.
	StateDegraded

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the connection manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateDegraded:
		return "DEGRADED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc is called to establish a session. It returns nil only
// once the hello exchange has completed.
type ConnectFunc func(ctx context.Context) error

// DegradeReason explains why the session was marked degraded.
type DegradeReason string

const (
	DegradeProtocolErrors DegradeReason = "protocol_errors"
	DegradeSilence        DegradeReason = "silence"
	DegradeDeviceError    DegradeReason = "device_error"
)

// Manager manages session lifecycle with automatic reconnection.
type Manager struct {
	mu sync.RWMutex

	// Current state
	state State

	// Backoff calculator
	backoff *Backoff

	// Connection function
	connectFn ConnectFunc

	// Auto-reconnect enabled
	autoReconnect bool

	// Maximum reconnect attempts per outage (0 = unlimited)
	maxAttempts int

	// Per-attempt connect timeout
	connectTimeout time.Duration

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for reconnection goroutine
	wg sync.WaitGroup

	// Channel to signal reconnection should start
	reconnectCh chan struct{}

	// Callbacks
	onStateChange  func(oldState, newState State)
	onReady        func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
	onGiveUp       func()
}

// NewManager creates a new connection manager.
func NewManager(connectFn ConnectFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		state:          StateDisconnected,
		backoff:        NewBackoff(),
		connectFn:      connectFn,
		autoReconnect:  true,
		connectTimeout: 30 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsReady returns true while a trusted session is active.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// SetMaxAttempts bounds reconnection attempts per outage.
// Zero means retry forever.
func (m *Manager) SetMaxAttempts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAttempts = n
}

// SetBackoff replaces the backoff calculator. Call before Connect.
func (m *Manager) SetBackoff(b *Backoff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoff = b
}

// SetConnectTimeout bounds each reconnection attempt.
func (m *Manager) SetConnectTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.connectTimeout = d
	}
}

// Connect initiates the initial connection.
// Returns ErrAlreadyConnected if a session is already up.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}

	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notifyStateChange(StateConnecting, StateDisconnected)
		return err
	}

	m.state = StateReady
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyStateChange(StateConnecting, StateReady)
	if m.onReady != nil {
		m.onReady()
	}

	return nil
}

// NotifyConnectionLost should be called when a transport-level
// connection loss is detected. Triggers automatic reconnection if
// enabled.
func (m *Manager) NotifyConnectionLost() {
	m.leaveSession(StateReady)
}

// MarkDegraded transitions ready → degraded, then tears the session
// down: reconnecting when auto-reconnect is on, closed otherwise.
func (m *Manager) MarkDegraded(reason DegradeReason) {
	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return
	}
	m.state = StateDegraded
	autoReconnect := m.autoReconnect
	m.mu.Unlock()

	m.notifyStateChange(StateReady, StateDegraded)

	if autoReconnect {
		m.leaveSession(StateDegraded)
		return
	}

	// Without reconnection there is nothing to salvage.
	if m.onDisconnected != nil {
		m.onDisconnected()
	}
	m.giveUp()
}

// leaveSession moves from the given state into reconnecting, or, with
// reconnection disabled, through degraded into the terminal closed
// state, firing the disconnect callbacks along the way.
func (m *Manager) leaveSession(from State) {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return
	}

	autoReconnect := m.autoReconnect
	if autoReconnect {
		m.state = StateReconnecting
	} else if from != StateDegraded {
		m.state = StateDegraded
	}
	newState := m.state
	m.mu.Unlock()

	if newState != from {
		m.notifyStateChange(from, newState)
	}
	if m.onDisconnected != nil {
		m.onDisconnected()
	}

	if autoReconnect {
		m.triggerReconnect()
		return
	}

	// A session lost with reconnection disabled is terminal.
	m.giveUp()
}

// Disconnect closes the session. If autoReconnect is enabled,
// reconnection will be attempted; otherwise the manager closes.
func (m *Manager) Disconnect() {
	m.leaveSession(StateReady)
}

// StartReconnectLoop starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts down the connection manager.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) notifyStateChange(oldState, newState State) {
	if m.onStateChange != nil {
		m.onStateChange(oldState, newState)
	}
}

// triggerReconnect signals that reconnection should be attempted.
func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

// reconnectLoop runs in a goroutine and handles reconnection attempts.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect performs reconnection with backoff.
func (m *Manager) attemptReconnect() {
	for {
		m.mu.RLock()
		state := m.state
		maxAttempts := m.maxAttempts
		timeout := m.connectTimeout
		m.mu.RUnlock()

		if state == StateClosed || state == StateReady {
			return
		}

		if maxAttempts > 0 && m.backoff.Attempts() >= maxAttempts {
			m.giveUp()
			return
		}

		delay := m.backoff.Next()
		attempts := m.backoff.Attempts()

		if m.onReconnecting != nil {
			m.onReconnecting(attempts, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.state == StateClosed || m.state == StateReady {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(m.ctx, timeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.mu.Lock()
			oldState := m.state
			m.state = StateReady
			m.backoff.Reset()
			m.mu.Unlock()

			m.notifyStateChange(oldState, StateReady)
			if m.onReady != nil {
				m.onReady()
			}
			return
		}

		// Failed - continue looping with next backoff
	}
}

// giveUp transitions to closed once the session cannot be recovered:
// reconnect attempts exhausted, or the session lost with reconnection
// disabled.
func (m *Manager) giveUp() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateClosed)
	if m.onGiveUp != nil {
		m.onGiveUp()
	}
	m.cancel()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnReady sets a callback for successful session establishment.
func (m *Manager) OnReady(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = fn
}

// OnDisconnected sets a callback for disconnection.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnGiveUp sets a callback for when the manager closes because the
// session cannot be recovered.
func (m *Manager) OnGiveUp(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGiveUp = fn
}

// BackoffAttempts returns the current number of reconnection attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

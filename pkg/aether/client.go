package aether

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aetherlab/aether-go/pkg/connection"
	"github.com/aetherlab/aether-go/pkg/log"
	"github.com/aetherlab/aether-go/pkg/model"
	"github.com/aetherlab/aether-go/pkg/telemetry"
	"github.com/aetherlab/aether-go/pkg/transport"
	"github.com/aetherlab/aether-go/pkg/wire"
)

// maxConsecutiveProtocolErrors is the number of undecodable frames in
// a row that degrade the session. A single bad frame is tolerated;
// a run of them means the stream is out of sync.
const maxConsecutiveProtocolErrors = 3

// pendingAck tracks one unacknowledged outbound frame.
// The channel is closed, never sent on, when the session is lost.
type pendingAck struct {
	id uint32
	ch chan *wire.Ack
}

// queuedCmd is one frame held in the offline queue.
type queuedCmd struct {
	id   uint32
	data []byte
}

// session is one physical connection with its liveness watchdog.
type session struct {
	id       string
	conn     transport.FrameConn
	watchdog *transport.Watchdog

	// Set once the session is torn down, by whichever path got there
	// first.
	dead atomic.Bool

	// Consecutive undecodable frames; touched only by the read loop.
	protoErrs int
}

// Client is a session with one Aether device.
type Client struct {
	cfg    Config
	logger log.Logger

	// File logger owned by the client, closed on shutdown.
	ownedLogger *log.FileLogger

	mgr      *connection.Manager
	registry *telemetry.Registry

	// Correlation ID allocator, shared by commands and subscriptions.
	nextID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]*pendingAck

	queueMu sync.Mutex
	queue   []queuedCmd

	sessMu sync.Mutex
	sess   *session

	closed    atomic.Bool
	closeOnce sync.Once

	cbMu          sync.RWMutex
	onDeviceError func(*wire.DeviceError)
}

// Open connects to the device and performs the hello exchange.
// The returned client reconnects automatically per cfg.AutoReconnect.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.normalized()
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint required")
	}

	logger := cfg.Logger
	var owned *log.FileLogger
	if cfg.LogFile != "" {
		fl, err := log.NewFileLogger(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		owned = fl
		if logger != nil {
			logger = log.NewMultiLogger(logger, fl)
		} else {
			logger = fl
		}
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		ownedLogger: owned,
		registry:    telemetry.NewRegistry(),
		pending:     make(map[uint32]*pendingAck),
	}

	c.mgr = connection.NewManager(c.establish)
	c.mgr.SetAutoReconnect(cfg.AutoReconnect)
	c.mgr.SetMaxAttempts(cfg.MaxReconnectAttempts)
	c.mgr.SetConnectTimeout(cfg.ConnectTimeout.Std())
	c.mgr.OnStateChange(c.logStateChange)
	c.mgr.OnReady(c.onSessionReady)
	c.mgr.OnGiveUp(func() {
		c.failPending()
		c.dropQueue()
		c.registry.CloseAll(ErrNotConnected)
	})
	c.mgr.StartReconnectLoop()

	if err := c.mgr.Connect(ctx); err != nil {
		c.mgr.Close()
		if owned != nil {
			owned.Close()
		}
		return nil, err
	}

	return c, nil
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.mgr.State()
}

// OnStateChange registers a callback for connection state transitions.
// Must be set before heavy use; callbacks run on internal goroutines.
func (c *Client) OnStateChange(fn func(oldState, newState connection.State)) {
	c.mgr.OnStateChange(func(oldState, newState connection.State) {
		c.logStateChange(oldState, newState)
		fn(oldState, newState)
	})
}

// OnDeviceError registers a callback for device-side fault notices
// that are not tied to a specific command.
func (c *Client) OnDeviceError(fn func(*wire.DeviceError)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDeviceError = fn
}

// SessionID returns the current session identifier, or empty when no
// session is up.
func (c *Client) SessionID() string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// QueuedCommands returns the number of commands waiting in the
// offline queue.
func (c *Client) QueuedCommands() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// Submit sends a validated command and waits for the device ack.
// Returns nil when the device applied it; a *RejectedError when the
// device refused it.
func (c *Client) Submit(ctx context.Context, cmd model.Command) error {
	return c.submitFrame(ctx, func(id uint32) ([]byte, error) {
		return wire.EncodeCommand(cmd, id)
	})
}

// SetParam validates and sends one engine parameter change.
func (c *Client) SetParam(ctx context.Context, engine model.Engine, param string, value float64) error {
	cmd, err := model.NewCommand(engine, param, value)
	if err != nil {
		return err
	}
	return c.Submit(ctx, cmd)
}

// SetElement sets a single axis of the elemental bus.
func (c *Client) SetElement(ctx context.Context, element model.Element, value float64) error {
	cmd, err := model.NewElementCommand(element, value)
	if err != nil {
		return err
	}
	return c.Submit(ctx, cmd)
}

// SetElementBus applies a whole-bus update atomically. Elements not
// present in values are set to 0.
func (c *Client) SetElementBus(ctx context.Context, values map[model.Element]float64) error {
	frame, err := model.NewElementFrame(values)
	if err != nil {
		return err
	}
	return c.submitFrame(ctx, func(id uint32) ([]byte, error) {
		return wire.EncodeElementBus(frame, id)
	})
}

// Subscribe starts a telemetry stream. A non-positive rate uses the
// configured default. The stream is registered for automatic
// re-subscription on reconnect once the device acks it.
func (c *Client) Subscribe(ctx context.Context, rate time.Duration) (*telemetry.Stream, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if rate <= 0 {
		rate = c.cfg.TelemetryRate.Std()
	}
	ms := rate.Milliseconds()
	if ms > math.MaxUint32 {
		ms = math.MaxUint32
	}
	rateMs := uint32(ms)

	id := c.nextID.Add(1)
	data, err := wire.EncodeSubscribe(id, rateMs)
	if err != nil {
		return nil, err
	}

	ack, err := c.dispatch(ctx, id, data)
	if err != nil {
		return nil, err
	}
	if !ack.Status.IsSuccess() {
		return nil, &RejectedError{Status: ack.Status, Message: ack.Message}
	}

	return c.registry.Open(id, rateMs, c.cfg.StreamBuffer)
}

// Unsubscribe stops a telemetry stream. The stream ends once its
// buffered snapshots are drained.
func (c *Client) Unsubscribe(ctx context.Context, stream *telemetry.Stream) error {
	if stream == nil {
		return nil
	}

	// Local teardown happens regardless of wire success.
	defer func() {
		c.registry.Remove(stream.ID)
		stream.Cancel()
	}()

	if c.closed.Load() {
		return ErrClientClosed
	}

	// Unsubscribe reuses the subscription ID for correlation.
	data, err := wire.EncodeUnsubscribe(stream.ID)
	if err != nil {
		return err
	}

	ack, err := c.dispatch(ctx, stream.ID, data)
	if err != nil {
		return err
	}
	if !ack.Status.IsSuccess() {
		return &RejectedError{Status: ack.Status, Message: ack.Message}
	}
	return nil
}

// Close shuts the client down: a best-effort close frame, then the
// connection, all telemetry streams, and any pending commands.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.sessMu.Lock()
		s := c.sess
		c.sessMu.Unlock()

		if s != nil && !s.dead.Load() {
			if data, err := wire.EncodeClose(); err == nil {
				_ = s.conn.WriteFrame(data)
			}
			s.dead.Store(true)
			s.watchdog.Stop()
			s.conn.Close()
		}

		c.mgr.Close()
		c.failPending()
		c.dropQueue()
		c.registry.CloseAll(ErrClientClosed)

		if c.ownedLogger != nil {
			c.ownedLogger.Close()
		}
	})
	return nil
}

// submitFrame encodes with a fresh correlation ID and dispatches,
// mapping device rejection to *RejectedError.
func (c *Client) submitFrame(ctx context.Context, encode func(id uint32) ([]byte, error)) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	id := c.nextID.Add(1)
	data, err := encode(id)
	if err != nil {
		return err
	}

	ack, err := c.dispatch(ctx, id, data)
	if err != nil {
		return err
	}
	if !ack.Status.IsSuccess() {
		return &RejectedError{Status: ack.Status, Message: ack.Message}
	}
	return nil
}

// dispatch routes one correlated frame: straight to the wire when the
// session is ready, into the offline queue during an outage.
func (c *Client) dispatch(ctx context.Context, id uint32, data []byte) (*wire.Ack, error) {
	switch c.mgr.State() {
	case connection.StateReady:
		c.sessMu.Lock()
		s := c.sess
		c.sessMu.Unlock()
		if s == nil || s.dead.Load() {
			// Ready state raced with a session teardown; queue it.
			return c.dispatchQueued(ctx, id, data)
		}
		return c.sendAndWait(ctx, s, id, data, c.cfg.AckTimeout.Std())

	case connection.StateConnecting, connection.StateReconnecting, connection.StateDegraded:
		return c.dispatchQueued(ctx, id, data)

	case connection.StateClosed:
		return nil, ErrClientClosed

	default:
		return nil, ErrNotConnected
	}
}

// sendAndWait writes one frame and blocks for its ack.
func (c *Client) sendAndWait(ctx context.Context, s *session, id uint32, data []byte, timeout time.Duration) (*wire.Ack, error) {
	p := c.registerPending(id)
	defer c.unregisterPending(id)

	if err := s.conn.WriteFrame(data); err != nil {
		return nil, err
	}

	return c.awaitAck(ctx, p, timeout)
}

// dispatchQueued holds one frame in the offline queue and waits for
// its ack. The ack timeout runs from submission, so queued commands
// that never reach the device time out in submission order.
func (c *Client) dispatchQueued(ctx context.Context, id uint32, data []byte) (*wire.Ack, error) {
	p := c.registerPending(id)
	defer c.unregisterPending(id)

	c.queueMu.Lock()
	if len(c.queue) >= c.cfg.QueueDepth {
		c.queueMu.Unlock()
		return nil, ErrQueueFull
	}
	c.queue = append(c.queue, queuedCmd{id: id, data: data})
	c.queueMu.Unlock()

	defer c.removeQueued(id)

	return c.awaitAck(ctx, p, c.cfg.AckTimeout.Std())
}

// awaitAck blocks until the ack arrives, the timeout elapses, or the
// context is done.
func (c *Client) awaitAck(ctx context.Context, p *pendingAck, timeout time.Duration) (*wire.Ack, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrAckTimeout
	case ack, ok := <-p.ch:
		if !ok {
			if c.closed.Load() {
				return nil, ErrClientClosed
			}
			return nil, ErrSessionLost
		}
		return ack, nil
	}
}

func (c *Client) registerPending(id uint32) *pendingAck {
	p := &pendingAck{id: id, ch: make(chan *wire.Ack, 1)}
	c.pendingMu.Lock()
	c.pending[id] = p
	c.pendingMu.Unlock()
	return p
}

func (c *Client) unregisterPending(id uint32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending wakes every waiter with a session-lost result.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for _, p := range c.pending {
		close(p.ch)
	}
	c.pending = make(map[uint32]*pendingAck)
	c.pendingMu.Unlock()
}

func (c *Client) removeQueued(id uint32) {
	c.queueMu.Lock()
	for i, q := range c.queue {
		if q.id == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	c.queueMu.Unlock()
}

func (c *Client) dropQueue() {
	c.queueMu.Lock()
	c.queue = nil
	c.queueMu.Unlock()
}

// establish is the connect function driven by the connection manager:
// dial, hello, resubscribe, flush.
func (c *Client) establish(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	sessionID := uuid.NewString()

	conn, err := transport.Dial(ctx, c.cfg.Endpoint, transport.DialConfig{
		ConnectTimeout: c.cfg.ConnectTimeout.Std(),
		SSLVerify:      c.cfg.SSLVerify,
		MaxMessageSize: c.cfg.MaxMessageSize,
		Logger:         c.logger,
		SessionID:      sessionID,
	})
	if err != nil {
		return err
	}

	window := c.cfg.silenceWindow()
	if window == 0 {
		window = transport.SilenceWindowFor(c.cfg.TelemetryRate.Std())
	}

	s := &session{id: sessionID, conn: conn}
	s.watchdog = transport.NewWatchdog(window, func(sinceLast time.Duration) {
		c.onSilence(s, sinceLast)
	})

	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()

	go c.readLoop(s)

	// Hello exchange: the session is not trusted until acked.
	helloID := c.nextID.Add(1)
	hello, err := wire.EncodeHello(helloID, c.cfg.ClientID)
	if err != nil {
		c.teardownSession(s)
		return err
	}
	ack, err := c.sendAndWait(ctx, s, helloID, hello, c.cfg.ConnectTimeout.Std())
	if err != nil {
		c.teardownSession(s)
		return err
	}
	if !ack.Status.IsSuccess() {
		c.teardownSession(s)
		return &RejectedError{Status: ack.Status, Message: ack.Message}
	}

	// Telemetry first, then the queue: subscribers must not miss the
	// window between queued commands taking effect and data flowing.
	if err := c.resubscribe(ctx, s); err != nil {
		c.teardownSession(s)
		return err
	}
	c.flushQueue(s)

	return nil
}

// resubscribe re-establishes every registered telemetry stream on a
// fresh session.
func (c *Client) resubscribe(ctx context.Context, s *session) error {
	for _, stream := range c.registry.Active() {
		data, err := wire.EncodeSubscribe(stream.ID, stream.RateMs)
		if err != nil {
			return err
		}
		ack, err := c.sendAndWait(ctx, s, stream.ID, data, c.cfg.AckTimeout.Std())
		if err != nil {
			return err
		}
		if !ack.Status.IsSuccess() {
			// The device no longer accepts this subscription; end the
			// stream rather than the whole session.
			c.registry.Remove(stream.ID)
			stream.CloseWithError(&RejectedError{Status: ack.Status, Message: ack.Message})
		}
	}
	return nil
}

// flushQueue writes queued frames in submission order. Acks resolve
// through the regular pending path; a write failure leaves the rest
// queued for the next session.
func (c *Client) flushQueue(s *session) {
	c.queueMu.Lock()
	batch := make([]queuedCmd, len(c.queue))
	copy(batch, c.queue)
	c.queueMu.Unlock()

	for _, q := range batch {
		if err := s.conn.WriteFrame(q.data); err != nil {
			return
		}
		c.removeQueued(q.id)
	}
}

// teardownSession closes one session exactly once.
func (c *Client) teardownSession(s *session) {
	if s.dead.Swap(true) {
		return
	}
	s.watchdog.Stop()
	s.conn.Close()
}

// onSessionReady runs once the manager reports ready: it arms the
// silence watchdog and rechecks liveness. The session can die in the
// gap between establish returning and the state flipping to ready; a
// loss raised inside that gap is ignored by the manager, so it has to
// be replayed from here.
func (c *Client) onSessionReady() {
	c.sessMu.Lock()
	s := c.sess
	c.sessMu.Unlock()
	if s == nil {
		return
	}
	if s.dead.Load() {
		c.mgr.NotifyConnectionLost()
		return
	}
	s.watchdog.Start(context.Background())
}

// onSilence handles watchdog expiry: the device went quiet, so the
// session can no longer be trusted.
func (c *Client) onSilence(s *session, sinceLast time.Duration) {
	if s.dead.Swap(true) {
		return
	}

	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: log.DirectionIn,
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: "telemetry silence window elapsed",
			Context: "last inbound frame " + sinceLast.String() + " ago",
		},
	})

	s.conn.Close()
	c.failPending()
	c.mgr.MarkDegraded(connection.DegradeSilence)
}

// logStateChange records connection state transitions.
func (c *Client) logStateChange(oldState, newState connection.State) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.SessionID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	})
}

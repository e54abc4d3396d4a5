package aether

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherlab/aether-go/pkg/connection"
	"github.com/aetherlab/aether-go/pkg/model"
	"github.com/aetherlab/aether-go/pkg/transport"
	"github.com/aetherlab/aether-go/pkg/wire"
)

// fakeDevice is an in-process device speaking the framed protocol.
// The handler receives each decoded client frame and a send function
// for raw device frames.
type fakeDevice struct {
	t  *testing.T
	ln net.Listener

	mu      sync.Mutex
	conns   []net.Conn
	handler func(msg any, send func(v any))

	wg sync.WaitGroup
}

func startDevice(t *testing.T, handler func(msg any, send func(v any))) *fakeDevice {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{t: t, ln: ln, handler: handler}
	d.wg.Add(1)
	go d.acceptLoop()
	t.Cleanup(d.stop)
	return d
}

func (d *fakeDevice) endpoint() string {
	return "tcp://" + d.ln.Addr().String()
}

func (d *fakeDevice) stop() {
	d.ln.Close()
	d.mu.Lock()
	for _, c := range d.conns {
		c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// dropConnections severs all active connections without stopping the
// listener, simulating a transport loss.
func (d *fakeDevice) dropConnections() {
	d.mu.Lock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
	d.mu.Unlock()
}

func (d *fakeDevice) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *fakeDevice) serve(conn net.Conn) {
	defer d.wg.Done()
	framer := transport.NewFramer(conn)

	var sendMu sync.Mutex
	send := func(v any) {
		data, err := wire.Marshal(v)
		if err != nil {
			d.t.Errorf("device marshal failed: %v", err)
			return
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		framer.WriteFrame(data)
	}

	for {
		raw, err := framer.ReadFrame()
		if err != nil {
			return
		}
		msg, err := decodeClientFrame(raw)
		if err != nil {
			d.t.Logf("device could not decode client frame: %v", err)
			continue
		}
		d.handler(msg, send)
	}
}

// decodeClientFrame decodes the frames a client sends.
func decodeClientFrame(raw []byte) (any, error) {
	var peek struct {
		Kind wire.Kind `cbor:"1,keyasint"`
	}
	if err := wire.Unmarshal(raw, &peek); err != nil {
		return nil, err
	}
	switch peek.Kind {
	case wire.KindHello:
		var m wire.Hello
		return &m, wire.Unmarshal(raw, &m)
	case wire.KindCommand:
		var m wire.Command
		return &m, wire.Unmarshal(raw, &m)
	case wire.KindElementBus:
		var m wire.ElementBus
		return &m, wire.Unmarshal(raw, &m)
	case wire.KindSubscribe:
		var m wire.Subscribe
		return &m, wire.Unmarshal(raw, &m)
	case wire.KindUnsubscribe:
		var m wire.Unsubscribe
		return &m, wire.Unmarshal(raw, &m)
	case wire.KindClose:
		return &wire.Close{Kind: wire.KindClose}, nil
	default:
		return nil, errors.New("unknown client frame kind")
	}
}

// ackAll is a handler that acknowledges everything with StatusOK.
func ackAll(msg any, send func(v any)) {
	switch m := msg.(type) {
	case *wire.Hello:
		send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusOK})
	case *wire.Command:
		send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusOK})
	case *wire.ElementBus:
		send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusOK})
	case *wire.Subscribe:
		send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusOK})
	case *wire.Unsubscribe:
		send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusOK})
	}
}

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.ClientID = "test-client"
	cfg.ConnectTimeout = Duration(2 * time.Second)
	cfg.AckTimeout = Duration(300 * time.Millisecond)
	cfg.AutoReconnect = false
	return cfg
}

func TestOpenHandshake(t *testing.T) {
	var helloMu sync.Mutex
	var hello *wire.Hello

	d := startDevice(t, func(msg any, send func(v any)) {
		if h, ok := msg.(*wire.Hello); ok {
			helloMu.Lock()
			hello = h
			helloMu.Unlock()
		}
		ackAll(msg, send)
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, connection.StateReady, c.State())
	assert.NotEmpty(t, c.SessionID())

	helloMu.Lock()
	defer helloMu.Unlock()
	require.NotNil(t, hello)
	assert.Equal(t, "test-client", hello.ClientID)
	assert.Equal(t, wire.ProtocolVersion, hello.Version)
}

func TestOpenHandshakeRejected(t *testing.T) {
	d := startDevice(t, func(msg any, send func(v any)) {
		if h, ok := msg.(*wire.Hello); ok {
			send(&wire.Ack{Kind: wire.KindAck, ID: h.ID, Status: wire.StatusBusy, Message: "session limit reached"})
		}
	})

	_, err := Open(context.Background(), testConfig(d.endpoint()))
	require.Error(t, err)

	var re *RejectedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, wire.StatusBusy, re.Status)
}

func TestOpenNoEndpoint(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig())
	require.Error(t, err)
}

func TestSetParam(t *testing.T) {
	var cmdMu sync.Mutex
	var cmds []*wire.Command

	d := startDevice(t, func(msg any, send func(v any)) {
		if cmd, ok := msg.(*wire.Command); ok {
			cmdMu.Lock()
			cmds = append(cmds, cmd)
			cmdMu.Unlock()
		}
		ackAll(msg, send)
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	err = c.SetParam(context.Background(), model.EngineGranular, "density", 0.7)
	require.NoError(t, err)

	cmdMu.Lock()
	defer cmdMu.Unlock()
	require.Len(t, cmds, 1)
	assert.Equal(t, "granular", cmds[0].Engine)
	assert.Equal(t, "density", cmds[0].Param)
	assert.InDelta(t, 0.7, cmds[0].Value, 1e-9)
}

func TestSetParamValidationFailsLocally(t *testing.T) {
	received := 0
	var mu sync.Mutex

	d := startDevice(t, func(msg any, send func(v any)) {
		if _, ok := msg.(*wire.Command); ok {
			mu.Lock()
			received++
			mu.Unlock()
		}
		ackAll(msg, send)
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	// Out of domain: nothing may reach the wire.
	err = c.SetParam(context.Background(), model.EngineGranular, "density", 2.0)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)

	err = c.SetParam(context.Background(), model.EngineGranular, "no_such_param", 0.5)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, received, "invalid commands must not reach the device")
}

func TestDeviceRejection(t *testing.T) {
	d := startDevice(t, func(msg any, send func(v any)) {
		switch m := msg.(type) {
		case *wire.Hello:
			send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusOK})
		case *wire.Command:
			send(&wire.Ack{Kind: wire.KindAck, ID: m.ID, Status: wire.StatusBusy, Message: "engine busy"})
		}
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	err = c.SetParam(context.Background(), model.EngineMaster, "volume", 0.5)
	require.Error(t, err)

	status, ok := IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, wire.StatusBusy, status)

	// A rejection does not disturb the session.
	assert.Equal(t, connection.StateReady, c.State())
}

func TestAckTimeoutOrder(t *testing.T) {
	d := startDevice(t, func(msg any, send func(v any)) {
		// Ack only the hello; commands go unanswered.
		if h, ok := msg.(*wire.Hello); ok {
			send(&wire.Ack{Kind: wire.KindAck, ID: h.ID, Status: wire.StatusOK})
		}
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	type result struct {
		n    int
		err  error
		when time.Time
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := c.SetElement(context.Background(), model.ElementFire, 0.3)
			results <- result{n: n, err: err, when: time.Now()}
		}(i)
		// Stagger submissions so the deadlines are ordered.
		time.Sleep(30 * time.Millisecond)
	}
	wg.Wait()
	close(results)

	var got []result
	for r := range results {
		got = append(got, r)
	}
	require.Len(t, got, 2)

	for _, r := range got {
		assert.ErrorIs(t, r.err, ErrAckTimeout)
	}
	// Timeouts complete in submission order.
	first, second := got[0], got[1]
	if first.n > second.n {
		first, second = second, first
	}
	assert.True(t, first.when.Before(second.when) || first.when.Equal(second.when),
		"earlier submission should time out first")
}

func TestProtocolErrorsDegrade(t *testing.T) {
	d := startDevice(t, func(msg any, send func(v any)) {
		ackAll(msg, send)
	})

	cfg := testConfig(d.endpoint())
	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	var mu sync.Mutex
	var sawDegraded bool
	c.OnStateChange(func(oldState, newState connection.State) {
		mu.Lock()
		if newState == connection.StateDegraded {
			sawDegraded = true
		}
		mu.Unlock()
	})

	// Push three undecodable frames down the device side.
	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()

	framer := transport.NewFramer(conn)
	for i := 0; i < maxConsecutiveProtocolErrors; i++ {
		require.NoError(t, framer.WriteFrame([]byte{0xff, 0x00, 0xba, 0xad}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawDegraded
	}, 2*time.Second, 10*time.Millisecond, "session should degrade after repeated protocol errors")

	// Without auto-reconnect, degraded collapses to closed.
	require.Eventually(t, func() bool {
		return c.State() == connection.StateClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSingleProtocolErrorTolerated(t *testing.T) {
	d := startDevice(t, ackAll)

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()

	framer := transport.NewFramer(conn)
	require.NoError(t, framer.WriteFrame([]byte{0xff, 0x00}))

	// A lone bad frame must not disturb the session.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, connection.StateReady, c.State())

	err = c.SetParam(context.Background(), model.EngineMaster, "volume", 0.4)
	assert.NoError(t, err)
}

func TestUnmatchedAckDropped(t *testing.T) {
	d := startDevice(t, ackAll)

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()

	// An ack nobody asked for.
	framer := transport.NewFramer(conn)
	data, err := wire.Marshal(&wire.Ack{Kind: wire.KindAck, ID: 9999, Status: wire.StatusOK})
	require.NoError(t, err)
	require.NoError(t, framer.WriteFrame(data))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, connection.StateReady, c.State())

	// Well-formed frames are not protocol errors; the session stays up
	// and later commands still work.
	err = c.SetParam(context.Background(), model.EngineMaster, "volume", 0.2)
	assert.NoError(t, err)
}

func TestSubscribeTelemetry(t *testing.T) {
	var subMu sync.Mutex
	var sub *wire.Subscribe
	var sendTelemetry func(v any)

	d := startDevice(t, func(msg any, send func(v any)) {
		if s, ok := msg.(*wire.Subscribe); ok {
			subMu.Lock()
			sub = s
			sendTelemetry = send
			subMu.Unlock()
		}
		ackAll(msg, send)
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	stream, err := c.Subscribe(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	subMu.Lock()
	require.NotNil(t, sub)
	assert.Equal(t, uint32(100), sub.RateMs)
	send := sendTelemetry
	subMu.Unlock()

	send(&wire.Telemetry{
		Kind:      wire.KindTelemetry,
		Seq:       1,
		Timestamp: time.Now(),
		Sensors:   wire.Sensors{Temperature: 22.0},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.InDelta(t, 22.0, snap.Sensors.Temperature, 1e-9)

	require.NoError(t, c.Unsubscribe(context.Background(), stream))

	_, err = stream.Next(ctx)
	assert.Error(t, err)

	// Ending the subscription must leave the control path untouched.
	require.NoError(t, c.SetParam(context.Background(), model.EngineMaster, "volume", 0.3))
	assert.Equal(t, connection.StateReady, c.State())
}

func TestSubscribeRateClamped(t *testing.T) {
	var subMu sync.Mutex
	var sub *wire.Subscribe

	d := startDevice(t, func(msg any, send func(v any)) {
		if s, ok := msg.(*wire.Subscribe); ok {
			subMu.Lock()
			sub = s
			subMu.Unlock()
		}
		ackAll(msg, send)
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	// A rate hint beyond the wire field's range saturates instead of
	// wrapping around.
	stream, err := c.Subscribe(context.Background(), time.Duration(math.MaxInt64))
	require.NoError(t, err)
	defer c.Unsubscribe(context.Background(), stream)

	subMu.Lock()
	defer subMu.Unlock()
	require.NotNil(t, sub)
	assert.Equal(t, uint32(math.MaxUint32), sub.RateMs)
}

func TestDeviceErrorCallback(t *testing.T) {
	d := startDevice(t, ackAll)

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	got := make(chan *wire.DeviceError, 1)
	c.OnDeviceError(func(e *wire.DeviceError) {
		got <- e
	})

	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()

	framer := transport.NewFramer(conn)
	data, err := wire.Marshal(&wire.DeviceError{Kind: wire.KindError, Code: 7, Message: "xrun storm"})
	require.NoError(t, err)
	require.NoError(t, framer.WriteFrame(data))

	select {
	case e := <-got:
		assert.Equal(t, uint16(7), e.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("device error callback not invoked")
	}

	// A device error is informational; the session stays up.
	assert.Equal(t, connection.StateReady, c.State())
}

func TestConnectionLossWithoutReconnectCloses(t *testing.T) {
	d := startDevice(t, ackAll)

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	stream, err := c.Subscribe(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	// Sever the transport. Without auto-reconnect there is nothing to
	// come back to: the client must land in closed, not linger in some
	// intermediate state.
	d.dropConnections()

	require.Eventually(t, func() bool {
		return c.State() == connection.StateClosed
	}, 2*time.Second, 10*time.Millisecond,
		"connection loss without auto-reconnect must be terminal")

	// The stream ends with an error instead of blocking forever.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = stream.Next(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)

	// Commands fail fast on the closed client.
	err = c.SetParam(context.Background(), model.EngineMaster, "volume", 0.5)
	require.Error(t, err)
}

func TestDeadSessionAtReadyRecovers(t *testing.T) {
	d := startDevice(t, ackAll)

	cfg := testConfig(d.endpoint())
	cfg.AutoReconnect = true

	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	c.sessMu.Lock()
	s := c.sess
	c.sessMu.Unlock()
	require.NotNil(t, s)

	// The session can be torn down between session setup finishing and
	// the supervisor flipping to ready. The ready hook must notice the
	// dead session and hand the loss back to the supervisor instead of
	// staying ready on a corpse.
	s.dead.Store(true)
	c.onSessionReady()

	require.Eventually(t, func() bool {
		return c.State() == connection.StateReady && c.SessionID() != s.id
	}, 5*time.Second, 20*time.Millisecond,
		"client must reconnect instead of staying ready on a dead session")

	require.NoError(t, c.SetParam(context.Background(), model.EngineMaster, "volume", 0.5))
}

func TestReconnectResubscribesBeforeFlush(t *testing.T) {
	var mu sync.Mutex
	var order []string

	d := startDevice(t, func(msg any, send func(v any)) {
		switch msg.(type) {
		case *wire.Subscribe:
			mu.Lock()
			order = append(order, "subscribe")
			mu.Unlock()
		case *wire.Command:
			mu.Lock()
			order = append(order, "command")
			mu.Unlock()
		}
		ackAll(msg, send)
	})

	cfg := testConfig(d.endpoint())
	cfg.AutoReconnect = true
	cfg.AckTimeout = Duration(3 * time.Second)

	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Subscribe(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	mu.Lock()
	order = nil // only observe the reconnect sequence
	mu.Unlock()

	// Sever the connection; the client reconnects on its own.
	d.dropConnections()

	require.Eventually(t, func() bool {
		return c.State() == connection.StateReconnecting || c.State() == connection.StateReady
	}, 2*time.Second, 10*time.Millisecond)

	// Submit while the session is down; it rides the offline queue.
	done := make(chan error, 1)
	go func() {
		done <- c.SetParam(context.Background(), model.EngineMaster, "volume", 0.6)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queued command was not flushed after reconnect")
	}

	require.Eventually(t, func() bool {
		return c.State() == connection.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, order)
	// The resubscribe must precede the queued command on the new
	// session.
	var subIdx, cmdIdx = -1, -1
	for i, op := range order {
		if op == "subscribe" && subIdx == -1 {
			subIdx = i
		}
		if op == "command" && cmdIdx == -1 {
			cmdIdx = i
		}
	}
	require.NotEqual(t, -1, subIdx, "no resubscribe observed")
	require.NotEqual(t, -1, cmdIdx, "no command observed")
	assert.Less(t, subIdx, cmdIdx, "resubscribe must happen before queue flush")
}

func TestOfflineQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueDepth = 2
	cfg.AckTimeout = Duration(50 * time.Millisecond)
	c := &Client{
		cfg:     cfg.normalized(),
		pending: make(map[uint32]*pendingAck),
	}

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		id := c.nextID.Add(1)
		go func(id uint32) {
			_, err := c.dispatchQueued(context.Background(), id, []byte{0x01})
			results <- err
		}(id)
		time.Sleep(10 * time.Millisecond)
	}

	var timeouts, fulls int
	for i := 0; i < 3; i++ {
		err := <-results
		switch {
		case errors.Is(err, ErrAckTimeout):
			timeouts++
		case errors.Is(err, ErrQueueFull):
			fulls++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, timeouts)
	assert.Equal(t, 1, fulls)

	// Timed-out entries remove themselves from the queue.
	assert.Zero(t, c.QueuedCommands())
}

func TestCloseIdempotent(t *testing.T) {
	d := startDevice(t, ackAll)

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.SetParam(context.Background(), model.EngineMaster, "volume", 0.1)
	assert.ErrorIs(t, err, ErrClientClosed)

	_, err = c.Subscribe(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestSetElementBus(t *testing.T) {
	var busMu sync.Mutex
	var bus *wire.ElementBus

	d := startDevice(t, func(msg any, send func(v any)) {
		if b, ok := msg.(*wire.ElementBus); ok {
			busMu.Lock()
			bus = b
			busMu.Unlock()
		}
		ackAll(msg, send)
	})

	c, err := Open(context.Background(), testConfig(d.endpoint()))
	require.NoError(t, err)
	defer c.Close()

	err = c.SetElementBus(context.Background(), map[model.Element]float64{
		model.ElementEarth: 1,
		model.ElementFire:  -1,
	})
	require.NoError(t, err)

	busMu.Lock()
	defer busMu.Unlock()
	require.NotNil(t, bus)
	require.Len(t, bus.Elements, model.ElementCount)

	frame, err := bus.Frame()
	require.NoError(t, err)
	assert.InDelta(t, 1, frame[model.ElementEarth], 1.0/127)
	assert.InDelta(t, 0, frame[model.ElementAir], 1.0/127)
	assert.InDelta(t, 0, frame[model.ElementWater], 1.0/127)
	assert.InDelta(t, -1, frame[model.ElementFire], 1.0/127)
}

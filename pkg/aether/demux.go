package aether

import (
	"strconv"
	"time"

	"github.com/aetherlab/aether-go/pkg/connection"
	"github.com/aetherlab/aether-go/pkg/log"
	"github.com/aetherlab/aether-go/pkg/wire"
)

// readLoop drains one session's inbound frames and routes them:
// acks to their waiters, telemetry to the streams, heartbeats to the
// watchdog. It owns the session's protocol-error counter.
func (c *Client) readLoop(s *session) {
	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			if s.dead.Swap(true) {
				return
			}
			s.watchdog.Stop()
			s.conn.Close()
			c.failPending()
			if !c.closed.Load() {
				c.mgr.NotifyConnectionLost()
			}
			return
		}

		msg, perr := wire.Decode(data)
		if perr != nil {
			c.logProtocolError(s, perr)
			s.protoErrs++
			if s.protoErrs >= maxConsecutiveProtocolErrors {
				// The stream is out of sync; stop trusting it.
				if s.dead.Swap(true) {
					return
				}
				s.watchdog.Stop()
				s.conn.Close()
				c.failPending()
				c.mgr.MarkDegraded(connection.DegradeProtocolErrors)
				return
			}
			continue
		}
		s.protoErrs = 0

		switch m := msg.(type) {
		case *wire.Ack:
			c.resolveAck(s, m)

		case *wire.Telemetry:
			s.watchdog.Feed()
			if err := c.registry.Dispatch(m); err != nil {
				c.logger.Log(log.Event{
					Timestamp: time.Now(),
					SessionID: s.id,
					Direction: log.DirectionIn,
					Layer:     log.LayerWire,
					Category:  log.CategoryError,
					Error: &log.ErrorEventData{
						Layer:   log.LayerWire,
						Message: err.Error(),
						Context: "telemetry dispatch",
					},
				})
			}

		case *wire.Heartbeat:
			s.watchdog.Feed()
			c.logMessage(s, wire.KindHeartbeat, 0, nil, m.Seq)

		case *wire.DeviceError:
			c.logger.Log(log.Event{
				Timestamp: time.Now(),
				SessionID: s.id,
				Direction: log.DirectionIn,
				Layer:     log.LayerWire,
				Category:  log.CategoryError,
				Error: &log.ErrorEventData{
					Layer:   log.LayerWire,
					Message: m.Error(),
					Context: "device error notice",
				},
			})
			c.cbMu.RLock()
			fn := c.onDeviceError
			c.cbMu.RUnlock()
			if fn != nil {
				fn(m)
			}

		case *wire.Close:
			// Device-initiated shutdown is an orderly connection loss.
			c.logMessage(s, wire.KindClose, 0, nil, 0)
			if s.dead.Swap(true) {
				return
			}
			s.watchdog.Stop()
			s.conn.Close()
			c.failPending()
			if !c.closed.Load() {
				c.mgr.NotifyConnectionLost()
			}
			return
		}
	}
}

// resolveAck hands an ack to its waiter. An ack with no pending frame
// is logged and dropped; it is stale, not fatal.
func (c *Client) resolveAck(s *session, ack *wire.Ack) {
	c.pendingMu.Lock()
	p, ok := c.pending[ack.ID]
	if ok {
		delete(c.pending, ack.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Log(log.Event{
			Timestamp: time.Now(),
			SessionID: s.id,
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerWire,
				Message: "ack with no pending frame",
				Context: "correlation ID " + strconv.FormatUint(uint64(ack.ID), 10),
			},
		})
		return
	}

	status := ack.Status
	c.logMessage(s, wire.KindAck, ack.ID, &status, 0)

	p.ch <- ack
}

// logProtocolError records an undecodable inbound frame.
func (c *Client) logProtocolError(s *session, perr *wire.ProtocolError) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: perr.Error(),
			Context: "inbound frame decode",
		},
	})
}

// logMessage records a decoded wire-layer message event.
func (c *Client) logMessage(s *session, kind wire.Kind, id uint32, status *wire.Status, seq uint64) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Kind:          kind,
			CorrelationID: id,
			Status:        status,
			Seq:           seq,
		},
	})
}

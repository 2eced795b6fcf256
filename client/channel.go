package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

var (
	deliverKey = protocol.MethodKey{Class: protocol.ClassBasic, Method: protocol.BasicDeliver}
	returnKey  = protocol.MethodKey{Class: protocol.ClassBasic, Method: protocol.BasicReturn}
)

// Channel is one logical conversation on a Connection. Synchronous
// operations on a channel must not overlap; use one channel per goroutine.
type Channel struct {
	id          uint16
	conn        *Connection
	reservation *Reservation
	log         *zap.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	pending *pendingCall
	content *contentAssembler
	// failure is sticky: once set every call returns it
	failure error

	subscribed   bool
	wireOpen     bool // channel.open has been sent
	opened       bool // channel.open-ok received
	brokerClosed bool
	released     bool
	done         chan struct{}
	doneClosed   bool

	// backlog holds deliveries not yet taken by the pump goroutine, which
	// feeds them to the deliveries channel
	backlog    []Delivery
	pumping    bool
	wake       chan struct{}
	deliveries chan Delivery
}

func newChannel(conn *Connection, reservation *Reservation) *Channel {
	id := uint16(reservation.ID())
	return &Channel{
		id:          id,
		conn:        conn,
		reservation: reservation,
		log:         conn.log.With(zap.Uint16("channel_id", id)),
		done:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		deliveries:  make(chan Delivery, conn.cfg.Channel.DeliveryBuffer),
	}
}

// ID returns the channel id.
func (c *Channel) ID() int {
	return int(c.id)
}

// Connection returns the connection the channel belongs to.
func (c *Channel) Connection() *Connection {
	return c.conn
}

// Deliveries returns messages pushed by the broker for consumers started
// with BasicConsume. The channel is never closed; select on Done as well.
// A consumer that stops reading only holds up its own channel.
func (c *Channel) Deliveries() <-chan Delivery {
	return c.deliveries
}

// Done is closed once the channel can no longer be used: after Release, a
// broker channel.close or the loss of the connection. Err reports the
// cause unless the channel was released.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) closeDoneLocked() {
	if !c.doneClosed {
		c.doneClosed = true
		close(c.done)
	}
	c.backlog = nil
}

// IsReleased reports whether Release has been called.
func (c *Channel) IsReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Err returns the error that made the channel unusable, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *Channel) subscribe() error {
	if err := c.conn.transport.Subscribe(c.id, c); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

func (c *Channel) open(ctx context.Context) error {
	if _, err := c.call(ctx, &protocol.ChannelOpenMethod{}); err != nil {
		return err
	}
	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()
	return nil
}

// Release closes the channel and returns its id to the registry. It is
// idempotent, never fails and aborts an in-flight call with ErrCanceled.
func (c *Channel) Release() *Channel {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return c
	}
	c.released = true
	c.closeDoneLocked()
	c.content = nil
	if p := c.pending; p != nil {
		c.finishLocked(p, nil, &amqperrors.UsageError{ChannelID: c.id, Op: p.request, Reason: amqperrors.ErrCanceled})
	}
	subscribed := c.subscribed
	sendClose := c.wireOpen && !c.brokerClosed
	wasOpen := c.opened
	c.mu.Unlock()

	if subscribed {
		t := c.conn.transport
		if sendClose {
			t.Drain(c.id)
			closeMethod := &protocol.ChannelCloseMethod{}
			closeMethod.ReplyCode = amqperrors.ReplySuccess
			closeMethod.ReplyText = "Goodbye"
			if err := t.sendMethod(c.id, closeMethod); err != nil {
				c.log.Debug("Failed to send channel.close", zap.Error(err))
				t.Unsubscribe(c.id)
			}
		} else {
			t.Unsubscribe(c.id)
		}
	}

	c.reservation.Release()
	c.conn.forget(c)
	c.conn.metrics.RecordChannelReleased(wasOpen)
	c.log.Debug("Channel released", zap.Bool("sent_close", subscribed && sendClose))
	return c
}

// HandleFrame dispatches a frame addressed to this channel.
func (c *Channel) HandleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.FrameMethod:
		c.handleMethod(frame)
	case protocol.FrameHeader, protocol.FrameBody:
		c.handleContent(frame)
	default:
		c.log.Warn("Unexpected frame type", zap.Uint8("frame_type", frame.Type))
	}
}

// HandleClose fails the channel when the connection goes away.
func (c *Channel) HandleClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brokerClosed = true
	c.content = nil
	c.failLocked(err)
	c.closeDoneLocked()
}

func (c *Channel) handleMethod(frame *protocol.Frame) {
	key, method, err := c.conn.codec.DecodeMethod(frame)
	if err != nil {
		c.log.Warn("Failed to decode method", zap.Error(err))
		c.fail(amqperrors.NewProtocolError(c.id, amqperrors.SyntaxError, err.Error()))
		return
	}

	c.mu.Lock()
	if c.content != nil {
		interrupted := c.content.key
		c.content = nil
		c.failLocked(amqperrors.NewProtocolError(c.id, amqperrors.UnexpectedFrame,
			fmt.Sprintf("%s arrived before content of %s was complete", key, interrupted)))
	}
	c.mu.Unlock()

	switch m := method.(type) {
	case *protocol.ChannelCloseMethod:
		c.handleBrokerClose(m)
	case *protocol.ChannelFlowMethod:
		if err := c.conn.transport.sendMethod(c.id, &protocol.ChannelFlowOKMethod{Active: m.Active}); err != nil {
			c.log.Debug("Failed to send channel.flow-ok", zap.Error(err))
		}
	case *protocol.BasicDeliverMethod, *protocol.BasicReturnMethod:
		c.mu.Lock()
		c.content = newContentAssembler(key, method)
		c.mu.Unlock()
	case *protocol.BasicCancelMethod:
		// Broker-initiated consumer cancellation, e.g. the queue was deleted.
		c.log.Info("Consumer cancelled by broker", zap.String("consumer_tag", m.ConsumerTag))
		if !m.NoWait {
			ok := &protocol.BasicCancelOKMethod{}
			ok.ConsumerTag = m.ConsumerTag
			if err := c.conn.transport.sendMethod(c.id, ok); err != nil {
				c.log.Debug("Failed to send basic.cancel-ok", zap.Error(err))
			}
		}
	default:
		c.handleReply(key, method)
	}
}

func (c *Channel) handleReply(key protocol.MethodKey, method protocol.Method) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pending
	if p == nil {
		c.conn.metrics.RecordOrphanFrame()
		c.log.Warn("Reply received with no call pending", zap.String("method", key.String()))
		if c.conn.cfg.RPC.StrictReplies && c.failure == nil && !c.released {
			c.failure = amqperrors.NewProtocolError(c.id, amqperrors.UnexpectedFrame,
				fmt.Sprintf("unexpected %s with no call pending", key))
		}
		return
	}

	if !p.expects(key) {
		c.failLocked(amqperrors.NewProtocolError(c.id, amqperrors.UnexpectedFrame,
			fmt.Sprintf("unexpected method %s awaiting %s", key, p.expected())))
		return
	}

	if protocol.HasContent(key) {
		c.content = newContentAssembler(key, method)
		return
	}
	c.finishLocked(p, normalize(key, method, nil), nil)
}

func (c *Channel) handleContent(frame *protocol.Frame) {
	c.mu.Lock()
	a := c.content
	if a == nil {
		c.mu.Unlock()
		c.conn.metrics.RecordOrphanFrame()
		c.log.Warn("Content frame without a method", zap.Uint8("frame_type", frame.Type))
		return
	}

	complete, err := a.add(frame)
	if err != nil {
		c.content = nil
		c.failLocked(amqperrors.NewProtocolError(c.id, amqperrors.UnexpectedFrame, err.Error()))
		c.mu.Unlock()
		return
	}
	if !complete {
		c.mu.Unlock()
		return
	}
	c.content = nil

	switch a.key {
	case deliverKey:
		c.mu.Unlock()
		c.deliver(a)
	case returnKey:
		c.mu.Unlock()
		ret := a.method.(*protocol.BasicReturnMethod)
		c.log.Warn("Message returned by broker",
			zap.Uint16("reply_code", ret.ReplyCode),
			zap.String("reply_text", ret.ReplyText),
			zap.String("exchange", ret.Exchange),
			zap.String("routing_key", ret.RoutingKey))
	default:
		if p := c.pending; p != nil {
			c.finishLocked(p, normalize(a.key, a.method, a), nil)
			c.conn.metrics.RecordMessageDelivered(len(a.body))
		}
		c.mu.Unlock()
	}
}

func (c *Channel) deliver(a *contentAssembler) {
	m := a.method.(*protocol.BasicDeliverMethod)
	d := Delivery{
		ConsumerTag: m.ConsumerTag,
		DeliveryTag: m.DeliveryTag,
		Redelivered: m.Redelivered,
		Exchange:    m.Exchange,
		RoutingKey:  m.RoutingKey,
		Header:      a.header.Properties(),
		Content:     a.header,
		Body:        a.body,
		channel:     c,
	}
	c.conn.metrics.RecordMessageDelivered(len(a.body))

	c.mu.Lock()
	if c.doneClosed {
		c.mu.Unlock()
		c.log.Debug("Dropping delivery for closed channel", zap.Uint64("delivery_tag", m.DeliveryTag))
		return
	}
	c.backlog = append(c.backlog, d)
	if !c.pumping {
		c.pumping = true
		go c.pump()
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pump moves the backlog into the deliveries channel in order. It exits
// when Done closes.
func (c *Channel) pump() {
	for {
		c.mu.Lock()
		if len(c.backlog) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		d := c.backlog[0]
		c.backlog[0] = Delivery{}
		c.backlog = c.backlog[1:]
		c.mu.Unlock()

		select {
		case c.deliveries <- d:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) handleBrokerClose(m *protocol.ChannelCloseMethod) {
	var cause string
	if m.ClassID != 0 {
		cause = protocol.MethodKey{Class: m.ClassID, Method: m.MethodID}.String()
	}
	perr := amqperrors.FromChannelClose(c.id, int(m.ReplyCode), m.ReplyText, m.ClassID, m.MethodID, cause)

	c.mu.Lock()
	c.brokerClosed = true
	c.content = nil
	c.failLocked(perr)
	c.closeDoneLocked()
	c.mu.Unlock()

	c.log.Warn("Broker closed channel",
		zap.Uint16("reply_code", m.ReplyCode),
		zap.String("reply_text", m.ReplyText),
		zap.String("method", cause))

	if err := c.conn.transport.sendMethod(c.id, &protocol.ChannelCloseOKMethod{}); err != nil {
		c.log.Debug("Failed to send channel.close-ok", zap.Error(err))
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err)
}

// failLocked records err as the channel's failure and ends the pending call.
func (c *Channel) failLocked(err error) {
	if c.failure == nil && !c.released {
		c.failure = err
	}
	if p := c.pending; p != nil {
		c.finishLocked(p, nil, err)
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/maxpert/amqp-go-client/config"
	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

// Connection multiplexes channels over one broker connection. The protocol
// handshake is expected to have completed on the FrameConn.
type Connection struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics MetricsCollector
	clock   clock.Clock
	codec   protocol.Codec

	transport *Transport
	registry  *ChannelRegistry

	mu       sync.Mutex
	channels map[uint16]*Channel
	started  bool
	closing  bool

	closeOK     chan struct{}
	closeOKOnce sync.Once
}

// NewConnection creates a connection over conn. Call Start before opening
// channels.
func NewConnection(conn protocol.FrameConn, opts ...Option) *Connection {
	c := &Connection{
		cfg:      config.DefaultConfig(),
		log:      zap.NewNop(),
		metrics:  &NoOpMetricsCollector{},
		clock:    clock.New(),
		codec:    protocol.DefaultCodec{},
		channels: make(map[uint16]*Channel),
		closeOK:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = NewChannelRegistry(c.cfg.Channel.MaxID)
	c.transport = NewTransport(conn, c.codec, c.log, c.metrics)
	return c
}

// Start launches the frame demultiplexer.
func (c *Connection) Start() (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, fmt.Errorf("connection already started")
	}
	if err := c.transport.Subscribe(0, c); err != nil {
		return nil, err
	}
	c.transport.Start()
	c.started = true

	c.log.Info("Connection started",
		zap.Int("channel_max", c.registry.Max()),
		zap.Duration("rpc_timeout", c.cfg.RPC.Timeout))
	return c, nil
}

// Registry returns the connection's channel id registry.
func (c *Connection) Registry() *ChannelRegistry {
	return c.registry
}

// Config returns the configuration the connection was built with.
func (c *Connection) Config() *config.Config {
	return c.cfg
}

// Channel opens a channel with the given id.
func (c *Connection) Channel(ctx context.Context, id int) (*Channel, error) {
	reservation, err := c.registry.Allocate(id)
	if err != nil {
		c.recordAllocationFailure(err)
		return nil, err
	}
	return c.openChannel(ctx, reservation)
}

// NextChannel opens a channel on the lowest free id.
func (c *Connection) NextChannel(ctx context.Context) (*Channel, error) {
	reservation, err := c.registry.AllocateNext()
	if err != nil {
		c.recordAllocationFailure(err)
		return nil, err
	}
	return c.openChannel(ctx, reservation)
}

// OpenChannel opens channel id on conn.
func OpenChannel(ctx context.Context, conn *Connection, id int) (*Channel, error) {
	return conn.Channel(ctx, id)
}

func (c *Connection) recordAllocationFailure(err error) {
	reason := "out_of_range"
	if errors.Is(err, amqperrors.ErrDuplicateID) {
		reason = "duplicate"
	}
	c.metrics.RecordAllocationFailure(reason)
	c.log.Debug("Channel allocation failed", zap.Error(err))
}

func (c *Connection) openChannel(ctx context.Context, reservation *Reservation) (*Channel, error) {
	c.metrics.RecordChannelAllocated()

	c.mu.Lock()
	if !c.started || c.closing {
		c.mu.Unlock()
		reservation.Release()
		return nil, amqperrors.ErrConnectionClosed
	}
	ch := newChannel(c, reservation)
	c.channels[ch.id] = ch
	c.mu.Unlock()

	if err := ch.subscribe(); err != nil {
		ch.Release()
		return nil, err
	}

	if err := ch.open(ctx); err != nil {
		c.log.Warn("Failed to open channel", zap.Uint16("channel_id", ch.id), zap.Error(err))
		ch.Release()
		return nil, err
	}

	c.metrics.RecordChannelOpened()
	c.log.Debug("Channel opened", zap.Uint16("channel_id", ch.id))
	return ch, nil
}

func (c *Connection) forget(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.id] == ch {
		delete(c.channels, ch.id)
	}
}

// Close releases every channel, performs the connection.close exchange
// and closes the transport.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	started := c.started
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Release()
	}

	var err error
	if started {
		err = multierr.Append(err, c.closeHandshake())
	}
	err = multierr.Append(err, c.transport.Close())

	c.log.Info("Connection closed", zap.Error(err))
	return err
}

func (c *Connection) closeHandshake() error {
	select {
	case <-c.transport.Done():
		return nil
	default:
	}

	closeMethod := &protocol.ConnectionCloseMethod{}
	closeMethod.ReplyCode = amqperrors.ReplySuccess
	closeMethod.ReplyText = "Goodbye"
	if err := c.transport.sendMethod(0, closeMethod); err != nil {
		return fmt.Errorf("failed to send connection.close: %w", err)
	}

	timer := c.clock.Timer(c.cfg.RPC.CloseTimeout)
	defer timer.Stop()

	select {
	case <-c.closeOK:
		return nil
	case <-c.transport.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("connection.close-ok not received within %s", c.cfg.RPC.CloseTimeout)
	}
}

// HandleFrame handles frames on channel 0.
func (c *Connection) HandleFrame(frame *protocol.Frame) {
	if frame.Type != protocol.FrameMethod {
		c.log.Warn("Unexpected frame on channel 0", zap.Uint8("frame_type", frame.Type))
		return
	}

	key, method, err := c.codec.DecodeMethod(frame)
	if err != nil {
		c.log.Warn("Failed to decode method on channel 0", zap.Error(err))
		return
	}

	switch m := method.(type) {
	case *protocol.ConnectionCloseMethod:
		c.log.Warn("Broker closed connection",
			zap.Uint16("reply_code", m.ReplyCode),
			zap.String("reply_text", m.ReplyText))
		if err := c.transport.sendMethod(0, &protocol.ConnectionCloseOKMethod{}); err != nil {
			c.log.Debug("Failed to send connection.close-ok", zap.Error(err))
		}
		cause := protocol.MethodKey{Class: m.ClassID, Method: m.MethodID}
		connErr := amqperrors.NewConnectionError(int(m.ReplyCode), m.ReplyText, m.ClassID, m.MethodID)
		if m.ClassID != 0 {
			connErr.Method = cause.String()
		}
		c.transport.Shutdown(connErr)
	case *protocol.ConnectionCloseOKMethod:
		c.closeOKOnce.Do(func() { close(c.closeOK) })
	default:
		c.log.Debug("Ignoring method on channel 0", zap.String("method", key.String()))
	}
}

// HandleClose is called when the transport shuts down.
func (c *Connection) HandleClose(err error) {
	c.log.Debug("Transport closed", zap.Error(err))
}

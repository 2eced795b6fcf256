package client

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

var (
	channelCloseKey   = protocol.MethodKey{Class: protocol.ClassChannel, Method: protocol.ChannelClose}
	channelCloseOKKey = protocol.MethodKey{Class: protocol.ClassChannel, Method: protocol.ChannelCloseOK}
)

// FrameHandler receives the frames of one channel id. HandleFrame is called
// from the demultiplexer goroutine and must not block indefinitely.
type FrameHandler interface {
	HandleFrame(frame *protocol.Frame)
	// HandleClose is called once when the connection goes away.
	HandleClose(err error)
}

type slot struct {
	handler FrameHandler
	// draining discards frames until channel.close-ok
	draining bool
}

// Transport multiplexes channel conversations over one FrameConn. Writes
// are serialized; one goroutine reads and dispatches frames by channel id.
type Transport struct {
	conn    protocol.FrameConn
	codec   protocol.Codec
	log     *zap.Logger
	metrics MetricsCollector

	writeMu sync.Mutex

	mu       sync.Mutex
	slots    map[uint16]*slot
	closed   bool
	closeErr error

	started   bool
	closeConn error

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
}

// NewTransport wraps conn. Call Start to begin reading.
func NewTransport(conn protocol.FrameConn, codec protocol.Codec, log *zap.Logger, metrics MetricsCollector) *Transport {
	return &Transport{
		conn:     conn,
		codec:    codec,
		log:      log,
		metrics:  metrics,
		slots:    make(map[uint16]*slot),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Start launches the demultiplexer.
func (t *Transport) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	go t.readFrames()
}

func (t *Transport) readFrames() {
	defer close(t.readDone)
	for {
		frame, err := t.conn.ReadFrame()
		if err != nil {
			t.Shutdown(fmt.Errorf("%w: %v", amqperrors.ErrConnectionClosed, err))
			return
		}
		t.dispatch(frame)
	}
}

func (t *Transport) dispatch(frame *protocol.Frame) {
	if frame.Type == protocol.FrameHeartbeat {
		return
	}

	t.mu.Lock()
	s, ok := t.slots[frame.Channel]
	if ok && s.draining {
		key, isMethod := frame.MethodKeyOf()
		switch {
		case isMethod && key == channelCloseOKKey:
			s.draining = false
			if s.handler == nil {
				delete(t.slots, frame.Channel)
			}
			t.mu.Unlock()
			t.log.Debug("Channel drained", zap.Uint16("channel_id", frame.Channel))
		case isMethod && key == channelCloseKey:
			// The broker closed the channel while our close was in flight.
			// Answer it; our close still gets its close-ok.
			t.mu.Unlock()
			if err := t.sendMethod(frame.Channel, &protocol.ChannelCloseOKMethod{}); err != nil {
				t.log.Debug("Failed to answer channel.close while draining", zap.Uint16("channel_id", frame.Channel), zap.Error(err))
			}
		default:
			t.mu.Unlock()
		}
		return
	}
	t.mu.Unlock()

	if !ok || s.handler == nil {
		t.metrics.RecordOrphanFrame()
		t.log.Warn("Dropping frame for unknown channel",
			zap.Uint16("channel_id", frame.Channel),
			zap.Uint8("frame_type", frame.Type))
		return
	}
	s.handler.HandleFrame(frame)
}

// Send writes frames as one uninterrupted group.
func (t *Transport) Send(frames ...*protocol.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.done:
		return t.Err()
	default:
	}

	for _, frame := range frames {
		if err := t.conn.WriteFrame(frame); err != nil {
			return fmt.Errorf("failed to write frame on channel %d: %w", frame.Channel, err)
		}
	}
	return nil
}

func (t *Transport) sendMethod(channel uint16, m protocol.Method) error {
	frame, err := t.codec.EncodeMethod(channel, m)
	if err != nil {
		return err
	}
	return t.Send(frame)
}

// Subscribe routes frames for id to h. A draining id may be subscribed;
// frames reach h once the pending channel.close-ok has been consumed.
func (t *Transport) Subscribe(id uint16, h FrameHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return t.closeErr
	}
	if s, ok := t.slots[id]; ok {
		if s.handler != nil {
			return fmt.Errorf("channel %d already has a handler", id)
		}
		s.handler = h
		return nil
	}
	t.slots[id] = &slot{handler: h}
	return nil
}

// Unsubscribe forgets id, including any drain in progress.
func (t *Transport) Unsubscribe(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, id)
}

// Drain detaches the handler of id and discards its frames until
// channel.close-ok arrives.
func (t *Transport) Drain(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[id]; ok {
		s.handler = nil
		s.draining = true
		return
	}
	t.slots[id] = &slot{draining: true}
}

// Draining reports whether id is waiting for channel.close-ok.
func (t *Transport) Draining(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	return ok && s.draining
}

// Shutdown closes the connection without waiting for the reader. Every
// subscribed handler gets HandleClose(err).
func (t *Transport) Shutdown(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.closeErr = err
		handlers := make([]FrameHandler, 0, len(t.slots))
		for _, s := range t.slots {
			if s.handler != nil {
				handlers = append(handlers, s.handler)
			}
		}
		t.slots = make(map[uint16]*slot)
		t.mu.Unlock()

		close(t.done)
		if cerr := t.conn.Close(); cerr != nil {
			t.log.Debug("Error closing frame connection", zap.Error(cerr))
			t.mu.Lock()
			t.closeConn = cerr
			t.mu.Unlock()
		}

		for _, h := range handlers {
			h.HandleClose(err)
		}
	})
}

// Close shuts the transport down and waits for the reader to exit. It
// returns the error from closing the underlying connection, if any.
func (t *Transport) Close() error {
	t.Shutdown(amqperrors.ErrConnectionClosed)

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.readDone
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeConn
}

// Done is closed once the transport has shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error the transport shut down with.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}

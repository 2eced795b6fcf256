package broker

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

// Server speaks AMQP 0-9-1 frames for a Broker. Each FrameConn passed to
// Serve is one client session whose handshake has already happened.
type Server struct {
	Broker   *Broker
	Log      *zap.Logger
	Codec    protocol.Codec
	FrameMax int

	mu       sync.Mutex
	sessions map[uint64]*session
	nextID   uint64
}

// NewServer creates a server for b
func NewServer(b *Broker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		Broker:   b,
		Log:      log,
		Codec:    protocol.DefaultCodec{},
		FrameMax: 131072,
		sessions: make(map[uint64]*session),
	}
}

type channelPhase int

const (
	phaseOpen channelPhase = iota
	// phaseClosing: the server sent channel.close and waits for close-ok
	phaseClosing
)

type serverChannel struct {
	phase   channelPhase
	publish *publishAssembly
}

// publishAssembly collects the content frames of a basic.publish.
type publishAssembly struct {
	method *protocol.BasicPublishMethod
	header *protocol.ContentHeader
	body   []byte
}

type session struct {
	id     uint64
	conn   protocol.FrameConn
	log    *zap.Logger
	server *Server

	// Frames are queued and written by writeLoop so the read loop never
	// waits on the client.
	outMu     sync.Mutex
	outCond   *sync.Cond
	outbox    []*protocol.Frame
	outClosed bool
	writeErr  error
	flushed   chan struct{}

	// only touched by the Serve goroutine
	channels map[uint16]*serverChannel
	closing  bool
}

// Serve runs one session until the client closes the connection or conn
// fails. It closes conn before returning.
func (s *Server) Serve(conn protocol.FrameConn) (err error) {
	s.mu.Lock()
	s.nextID++
	sess := &session{
		id:       s.nextID,
		conn:     conn,
		log:      s.Log.With(zap.Uint64("session_id", s.nextID)),
		server:   s,
		flushed:  make(chan struct{}),
		channels: make(map[uint16]*serverChannel),
	}
	sess.outCond = sync.NewCond(&sess.outMu)
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	sess.log.Debug("Session started")
	go sess.writeLoop()
	defer func() { s.endSession(sess, err == nil) }()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrConnClosed) {
				return nil
			}
			return fmt.Errorf("session %d: %w", sess.id, err)
		}

		done, err := sess.handleFrame(frame)
		if err != nil {
			var connErr *amqperrors.ConnectionError
			if !errors.As(err, &connErr) {
				return err
			}
			if err := sess.closeConnection(connErr); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// endSession drops the session's broker state. A clean end flushes the
// queued frames before closing conn.
func (s *Server) endSession(sess *session, clean bool) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	s.emit(s.Broker.CloseSession(sess.id))

	sess.outMu.Lock()
	sess.outClosed = true
	sess.outCond.Signal()
	sess.outMu.Unlock()

	if clean {
		<-sess.flushed
	}
	if err := sess.conn.Close(); err != nil {
		sess.log.Debug("Error closing session connection", zap.Error(err))
	}
	<-sess.flushed
	sess.log.Debug("Session ended")
}

// emit writes broker-initiated events to their target sessions.
func (s *Server) emit(events []Event) {
	for _, ev := range events {
		s.mu.Lock()
		target, ok := s.sessions[ev.Target.Session]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := target.writeEvent(ev); err != nil {
			target.log.Debug("Failed to write event", zap.Uint16("channel_id", ev.Target.Channel), zap.Error(err))
		}
	}
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// send queues frames for the writer. Frames of one call stay contiguous.
func (sess *session) send(frames ...*protocol.Frame) error {
	sess.outMu.Lock()
	defer sess.outMu.Unlock()
	if sess.writeErr != nil {
		return sess.writeErr
	}
	if sess.outClosed {
		return protocol.ErrConnClosed
	}
	sess.outbox = append(sess.outbox, frames...)
	sess.outCond.Signal()
	return nil
}

func (sess *session) writeLoop() {
	defer close(sess.flushed)
	for {
		sess.outMu.Lock()
		for len(sess.outbox) == 0 && !sess.outClosed {
			sess.outCond.Wait()
		}
		frames := sess.outbox
		sess.outbox = nil
		sess.outMu.Unlock()

		if len(frames) == 0 {
			return
		}
		for _, f := range frames {
			if err := sess.conn.WriteFrame(f); err != nil {
				sess.log.Debug("Failed to write frame", zap.Uint16("channel_id", f.Channel), zap.Error(err))
				sess.outMu.Lock()
				sess.writeErr = err
				sess.outbox = nil
				sess.outMu.Unlock()
				return
			}
		}
	}
}

func (sess *session) reply(channel uint16, m protocol.Method) error {
	frame, err := sess.server.Codec.EncodeMethod(channel, m)
	if err != nil {
		return err
	}
	return sess.send(frame)
}

// replyContent writes a content-bearing method with its header and body.
func (sess *session) replyContent(channel uint16, m protocol.Method, msg *Message) error {
	codec := sess.server.Codec
	frame, err := codec.EncodeMethod(channel, m)
	if err != nil {
		return err
	}
	header := msg.Header
	if header == nil {
		header = &protocol.ContentHeader{ClassID: protocol.ClassBasic}
	}
	content, err := codec.EncodeContent(channel, header, msg.Body, sess.server.FrameMax)
	if err != nil {
		return err
	}
	return sess.send(append([]*protocol.Frame{frame}, content...)...)
}

func (sess *session) writeEvent(ev Event) error {
	ch := ev.Target.Channel
	switch {
	case ev.Deliver != nil:
		d := ev.Deliver
		return sess.replyContent(ch, &protocol.BasicDeliverMethod{
			ConsumerTag: d.ConsumerTag,
			DeliveryTag: d.DeliveryTag,
			Redelivered: d.Redelivered,
			Exchange:    d.Message.Exchange,
			RoutingKey:  d.Message.RoutingKey,
		}, d.Message)
	case ev.Return != nil:
		return sess.replyContent(ch, &protocol.BasicReturnMethod{
			ReplyCode:  amqperrors.NoRoute,
			ReplyText:  amqperrors.CodeName(amqperrors.NoRoute),
			Exchange:   ev.Return.Exchange,
			RoutingKey: ev.Return.RoutingKey,
		}, ev.Return)
	case ev.Cancel != "":
		return sess.reply(ch, &protocol.BasicCancelMethod{ConsumerTag: ev.Cancel})
	}
	return nil
}

func (sess *session) ref(channel uint16) ChannelRef {
	return ChannelRef{Session: sess.id, Channel: channel}
}

// handleFrame processes one client frame. done reports the end of the
// session.
func (sess *session) handleFrame(frame *protocol.Frame) (done bool, err error) {
	if frame.Type == protocol.FrameHeartbeat {
		return false, nil
	}
	if frame.Channel == 0 {
		return sess.handleConnectionFrame(frame)
	}
	if sess.closing {
		// Only connection.close-ok matters now.
		return false, nil
	}

	ch, known := sess.channels[frame.Channel]
	if frame.Type != protocol.FrameMethod {
		if !known || ch.phase == phaseClosing {
			return false, nil
		}
		return false, sess.handleContent(frame.Channel, ch, frame)
	}

	key, method, err := sess.server.Codec.DecodeMethod(frame)
	if err != nil {
		return false, amqperrors.NewConnectionError(amqperrors.CommandInvalid, err.Error(), key.Class, key.Method)
	}

	switch {
	case !known:
		return false, sess.handleUnknownChannel(frame.Channel, key, method)
	case ch.phase == phaseClosing:
		switch method.(type) {
		case *protocol.ChannelCloseOKMethod:
			delete(sess.channels, frame.Channel)
		case *protocol.ChannelCloseMethod:
			// Both sides closed at once; the client's close-ok to ours follows.
			return false, sess.reply(frame.Channel, &protocol.ChannelCloseOKMethod{})
		}
		return false, nil
	}

	if ch.publish != nil {
		return false, amqperrors.NewConnectionError(amqperrors.UnexpectedFrame,
			fmt.Sprintf("UNEXPECTED_FRAME - expected content header for basic.publish, got %s", key), key.Class, key.Method)
	}

	events, err := sess.handleMethod(frame.Channel, ch, method)
	if err != nil {
		var chErr *amqperrors.ChannelError
		if errors.As(err, &chErr) {
			return false, sess.closeChannel(frame.Channel, ch, key, chErr)
		}
		return false, err
	}
	sess.server.emit(events)
	return false, nil
}

func (sess *session) handleUnknownChannel(channel uint16, key protocol.MethodKey, method protocol.Method) error {
	switch method.(type) {
	case *protocol.ChannelOpenMethod:
		if err := sess.server.Broker.OpenChannel(sess.ref(channel)); err != nil {
			return err
		}
		sess.channels[channel] = &serverChannel{phase: phaseOpen}
		return sess.reply(channel, &protocol.ChannelOpenOKMethod{})
	case *protocol.ChannelCloseMethod:
		return sess.reply(channel, &protocol.ChannelCloseOKMethod{})
	case *protocol.ChannelCloseOKMethod:
		return nil
	default:
		return amqperrors.NewConnectionError(amqperrors.ChannelErrorCode,
			fmt.Sprintf("CHANNEL_ERROR - expected 'channel.open' on channel %d, got %s", channel, key), key.Class, key.Method)
	}
}

// closeChannel raises a channel exception: the broker state of the
// channel is dropped and channel.close is sent.
func (sess *session) closeChannel(channel uint16, ch *serverChannel, key protocol.MethodKey, chErr *amqperrors.ChannelError) error {
	ch.phase = phaseClosing
	ch.publish = nil
	sess.server.emit(sess.server.Broker.CloseChannel(sess.ref(channel)))

	sess.log.Info("Closing channel with exception",
		zap.Uint16("channel_id", channel),
		zap.Int("reply_code", chErr.Code),
		zap.String("reply_text", chErr.Message),
		zap.String("method", key.String()))

	m := &protocol.ChannelCloseMethod{}
	m.ReplyCode = uint16(chErr.Code)
	m.ReplyText = chErr.Message
	m.ClassID = key.Class
	m.MethodID = key.Method
	return sess.reply(channel, m)
}

func (sess *session) closeConnection(connErr *amqperrors.ConnectionError) error {
	sess.closing = true
	sess.log.Warn("Closing connection with exception",
		zap.Int("reply_code", connErr.Code),
		zap.String("reply_text", connErr.Message))

	m := &protocol.ConnectionCloseMethod{}
	m.ReplyCode = uint16(connErr.Code)
	m.ReplyText = connErr.Message
	m.ClassID = connErr.ClassID
	m.MethodID = connErr.MethodID
	return sess.reply(0, m)
}

func (sess *session) handleConnectionFrame(frame *protocol.Frame) (bool, error) {
	if frame.Type != protocol.FrameMethod {
		return false, nil
	}
	_, method, err := sess.server.Codec.DecodeMethod(frame)
	if err != nil {
		sess.log.Debug("Ignoring undecodable frame on channel 0", zap.Error(err))
		return false, nil
	}

	switch m := method.(type) {
	case *protocol.ConnectionCloseMethod:
		sess.log.Debug("Client closed connection",
			zap.Uint16("reply_code", m.ReplyCode),
			zap.String("reply_text", m.ReplyText))
		return true, sess.reply(0, &protocol.ConnectionCloseOKMethod{})
	case *protocol.ConnectionCloseOKMethod:
		return sess.closing, nil
	}
	return false, nil
}

func (sess *session) handleContent(channel uint16, ch *serverChannel, frame *protocol.Frame) error {
	p := ch.publish
	if p == nil {
		return amqperrors.NewConnectionError(amqperrors.UnexpectedFrame,
			fmt.Sprintf("UNEXPECTED_FRAME - content frame on channel %d without basic.publish", channel), 0, 0)
	}

	switch frame.Type {
	case protocol.FrameHeader:
		if p.header != nil {
			return amqperrors.NewConnectionError(amqperrors.UnexpectedFrame, "UNEXPECTED_FRAME - duplicate content header", 0, 0)
		}
		header, err := protocol.ReadContentHeader(frame)
		if err != nil {
			return amqperrors.NewConnectionError(amqperrors.FrameError, err.Error(), 0, 0)
		}
		p.header = header
		p.body = make([]byte, 0, header.BodySize)
	case protocol.FrameBody:
		if p.header == nil {
			return amqperrors.NewConnectionError(amqperrors.UnexpectedFrame, "UNEXPECTED_FRAME - body before content header", 0, 0)
		}
		p.body = append(p.body, frame.Payload...)
	default:
		return nil
	}

	if uint64(len(p.body)) > p.header.BodySize {
		return amqperrors.NewConnectionError(amqperrors.FrameError, "FRAME_ERROR - body exceeds declared size", 0, 0)
	}
	if uint64(len(p.body)) < p.header.BodySize {
		return nil
	}

	ch.publish = nil
	msg := &Message{Header: p.header, Body: p.body}
	events, err := sess.server.Broker.Publish(sess.ref(channel), p.method.Exchange, p.method.RoutingKey, p.method.Mandatory, msg)
	if err != nil {
		var chErr *amqperrors.ChannelError
		if errors.As(err, &chErr) {
			key := protocol.MethodKey{Class: protocol.ClassBasic, Method: protocol.BasicPublish}
			return sess.closeChannel(channel, ch, key, chErr)
		}
		return err
	}
	sess.server.emit(events)
	return nil
}

func notImplemented(key protocol.MethodKey) error {
	return amqperrors.NewConnectionError(amqperrors.NotImplemented,
		fmt.Sprintf("NOT_IMPLEMENTED - %s", key), key.Class, key.Method)
}

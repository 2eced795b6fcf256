package protocol

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
)

// ErrConnClosed is returned by a FrameConn after Close.
var ErrConnClosed = errors.New("frame connection closed")

// FrameConn is a bidirectional stream of AMQP frames. ReadFrame is called
// from a single goroutine; WriteFrame callers serialize themselves.
type FrameConn interface {
	ReadFrame() (*Frame, error)
	WriteFrame(frame *Frame) error
	Close() error
}

// NetConn adapts a net.Conn to a FrameConn using the AMQP frame layout.
type NetConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufferedWriter
}

// NewNetConn wraps conn. The protocol header exchange and handshake are
// expected to be complete.
func NewNetConn(conn net.Conn) *NetConn {
	return &NetConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: &bufferedWriter{w: bufio.NewWriter(conn)},
	}
}

// ReadFrame reads the next frame from the socket
func (c *NetConn) ReadFrame() (*Frame, error) {
	return ReadFrame(c.reader)
}

// WriteFrame writes and flushes one frame
func (c *NetConn) WriteFrame(frame *Frame) error {
	return c.writer.writeFrame(frame)
}

// Close closes the underlying socket
func (c *NetConn) Close() error {
	return c.conn.Close()
}

type pipeEnd struct {
	send chan<- *Frame
	recv <-chan *Frame

	closed     chan struct{}
	peerClosed <-chan struct{}
	closeOnce  *sync.Once
}

// Pipe returns a pair of connected in-memory frame connections. Frames
// written to client are read by server and vice versa; frames are passed
// by pointer without encoding.
func Pipe() (client, server FrameConn) {
	c2s := make(chan *Frame, 256)
	s2c := make(chan *Frame, 256)
	cClosed := make(chan struct{})
	sClosed := make(chan struct{})

	client = &pipeEnd{send: c2s, recv: s2c, closed: cClosed, peerClosed: sClosed, closeOnce: &sync.Once{}}
	server = &pipeEnd{send: s2c, recv: c2s, closed: sClosed, peerClosed: cClosed, closeOnce: &sync.Once{}}
	return client, server
}

func (p *pipeEnd) ReadFrame() (*Frame, error) {
	// Drain what the peer wrote before it closed.
	select {
	case f := <-p.recv:
		return f, nil
	default:
	}

	select {
	case f := <-p.recv:
		return f, nil
	case <-p.closed:
		return nil, ErrConnClosed
	case <-p.peerClosed:
		select {
		case f := <-p.recv:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *pipeEnd) WriteFrame(frame *Frame) error {
	select {
	case <-p.closed:
		return ErrConnClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.send <- frame:
		return nil
	case <-p.closed:
		return ErrConnClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	}
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

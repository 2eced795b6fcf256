package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maxpert/amqp-go-client/internal/broker"
	"github.com/maxpert/amqp-go-client/protocol"
)

// newBrokerConnection connects a client to an in-memory broker session.
func newBrokerConnection(t *testing.T, opts ...Option) (*Connection, *broker.Broker) {
	t.Helper()
	clientEnd, serverEnd := protocol.Pipe()

	b := broker.New(broker.WithLogger(zaptest.NewLogger(t)))
	server := broker.NewServer(b, zaptest.NewLogger(t))
	served := make(chan error, 1)
	go func() { served <- server.Serve(serverEnd) }()

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	conn, err := NewConnection(clientEnd, opts...).Start()
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, conn.Close())
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("broker session did not end")
		}
	})
	return conn, b
}

// scriptedPeer plays the broker side by hand.
type scriptedPeer struct {
	t     *testing.T
	conn  protocol.FrameConn
	codec protocol.DefaultCodec
}

func newScriptedConnection(t *testing.T, opts ...Option) (*Connection, *scriptedPeer) {
	t.Helper()
	clientEnd, serverEnd := protocol.Pipe()
	peer := &scriptedPeer{t: t, conn: serverEnd}

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	conn, err := NewConnection(clientEnd, opts...).Start()
	require.NoError(t, err)

	t.Cleanup(func() {
		serverEnd.Close()
		select {
		case <-conn.transport.Done():
		case <-time.After(2 * time.Second):
			t.Error("transport did not notice the peer going away")
		}
		conn.Close()
	})
	return conn, peer
}

func (p *scriptedPeer) expect(channel uint16) protocol.Method {
	p.t.Helper()
	type result struct {
		frame *protocol.Frame
		err   error
	}
	read := make(chan result, 1)
	go func() {
		f, err := p.conn.ReadFrame()
		read <- result{f, err}
	}()

	select {
	case r := <-read:
		require.NoError(p.t, r.err)
		require.Equal(p.t, channel, r.frame.Channel)
		_, m, err := p.codec.DecodeMethod(r.frame)
		require.NoError(p.t, err)
		return m
	case <-time.After(2 * time.Second):
		p.t.Fatal("timed out waiting for a frame from the client")
		return nil
	}
}

func (p *scriptedPeer) reply(channel uint16, m protocol.Method) {
	p.t.Helper()
	frame, err := p.codec.EncodeMethod(channel, m)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteFrame(frame))
}

func (p *scriptedPeer) replyContent(channel uint16, m protocol.Method, header *protocol.ContentHeader, body []byte) {
	p.t.Helper()
	p.reply(channel, m)
	frames, err := p.codec.EncodeContent(channel, header, body, 0)
	require.NoError(p.t, err)
	for _, f := range frames {
		require.NoError(p.t, p.conn.WriteFrame(f))
	}
}

// open opens channel id, answering channel.open on the peer side.
func (p *scriptedPeer) open(conn *Connection, id int) *Channel {
	p.t.Helper()
	type result struct {
		ch  *Channel
		err error
	}
	opened := make(chan result, 1)
	go func() {
		ch, err := conn.Channel(context.Background(), id)
		opened <- result{ch, err}
	}()

	require.IsType(p.t, &protocol.ChannelOpenMethod{}, p.expect(uint16(id)))
	p.reply(uint16(id), &protocol.ChannelOpenOKMethod{})

	r := <-opened
	require.NoError(p.t, r.err)
	return r.ch
}

type asyncResult struct {
	resp *Response
	err  error
}

// async runs a channel operation in the background.
func async(fn func() (*Response, error)) <-chan asyncResult {
	done := make(chan asyncResult, 1)
	go func() {
		resp, err := fn()
		done <- asyncResult{resp, err}
	}()
	return done
}

func await(t *testing.T, done <-chan asyncResult) (*Response, error) {
	t.Helper()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
		return nil, nil
	}
}

// countingMetrics counts the events the tests assert on.
type countingMetrics struct {
	NoOpMetricsCollector
	orphans   atomic.Int64
	opened    atomic.Int64
	released  atomic.Int64
	rpcErrors atomic.Int64
	published atomic.Int64
	lastKind  atomic.Value
}

func (m *countingMetrics) RecordOrphanFrame()         { m.orphans.Add(1) }
func (m *countingMetrics) RecordChannelOpened()       { m.opened.Add(1) }
func (m *countingMetrics) RecordChannelReleased(bool) { m.released.Add(1) }
func (m *countingMetrics) RecordMessagePublished(int) { m.published.Add(1) }

func (m *countingMetrics) RecordRPCError(_, kind string) {
	m.rpcErrors.Add(1)
	m.lastKind.Store(kind)
}

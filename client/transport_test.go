package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []*protocol.Frame
	closed error
}

func (h *recordingHandler) HandleFrame(frame *protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
}

func (h *recordingHandler) HandleClose(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func newTestTransport(t *testing.T) (*Transport, *scriptedPeer, *countingMetrics) {
	t.Helper()
	clientEnd, serverEnd := protocol.Pipe()
	m := &countingMetrics{}
	tr := NewTransport(clientEnd, protocol.DefaultCodec{}, zaptest.NewLogger(t), m)
	tr.Start()
	t.Cleanup(func() { tr.Close() })
	return tr, &scriptedPeer{t: t, conn: serverEnd}, m
}

func TestTransportDispatchesByChannel(t *testing.T) {
	tr, peer, m := newTestTransport(t)
	one, two := &recordingHandler{}, &recordingHandler{}
	require.NoError(t, tr.Subscribe(1, one))
	require.NoError(t, tr.Subscribe(2, two))
	assert.Error(t, tr.Subscribe(1, &recordingHandler{}))

	peer.reply(1, &protocol.TxSelectOKMethod{})
	peer.reply(2, &protocol.TxSelectOKMethod{})
	peer.reply(2, &protocol.TxCommitOKMethod{})
	peer.reply(9, &protocol.TxCommitOKMethod{})

	assert.Eventually(t, func() bool {
		return one.count() == 1 && two.count() == 2 && m.orphans.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTransportDrain(t *testing.T) {
	tr, peer, _ := newTestTransport(t)
	h := &recordingHandler{}
	require.NoError(t, tr.Subscribe(1, h))

	tr.Drain(1)
	assert.True(t, tr.Draining(1))

	// A late reply is discarded; a broker close is answered
	peer.reply(1, &protocol.QueueDeclareOKMethod{Queue: "late"})
	peer.reply(1, &protocol.ChannelCloseMethod{})
	assert.IsType(t, &protocol.ChannelCloseOKMethod{}, peer.expect(1))

	next := &recordingHandler{}
	require.NoError(t, tr.Subscribe(1, next))
	peer.reply(1, &protocol.ChannelCloseOKMethod{})
	peer.reply(1, &protocol.ChannelOpenOKMethod{})

	assert.Eventually(t, func() bool { return !tr.Draining(1) && next.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.count())
}

func TestTransportShutdownNotifiesHandlers(t *testing.T) {
	tr, peer, _ := newTestTransport(t)
	h := &recordingHandler{}
	require.NoError(t, tr.Subscribe(3, h))

	peer.conn.Close()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("transport did not shut down")
	}
	assert.ErrorIs(t, tr.Err(), amqperrors.ErrConnectionClosed)

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.closed != nil
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, tr.Send(&protocol.Frame{Type: protocol.FrameHeartbeat}), amqperrors.ErrConnectionClosed)
	assert.Error(t, tr.Subscribe(4, &recordingHandler{}))
}

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bogusMethod struct{ emptyMethod }

func TestCodecMethodRoundTrip(t *testing.T) {
	closeMethod := &ChannelCloseMethod{}
	closeMethod.ReplyCode = 404
	closeMethod.ReplyText = "NOT_FOUND - no queue 'q'"
	closeMethod.ClassID = ClassQueue
	closeMethod.MethodID = QueueDeclare

	bind := &ExchangeBindMethod{}
	bind.Destination = "dst"
	bind.Source = "src"
	bind.RoutingKey = "a.*"
	bind.Arguments = Table{}

	unbind := &QueueUnbindMethod{}
	unbind.Queue = "q"
	unbind.Exchange = "amq.direct"
	unbind.RoutingKey = "rk"
	unbind.Arguments = Table{"x": "y"}

	methods := []Method{
		&ChannelOpenMethod{},
		&ChannelOpenOKMethod{},
		closeMethod,
		&ExchangeDeclareMethod{Exchange: "logs", Type: "fanout", Durable: true, Internal: true, Arguments: Table{"alternate-exchange": "ae"}},
		&ExchangeDeleteMethod{Exchange: "logs", IfUnused: true},
		bind,
		&QueueDeclareOKMethod{Queue: "amq.gen-1", MessageCount: 3, ConsumerCount: 1},
		unbind,
		&QueueDeleteMethod{Queue: "q", IfEmpty: true},
		&QueuePurgeOKMethod{messageCountFields{MessageCount: 9}},
		&BasicQosMethod{PrefetchCount: 10, Global: true},
		&BasicConsumeMethod{Queue: "q", ConsumerTag: "ctag", NoAck: true, Exclusive: true, Arguments: Table{}},
		&BasicCancelMethod{ConsumerTag: "ctag", NoWait: true},
		&BasicPublishMethod{Exchange: "amq.topic", RoutingKey: "a.b", Mandatory: true},
		&BasicReturnMethod{ReplyCode: 312, ReplyText: "NO_ROUTE", Exchange: "x", RoutingKey: "k"},
		&BasicGetOKMethod{DeliveryTag: 1 << 40, Redelivered: true, Exchange: "", RoutingKey: "q", MessageCount: 2},
		&BasicGetEmptyMethod{},
		&BasicAckMethod{DeliveryTag: 5, Multiple: true},
		&BasicRejectMethod{DeliveryTag: 6, Requeue: true},
		&TxCommitOKMethod{},
	}

	codec := DefaultCodec{}
	for _, m := range methods {
		t.Run(MethodName(m), func(t *testing.T) {
			frame, err := codec.EncodeMethod(7, m)
			require.NoError(t, err)
			assert.Equal(t, uint16(7), frame.Channel)
			assert.Equal(t, byte(FrameMethod), frame.Type)

			key, decoded, err := codec.DecodeMethod(frame)
			require.NoError(t, err)
			want, _ := KeyOf(m)
			assert.Equal(t, want, key)
			assert.Equal(t, m, decoded)
		})
	}
}

func TestCodecErrors(t *testing.T) {
	codec := DefaultCodec{}

	_, err := codec.EncodeMethod(1, &bogusMethod{})
	assert.ErrorContains(t, err, "unknown method type *protocol.bogusMethod")

	_, _, err = codec.DecodeMethod(EncodeBodyFrameForChannel(1, []byte("body")))
	assert.ErrorContains(t, err, "not a method frame")

	key, _, err := codec.DecodeMethod(EncodeMethodFrameForChannel(1, ClassBasic, BasicRecover, []byte{1}))
	assert.EqualError(t, err, "unsupported method 60.110")
	assert.Equal(t, MethodKey{ClassBasic, BasicRecover}, key)

	_, _, err = codec.DecodeMethod(EncodeMethodFrameForChannel(1, ClassQueue, QueueDeclareOK, []byte{5, 'q'}))
	assert.ErrorContains(t, err, "failed to deserialize queue.declare-ok")
}

func TestMethodMetadata(t *testing.T) {
	assert.Equal(t, "queue.purge-ok", MethodName(&QueuePurgeOKMethod{}))
	assert.Equal(t, "*protocol.bogusMethod", MethodName(&bogusMethod{}))

	assert.True(t, HasContent(MethodKey{ClassBasic, BasicPublish}))
	assert.True(t, HasContent(MethodKey{ClassBasic, BasicGetOK}))
	assert.True(t, HasContent(MethodKey{ClassBasic, BasicDeliver}))
	assert.True(t, HasContent(MethodKey{ClassBasic, BasicReturn}))
	assert.False(t, HasContent(MethodKey{ClassBasic, BasicGetEmpty}))
	assert.False(t, HasContent(MethodKey{ClassBasic, BasicRecover}))

	m, ok := NewMethod(MethodKey{ClassTx, TxSelect})
	require.True(t, ok)
	assert.IsType(t, &TxSelectMethod{}, m)
	_, ok = NewMethod(MethodKey{ClassConnection, ConnectionStart})
	assert.False(t, ok)
}

func TestEncodeContentSplitsBody(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 30)
	header := &ContentHeader{ClassID: ClassBasic, PropertyFlags: FlagDeliveryMode, DeliveryMode: 2}

	frames, err := DefaultCodec{}.EncodeContent(4, header, body, 108)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	assert.Equal(t, uint64(0), header.BodySize, "caller's header is not modified")

	decoded, err := ReadContentHeader(frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(300), decoded.BodySize)
	assert.Equal(t, uint8(2), decoded.DeliveryMode)

	var joined []byte
	for i, f := range frames[1:] {
		assert.Equal(t, byte(FrameBody), f.Type)
		assert.Equal(t, uint16(4), f.Channel)
		if i < 2 {
			assert.Len(t, f.Payload, 100)
		}
		joined = append(joined, f.Payload...)
	}
	assert.Equal(t, body, joined)
}

func TestEncodeContentEdges(t *testing.T) {
	header := &ContentHeader{ClassID: ClassBasic}
	codec := DefaultCodec{}

	frames, err := codec.EncodeContent(1, header, nil, 4096)
	require.NoError(t, err)
	assert.Len(t, frames, 1, "an empty body has no body frames")

	frames, err = codec.EncodeContent(1, header, make([]byte, 1<<20), 0)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	_, err = codec.EncodeContent(1, header, []byte("x"), frameOverhead)
	assert.ErrorContains(t, err, "leaves no room for body")
}

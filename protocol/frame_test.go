package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameMarshalLayout(t *testing.T) {
	frame := &Frame{
		Type:    FrameMethod,
		Channel: 11,
		Payload: []byte{0x00, 0x32, 0x00, 0x0A},
	}

	data, err := frame.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		FrameMethod,
		0x00, 0x0B,
		0x00, 0x00, 0x00, 0x04,
		0x00, 0x32, 0x00, 0x0A,
		FrameEnd,
	}, data)

	decoded := &Frame{}
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, uint16(11), decoded.Channel)
	assert.Equal(t, uint32(4), decoded.Size)
	assert.Equal(t, frame.Payload, decoded.Payload)
}

func TestFrameUnmarshalErrors(t *testing.T) {
	good, err := (&Frame{Type: FrameBody, Channel: 1, Payload: []byte("abc")}).MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"too short", good[:5], "frame too short"},
		{"size mismatch", append(append([]byte{}, good...), 0x00), "frame size mismatch"},
		{"bad end byte", append(append([]byte{}, good[:len(good)-1]...), 0x00), "invalid frame end-byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Frame{}).UnmarshalBinary(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadFrameStream(t *testing.T) {
	var buf bytes.Buffer
	frames := []*Frame{
		{Type: FrameMethod, Channel: 1, Payload: []byte{0x00, 0x14, 0x00, 0x0A, 0x00}},
		{Type: FrameHeader, Channel: 1, Payload: make([]byte, 14)},
		{Type: FrameBody, Channel: 1, Payload: []byte("hello")},
		{Type: FrameHeartbeat, Channel: 0, Payload: []byte{}},
	}
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}

	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Channel, got.Channel)
		assert.Equal(t, want.Payload, got.Payload)
	}

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsBadEndByte(t *testing.T) {
	data, err := (&Frame{Type: FrameBody, Channel: 2, Payload: []byte("x")}).MarshalBinary()
	require.NoError(t, err)
	data[len(data)-1] = 0xFF

	_, err = ReadFrame(bytes.NewReader(data))
	assert.EqualError(t, err, "invalid frame end-byte")
}

func TestMethodKeyOf(t *testing.T) {
	frame := EncodeMethodFrameForChannel(3, ClassQueue, QueueDeclareOK, []byte{0x01})
	key, ok := frame.MethodKeyOf()
	require.True(t, ok)
	assert.Equal(t, MethodKey{Class: ClassQueue, Method: QueueDeclareOK}, key)
	assert.Equal(t, "queue.declare-ok", key.String())

	_, ok = EncodeBodyFrameForChannel(3, []byte{0, 50, 0, 11}).MethodKeyOf()
	assert.False(t, ok)
	_, ok = (&Frame{Type: FrameMethod, Payload: []byte{0, 50}}).MethodKeyOf()
	assert.False(t, ok)
}

func TestMethodKeyString(t *testing.T) {
	assert.Equal(t, "basic.get-empty", MethodKey{ClassBasic, BasicGetEmpty}.String())
	assert.Equal(t, "exchange.unbind-ok", MethodKey{ClassExchange, ExchangeUnbindOK}.String())
	assert.Equal(t, "60.110", MethodKey{ClassBasic, BasicRecover}.String())
}

package protocol

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitPacking(t *testing.T) {
	m := &QueueDeclareMethod{Queue: "q", Durable: true, AutoDelete: true}
	data, err := m.Serialize()
	require.NoError(t, err)

	// reserved, "q", flags (durable=bit1, auto-delete=bit3), empty table
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 'q', 0x0A, 0x00, 0x00, 0x00, 0x00}, data)

	decoded := &QueueDeclareMethod{}
	require.NoError(t, decoded.Deserialize(data))
	assert.False(t, decoded.Passive)
	assert.True(t, decoded.Durable)
	assert.False(t, decoded.Exclusive)
	assert.True(t, decoded.AutoDelete)
	assert.False(t, decoded.NoWait)
}

func TestLoneBitTakesAnOctet(t *testing.T) {
	m := &BasicDeliverMethod{ConsumerTag: "c", DeliveryTag: 2, Redelivered: true, Exchange: "", RoutingKey: "k"}
	data, err := m.Serialize()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 'c',
		0, 0, 0, 0, 0, 0, 0, 2,
		0x01,
		0x00,
		0x01, 'k',
	}, data)
}

func TestShortStringLimit(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}

	_, err := (&QueueDeclareMethod{Queue: string(long)}).Serialize()
	assert.EqualError(t, err, "short string too long: 256 bytes")

	_, err = (&QueueDeclareMethod{Queue: string(long[:255])}).Serialize()
	assert.NoError(t, err)

	assert.Len(t, EncodeShortString(string(long)), 256)
}

func TestFieldTableValues(t *testing.T) {
	stamp := time.Unix(1700000000, 0)
	table := Table{
		"void":    nil,
		"bool":    true,
		"int8":    int8(-3),
		"uint8":   uint8(200),
		"int16":   int16(-300),
		"uint16":  uint16(60000),
		"int32":   int32(-70000),
		"uint32":  uint32(4000000000),
		"int64":   int64(-1 << 40),
		"float32": float32(1.5),
		"float64": 2.25,
		"string":  "value",
		"bytes":   []byte{0xDE, 0xAD},
		"time":    stamp,
		"decimal": amqp.Decimal{Scale: 2, Value: -12345},
		"nested":  Table{"x-match": "all"},
		"array":   []interface{}{"a", int32(1), false},
	}

	data, err := EncodeFieldTable(table)
	require.NoError(t, err)
	decoded, err := DecodeFieldTable(data)
	require.NoError(t, err)
	assert.Equal(t, table, decoded)
}

func TestFieldTableDecimal(t *testing.T) {
	data, err := EncodeFieldTable(Table{"d": amqp.Decimal{Scale: 3, Value: 1500}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 8, 1, 'd', 'D', 3, 0, 0, 0x05, 0xDC}, data)

	decoded, err := DecodeFieldTable(data)
	require.NoError(t, err)
	assert.Equal(t, amqp.Decimal{Scale: 3, Value: 1500}, decoded["d"])

	_, err = DecodeFieldTable([]byte{0, 0, 0, 5, 1, 'd', 'D', 3, 0})
	assert.ErrorContains(t, err, "extends beyond data")
}

func TestFieldTableWidening(t *testing.T) {
	data, err := EncodeFieldTable(Table{
		"plain-int": 7,
		"as-map":    map[string]interface{}{"k": "v"},
	})
	require.NoError(t, err)

	decoded, err := DecodeFieldTable(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), decoded["plain-int"])
	assert.Equal(t, Table{"k": "v"}, decoded["as-map"])
}

func TestFieldTableErrors(t *testing.T) {
	_, err := EncodeFieldTable(Table{"bad": struct{}{}})
	assert.ErrorContains(t, err, "unsupported field table value type struct {}")

	data, err := EncodeFieldTable(Table{"s": "value"})
	require.NoError(t, err)

	_, err = DecodeFieldTable(data[:2])
	assert.ErrorContains(t, err, "length field missing")
	_, err = DecodeFieldTable(data[:len(data)-1])
	assert.ErrorContains(t, err, "extends beyond data")

	unknown := []byte{0, 0, 0, 3, 1, 'k', 'Z'}
	_, err = DecodeFieldTable(unknown)
	assert.ErrorContains(t, err, `unsupported field type 'Z'`)
}

func TestEmptyFieldTable(t *testing.T) {
	data, err := EncodeFieldTable(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)

	decoded, err := DecodeFieldTable(data)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

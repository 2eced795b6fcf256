package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHeaderAllProperties(t *testing.T) {
	allFlags := uint16(FlagContentType | FlagContentEncoding | FlagHeaders | FlagDeliveryMode |
		FlagPriority | FlagCorrelationID | FlagReplyTo | FlagExpiration | FlagMessageID |
		FlagTimestamp | FlagType | FlagUserID | FlagAppID | FlagClusterID)

	header := &ContentHeader{
		ClassID:         ClassBasic,
		BodySize:        42,
		PropertyFlags:   allFlags,
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Headers:         Table{"x-trace": "abc", "attempt": int32(2)},
		DeliveryMode:    2,
		Priority:        9,
		CorrelationID:   "corr",
		ReplyTo:         "amq.rabbitmq.reply-to",
		Expiration:      "60000",
		MessageID:       "m-1",
		Timestamp:       1700000000,
		Type:            "order.created",
		UserID:          "guest",
		AppID:           "billing",
		ClusterID:       "c1",
	}

	data, err := header.Serialize()
	require.NoError(t, err)
	decoded, err := ReadContentHeader(EncodeHeaderFrameForChannel(1, data))
	require.NoError(t, err)
	assert.Equal(t, header, decoded)

	assert.Equal(t, map[string]interface{}{
		"content_type":     "application/json",
		"content_encoding": "gzip",
		"headers":          Table{"x-trace": "abc", "attempt": int32(2)},
		"delivery_mode":    uint8(2),
		"priority":         uint8(9),
		"correlation_id":   "corr",
		"reply_to":         "amq.rabbitmq.reply-to",
		"expiration":       "60000",
		"message_id":       "m-1",
		"timestamp":        uint64(1700000000),
		"type":             "order.created",
		"user_id":          "guest",
		"app_id":           "billing",
		"cluster_id":       "c1",
	}, decoded.Properties())
}

func TestContentHeaderSparseProperties(t *testing.T) {
	// Unflagged fields are neither written nor reported
	header := &ContentHeader{
		ClassID:       ClassBasic,
		PropertyFlags: FlagReplyTo | FlagAppID,
		ReplyTo:       "replies",
		AppID:         "svc",
		ContentType:   "ignored",
		Priority:      4,
	}
	data, err := header.Serialize()
	require.NoError(t, err)
	assert.Len(t, data, 14+1+len("replies")+1+len("svc"))

	decoded, err := ReadContentHeader(EncodeHeaderFrameForChannel(1, data))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"reply_to": "replies", "app_id": "svc"}, decoded.Properties())
	assert.Empty(t, decoded.ContentType)

	assert.Empty(t, (&ContentHeader{ClassID: ClassBasic}).Properties())
}

func TestReadContentHeaderErrors(t *testing.T) {
	_, err := ReadContentHeader(EncodeBodyFrameForChannel(1, make([]byte, 20)))
	assert.EqualError(t, err, "expected header frame, got type 3")

	_, err = ReadContentHeader(EncodeHeaderFrameForChannel(1, make([]byte, 10)))
	assert.EqualError(t, err, "content header frame too short")

	header := &ContentHeader{ClassID: ClassBasic, PropertyFlags: FlagMessageID, MessageID: "abcdef"}
	data, err := header.Serialize()
	require.NoError(t, err)
	_, err = ReadContentHeader(EncodeHeaderFrameForChannel(1, data[:len(data)-2]))
	assert.ErrorContains(t, err, "message_id")
}

package protocol

import (
	"fmt"
	"reflect"
)

// Method is an AMQP method argument list.
type Method interface {
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}

// MethodKey identifies a method by class and method id.
type MethodKey struct {
	Class  uint16
	Method uint16
}

// String returns the dotted AMQP name, e.g. "queue.declare-ok".
func (k MethodKey) String() string {
	if info, ok := methodTable[k]; ok {
		return info.name
	}
	return fmt.Sprintf("%d.%d", k.Class, k.Method)
}

type methodInfo struct {
	name    string
	content bool
	new     func() Method
}

var methodTable = map[MethodKey]methodInfo{
	{ClassConnection, ConnectionClose}:   {"connection.close", false, func() Method { return &ConnectionCloseMethod{} }},
	{ClassConnection, ConnectionCloseOK}: {"connection.close-ok", false, func() Method { return &ConnectionCloseOKMethod{} }},

	{ClassChannel, ChannelOpen}:    {"channel.open", false, func() Method { return &ChannelOpenMethod{} }},
	{ClassChannel, ChannelOpenOK}:  {"channel.open-ok", false, func() Method { return &ChannelOpenOKMethod{} }},
	{ClassChannel, ChannelFlow}:    {"channel.flow", false, func() Method { return &ChannelFlowMethod{} }},
	{ClassChannel, ChannelFlowOK}:  {"channel.flow-ok", false, func() Method { return &ChannelFlowOKMethod{} }},
	{ClassChannel, ChannelClose}:   {"channel.close", false, func() Method { return &ChannelCloseMethod{} }},
	{ClassChannel, ChannelCloseOK}: {"channel.close-ok", false, func() Method { return &ChannelCloseOKMethod{} }},

	{ClassExchange, ExchangeDeclare}:   {"exchange.declare", false, func() Method { return &ExchangeDeclareMethod{} }},
	{ClassExchange, ExchangeDeclareOK}: {"exchange.declare-ok", false, func() Method { return &ExchangeDeclareOKMethod{} }},
	{ClassExchange, ExchangeDelete}:    {"exchange.delete", false, func() Method { return &ExchangeDeleteMethod{} }},
	{ClassExchange, ExchangeDeleteOK}:  {"exchange.delete-ok", false, func() Method { return &ExchangeDeleteOKMethod{} }},
	{ClassExchange, ExchangeBind}:      {"exchange.bind", false, func() Method { return &ExchangeBindMethod{} }},
	{ClassExchange, ExchangeBindOK}:    {"exchange.bind-ok", false, func() Method { return &ExchangeBindOKMethod{} }},
	{ClassExchange, ExchangeUnbind}:    {"exchange.unbind", false, func() Method { return &ExchangeUnbindMethod{} }},
	{ClassExchange, ExchangeUnbindOK}:  {"exchange.unbind-ok", false, func() Method { return &ExchangeUnbindOKMethod{} }},

	{ClassQueue, QueueDeclare}:   {"queue.declare", false, func() Method { return &QueueDeclareMethod{} }},
	{ClassQueue, QueueDeclareOK}: {"queue.declare-ok", false, func() Method { return &QueueDeclareOKMethod{} }},
	{ClassQueue, QueueBind}:      {"queue.bind", false, func() Method { return &QueueBindMethod{} }},
	{ClassQueue, QueueBindOK}:    {"queue.bind-ok", false, func() Method { return &QueueBindOKMethod{} }},
	{ClassQueue, QueuePurge}:     {"queue.purge", false, func() Method { return &QueuePurgeMethod{} }},
	{ClassQueue, QueuePurgeOK}:   {"queue.purge-ok", false, func() Method { return &QueuePurgeOKMethod{} }},
	{ClassQueue, QueueDelete}:    {"queue.delete", false, func() Method { return &QueueDeleteMethod{} }},
	{ClassQueue, QueueDeleteOK}:  {"queue.delete-ok", false, func() Method { return &QueueDeleteOKMethod{} }},
	{ClassQueue, QueueUnbind}:    {"queue.unbind", false, func() Method { return &QueueUnbindMethod{} }},
	{ClassQueue, QueueUnbindOK}:  {"queue.unbind-ok", false, func() Method { return &QueueUnbindOKMethod{} }},

	{ClassBasic, BasicQos}:       {"basic.qos", false, func() Method { return &BasicQosMethod{} }},
	{ClassBasic, BasicQosOK}:     {"basic.qos-ok", false, func() Method { return &BasicQosOKMethod{} }},
	{ClassBasic, BasicConsume}:   {"basic.consume", false, func() Method { return &BasicConsumeMethod{} }},
	{ClassBasic, BasicConsumeOK}: {"basic.consume-ok", false, func() Method { return &BasicConsumeOKMethod{} }},
	{ClassBasic, BasicCancel}:    {"basic.cancel", false, func() Method { return &BasicCancelMethod{} }},
	{ClassBasic, BasicCancelOK}:  {"basic.cancel-ok", false, func() Method { return &BasicCancelOKMethod{} }},
	{ClassBasic, BasicPublish}:   {"basic.publish", true, func() Method { return &BasicPublishMethod{} }},
	{ClassBasic, BasicReturn}:    {"basic.return", true, func() Method { return &BasicReturnMethod{} }},
	{ClassBasic, BasicDeliver}:   {"basic.deliver", true, func() Method { return &BasicDeliverMethod{} }},
	{ClassBasic, BasicGet}:       {"basic.get", false, func() Method { return &BasicGetMethod{} }},
	{ClassBasic, BasicGetOK}:     {"basic.get-ok", true, func() Method { return &BasicGetOKMethod{} }},
	{ClassBasic, BasicGetEmpty}:  {"basic.get-empty", false, func() Method { return &BasicGetEmptyMethod{} }},
	{ClassBasic, BasicAck}:       {"basic.ack", false, func() Method { return &BasicAckMethod{} }},
	{ClassBasic, BasicReject}:    {"basic.reject", false, func() Method { return &BasicRejectMethod{} }},

	{ClassTx, TxSelect}:     {"tx.select", false, func() Method { return &TxSelectMethod{} }},
	{ClassTx, TxSelectOK}:   {"tx.select-ok", false, func() Method { return &TxSelectOKMethod{} }},
	{ClassTx, TxCommit}:     {"tx.commit", false, func() Method { return &TxCommitMethod{} }},
	{ClassTx, TxCommitOK}:   {"tx.commit-ok", false, func() Method { return &TxCommitOKMethod{} }},
	{ClassTx, TxRollback}:   {"tx.rollback", false, func() Method { return &TxRollbackMethod{} }},
	{ClassTx, TxRollbackOK}: {"tx.rollback-ok", false, func() Method { return &TxRollbackOKMethod{} }},
}

var keyByType = func() map[reflect.Type]MethodKey {
	m := make(map[reflect.Type]MethodKey, len(methodTable))
	for key, info := range methodTable {
		m[reflect.TypeOf(info.new())] = key
	}
	return m
}()

// NewMethod returns a zero value of the method identified by key.
func NewMethod(key MethodKey) (Method, bool) {
	info, ok := methodTable[key]
	if !ok {
		return nil, false
	}
	return info.new(), true
}

// KeyOf returns the class and method id of m.
func KeyOf(m Method) (MethodKey, bool) {
	key, ok := keyByType[reflect.TypeOf(m)]
	return key, ok
}

// MethodName returns the dotted AMQP name of m.
func MethodName(m Method) string {
	key, ok := KeyOf(m)
	if !ok {
		return fmt.Sprintf("%T", m)
	}
	return key.String()
}

// HasContent reports whether the method is followed by a content header
// and body frames.
func HasContent(key MethodKey) bool {
	return methodTable[key].content
}

// Codec converts between methods and frames.
type Codec interface {
	EncodeMethod(channel uint16, m Method) (*Frame, error)
	DecodeMethod(frame *Frame) (MethodKey, Method, error)
	// EncodeContent returns the header frame followed by body frames no
	// larger than frameMax. A frameMax of zero means no limit.
	EncodeContent(channel uint16, header *ContentHeader, body []byte, frameMax int) ([]*Frame, error)
}

// DefaultCodec is the AMQP 0-9-1 binary codec.
type DefaultCodec struct{}

// EncodeMethod serializes m into a method frame on channel.
func (DefaultCodec) EncodeMethod(channel uint16, m Method) (*Frame, error) {
	key, ok := KeyOf(m)
	if !ok {
		return nil, fmt.Errorf("unknown method type %T", m)
	}
	data, err := m.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", key, err)
	}
	return EncodeMethodFrameForChannel(channel, key.Class, key.Method, data), nil
}

// DecodeMethod parses a method frame.
func (DefaultCodec) DecodeMethod(frame *Frame) (MethodKey, Method, error) {
	key, ok := frame.MethodKeyOf()
	if !ok {
		return MethodKey{}, nil, fmt.Errorf("not a method frame (type %d, %d bytes)", frame.Type, len(frame.Payload))
	}
	m, ok := NewMethod(key)
	if !ok {
		return key, nil, fmt.Errorf("unsupported method %s", key)
	}
	if err := m.Deserialize(frame.Payload[4:]); err != nil {
		return key, nil, fmt.Errorf("failed to deserialize %s: %w", key, err)
	}
	return key, m, nil
}

// EncodeContent builds the content frames that follow a content-bearing method.
func (DefaultCodec) EncodeContent(channel uint16, header *ContentHeader, body []byte, frameMax int) ([]*Frame, error) {
	h := *header
	h.BodySize = uint64(len(body))
	headerData, err := h.Serialize()
	if err != nil {
		return nil, err
	}

	frames := []*Frame{EncodeHeaderFrameForChannel(channel, headerData)}

	chunk := len(body)
	if frameMax > 0 {
		chunk = frameMax - frameOverhead
		if chunk <= 0 {
			return nil, fmt.Errorf("frame max %d leaves no room for body", frameMax)
		}
	}
	for len(body) > 0 {
		n := chunk
		if n > len(body) {
			n = len(body)
		}
		frames = append(frames, EncodeBodyFrameForChannel(channel, body[:n]))
		body = body[n:]
	}
	return frames, nil
}

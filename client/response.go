package client

import (
	"github.com/maxpert/amqp-go-client/protocol"
)

// Properties are the named fields of a reply method.
type Properties map[string]interface{}

// Response is the normalized result of a synchronous operation.
type Response struct {
	// Method is the reply method name, e.g. "queue.declare-ok".
	Method string
	// Properties holds exactly the fields the reply method defines.
	Properties Properties
	// Header and Body are set for message retrieval.
	Header  map[string]interface{}
	Content *protocol.ContentHeader
	Body    []byte
	// Reply is the decoded reply method.
	Reply protocol.Method
}

// Empty reports whether a basic.get found no message.
func (r *Response) Empty() bool {
	return r.Method == "basic.get-empty"
}

func noProperties(protocol.Method) Properties {
	return Properties{}
}

// replySchemas maps each reply method to the extractor of its fields.
var replySchemas = map[protocol.MethodKey]func(protocol.Method) Properties{
	{Class: protocol.ClassChannel, Method: protocol.ChannelOpenOK}: noProperties,

	{Class: protocol.ClassExchange, Method: protocol.ExchangeDeclareOK}: noProperties,
	{Class: protocol.ClassExchange, Method: protocol.ExchangeDeleteOK}:  noProperties,
	{Class: protocol.ClassExchange, Method: protocol.ExchangeBindOK}:    noProperties,
	{Class: protocol.ClassExchange, Method: protocol.ExchangeUnbindOK}:  noProperties,

	{Class: protocol.ClassQueue, Method: protocol.QueueDeclareOK}: func(m protocol.Method) Properties {
		ok := m.(*protocol.QueueDeclareOKMethod)
		return Properties{
			"queue":          ok.Queue,
			"message_count":  int(ok.MessageCount),
			"consumer_count": int(ok.ConsumerCount),
		}
	},
	{Class: protocol.ClassQueue, Method: protocol.QueueBindOK}:   noProperties,
	{Class: protocol.ClassQueue, Method: protocol.QueueUnbindOK}: noProperties,
	{Class: protocol.ClassQueue, Method: protocol.QueuePurgeOK}: func(m protocol.Method) Properties {
		return Properties{"message_count": int(m.(*protocol.QueuePurgeOKMethod).MessageCount)}
	},
	{Class: protocol.ClassQueue, Method: protocol.QueueDeleteOK}: func(m protocol.Method) Properties {
		return Properties{"message_count": int(m.(*protocol.QueueDeleteOKMethod).MessageCount)}
	},

	{Class: protocol.ClassBasic, Method: protocol.BasicQosOK}: noProperties,
	{Class: protocol.ClassBasic, Method: protocol.BasicConsumeOK}: func(m protocol.Method) Properties {
		return Properties{"consumer_tag": m.(*protocol.BasicConsumeOKMethod).ConsumerTag}
	},
	{Class: protocol.ClassBasic, Method: protocol.BasicCancelOK}: func(m protocol.Method) Properties {
		return Properties{"consumer_tag": m.(*protocol.BasicCancelOKMethod).ConsumerTag}
	},
	{Class: protocol.ClassBasic, Method: protocol.BasicGetOK}: func(m protocol.Method) Properties {
		ok := m.(*protocol.BasicGetOKMethod)
		return Properties{
			"delivery_tag":  ok.DeliveryTag,
			"redelivered":   ok.Redelivered,
			"exchange":      ok.Exchange,
			"routing_key":   ok.RoutingKey,
			"message_count": int(ok.MessageCount),
		}
	},
	{Class: protocol.ClassBasic, Method: protocol.BasicGetEmpty}: func(protocol.Method) Properties {
		return Properties{"message_count": 0}
	},

	{Class: protocol.ClassTx, Method: protocol.TxSelectOK}:   noProperties,
	{Class: protocol.ClassTx, Method: protocol.TxCommitOK}:   noProperties,
	{Class: protocol.ClassTx, Method: protocol.TxRollbackOK}: noProperties,
}

// expectedReplies lists the replies that may answer each request.
var expectedReplies = map[protocol.MethodKey][]protocol.MethodKey{
	{Class: protocol.ClassChannel, Method: protocol.ChannelOpen}: {{Class: protocol.ClassChannel, Method: protocol.ChannelOpenOK}},

	{Class: protocol.ClassExchange, Method: protocol.ExchangeDeclare}: {{Class: protocol.ClassExchange, Method: protocol.ExchangeDeclareOK}},
	{Class: protocol.ClassExchange, Method: protocol.ExchangeDelete}:  {{Class: protocol.ClassExchange, Method: protocol.ExchangeDeleteOK}},
	{Class: protocol.ClassExchange, Method: protocol.ExchangeBind}:    {{Class: protocol.ClassExchange, Method: protocol.ExchangeBindOK}},
	{Class: protocol.ClassExchange, Method: protocol.ExchangeUnbind}:  {{Class: protocol.ClassExchange, Method: protocol.ExchangeUnbindOK}},

	{Class: protocol.ClassQueue, Method: protocol.QueueDeclare}: {{Class: protocol.ClassQueue, Method: protocol.QueueDeclareOK}},
	{Class: protocol.ClassQueue, Method: protocol.QueueBind}:    {{Class: protocol.ClassQueue, Method: protocol.QueueBindOK}},
	{Class: protocol.ClassQueue, Method: protocol.QueueUnbind}:  {{Class: protocol.ClassQueue, Method: protocol.QueueUnbindOK}},
	{Class: protocol.ClassQueue, Method: protocol.QueuePurge}:   {{Class: protocol.ClassQueue, Method: protocol.QueuePurgeOK}},
	{Class: protocol.ClassQueue, Method: protocol.QueueDelete}:  {{Class: protocol.ClassQueue, Method: protocol.QueueDeleteOK}},

	{Class: protocol.ClassBasic, Method: protocol.BasicQos}:     {{Class: protocol.ClassBasic, Method: protocol.BasicQosOK}},
	{Class: protocol.ClassBasic, Method: protocol.BasicConsume}: {{Class: protocol.ClassBasic, Method: protocol.BasicConsumeOK}},
	{Class: protocol.ClassBasic, Method: protocol.BasicCancel}:  {{Class: protocol.ClassBasic, Method: protocol.BasicCancelOK}},
	{Class: protocol.ClassBasic, Method: protocol.BasicGet}: {
		{Class: protocol.ClassBasic, Method: protocol.BasicGetOK},
		{Class: protocol.ClassBasic, Method: protocol.BasicGetEmpty},
	},

	{Class: protocol.ClassTx, Method: protocol.TxSelect}:   {{Class: protocol.ClassTx, Method: protocol.TxSelectOK}},
	{Class: protocol.ClassTx, Method: protocol.TxCommit}:   {{Class: protocol.ClassTx, Method: protocol.TxCommitOK}},
	{Class: protocol.ClassTx, Method: protocol.TxRollback}: {{Class: protocol.ClassTx, Method: protocol.TxRollbackOK}},
}

// normalize builds the Response for a decoded reply. Content is nil unless
// the reply carries a message.
func normalize(key protocol.MethodKey, reply protocol.Method, content *contentAssembler) *Response {
	extract, ok := replySchemas[key]
	if !ok {
		extract = noProperties
	}
	resp := &Response{
		Method:     key.String(),
		Properties: extract(reply),
		Reply:      reply,
	}
	if content != nil {
		resp.Content = content.header
		resp.Header = content.header.Properties()
		resp.Body = content.body
	}
	return resp
}

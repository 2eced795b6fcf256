package client

import (
	"github.com/maxpert/amqp-go-client/protocol"
)

// Delivery is a message pushed by the broker to a consumer.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string

	// Header maps AMQP property names to values
	Header  map[string]interface{}
	Content *protocol.ContentHeader
	Body    []byte

	channel *Channel
}

// Ack acknowledges the delivery on the channel it arrived on.
func (d Delivery) Ack(multiple bool) error {
	return d.channel.BasicAck(d.DeliveryTag, multiple)
}

// Reject rejects the delivery.
func (d Delivery) Reject(requeue bool) error {
	return d.channel.BasicReject(d.DeliveryTag, requeue)
}

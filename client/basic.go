package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

// QosOptions are the arguments of basic.qos
type QosOptions struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

// ConsumeOptions are the arguments of basic.consume. An empty ConsumerTag
// is replaced by a generated one.
type ConsumeOptions struct {
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	Arguments   amqp.Table
}

// GetOptions are the arguments of basic.get
type GetOptions struct {
	NoAck bool
}

// PublishOptions carry the publish flags and message properties.
type PublishOptions struct {
	Mandatory bool
	// Persistent selects delivery mode 2
	Persistent bool
	// Priority is 0 to MaxPriority
	Priority uint8

	ContentType     string
	ContentEncoding string
	Headers         amqp.Table
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}

// BasicQos sets the prefetch window of the channel, or of the whole
// connection when Global is set.
func (c *Channel) BasicQos(ctx context.Context, opts QosOptions) (*Response, error) {
	return c.call(ctx, &protocol.BasicQosMethod{
		PrefetchSize:  opts.PrefetchSize,
		PrefetchCount: opts.PrefetchCount,
		Global:        opts.Global,
	})
}

// BasicConsume starts a consumer on queue. The "consumer_tag" property of
// the response holds the tag to pass to BasicCancel. Messages arrive on
// Deliveries.
func (c *Channel) BasicConsume(ctx context.Context, queue string, opts ConsumeOptions) (*Response, error) {
	const op = "basic.consume"
	if err := checkName(op, "queue", queue); err != nil {
		return nil, err
	}
	tag := opts.ConsumerTag
	if tag == "" {
		tag = "ctag-" + uuid.NewString()
	}
	if err := checkName(op, "consumer tag", tag); err != nil {
		return nil, err
	}
	args, err := arguments(op, opts.Arguments)
	if err != nil {
		return nil, err
	}

	return c.call(ctx, &protocol.BasicConsumeMethod{
		Queue:       queue,
		ConsumerTag: tag,
		NoLocal:     opts.NoLocal,
		NoAck:       opts.NoAck,
		Exclusive:   opts.Exclusive,
		Arguments:   args,
	})
}

// BasicCancel stops the consumer identified by tag.
func (c *Channel) BasicCancel(ctx context.Context, tag string) (*Response, error) {
	if err := checkName("basic.cancel", "consumer tag", tag); err != nil {
		return nil, err
	}
	return c.call(ctx, &protocol.BasicCancelMethod{ConsumerTag: tag})
}

// BasicGet fetches one message from queue. When the queue is empty the
// response reports Empty() and a message_count of 0.
func (c *Channel) BasicGet(ctx context.Context, queue string, opts GetOptions) (*Response, error) {
	if err := checkName("basic.get", "queue", queue); err != nil {
		return nil, err
	}
	return c.call(ctx, &protocol.BasicGetMethod{Queue: queue, NoAck: opts.NoAck})
}

// BasicPublish sends body to exchange. There is no broker reply: true means
// the method, header and body frames were handed to the transport.
func (c *Channel) BasicPublish(ctx context.Context, body []byte, exchange, routingKey string, opts PublishOptions) (bool, error) {
	const op = "basic.publish"
	if err := checkName(op, "exchange", exchange); err != nil {
		return false, err
	}
	if err := checkName(op, "routing key", routingKey); err != nil {
		return false, err
	}
	header, err := publishHeader(opts)
	if err != nil {
		return false, err
	}

	method, err := c.conn.codec.EncodeMethod(c.id, &protocol.BasicPublishMethod{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Mandatory:  opts.Mandatory,
	})
	if err != nil {
		return false, err
	}
	content, err := c.conn.codec.EncodeContent(c.id, header, body, c.conn.cfg.Frame.Max)
	if err != nil {
		return false, err
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	err = c.usableLocked(op)
	c.mu.Unlock()
	if err != nil {
		return false, err
	}

	frames := append([]*protocol.Frame{method}, content...)
	if err := c.conn.transport.Send(frames...); err != nil {
		c.conn.metrics.RecordRPCError(op, "transport")
		return false, err
	}

	c.conn.metrics.RecordMessagePublished(len(body))
	c.log.Debug("Message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Int("body_size", len(body)),
		zap.Int("frames", len(frames)))
	return true, nil
}

// BasicAck acknowledges one delivery, or every delivery up to tag when
// multiple is set.
func (c *Channel) BasicAck(deliveryTag uint64, multiple bool) error {
	return c.send(&protocol.BasicAckMethod{DeliveryTag: deliveryTag, Multiple: multiple})
}

// BasicReject rejects one delivery, optionally requeueing it.
func (c *Channel) BasicReject(deliveryTag uint64, requeue bool) error {
	return c.send(&protocol.BasicRejectMethod{DeliveryTag: deliveryTag, Requeue: requeue})
}

func publishHeader(opts PublishOptions) (*protocol.ContentHeader, error) {
	const op = "basic.publish"
	if opts.Priority > MaxPriority {
		return nil, &amqperrors.ArgumentError{
			Op:     op,
			Field:  "priority",
			Reason: fmt.Sprintf("%d is above %d", opts.Priority, MaxPriority),
		}
	}
	headers, err := arguments(op, opts.Headers)
	if err != nil {
		return nil, err
	}

	h := &protocol.ContentHeader{
		ClassID:         protocol.ClassBasic,
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		Headers:         headers,
		DeliveryMode:    amqp.Transient,
		Priority:        opts.Priority,
		CorrelationID:   opts.CorrelationID,
		ReplyTo:         opts.ReplyTo,
		Expiration:      opts.Expiration,
		MessageID:       opts.MessageID,
		Type:            opts.Type,
		UserID:          opts.UserID,
		AppID:           opts.AppID,
	}
	if opts.Persistent {
		h.DeliveryMode = amqp.Persistent
	}
	h.PropertyFlags = protocol.FlagDeliveryMode | protocol.FlagPriority
	if !opts.Timestamp.IsZero() {
		h.Timestamp = uint64(opts.Timestamp.Unix())
		h.PropertyFlags |= protocol.FlagTimestamp
	}
	if headers != nil {
		h.PropertyFlags |= protocol.FlagHeaders
	}
	for flag, value := range map[uint16]string{
		protocol.FlagContentType:     h.ContentType,
		protocol.FlagContentEncoding: h.ContentEncoding,
		protocol.FlagCorrelationID:   h.CorrelationID,
		protocol.FlagReplyTo:         h.ReplyTo,
		protocol.FlagExpiration:      h.Expiration,
		protocol.FlagMessageID:       h.MessageID,
		protocol.FlagType:            h.Type,
		protocol.FlagUserID:          h.UserID,
		protocol.FlagAppID:           h.AppID,
	} {
		if value != "" {
			h.PropertyFlags |= flag
		}
	}
	return h, nil
}

package client

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/maxpert/amqp-go-client/protocol"
)

// QueueDeclareOptions are the flags of queue.declare
type QueueDeclareOptions struct {
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeleteOptions are the flags of queue.delete
type QueueDeleteOptions struct {
	IfUnused bool
	IfEmpty  bool
}

// QueueDeclare declares a queue. An empty name asks the broker to generate
// one, returned in the "queue" property along with "message_count" and
// "consumer_count".
func (c *Channel) QueueDeclare(ctx context.Context, name string, opts QueueDeclareOptions) (*Response, error) {
	const op = "queue.declare"
	if err := checkName(op, "queue", name); err != nil {
		return nil, err
	}
	args, err := arguments(op, opts.Arguments)
	if err != nil {
		return nil, err
	}

	return c.call(ctx, &protocol.QueueDeclareMethod{
		Queue:      name,
		Passive:    opts.Passive,
		Durable:    opts.Durable,
		Exclusive:  opts.Exclusive,
		AutoDelete: opts.AutoDelete,
		Arguments:  args,
	})
}

// QueueDelete deletes a queue and reports how many messages it held.
// Deleting a missing queue succeeds with a message_count of 0.
func (c *Channel) QueueDelete(ctx context.Context, name string, opts QueueDeleteOptions) (*Response, error) {
	if err := checkName("queue.delete", "queue", name); err != nil {
		return nil, err
	}
	return c.call(ctx, &protocol.QueueDeleteMethod{
		Queue:    name,
		IfUnused: opts.IfUnused,
		IfEmpty:  opts.IfEmpty,
	})
}

// QueueBind binds queue to exchange.
func (c *Channel) QueueBind(ctx context.Context, queue, exchange string, opts BindOptions) (*Response, error) {
	m := &protocol.QueueBindMethod{}
	if err := fillQueueBinding("queue.bind", &m.Queue, &m.Exchange, &m.RoutingKey, &m.Arguments, queue, exchange, opts); err != nil {
		return nil, err
	}
	return c.call(ctx, m)
}

// QueueUnbind removes a binding made by QueueBind.
func (c *Channel) QueueUnbind(ctx context.Context, queue, exchange string, opts BindOptions) (*Response, error) {
	m := &protocol.QueueUnbindMethod{}
	if err := fillQueueBinding("queue.unbind", &m.Queue, &m.Exchange, &m.RoutingKey, &m.Arguments, queue, exchange, opts); err != nil {
		return nil, err
	}
	return c.call(ctx, m)
}

// QueuePurge removes all ready messages from a queue.
func (c *Channel) QueuePurge(ctx context.Context, name string) (*Response, error) {
	if err := checkName("queue.purge", "queue", name); err != nil {
		return nil, err
	}
	return c.call(ctx, &protocol.QueuePurgeMethod{Queue: name})
}

func fillQueueBinding(op string, q, ex, key *string, table *protocol.Table, queue, exchange string, opts BindOptions) error {
	for field, name := range map[string]string{"queue": queue, "exchange": exchange, "routing key": opts.RoutingKey} {
		if err := checkName(op, field, name); err != nil {
			return err
		}
	}
	args, err := arguments(op, opts.Arguments)
	if err != nil {
		return err
	}
	*q, *ex, *key, *table = queue, exchange, opts.RoutingKey, args
	return nil
}

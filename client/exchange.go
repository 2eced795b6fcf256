package client

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

// ExchangeDeclareOptions are the flags of exchange.declare
type ExchangeDeclareOptions struct {
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  amqp.Table
}

// ExchangeDeleteOptions are the flags of exchange.delete
type ExchangeDeleteOptions struct {
	IfUnused bool
}

// BindOptions are shared by the bind and unbind operations
type BindOptions struct {
	RoutingKey string
	Arguments  amqp.Table
}

// ExchangeDeclare declares an exchange of kind direct, fanout, topic or
// headers. The response has no properties.
func (c *Channel) ExchangeDeclare(ctx context.Context, name, kind string, opts ExchangeDeclareOptions) (*Response, error) {
	const op = "exchange.declare"
	if !validExchangeKind(kind) {
		return nil, &amqperrors.ArgumentError{
			Op:     op,
			Field:  "type",
			Reason: fmt.Sprintf("%q is not one of direct, fanout, topic, headers", kind),
		}
	}
	if err := checkName(op, "exchange", name); err != nil {
		return nil, err
	}
	args, err := arguments(op, opts.Arguments)
	if err != nil {
		return nil, err
	}

	return c.call(ctx, &protocol.ExchangeDeclareMethod{
		Exchange:   name,
		Type:       kind,
		Passive:    opts.Passive,
		Durable:    opts.Durable,
		AutoDelete: opts.AutoDelete,
		Internal:   opts.Internal,
		Arguments:  args,
	})
}

// ExchangeDelete deletes an exchange. Deleting a missing exchange succeeds.
func (c *Channel) ExchangeDelete(ctx context.Context, name string, opts ExchangeDeleteOptions) (*Response, error) {
	if err := checkName("exchange.delete", "exchange", name); err != nil {
		return nil, err
	}
	return c.call(ctx, &protocol.ExchangeDeleteMethod{
		Exchange: name,
		IfUnused: opts.IfUnused,
	})
}

// ExchangeBind routes messages published to source into destination.
func (c *Channel) ExchangeBind(ctx context.Context, destination, source string, opts BindOptions) (*Response, error) {
	m := &protocol.ExchangeBindMethod{}
	if err := fillExchangeBinding("exchange.bind", &m.Destination, &m.Source, &m.RoutingKey, &m.Arguments, destination, source, opts); err != nil {
		return nil, err
	}
	return c.call(ctx, m)
}

// ExchangeUnbind removes a binding made by ExchangeBind.
func (c *Channel) ExchangeUnbind(ctx context.Context, destination, source string, opts BindOptions) (*Response, error) {
	m := &protocol.ExchangeUnbindMethod{}
	if err := fillExchangeBinding("exchange.unbind", &m.Destination, &m.Source, &m.RoutingKey, &m.Arguments, destination, source, opts); err != nil {
		return nil, err
	}
	return c.call(ctx, m)
}

func fillExchangeBinding(op string, dst, src, key *string, table *protocol.Table, destination, source string, opts BindOptions) error {
	for field, name := range map[string]string{"destination": destination, "source": source, "routing key": opts.RoutingKey} {
		if err := checkName(op, field, name); err != nil {
			return err
		}
	}
	args, err := arguments(op, opts.Arguments)
	if err != nil {
		return err
	}
	*dst, *src, *key, *table = destination, source, opts.RoutingKey, args
	return nil
}

package client

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

// Exchange types
const (
	ExchangeDirect  = amqp.ExchangeDirect
	ExchangeFanout  = amqp.ExchangeFanout
	ExchangeTopic   = amqp.ExchangeTopic
	ExchangeHeaders = amqp.ExchangeHeaders
)

// MaxPriority is the highest message priority accepted by BasicPublish.
const MaxPriority = 9

func validExchangeKind(kind string) bool {
	switch kind {
	case ExchangeDirect, ExchangeFanout, ExchangeTopic, ExchangeHeaders:
		return true
	}
	return false
}

// arguments validates an optional argument table and converts it to the
// wire representation.
func arguments(op string, args amqp.Table) (protocol.Table, error) {
	if args == nil {
		return nil, nil
	}
	if err := args.Validate(); err != nil {
		return nil, &amqperrors.ArgumentError{Op: op, Field: "arguments", Reason: err.Error()}
	}
	return toTable(args), nil
}

func toTable(t amqp.Table) protocol.Table {
	out := make(protocol.Table, len(t))
	for k, v := range t {
		out[k] = toFieldValue(v)
	}
	return out
}

func toFieldValue(v interface{}) interface{} {
	switch val := v.(type) {
	case amqp.Table:
		return toTable(val)
	case map[string]interface{}:
		return toTable(amqp.Table(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toFieldValue(item)
		}
		return out
	default:
		return v
	}
}

func checkName(op, field, name string) error {
	if len(name) > 255 {
		return &amqperrors.ArgumentError{Op: op, Field: field, Reason: fmt.Sprintf("longer than 255 bytes (%d)", len(name))}
	}
	return nil
}

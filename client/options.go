package client

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/maxpert/amqp-go-client/config"
	"github.com/maxpert/amqp-go-client/protocol"
)

// MetricsCollector receives channel layer events. *metrics.Collector
// satisfies it.
type MetricsCollector interface {
	RecordChannelAllocated()
	RecordChannelOpened()
	RecordChannelReleased(wasOpen bool)
	RecordAllocationFailure(reason string)
	RecordRPC(method string, duration time.Duration)
	RecordRPCError(method, kind string)
	RecordMessagePublished(sizeBytes int)
	RecordMessageDelivered(sizeBytes int)
	RecordOrphanFrame()
}

// NoOpMetricsCollector is a metrics collector that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordChannelAllocated()         {}
func (n *NoOpMetricsCollector) RecordChannelOpened()            {}
func (n *NoOpMetricsCollector) RecordChannelReleased(bool)      {}
func (n *NoOpMetricsCollector) RecordAllocationFailure(string)  {}
func (n *NoOpMetricsCollector) RecordRPC(string, time.Duration) {}
func (n *NoOpMetricsCollector) RecordRPCError(string, string)   {}
func (n *NoOpMetricsCollector) RecordMessagePublished(int)      {}
func (n *NoOpMetricsCollector) RecordMessageDelivered(int)      {}
func (n *NoOpMetricsCollector) RecordOrphanFrame()              {}

// Option configures a Connection
type Option func(*Connection)

// WithConfig sets the client configuration. It must already be validated.
func WithConfig(cfg *config.Config) Option {
	return func(c *Connection) {
		c.cfg = cfg
	}
}

// WithLogger sets the zap logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) {
		c.log = logger
	}
}

// WithMetrics sets the metrics collector. Nil disables metrics.
func WithMetrics(m MetricsCollector) Option {
	return func(c *Connection) {
		if m == nil {
			m = &NoOpMetricsCollector{}
		}
		c.metrics = m
	}
}

// WithClock replaces the clock used for call timeouts
func WithClock(clk clock.Clock) Option {
	return func(c *Connection) {
		c.clock = clk
	}
}

// WithCodec replaces the method codec
func WithCodec(codec protocol.Codec) Option {
	return func(c *Connection) {
		c.codec = codec
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the channel layer and the
// in-process broker.
type Collector struct {
	// Channel metrics
	ChannelsOpen       prometheus.Gauge
	ChannelsAllocated  prometheus.Counter
	ChannelsReleased   prometheus.Counter
	AllocationFailures *prometheus.CounterVec

	// RPC metrics
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
	RPCErrors   *prometheus.CounterVec

	// Message metrics
	MessagesPublished      prometheus.Counter
	MessagesPublishedBytes prometheus.Counter
	MessagesDelivered      prometheus.Counter
	MessagesDeliveredBytes prometheus.Counter
	OrphanFrames           prometheus.Counter

	// Broker metrics
	QueuesTotal        prometheus.Gauge
	ExchangesTotal     prometheus.Gauge
	MessagesRouted     prometheus.Counter
	MessagesUnroutable prometheus.Counter
}

// NewCollector registers all metrics on reg. A nil reg uses the default
// prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "amqp_client"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		ChannelsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_open",
			Help:      "Current number of open channels",
		}),
		ChannelsAllocated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_allocated_total",
			Help:      "Total number of channel ids reserved",
		}),
		ChannelsReleased: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_released_total",
			Help:      "Total number of channels released",
		}),
		AllocationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_allocation_failures_total",
			Help:      "Channel id reservations that failed, by reason",
		}, []string{"reason"}),

		RPCCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Synchronous calls issued, by request method",
		}, []string{"method"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Time from sending a request to receiving its reply",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"method"}),
		RPCErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Failed synchronous calls, by request method and error kind",
		}, []string{"method", "kind"}),

		MessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published",
		}),
		MessagesPublishedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_bytes_total",
			Help:      "Total bytes of message bodies published",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages received by consumers or basic.get",
		}),
		MessagesDeliveredBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_bytes_total",
			Help:      "Total bytes of message bodies received",
		}),
		OrphanFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_frames_total",
			Help:      "Frames received for channel ids with no owner or no pending call",
		}),

		QueuesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_queues",
			Help:      "Current number of queues in the in-process broker",
		}),
		ExchangesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_exchanges",
			Help:      "Current number of exchanges in the in-process broker",
		}),
		MessagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_routed_total",
			Help:      "Messages routed to at least one queue",
		}),
		MessagesUnroutable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_unroutable_total",
			Help:      "Messages that matched no binding",
		}),
	}
}

// Helper methods for recording metrics

// RecordChannelAllocated records a reserved channel id
func (c *Collector) RecordChannelAllocated() {
	c.ChannelsAllocated.Inc()
}

// RecordChannelOpened records a channel that completed channel.open
func (c *Collector) RecordChannelOpened() {
	c.ChannelsOpen.Inc()
}

// RecordChannelReleased records a released channel
func (c *Collector) RecordChannelReleased(wasOpen bool) {
	c.ChannelsReleased.Inc()
	if wasOpen {
		c.ChannelsOpen.Dec()
	}
}

// RecordAllocationFailure records a failed reservation
func (c *Collector) RecordAllocationFailure(reason string) {
	c.AllocationFailures.WithLabelValues(reason).Inc()
}

// RecordRPC records a completed call and its latency
func (c *Collector) RecordRPC(method string, duration time.Duration) {
	c.RPCCalls.WithLabelValues(method).Inc()
	c.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRPCError records a failed call
func (c *Collector) RecordRPCError(method, kind string) {
	c.RPCCalls.WithLabelValues(method).Inc()
	c.RPCErrors.WithLabelValues(method, kind).Inc()
}

// RecordMessagePublished records a message publish
func (c *Collector) RecordMessagePublished(sizeBytes int) {
	c.MessagesPublished.Inc()
	c.MessagesPublishedBytes.Add(float64(sizeBytes))
}

// RecordMessageDelivered records a message handed to the application
func (c *Collector) RecordMessageDelivered(sizeBytes int) {
	c.MessagesDelivered.Inc()
	c.MessagesDeliveredBytes.Add(float64(sizeBytes))
}

// RecordOrphanFrame records a frame nobody was waiting for
func (c *Collector) RecordOrphanFrame() {
	c.OrphanFrames.Inc()
}

// UpdateBrokerTotals sets the broker's current queue and exchange counts
func (c *Collector) UpdateBrokerTotals(queues, exchanges int) {
	c.QueuesTotal.Set(float64(queues))
	c.ExchangesTotal.Set(float64(exchanges))
}

// RecordRouted records the outcome of routing one message
func (c *Collector) RecordRouted(matched bool) {
	if matched {
		c.MessagesRouted.Inc()
	} else {
		c.MessagesUnroutable.Inc()
	}
}

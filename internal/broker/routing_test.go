package broker

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/amqp-go-client/protocol"
)

func TestTopicMatching(t *testing.T) {
	tests := []struct {
		pattern    string
		routingKey string
		expected   bool
	}{
		{"stock.usd.nyse", "stock.usd.nyse", true},
		{"stock.*.nyse", "stock.usd.nyse", true},
		{"stock.*.nyse", "stock.eur.nyse", true},
		{"stock.*.nyse", "stock.usd.nasdaq", false},
		{"stock.#", "stock.usd.nyse", true},
		{"stock.#", "stock", true},
		{"#", "anything.at.all", true},
		{"#", "", true},
		{"*", "one", true},
		{"*", "one.two", false},
		{"*.orange.*", "quick.orange.rabbit", true},
		{"*.*.rabbit", "lazy.orange.rabbit", true},
		{"lazy.#", "lazy.orange.male.rabbit", true},
		{"lazy.#", "quick.orange.male.rabbit", false},
		{"#.rabbit", "rabbit", true},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.z", "a.b.c", false},
		{"stock.usd", "stock.usd.nyse", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.routingKey, func(t *testing.T) {
			assert.Equal(t, tt.expected, topicMatches(tt.pattern, tt.routingKey))
		})
	}
}

func TestHeadersMatching(t *testing.T) {
	msg := protocol.Table{"format": "pdf", "type": "report", "pages": int32(12)}

	tests := []struct {
		name     string
		binding  protocol.Table
		expected bool
	}{
		{"all matching", protocol.Table{"x-match": "all", "format": "pdf", "type": "report"}, true},
		{"all with one mismatch", protocol.Table{"x-match": "all", "format": "pdf", "type": "log"}, false},
		{"default is all", protocol.Table{"format": "pdf", "type": "log"}, false},
		{"any with one match", protocol.Table{"x-match": "any", "format": "zip", "type": "report"}, true},
		{"any with no match", protocol.Table{"x-match": "any", "format": "zip"}, false},
		{"integer widths", protocol.Table{"pages": int64(12)}, true},
		{"void value checks presence", protocol.Table{"format": nil}, true},
		{"missing header", protocol.Table{"author": "bob"}, false},
		{"no keys", protocol.Table{"x-match": "all"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, headersMatch(tt.binding, msg))
		})
	}
}

func routedQueues(t *testing.T, b *Broker, exchange, key string, headers protocol.Table) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[exchange]
	require.True(t, ok)
	queues := b.routeLocked(ex, key, headers, map[string]bool{})
	sort.Strings(queues)
	return queues
}

func TestRouting(t *testing.T) {
	b := New()
	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := b.DeclareQueue(ref1, q, false, false, false, false, nil)
		require.NoError(t, err)
	}

	require.NoError(t, b.BindQueue(ref1, "q1", "amq.direct", "info", nil))
	require.NoError(t, b.BindQueue(ref1, "q2", "amq.direct", "info", nil))
	require.NoError(t, b.BindQueue(ref1, "q3", "amq.direct", "error", nil))
	assert.Equal(t, []string{"q1", "q2"}, routedQueues(t, b, "amq.direct", "info", nil))
	assert.Equal(t, []string{"q3"}, routedQueues(t, b, "amq.direct", "error", nil))

	require.NoError(t, b.BindQueue(ref1, "q1", "amq.fanout", "", nil))
	require.NoError(t, b.BindQueue(ref1, "q3", "amq.fanout", "", nil))
	assert.Equal(t, []string{"q1", "q3"}, routedQueues(t, b, "amq.fanout", "ignored", nil))

	require.NoError(t, b.BindQueue(ref1, "q2", "amq.topic", "logs.#", nil))
	assert.Equal(t, []string{"q2"}, routedQueues(t, b, "amq.topic", "logs.app.error", nil))
	assert.Empty(t, routedQueues(t, b, "amq.topic", "metrics.cpu", nil))

	require.NoError(t, b.BindQueue(ref1, "q3", "amq.headers", "", protocol.Table{"x-match": "any", "kind": "audit"}))
	assert.Equal(t, []string{"q3"}, routedQueues(t, b, "amq.headers", "", protocol.Table{"kind": "audit"}))

	assert.Equal(t, []string{"q1"}, routedQueues(t, b, "", "q1", nil))
	assert.Empty(t, routedQueues(t, b, "", "missing", nil))
}

func TestExchangeToExchangeRouting(t *testing.T) {
	b := New()
	require.NoError(t, b.DeclareExchange("upstream", KindFanout, false, false, false, false, nil))
	require.NoError(t, b.DeclareExchange("downstream", KindTopic, false, false, false, false, nil))
	_, err := b.DeclareQueue(ref1, "sink", false, false, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, b.BindExchange("downstream", "upstream", "", nil))
	require.NoError(t, b.BindQueue(ref1, "sink", "downstream", "orders.*", nil))
	require.NoError(t, b.BindQueue(ref1, "sink", "upstream", "", nil))

	// The queue is reachable twice but receives one copy
	assert.Equal(t, []string{"sink"}, routedQueues(t, b, "upstream", "orders.new", nil))

	// Cycles terminate
	require.NoError(t, b.BindExchange("upstream", "downstream", "#", nil))
	assert.Equal(t, []string{"sink"}, routedQueues(t, b, "downstream", "orders.new", nil))

	require.NoError(t, b.UnbindExchange("downstream", "upstream", "", nil))
	require.NoError(t, b.UnbindQueue(ref1, "sink", "upstream", "", nil))
	assert.Empty(t, routedQueues(t, b, "upstream", "orders.new", nil))
}

func TestInternalExchange(t *testing.T) {
	b := New()
	require.NoError(t, b.DeclareExchange("hidden", KindFanout, false, false, false, true, nil))

	_, err := b.Publish(ref1, "hidden", "", false, newMessage("x", false))
	assert.Error(t, err)

	require.NoError(t, b.DeclareExchange("front", KindFanout, false, false, false, false, nil))
	_, err = b.DeclareQueue(ref1, "q", false, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, b.BindExchange("hidden", "front", "", nil))
	require.NoError(t, b.BindQueue(ref1, "q", "hidden", "", nil))

	_, err = b.Publish(ref1, "front", "", false, newMessage("x", false))
	require.NoError(t, err)
	info, _ := b.QueueInfo("q")
	assert.Equal(t, 1, info.Messages)
}

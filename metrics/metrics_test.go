package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg), reg
}

func TestChannelMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordChannelAllocated()
	c.RecordChannelAllocated()
	c.RecordChannelOpened()
	c.RecordChannelReleased(true)
	c.RecordChannelReleased(false)
	c.RecordAllocationFailure("duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ChannelsAllocated))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ChannelsReleased))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ChannelsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AllocationFailures.WithLabelValues("duplicate")))
}

func TestRPCMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRPC("queue.declare", 3*time.Millisecond)
	c.RecordRPCError("queue.declare", "protocol")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RPCCalls.WithLabelValues("queue.declare")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RPCErrors.WithLabelValues("queue.declare", "protocol")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.RPCDuration))
}

func TestMessageMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordMessagePublished(1024)
	c.RecordMessageDelivered(512)
	c.RecordOrphanFrame()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesPublished))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.MessagesPublishedBytes))
	assert.Equal(t, 512.0, testutil.ToFloat64(c.MessagesDeliveredBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OrphanFrames))
}

func TestBrokerMetrics(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdateBrokerTotals(3, 5)
	c.RecordRouted(true)
	c.RecordRouted(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.QueuesTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.ExchangesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesRouted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesUnroutable))
}

func TestHandlerServesMetrics(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordChannelAllocated()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_channels_allocated_total 1")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestNewServerDefaultPort(t *testing.T) {
	assert.Equal(t, DefaultPort, NewServer(0, nil).Port())
	assert.Equal(t, 9500, NewServer(9500, prometheus.NewRegistry()).Port())
}

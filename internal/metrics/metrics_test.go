package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsTraffic(t *testing.T) {
	c := NewCollector()

	c.RecordSent(100, 10*time.Millisecond)
	c.RecordSent(50, 30*time.Millisecond)
	c.RecordReceived(200)
	c.RecordDropped()
	c.RecordParseFailure()

	stats := c.Snapshot()
	assert.Equal(t, int64(2), stats.MessagesSent)
	assert.Equal(t, int64(150), stats.BytesSent)
	assert.Equal(t, 20*time.Millisecond, stats.AvgQueueTime)
	assert.Equal(t, int64(1), stats.MessagesReceived)
	assert.Equal(t, int64(200), stats.BytesReceived)
	assert.Equal(t, int64(1), stats.MessagesDropped)
	assert.Equal(t, int64(1), stats.ParseFailures)
}

func TestFirstConnectIsNotAReconnect(t *testing.T) {
	c := NewCollector()

	c.MarkConnected()
	assert.Equal(t, int64(1), c.Snapshot().Connects)
	assert.Zero(t, c.Snapshot().Reconnects)

	c.MarkDisconnected()
	c.MarkConnected()

	stats := c.Snapshot()
	assert.Equal(t, int64(2), stats.Connects)
	assert.Equal(t, int64(1), stats.Reconnects)
	assert.Equal(t, int64(1), stats.Disconnects)
}

func TestUptimeTracksCurrentConnection(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.Snapshot().Uptime)

	c.MarkConnected()
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, c.Snapshot().Uptime, time.Duration(0))

	c.MarkDisconnected()
	assert.Zero(t, c.Snapshot().Uptime)
}

func TestReportRecommendations(t *testing.T) {
	r := &Report{
		Stats:          Stats{MessagesDropped: 2},
		QueueDepth:     150,
		AverageLatency: 800 * time.Millisecond,
		MemoryBytes:    2048,
		MemoryCeiling:  1024,
	}
	r.Finalize()

	require.Len(t, r.Recommendations, 4)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestHealthyReportHasNoRecommendations(t *testing.T) {
	r := &Report{
		QueueDepth:     3,
		AverageLatency: 20 * time.Millisecond,
		MemoryBytes:    1024,
		MemoryCeiling:  1 << 28,
	}
	r.Finalize()
	assert.Empty(t, r.Recommendations)
}

func TestExporterUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	e.Update(Stats{MessagesSent: 7, Uptime: 3 * time.Second}, 4, 2, 25*time.Millisecond, 4096)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, fam := range families {
		values[fam.GetName()] = fam.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, float64(7), values["relay_client_messages_sent_total"])
	assert.Equal(t, float64(4), values["relay_client_queue_depth"])
	assert.Equal(t, float64(25), values["relay_client_latency_ms"])
	assert.Equal(t, float64(4096), values["relay_client_memory_bytes"])
	assert.Equal(t, float64(3), values["relay_client_uptime_seconds"])
}

func TestProcessMemoryReadable(t *testing.T) {
	rss, err := ProcessMemory()
	require.NoError(t, err)
	assert.Greater(t, rss, uint64(0))
}

// Package metrics aggregates client counters, process memory usage and
// diagnostic reporting, with an optional Prometheus export mirror.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the traffic and lifecycle counters.
type Stats struct {
	Connects         int64         `json:"connects"`
	Disconnects      int64         `json:"disconnects"`
	Reconnects       int64         `json:"reconnects"`
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	MessagesDropped  int64         `json:"messages_dropped"`
	ParseFailures    int64         `json:"parse_failures"`
	BytesSent        int64         `json:"bytes_sent"`
	BytesReceived    int64         `json:"bytes_received"`
	AvgQueueTime     time.Duration `json:"avg_queue_time"`
	Uptime           time.Duration `json:"uptime"`
	ConnectedAt      time.Time     `json:"connected_at,omitempty"`
}

// Collector accumulates counters from all client components. All methods
// are safe for concurrent use.
type Collector struct {
	connects         atomic.Int64
	disconnects      atomic.Int64
	reconnects       atomic.Int64
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	messagesDropped  atomic.Int64
	parseFailures    atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	queueTimeTotal   atomic.Int64

	mu          sync.Mutex
	connectedAt time.Time
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// MarkConnected records a successful connection and starts the uptime clock.
// Reconnections after the first connect are counted separately.
func (c *Collector) MarkConnected() {
	first := c.connects.Add(1) == 1
	if !first {
		c.reconnects.Add(1)
	}
	c.mu.Lock()
	c.connectedAt = time.Now()
	c.mu.Unlock()
}

// MarkDisconnected records a connection loss and stops the uptime clock.
func (c *Collector) MarkDisconnected() {
	c.disconnects.Add(1)
	c.mu.Lock()
	c.connectedAt = time.Time{}
	c.mu.Unlock()
}

// RecordSent counts one transmitted message. queueTime is how long the
// message waited between enqueue and transmit.
func (c *Collector) RecordSent(bytes int, queueTime time.Duration) {
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(bytes))
	c.queueTimeTotal.Add(int64(queueTime))
}

func (c *Collector) RecordReceived(bytes int) {
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(int64(bytes))
}

func (c *Collector) RecordDropped()      { c.messagesDropped.Add(1) }
func (c *Collector) RecordParseFailure() { c.parseFailures.Add(1) }

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	connectedAt := c.connectedAt
	c.mu.Unlock()

	var uptime time.Duration
	if !connectedAt.IsZero() {
		uptime = time.Since(connectedAt)
	}
	var avgQueueTime time.Duration
	if sent := c.messagesSent.Load(); sent > 0 {
		avgQueueTime = time.Duration(c.queueTimeTotal.Load() / sent)
	}
	return Stats{
		Connects:         c.connects.Load(),
		Disconnects:      c.disconnects.Load(),
		Reconnects:       c.reconnects.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		MessagesDropped:  c.messagesDropped.Load(),
		ParseFailures:    c.parseFailures.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		AvgQueueTime:     avgQueueTime,
		Uptime:           uptime,
		ConnectedAt:      connectedAt,
	}
}

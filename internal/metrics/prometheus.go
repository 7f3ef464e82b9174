package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exporter mirrors client stats into Prometheus gauges. Counters are
// exported as gauges set from snapshots so the collectors stay the single
// source of truth.
type Exporter struct {
	connects         prometheus.Gauge
	reconnects       prometheus.Gauge
	messagesSent     prometheus.Gauge
	messagesReceived prometheus.Gauge
	messagesDropped  prometheus.Gauge
	parseFailures    prometheus.Gauge
	queueDepth       prometheus.Gauge
	pendingInbound   prometheus.Gauge
	latencyMillis    prometheus.Gauge
	memoryBytes      prometheus.Gauge
	uptimeSeconds    prometheus.Gauge
}

// NewExporter registers the relay gauges on the given registerer. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewExporter(reg prometheus.Registerer) *Exporter {
	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "client",
			Name:      name,
			Help:      help,
		})
	}
	return &Exporter{
		connects:         gauge("connects_total", "Successful connections since start"),
		reconnects:       gauge("reconnects_total", "Reconnections after the first connect"),
		messagesSent:     gauge("messages_sent_total", "Messages transmitted"),
		messagesReceived: gauge("messages_received_total", "Messages received"),
		messagesDropped:  gauge("messages_dropped_total", "Messages dropped after send retries"),
		parseFailures:    gauge("parse_failures_total", "Inbound frames that failed to decode"),
		queueDepth:       gauge("queue_depth", "Messages waiting in the outgoing queue"),
		pendingInbound:   gauge("pending_inbound", "Frames waiting for batch delivery"),
		latencyMillis:    gauge("latency_ms", "Average heartbeat latency in milliseconds"),
		memoryBytes:      gauge("memory_bytes", "Process resident set size"),
		uptimeSeconds:    gauge("uptime_seconds", "Seconds since the current connection opened"),
	}
}

// Update pushes one snapshot into the gauges.
func (e *Exporter) Update(stats Stats, queueDepth, pendingInbound int, avgLatency time.Duration, memoryBytes uint64) {
	e.connects.Set(float64(stats.Connects))
	e.reconnects.Set(float64(stats.Reconnects))
	e.messagesSent.Set(float64(stats.MessagesSent))
	e.messagesReceived.Set(float64(stats.MessagesReceived))
	e.messagesDropped.Set(float64(stats.MessagesDropped))
	e.parseFailures.Set(float64(stats.ParseFailures))
	e.queueDepth.Set(float64(queueDepth))
	e.pendingInbound.Set(float64(pendingInbound))
	e.latencyMillis.Set(float64(avgLatency.Milliseconds()))
	e.memoryBytes.Set(float64(memoryBytes))
	e.uptimeSeconds.Set(stats.Uptime.Seconds())
}

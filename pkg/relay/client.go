// Package relay is the public client surface: a resilient, bidirectional
// WebSocket messaging client with automatic reconnection, priority-queued
// sending, batched inbound delivery and heartbeat health monitoring.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/strataops/relay-client-go/internal/batch"
	"github.com/strataops/relay-client-go/internal/config"
	"github.com/strataops/relay-client-go/internal/conn"
	"github.com/strataops/relay-client-go/internal/dispatch"
	"github.com/strataops/relay-client-go/internal/health"
	"github.com/strataops/relay-client-go/internal/metrics"
	"github.com/strataops/relay-client-go/internal/outbox"
	"github.com/strataops/relay-client-go/internal/transport"
	"github.com/strataops/relay-client-go/internal/wire"
	"github.com/strataops/relay-client-go/pkg/errors"
)

// Re-exported types so callers never import internal packages.
type (
	State   = conn.State
	Change  = conn.Change
	Tier    = outbox.Tier
	Frame   = wire.Frame
	Quality = health.Quality
)

const (
	StateIdle       = conn.StateIdle
	StateConnecting = conn.StateConnecting
	StateOpen       = conn.StateOpen
	StateClosing    = conn.StateClosing
	StateClosed     = conn.StateClosed
	StateFailed     = conn.StateFailed

	TierCritical = outbox.TierCritical
	TierHigh     = outbox.TierHigh
	TierNormal   = outbox.TierNormal
	TierLow      = outbox.TierLow
)

// ConnectionStats combines lifecycle counters with the live connection view.
type ConnectionStats struct {
	State     State         `json:"state"`
	ActiveURL string        `json:"active_url"`
	Attempts  int           `json:"attempts"`
	Stats     metrics.Stats `json:"stats"`
}

// PerformanceMetrics reports throughput-side health.
type PerformanceMetrics struct {
	AverageLatency time.Duration  `json:"average_latency"`
	Quality        Quality        `json:"quality"`
	QueueDepth     int            `json:"queue_depth"`
	QueueDepths    map[string]int `json:"queue_depths"`
	PendingInbound int            `json:"pending_inbound"`
	HistoryLen     int            `json:"history_len"`
	MemoryBytes    uint64         `json:"memory_bytes"`
}

// Client is the facade over the connection manager, dispatcher, batcher and
// health monitor. Create with New, then Connect.
type Client struct {
	cfg       config.Config
	logger    *logrus.Logger
	sessionID string

	manager    *conn.Manager
	dispatcher *dispatch.Dispatcher
	batcher    *batch.Batcher
	monitor    *health.Monitor
	collector  *metrics.Collector
	exporter   *metrics.Exporter

	mu      sync.Mutex
	running bool
	wasOpen bool
}

// New assembles a Client from configuration. The WebSocket dialer can be
// nil to use the default transport.
func New(cfg config.Config, dialer transport.Dialer, logger *logrus.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	sessionID := uuid.NewString()

	if dialer == nil {
		dialer = transport.NewWebSocketDialer(transport.Options{
			HandshakeTimeout: cfg.Connection.AttemptTimeout,
			WriteTimeout:     cfg.Connection.WriteTimeout,
			MaxMessageSize:   cfg.Connection.MaxMessageSize,
		})
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		sessionID: sessionID,
		collector: metrics.NewCollector(),
	}

	urls := make([]string, 0, 1+len(cfg.Connection.FallbackURLs))
	urls = append(urls, sessionURL(cfg.Connection.PrimaryURL, sessionID))
	for _, u := range cfg.Connection.FallbackURLs {
		urls = append(urls, sessionURL(u, sessionID))
	}
	c.manager = conn.NewManager(conn.Config{
		URLs:                 urls,
		AttemptTimeout:       cfg.Connection.AttemptTimeout,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		BackoffBase:          cfg.Connection.BackoffBase,
		BackoffCap:           cfg.Connection.BackoffCap,
	}, dialer, logger)

	c.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		MessagesPerSecond: cfg.Outgoing.MessagesPerSecond,
		MaxRetries:        cfg.Outgoing.MaxRetries,
	}, outbox.NewQueue(), c.manager.Transmit, logger)
	c.dispatcher.OnSent(func(m *outbox.Message) {
		c.collector.RecordSent(len(m.Payload), time.Since(m.EnqueuedAt))
	})
	c.dispatcher.OnDrop(func(*outbox.Message) { c.collector.RecordDropped() })

	c.batcher = batch.NewBatcher(batch.Config{
		BatchSize:     cfg.Inbound.BatchSize,
		FlushInterval: cfg.Inbound.BatchInterval,
		HistorySize:   cfg.Inbound.HistoryCapacity,
	}, logger)

	c.monitor = health.NewMonitor(health.Config{
		Interval:            cfg.Health.Interval,
		MissedPingThreshold: cfg.Health.MissedPingThreshold,
		LatencyHistory:      cfg.Health.LatencyHistory,
		ExcellentBelow:      cfg.Health.ExcellentBelow,
		GoodBelow:           cfg.Health.GoodBelow,
		PoorBelow:           cfg.Health.PoorBelow,
	}, c.sendPing, c.manager.IsConnected, c.manager, logger)

	if cfg.Metrics.PrometheusEnabled {
		c.exporter = metrics.NewExporter(prometheus.DefaultRegisterer)
	}

	c.manager.OnFrame(c.handleFrame)
	c.manager.OnStateChange(c.trackState)
	return c, nil
}

// SessionID returns the identifier appended to every connection URL.
func (c *Client) SessionID() string { return c.sessionID }

// Connect starts the client goroutines and dials the primary endpoint.
// A dial failure is returned, but reconnection keeps running in the
// background until Disconnect or the attempt budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	c.dispatcher.Start()
	c.batcher.Start()
	c.monitor.Start()
	return c.manager.Connect(ctx)
}

// Disconnect tears the connection down deliberately, stops all loops and
// discards queued traffic. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.manager.Disconnect()
	c.monitor.Stop()
	c.dispatcher.Stop()
	c.batcher.Stop()

	droppedOut := c.dispatcher.Clear()
	droppedIn := c.batcher.Clear()
	if droppedOut > 0 || droppedIn > 0 {
		c.logger.WithFields(logrus.Fields{
			"component":        "relay",
			"dropped_outgoing": droppedOut,
			"dropped_inbound":  droppedIn,
		}).Info("discarded queued traffic on disconnect")
	}
}

// IsConnected reports whether the socket is currently open.
func (c *Client) IsConnected() bool { return c.manager.IsConnected() }

// SendMessage queues a message at normal priority. The payload is
// marshalled immediately; the only error surfaced here is a marshal
// failure. Transmit failures are retried and eventually counted as drops.
func (c *Client) SendMessage(msgType string, payload any) error {
	return c.SendMessageWithPriority(msgType, payload, TierNormal)
}

// SendMessageWithPriority queues a message at an explicit tier.
func (c *Client) SendMessageWithPriority(msgType string, payload any, tier Tier) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.KindSend, "marshal payload", err)
	}
	c.dispatcher.Enqueue(&outbox.Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    data,
		SessionID:  c.sessionID,
		Tier:       tier,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// SendCommand queues a named command at high priority.
func (c *Client) SendCommand(command string, args any) error {
	return c.SendMessageWithPriority("command", struct {
		Command string `json:"command"`
		Args    any    `json:"args,omitempty"`
	}{Command: command, Args: args}, TierHigh)
}

// OnMessage registers the handler for an inbound event type. Registering
// the same type again replaces the handler.
func (c *Client) OnMessage(eventType string, fn func(Frame)) {
	c.batcher.Handle(wire.EventType(eventType), fn)
}

// OnConnectionChange registers a listener for lifecycle transitions.
func (c *Client) OnConnectionChange(fn func(Change)) {
	c.manager.OnStateChange(fn)
}

// ConnectionStats returns lifecycle counters and the live connection view.
func (c *Client) ConnectionStats() ConnectionStats {
	return ConnectionStats{
		State:     c.manager.State(),
		ActiveURL: c.manager.ActiveURL(),
		Attempts:  c.manager.Attempts(),
		Stats:     c.collector.Snapshot(),
	}
}

// PerformanceMetrics returns queue, latency and memory health.
func (c *Client) PerformanceMetrics() PerformanceMetrics {
	snap := c.monitor.Snapshot()
	mem, err := metrics.ProcessMemory()
	if err != nil {
		c.logger.WithField("component", "relay").WithError(err).Debug("memory probe failed")
	}
	return PerformanceMetrics{
		AverageLatency: snap.AverageLatency,
		Quality:        snap.Quality,
		QueueDepth:     c.dispatcher.QueueDepth(),
		QueueDepths:    c.dispatcher.QueueDepths(),
		PendingInbound: c.batcher.PendingLen(),
		HistoryLen:     len(c.batcher.History()),
		MemoryBytes:    mem,
	}
}

// Health returns the current heartbeat view.
func (c *Client) Health() health.Snapshot { return c.monitor.Snapshot() }

// DiagnosticReport assembles a full report with recommendations.
func (c *Client) DiagnosticReport() metrics.Report {
	perf := c.PerformanceMetrics()
	r := metrics.Report{
		Stats:          c.collector.Snapshot(),
		QueueDepth:     perf.QueueDepth,
		QueueDepths:    perf.QueueDepths,
		PendingInbound: perf.PendingInbound,
		HistoryLen:     perf.HistoryLen,
		AverageLatency: perf.AverageLatency,
		Quality:        string(perf.Quality),
		MemoryBytes:    perf.MemoryBytes,
		MemoryCeiling:  c.cfg.Metrics.MemoryCeiling,
	}
	r.Finalize()
	return r
}

// PublishMetrics pushes one snapshot to the Prometheus exporter. No-op
// unless prometheus export is enabled.
func (c *Client) PublishMetrics() {
	if c.exporter == nil {
		return
	}
	perf := c.PerformanceMetrics()
	c.exporter.Update(c.collector.Snapshot(), perf.QueueDepth, perf.PendingInbound, perf.AverageLatency, perf.MemoryBytes)
}

// SetBatchSize adjusts inbound batch delivery. Applies on the next flush.
func (c *Client) SetBatchSize(n int) { c.batcher.SetBatchSize(n) }

// SetRateLimit adjusts the outgoing send rate. Applies on the next send.
func (c *Client) SetRateLimit(messagesPerSecond int) { c.dispatcher.SetRate(messagesPerSecond) }

// SetHealthCheckInterval adjusts the heartbeat period. Applies on the next
// tick.
func (c *Client) SetHealthCheckInterval(d time.Duration) { c.monitor.SetInterval(d) }

// MessageHistory returns recent inbound frames, oldest first.
func (c *Client) MessageHistory() []Frame { return c.batcher.History() }

func (c *Client) sendPing(timestampMillis int64) error {
	// Pings skip the rate-limited queue so pacing never distorts latency.
	env, err := wire.NewPing(c.sessionID, time.UnixMilli(timestampMillis))
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.manager.Transmit(data)
}

func (c *Client) handleFrame(raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		c.collector.RecordParseFailure()
		c.logger.WithField("component", "relay").WithError(err).Warn("discarding unparseable frame")
		return
	}
	c.collector.RecordReceived(len(raw))

	if env.Type == wire.EventPong {
		ts, err := wire.EchoedTimestamp(env.Data)
		if err != nil {
			c.logger.WithField("component", "relay").WithError(err).Debug("pong missing timestamp")
			return
		}
		c.monitor.HandlePong(ts)
		return
	}
	c.batcher.Ingest(wire.FrameOf(env, time.Now()))
}

func (c *Client) trackState(ch Change) {
	switch ch.State {
	case StateOpen:
		c.mu.Lock()
		c.wasOpen = true
		c.mu.Unlock()
		c.collector.MarkConnected()
	case StateClosed:
		// Closed also fires for failed connect rounds that never
		// opened; only a loss of an open connection is a disconnect.
		c.mu.Lock()
		open := c.wasOpen
		c.wasOpen = false
		c.mu.Unlock()
		if open {
			c.collector.MarkDisconnected()
		}
	}
}

func sessionURL(base, sessionID string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/ws/" + sessionID
}

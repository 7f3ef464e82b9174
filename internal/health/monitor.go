// Package health drives the heartbeat loop, derives connection quality from
// ping/pong latency and forces a reconnect when heartbeats go unanswered.
package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strataops/relay-client-go/internal/ring"
)

// Quality classifies the connection by observed latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityCritical  Quality = "critical"
	QualityUnknown   Quality = "unknown"
)

// Snapshot is a point-in-time view of heartbeat health.
type Snapshot struct {
	LastPingAt     time.Time     `json:"last_ping_at"`
	LastPongAt     time.Time     `json:"last_pong_at"`
	Latency        time.Duration `json:"latency"`
	AverageLatency time.Duration `json:"average_latency"`
	MissedPings    int           `json:"missed_pings"`
	Quality        Quality       `json:"quality"`
}

// Config tunes the heartbeat loop.
type Config struct {
	Interval            time.Duration
	MissedPingThreshold int
	LatencyHistory      int
	ExcellentBelow      time.Duration
	GoodBelow           time.Duration
	PoorBelow           time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.MissedPingThreshold <= 0 {
		c.MissedPingThreshold = 3
	}
	if c.LatencyHistory <= 0 {
		c.LatencyHistory = 20
	}
	if c.ExcellentBelow <= 0 {
		c.ExcellentBelow = 50 * time.Millisecond
	}
	if c.GoodBelow <= 0 {
		c.GoodBelow = 150 * time.Millisecond
	}
	if c.PoorBelow <= 0 {
		c.PoorBelow = 500 * time.Millisecond
	}
	return c
}

// Cycler forces one disconnect-then-reconnect round.
type Cycler interface {
	Cycle()
}

// Monitor owns the HealthSnapshot and the heartbeat timer. The send
// function transmits a ping carrying the given wall-clock milliseconds; it
// bypasses the outgoing queue so pacing does not distort latency.
type Monitor struct {
	cfg    Config
	logger *logrus.Logger

	send   func(timestampMillis int64) error
	online func() bool
	cycler Cycler

	mu         sync.Mutex
	lastPingAt time.Time
	lastPongAt time.Time
	latency    time.Duration
	missed     int
	quality    Quality
	history    *ring.Buffer[time.Duration]
	interval   time.Duration
	stop       chan struct{}
	running    bool
}

// NewMonitor creates a stopped Monitor.
func NewMonitor(cfg Config, send func(int64) error, online func() bool, cycler Cycler, logger *logrus.Logger) *Monitor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		send:     send,
		online:   online,
		cycler:   cycler,
		quality:  QualityUnknown,
		history:  ring.New[time.Duration](cfg.LatencyHistory),
		interval: cfg.Interval,
	}
}

// Start launches the heartbeat loop. No-op when already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go m.loop(stop)
}

// Stop halts the heartbeat loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
}

// SetInterval changes the heartbeat period. Takes effect on the next tick.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// Snapshot returns the current health view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		LastPingAt:     m.lastPingAt,
		LastPongAt:     m.lastPongAt,
		Latency:        m.latency,
		AverageLatency: m.averageLocked(),
		MissedPings:    m.missed,
		Quality:        m.quality,
	}
}

// HandlePong records a pong echoing the client timestamp (milliseconds),
// updates latency history and quality, and resets the missed counter.
func (m *Monitor) HandlePong(echoedMillis int64) {
	now := time.Now()
	latency := now.Sub(time.UnixMilli(echoedMillis))
	if latency < 0 {
		latency = 0
	}

	m.mu.Lock()
	m.lastPongAt = now
	m.latency = latency
	m.missed = 0
	m.history.Push(latency)
	m.quality = m.classify(m.averageLocked())
	quality := m.quality
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"component": "health",
		"latency":   latency,
		"quality":   quality,
	}).Debug("pong received")
}

func (m *Monitor) loop(stop chan struct{}) {
	for {
		m.mu.Lock()
		interval := m.interval
		m.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			m.tick()
		}
	}
}

// tick runs one heartbeat round: count an unanswered ping, force a cycle at
// the threshold, otherwise send a fresh ping.
func (m *Monitor) tick() {
	if m.online != nil && !m.online() {
		return
	}

	m.mu.Lock()
	unanswered := !m.lastPingAt.IsZero() && m.lastPongAt.Before(m.lastPingAt)
	if unanswered {
		m.missed++
	}
	missed := m.missed
	threshold := m.cfg.MissedPingThreshold
	if missed >= threshold {
		m.missed = 0
		m.quality = QualityCritical
		m.mu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"component": "health",
			"missed":    missed,
		}).Warn("heartbeats unanswered, forcing reconnect cycle")
		if m.cycler != nil {
			m.cycler.Cycle()
		}
		return
	}
	m.mu.Unlock()

	now := time.Now()
	if err := m.send(now.UnixMilli()); err != nil {
		m.logger.WithField("component", "health").WithError(err).Debug("ping send failed")
		return
	}

	m.mu.Lock()
	m.lastPingAt = now
	m.mu.Unlock()
}

func (m *Monitor) averageLocked() time.Duration {
	samples := m.history.Snapshot()
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples))
}

func (m *Monitor) classify(avg time.Duration) Quality {
	switch {
	case avg < m.cfg.ExcellentBelow:
		return QualityExcellent
	case avg < m.cfg.GoodBelow:
		return QualityGood
	case avg < m.cfg.PoorBelow:
		return QualityPoor
	default:
		return QualityCritical
	}
}

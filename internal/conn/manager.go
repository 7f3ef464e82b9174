// Package conn owns the socket handle, the connection state machine, the
// candidate URL list and the reconnect scheduler.
package conn

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strataops/relay-client-go/internal/transport"
	"github.com/strataops/relay-client-go/pkg/errors"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// Change is delivered to state listeners on every transition.
type Change struct {
	State  State
	URL    string
	Reason string
}

// Config tunes the lifecycle and reconnect policy.
type Config struct {
	// URLs is the ordered candidate list; the first entry is the primary.
	URLs []string

	// AttemptTimeout bounds a single dial attempt.
	AttemptTimeout time.Duration

	// MaxReconnectAttempts is the reconnect budget before the manager gives
	// up and goes to StateFailed. Zero means unlimited.
	MaxReconnectAttempts int

	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Manager drives a single connection at a time. Frames read from the socket
// are delivered through the OnFrame callback; lifecycle transitions through
// OnStateChange listeners.
type Manager struct {
	cfg    Config
	dialer transport.Dialer
	logger *logrus.Logger

	onFrame func([]byte)

	mu             sync.Mutex
	state          State
	conn           transport.Conn
	urls           []string
	activeURL      string
	attempts       int
	suppress       bool
	cycling        bool
	gen            int
	reconnectTimer *time.Timer
	stateSubs      []func(Change)
}

// NewManager creates a Manager in StateIdle.
func NewManager(cfg Config, dialer transport.Dialer, logger *logrus.Logger) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		state:  StateIdle,
		urls:   append([]string(nil), cfg.URLs...),
	}
}

// OnFrame registers the inbound frame callback. Must be set before Connect.
func (m *Manager) OnFrame(fn func([]byte)) {
	m.onFrame = fn
}

// OnStateChange registers a state listener. Listeners are invoked in
// registration order, outside the manager lock.
func (m *Manager) OnStateChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateSubs = append(m.stateSubs, fn)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// ActiveURL returns the URL of the current or most recent connection.
func (m *Manager) ActiveURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeURL
}

// Attempts returns the consecutive failed reconnect rounds.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect dials the candidate list in order and returns once a connection is
// open. When every candidate fails it returns a connection error and leaves
// the backoff scheduler retrying in the background.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return errors.New(errors.KindConnection, "connect already in progress")
	}
	m.suppress = false
	m.cycling = false
	m.attempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	urls := append([]string(nil), m.urls...)
	m.mu.Unlock()

	m.setState(StateConnecting, "connect")

	c, url, err := m.dialCandidates(ctx, urls)
	if err != nil {
		m.setState(StateClosed, "all candidates failed")
		m.scheduleReconnect()
		return errors.Wrap(errors.KindConnection, "all candidate urls failed", err)
	}

	if !m.adopt(c, url) {
		return errors.New(errors.KindConnection, "disconnected during connect")
	}
	return nil
}

// Disconnect closes the connection, cancels any pending reconnect timer and
// suppresses further reconnection. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.suppress && m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.suppress = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	c := m.conn
	m.conn = nil
	m.gen++
	m.attempts = 0
	m.mu.Unlock()

	if c != nil {
		m.setState(StateClosing, "disconnect")
		c.Close()
	}
	m.setState(StateClosed, "disconnect")
}

// Cycle forces one disconnect-then-reconnect round. Used by the health
// monitor when heartbeats go unanswered; a no-op unless the connection is
// open, and never issues overlapping cycles.
func (m *Manager) Cycle() {
	m.mu.Lock()
	if m.suppress || m.cycling || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	m.cycling = true
	c := m.conn
	m.mu.Unlock()

	m.logger.WithField("component", "connection").Warn("health cycle: dropping connection for reconnect")

	// The read loop observes the close and runs the normal reconnect path.
	if c != nil {
		c.Close()
	}
}

// Transmit writes one frame on the open connection.
func (m *Manager) Transmit(data []byte) error {
	m.mu.Lock()
	c := m.conn
	st := m.state
	m.mu.Unlock()

	if st != StateOpen || c == nil {
		return errors.New(errors.KindSend, "not connected")
	}
	if err := c.WriteMessage(data); err != nil {
		return errors.Wrap(errors.KindSend, "transmit failed", err)
	}
	return nil
}

// dialCandidates tries each URL in order with a per-attempt timeout.
func (m *Manager) dialCandidates(ctx context.Context, urls []string) (transport.Conn, string, error) {
	var lastErr error
	for _, url := range urls {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		c, err := m.dialer.Dial(attemptCtx, url)
		cancel()

		if err != nil {
			lastErr = err
			m.logger.WithFields(logrus.Fields{
				"component": "connection",
				"url":       url,
			}).WithError(err).Warn("candidate dial failed")
			continue
		}
		return c, url, nil
	}
	if lastErr == nil {
		lastErr = errors.New(errors.KindConnection, "no candidate urls configured")
	}
	return nil, "", lastErr
}

// adopt installs a freshly dialed connection, promotes its URL to primary
// and starts the read loop. Returns false when a disconnect raced the dial.
func (m *Manager) adopt(c transport.Conn, url string) bool {
	m.mu.Lock()
	if m.suppress {
		m.mu.Unlock()
		c.Close()
		return false
	}
	m.conn = c
	m.activeURL = url
	m.attempts = 0
	m.cycling = false
	m.promoteLocked(url)
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.setState(StateOpen, "connected")
	go m.readLoop(c, gen)
	return true
}

// promoteLocked moves url to the front so future reconnects try it first.
func (m *Manager) promoteLocked(url string) {
	for i, u := range m.urls {
		if u == url {
			if i > 0 {
				m.urls = append(m.urls[:i], m.urls[i+1:]...)
				m.urls = append([]string{url}, m.urls...)
			}
			return
		}
	}
	m.urls = append([]string{url}, m.urls...)
}

func (m *Manager) readLoop(c transport.Conn, gen int) {
	for {
		data, err := c.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		if m.onFrame != nil {
			m.onFrame(data)
		}
	}
}

// handleClosed runs when the read loop observes a connection error.
func (m *Manager) handleClosed(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.suppress {
		// Stale loop, or the user already disconnected.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	m.logger.WithField("component", "connection").WithError(err).Warn("connection lost")
	m.setState(StateClosed, err.Error())
	m.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer with backoff and jitter.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.suppress || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	if m.cfg.MaxReconnectAttempts > 0 && attempt > m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"component": "connection",
			"attempts":  attempt - 1,
		}).Error("reconnect budget exhausted")
		m.setState(StateFailed, "reconnect attempts exhausted")
		return
	}
	delay := backoffDelay(attempt, m.cfg.BackoffBase, m.cfg.BackoffCap)
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"component": "connection",
		"attempt":   attempt,
		"delay":     delay,
	}).Info("reconnect scheduled")
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	if m.suppress {
		m.mu.Unlock()
		return
	}
	urls := append([]string(nil), m.urls...)
	m.mu.Unlock()

	m.setState(StateConnecting, "reconnecting")

	c, url, err := m.dialCandidates(context.Background(), urls)
	if err != nil {
		m.setState(StateClosed, "reconnect failed")
		m.scheduleReconnect()
		return
	}
	m.adopt(c, url)
}

// setState mutates the state and notifies listeners outside the lock.
func (m *Manager) setState(s State, reason string) {
	m.mu.Lock()
	m.state = s
	url := m.activeURL
	subs := append([]func(Change){}, m.stateSubs...)
	m.mu.Unlock()

	change := Change{State: s, URL: url, Reason: reason}
	for _, fn := range subs {
		fn(change)
	}
}

// backoffDelay computes min(base * 2^(attempt-1), limit) plus uniform
// jitter in [0, delay/4].
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit || delay <= 0 {
			delay = limit
			break
		}
	}
	if delay > limit {
		delay = limit
	}

	jitter := time.Duration(0)
	if span := int64(delay) / 4; span > 0 {
		jitter = time.Duration(rand.Int63n(span + 1))
	}
	return delay + jitter
}

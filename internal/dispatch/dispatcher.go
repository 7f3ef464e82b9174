// Package dispatch drains the priority outbox onto the wire at a bounded
// send rate, retrying transient transmit failures a few times before
// dropping the message.
package dispatch

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strataops/relay-client-go/internal/outbox"
	"github.com/strataops/relay-client-go/internal/wire"
)

// Config tunes the drain loop.
type Config struct {
	MessagesPerSecond int
	MaxRetries        int
}

func (c Config) withDefaults() Config {
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Dispatcher pulls messages off the queue highest tier first and pushes
// them through the transmit function, pacing sends so the configured
// per-second rate is never exceeded.
type Dispatcher struct {
	queue    *outbox.Queue
	transmit func(data []byte) error
	logger   *logrus.Logger

	maxRetries int

	onSent func(*outbox.Message)
	onDrop func(*outbox.Message)

	mu       sync.Mutex
	rate     int
	lastSend time.Time
	stop     chan struct{}
	running  bool

	wake chan struct{}
}

// NewDispatcher creates a stopped Dispatcher draining the given queue.
func NewDispatcher(cfg Config, queue *outbox.Queue, transmit func([]byte) error, logger *logrus.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		queue:      queue,
		transmit:   transmit,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		rate:       cfg.MessagesPerSecond,
		wake:       make(chan struct{}, 1),
	}
}

// OnSent registers a hook invoked after each successful transmit.
func (d *Dispatcher) OnSent(fn func(*outbox.Message)) { d.onSent = fn }

// OnDrop registers a hook invoked when a message exhausts its retries.
func (d *Dispatcher) OnDrop(fn func(*outbox.Message)) { d.onDrop = fn }

// Enqueue queues a message and wakes the drain loop.
func (d *Dispatcher) Enqueue(msg *outbox.Message) {
	d.queue.Enqueue(msg)
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// QueueDepth reports the total number of queued messages.
func (d *Dispatcher) QueueDepth() int { return d.queue.Len() }

// QueueDepths reports per-tier queue depths.
func (d *Dispatcher) QueueDepths() map[string]int { return d.queue.Depths() }

// Clear discards every queued message, returning how many were dropped.
func (d *Dispatcher) Clear() int { return d.queue.Clear() }

// SetRate changes the send rate. Takes effect on the next send.
func (d *Dispatcher) SetRate(messagesPerSecond int) {
	if messagesPerSecond <= 0 {
		return
	}
	d.mu.Lock()
	d.rate = messagesPerSecond
	d.mu.Unlock()
}

// Start launches the drain loop. No-op when already running.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	go d.loop(stop)
}

// Stop halts the drain loop. Queued messages stay queued; a message
// already dequeued and waiting on the rate limiter is dropped. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.stop)
}

func (d *Dispatcher) loop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-d.wake:
		}

		for {
			msg := d.queue.Dequeue()
			if msg == nil {
				break
			}
			if !d.pace(stop) {
				// Shutting down mid-drain. Re-enqueueing would race a
				// concurrent Clear and leak the message into the next
				// session, so it is dropped and counted.
				d.drop(msg)
				return
			}
			d.sendOne(msg)
		}
	}
}

// pace blocks until the rate limit admits another send. Returns false when
// the loop is stopping.
func (d *Dispatcher) pace(stop chan struct{}) bool {
	d.mu.Lock()
	minGap := time.Second / time.Duration(d.rate)
	wait := minGap - time.Since(d.lastSend)
	d.mu.Unlock()

	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func (d *Dispatcher) sendOne(msg *outbox.Message) {
	env := wire.Envelope{
		Type:      wire.EventType(msg.Type),
		Data:      msg.Payload,
		SessionID: msg.SessionID,
		Priority:  msg.Tier.String(),
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := env.Encode()
	if err != nil {
		d.logger.WithField("component", "dispatch").WithError(err).Error("dropping unencodable message")
		d.drop(msg)
		return
	}

	err = d.transmit(data)

	d.mu.Lock()
	// Failed sends consume a rate slot too, so retries stay paced.
	d.lastSend = time.Now()
	d.mu.Unlock()

	if err != nil {
		msg.Retries++
		if msg.Retries > d.maxRetries {
			d.logger.WithFields(logrus.Fields{
				"component": "dispatch",
				"id":        msg.ID,
				"type":      msg.Type,
				"retries":   msg.Retries,
			}).Warn("dropping message after repeated send failures")
			d.drop(msg)
			return
		}
		d.logger.WithFields(logrus.Fields{
			"component": "dispatch",
			"id":        msg.ID,
			"attempt":   msg.Retries,
		}).WithError(err).Debug("send failed, requeueing")
		d.queue.Enqueue(msg)
		return
	}

	if d.onSent != nil {
		d.onSent(msg)
	}
}

func (d *Dispatcher) drop(msg *outbox.Message) {
	if d.onDrop != nil {
		d.onDrop(msg)
	}
}

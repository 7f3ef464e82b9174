// Package batch buffers inbound frames and delivers them to registered
// handlers in bounded batches on a fixed flush cadence, keeping a circular
// history of recent traffic for diagnostics.
package batch

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strataops/relay-client-go/internal/ring"
	"github.com/strataops/relay-client-go/internal/wire"
)

// Handler consumes one inbound frame. Handlers run on the flush goroutine;
// slow handlers delay the rest of the batch.
type Handler func(frame wire.Frame)

// Config tunes batching behaviour.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	HistorySize   int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Batcher accumulates frames between flush ticks. Each tick drains at most
// the configured batch size; the remainder carries over to the next tick.
type Batcher struct {
	cfg    Config
	logger *logrus.Logger

	onUnhandled func(frame wire.Frame)

	mu        sync.Mutex
	pending   []wire.Frame
	history   *ring.Buffer[wire.Frame]
	handlers  map[wire.EventType]Handler
	batchSize int
	stop      chan struct{}
	running   bool
}

// NewBatcher creates a stopped Batcher.
func NewBatcher(cfg Config, logger *logrus.Logger) *Batcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Batcher{
		cfg:       cfg,
		logger:    logger,
		history:   ring.New[wire.Frame](cfg.HistorySize),
		handlers:  make(map[wire.EventType]Handler),
		batchSize: cfg.BatchSize,
	}
}

// Handle registers the handler for an event type. Registering the same type
// again replaces the previous handler.
func (b *Batcher) Handle(t wire.EventType, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		delete(b.handlers, t)
		return
	}
	b.handlers[t] = fn
}

// OnUnhandled registers a hook invoked for frames with no matching handler.
func (b *Batcher) OnUnhandled(fn func(wire.Frame)) { b.onUnhandled = fn }

// Ingest records a frame in the history ring and, when a handler is
// registered for its type, appends it to the pending batch. Frames without
// a handler never consume batch slots. Never blocks.
func (b *Batcher) Ingest(frame wire.Frame) {
	b.mu.Lock()
	b.history.Push(frame)
	_, handled := b.handlers[frame.Type]
	if handled {
		b.pending = append(b.pending, frame)
	}
	b.mu.Unlock()

	if !handled {
		if b.onUnhandled != nil {
			b.onUnhandled(frame)
		}
		b.logger.WithFields(logrus.Fields{
			"component": "batch",
			"type":      frame.Type,
		}).Debug("no handler for inbound frame")
	}
}

// PendingLen reports frames awaiting delivery.
func (b *Batcher) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// History returns the retained frames, oldest first.
func (b *Batcher) History() []wire.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Snapshot()
}

// Clear discards pending frames and history, returning how many pending
// frames were dropped.
func (b *Batcher) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	b.pending = nil
	b.history.Clear()
	return n
}

// SetBatchSize changes how many frames each tick delivers. Takes effect on
// the next flush.
func (b *Batcher) SetBatchSize(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.batchSize = n
	b.mu.Unlock()
}

// Start launches the flush loop. No-op when already running.
func (b *Batcher) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	go b.loop(stop)
}

// Stop halts the flush loop. Pending frames stay pending. Idempotent.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stop)
}

func (b *Batcher) loop(stop chan struct{}) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Flush delivers one batch immediately. Handlers run outside the lock.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	n := b.batchSize
	if n > len(b.pending) {
		n = len(b.pending)
	}
	batch := b.pending[:n:n]
	b.pending = append([]wire.Frame(nil), b.pending[n:]...)
	handlers := make(map[wire.EventType]Handler, len(b.handlers))
	for t, fn := range b.handlers {
		handlers[t] = fn
	}
	b.mu.Unlock()

	for _, frame := range batch {
		fn, ok := handlers[frame.Type]
		if !ok {
			if b.onUnhandled != nil {
				b.onUnhandled(frame)
			}
			b.logger.WithFields(logrus.Fields{
				"component": "batch",
				"type":      frame.Type,
			}).Debug("no handler for inbound frame")
			continue
		}
		fn(frame)
	}
}

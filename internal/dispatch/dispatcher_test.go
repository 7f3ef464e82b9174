package dispatch

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataops/relay-client-go/internal/outbox"
	"github.com/strataops/relay-client-go/internal/wire"
)

type wireRecorder struct {
	mu     sync.Mutex
	frames []wire.Envelope
	times  []time.Time
	// failures counts down; while positive every transmit fails.
	failures int
}

func (r *wireRecorder) transmit(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures != 0 {
		if r.failures > 0 {
			r.failures--
		}
		return errors.New("transmit refused")
	}
	env, err := wire.Decode(data)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	r.times = append(r.times, time.Now())
	return nil
}

func (r *wireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *wireRecorder) framesCopy() []wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Envelope(nil), r.frames...)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func msgWithTier(id string, tier outbox.Tier) *outbox.Message {
	return &outbox.Message{
		ID:        id,
		Type:      "event",
		Payload:   json.RawMessage(`{"n":1}`),
		SessionID: "test-session",
		Tier:      tier,
	}
}

func TestCriticalDrainsBeforeLow(t *testing.T) {
	rec := &wireRecorder{}
	d := NewDispatcher(Config{MessagesPerSecond: 1000}, outbox.NewQueue(), rec.transmit, quietLogger())

	for i := 0; i < 5; i++ {
		d.Enqueue(msgWithTier("low", outbox.TierLow))
	}
	for i := 0; i < 5; i++ {
		d.Enqueue(msgWithTier("critical", outbox.TierCritical))
	}

	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return rec.count() == 10
	}, 2*time.Second, time.Millisecond)

	frames := rec.framesCopy()
	for i, env := range frames {
		want := "critical"
		if i >= 5 {
			want = "low"
		}
		assert.Equal(t, want, env.Priority, "frame %d", i)
	}
}

func TestRateLimitSpacesSends(t *testing.T) {
	rec := &wireRecorder{}
	d := NewDispatcher(Config{MessagesPerSecond: 100}, outbox.NewQueue(), rec.transmit, quietLogger())

	for i := 0; i < 5; i++ {
		d.Enqueue(msgWithTier("m", outbox.TierNormal))
	}

	start := time.Now()
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return rec.count() == 5
	}, 2*time.Second, time.Millisecond)

	// 100/sec means at least 10ms between sends: the fifth send cannot
	// complete before four full gaps have elapsed.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestTransientFailureRetriesThenSends(t *testing.T) {
	rec := &wireRecorder{failures: 2}
	d := NewDispatcher(Config{MessagesPerSecond: 1000}, outbox.NewQueue(), rec.transmit, quietLogger())

	var dropped int
	d.OnDrop(func(*outbox.Message) { dropped++ })

	d.Enqueue(msgWithTier("flaky", outbox.TierHigh))
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, time.Millisecond)
	assert.Zero(t, dropped)
	assert.Zero(t, d.QueueDepth())
}

func TestDropsAfterRetriesExhausted(t *testing.T) {
	rec := &wireRecorder{failures: -1}
	d := NewDispatcher(Config{MessagesPerSecond: 1000}, outbox.NewQueue(), rec.transmit, quietLogger())

	droppedCh := make(chan *outbox.Message, 1)
	d.OnDrop(func(m *outbox.Message) { droppedCh <- m })

	d.Enqueue(msgWithTier("doomed", outbox.TierNormal))
	d.Start()
	defer d.Stop()

	select {
	case m := <-droppedCh:
		assert.Equal(t, "doomed", m.ID)
		assert.Equal(t, 4, m.Retries)
	case <-time.After(2 * time.Second):
		t.Fatal("message was never dropped")
	}
	assert.Zero(t, d.QueueDepth())
	assert.Zero(t, rec.count())
}

func TestOnSentHook(t *testing.T) {
	rec := &wireRecorder{}
	d := NewDispatcher(Config{}, outbox.NewQueue(), rec.transmit, quietLogger())

	sentCh := make(chan *outbox.Message, 1)
	d.OnSent(func(m *outbox.Message) { sentCh <- m })

	d.Enqueue(msgWithTier("ok", outbox.TierCritical))
	d.Start()
	defer d.Stop()

	select {
	case m := <-sentCh:
		assert.Equal(t, "ok", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("sent hook never fired")
	}
}

func TestStopHaltsDraining(t *testing.T) {
	rec := &wireRecorder{}
	d := NewDispatcher(Config{MessagesPerSecond: 1000}, outbox.NewQueue(), rec.transmit, quietLogger())

	d.Start()
	d.Stop()
	d.Stop()

	d.queue.Enqueue(msgWithTier("late", outbox.TierCritical))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())
	assert.Equal(t, 1, d.QueueDepth())
}

func TestStopDropsMessageWaitingOnRateLimiter(t *testing.T) {
	rec := &wireRecorder{}
	d := NewDispatcher(Config{MessagesPerSecond: 1}, outbox.NewQueue(), rec.transmit, quietLogger())

	droppedCh := make(chan *outbox.Message, 1)
	d.OnDrop(func(m *outbox.Message) { droppedCh <- m })

	d.Enqueue(msgWithTier("first", outbox.TierNormal))
	d.Enqueue(msgWithTier("paced", outbox.TierNormal))
	d.Start()

	// The first message sends immediately; the second is dequeued and
	// sits on the 1 msg/s pacer when Stop arrives.
	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, time.Millisecond)
	d.Stop()

	select {
	case m := <-droppedCh:
		assert.Equal(t, "paced", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight message was not dropped on stop")
	}

	// Nothing left for Clear to miss: the message must not reappear in
	// the queue after the drain goroutine exits.
	assert.Zero(t, d.QueueDepth())
	assert.Zero(t, d.Clear())
}

func TestSetRateAppliesToNextSend(t *testing.T) {
	d := NewDispatcher(Config{MessagesPerSecond: 1}, outbox.NewQueue(), func([]byte) error { return nil }, quietLogger())
	d.SetRate(0)
	d.SetRate(-5)
	d.SetRate(500)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 500, d.rate)
}

package batch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataops/relay-client-go/internal/wire"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func frameOfType(t wire.EventType) wire.Frame {
	return wire.Frame{Type: t, ReceivedAt: time.Now()}
}

func TestBurstDrainsInBatchSizedChunks(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 10, FlushInterval: time.Hour, HistorySize: 50}, quietLogger())

	var mu sync.Mutex
	var seen []string
	b.Handle("update", func(f wire.Frame) {
		mu.Lock()
		seen = append(seen, string(f.Data))
		mu.Unlock()
	})

	for i := 0; i < 23; i++ {
		f := frameOfType("update")
		f.Data = []byte(fmt.Sprintf("%d", i))
		b.Ingest(f)
	}

	b.Flush()
	assert.Equal(t, 13, b.PendingLen())
	b.Flush()
	assert.Equal(t, 3, b.PendingLen())
	b.Flush()
	assert.Zero(t, b.PendingLen())

	// All 23 delivered, in arrival order, none dropped.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 23)
	for i, got := range seen {
		assert.Equal(t, fmt.Sprintf("%d", i), got)
	}
}

func TestFlushLoopDelivers(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 5, FlushInterval: 5 * time.Millisecond}, quietLogger())

	got := make(chan wire.Frame, 1)
	b.Handle("state", func(f wire.Frame) { got <- f })

	b.Start()
	defer b.Stop()

	b.Ingest(frameOfType("state"))

	select {
	case f := <-got:
		assert.Equal(t, wire.EventType("state"), f.Type)
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestUnhandledFramesAreCounted(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 10, FlushInterval: time.Hour}, quietLogger())

	var unhandled int
	b.OnUnhandled(func(wire.Frame) { unhandled++ })
	b.Handle("known", func(wire.Frame) {})

	b.Ingest(frameOfType("known"))
	b.Ingest(frameOfType("mystery"))
	b.Flush()

	assert.Equal(t, 1, unhandled)
	assert.Zero(t, b.PendingLen())
}

func TestHandlerReplacementLastWins(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 10, FlushInterval: time.Hour}, quietLogger())

	var first, second int
	b.Handle("evt", func(wire.Frame) { first++ })
	b.Handle("evt", func(wire.Frame) { second++ })

	b.Ingest(frameOfType("evt"))
	b.Flush()

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestHistoryRetainsNewestFrames(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 100, FlushInterval: time.Hour, HistorySize: 3}, quietLogger())

	for i := 0; i < 5; i++ {
		f := frameOfType("evt")
		f.Data = []byte(fmt.Sprintf("%d", i))
		b.Ingest(f)
	}

	hist := b.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "2", string(hist[0].Data))
	assert.Equal(t, "4", string(hist[2].Data))
}

func TestClearDropsPendingAndHistory(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 10, FlushInterval: time.Hour}, quietLogger())
	b.Handle("a", func(wire.Frame) {})
	b.Handle("b", func(wire.Frame) {})

	b.Ingest(frameOfType("a"))
	b.Ingest(frameOfType("b"))

	assert.Equal(t, 2, b.Clear())
	assert.Zero(t, b.PendingLen())
	assert.Empty(t, b.History())
}

func TestUnhandledFramesDoNotConsumeBatchSlots(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 2, FlushInterval: time.Hour, HistorySize: 10}, quietLogger())

	var delivered int
	b.Handle("wanted", func(wire.Frame) { delivered++ })

	// Interleave unregistered frames with wanted ones: only the wanted
	// frames occupy batch slots, all frames land in history.
	b.Ingest(frameOfType("wanted"))
	b.Ingest(frameOfType("noise"))
	b.Ingest(frameOfType("wanted"))
	b.Ingest(frameOfType("noise"))
	b.Ingest(frameOfType("wanted"))

	assert.Equal(t, 3, b.PendingLen())
	require.Len(t, b.History(), 5)

	b.Flush()
	assert.Equal(t, 2, delivered)
	b.Flush()
	assert.Equal(t, 3, delivered)
}

func TestSetBatchSizeNextFlush(t *testing.T) {
	b := NewBatcher(Config{BatchSize: 1, FlushInterval: time.Hour}, quietLogger())

	var delivered int
	b.Handle("evt", func(wire.Frame) { delivered++ })

	for i := 0; i < 4; i++ {
		b.Ingest(frameOfType("evt"))
	}
	b.SetBatchSize(3)
	b.Flush()

	assert.Equal(t, 3, delivered)
	assert.Equal(t, 1, b.PendingLen())
}

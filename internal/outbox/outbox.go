// Package outbox holds pending outgoing messages in a tiered queue drained
// highest tier first, FIFO within a tier.
package outbox

import (
	"encoding/json"
	"sync"
	"time"
)

// Tier is an outgoing message priority. Lower values drain first.
type Tier int

const (
	TierCritical Tier = iota
	TierHigh
	TierNormal
	TierLow

	tierCount
)

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	case TierLow:
		return "low"
	}
	return "normal"
}

// ParseTier maps a wire name to a Tier, defaulting to normal.
func ParseTier(s string) Tier {
	switch s {
	case "critical":
		return TierCritical
	case "high":
		return TierHigh
	case "low":
		return TierLow
	}
	return TierNormal
}

// Message is a pending outgoing message. Payload is the already-marshaled
// business data; the envelope is built at transmit time.
type Message struct {
	ID         string
	Type       string
	Payload    json.RawMessage
	SessionID  string
	Tier       Tier
	EnqueuedAt time.Time
	Retries    int
}

// Queue is a thread-safe priority queue over pending messages. Dequeue
// returns the oldest message of the highest non-empty tier; order within a
// tier is strictly FIFO.
type Queue struct {
	mu    sync.Mutex
	tiers [tierCount][]*Message
	size  int
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends msg to the tail of its tier.
func (q *Queue) Enqueue(msg *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier := msg.Tier
	if tier < TierCritical || tier >= tierCount {
		tier = TierNormal
	}
	q.tiers[tier] = append(q.tiers[tier], msg)
	q.size++
}

// Dequeue removes and returns the next message, or nil when empty.
func (q *Queue) Dequeue() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	for tier := TierCritical; tier < tierCount; tier++ {
		pending := q.tiers[tier]
		if len(pending) == 0 {
			continue
		}
		msg := pending[0]
		pending[0] = nil
		q.tiers[tier] = pending[1:]
		q.size--
		return msg
	}
	return nil
}

// Len returns the total number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Depths returns the pending count per tier keyed by tier name.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := make(map[string]int, tierCount)
	for tier := TierCritical; tier < tierCount; tier++ {
		depths[tier.String()] = len(q.tiers[tier])
	}
	return depths
}

// Clear drops every pending message and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.size
	for tier := range q.tiers {
		q.tiers[tier] = nil
	}
	q.size = 0
	return dropped
}

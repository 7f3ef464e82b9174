package metrics

import (
	"fmt"
	"time"
)

// Report is a self-contained diagnostic summary suitable for logging or
// serving as JSON.
type Report struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Stats           Stats          `json:"stats"`
	QueueDepth      int            `json:"queue_depth"`
	QueueDepths     map[string]int `json:"queue_depths"`
	PendingInbound  int            `json:"pending_inbound"`
	HistoryLen      int            `json:"history_len"`
	AverageLatency  time.Duration  `json:"average_latency"`
	Quality         string         `json:"quality"`
	MemoryBytes     uint64         `json:"memory_bytes"`
	MemoryCeiling   uint64         `json:"memory_ceiling"`
	SendRate        float64        `json:"send_rate"`
	ReceiveRate     float64        `json:"receive_rate"`
	Recommendations []string       `json:"recommendations"`
}

// Thresholds past which a report flags a concern.
const (
	latencyConcern    = 500 * time.Millisecond
	queueDepthConcern = 100
)

// Finalize timestamps the report and derives rates and recommendations.
// Rates are messages per second over the current connection's uptime.
func (r *Report) Finalize() {
	r.GeneratedAt = time.Now()
	if secs := r.Stats.Uptime.Seconds(); secs > 0 {
		r.SendRate = float64(r.Stats.MessagesSent) / secs
		r.ReceiveRate = float64(r.Stats.MessagesReceived) / secs
	}
	r.Recommendations = recommendations(r)
}

func recommendations(r *Report) []string {
	var recs []string
	if r.AverageLatency > latencyConcern {
		recs = append(recs, fmt.Sprintf(
			"average latency %v exceeds %v; check the network path or server load",
			r.AverageLatency.Round(time.Millisecond), latencyConcern))
	}
	if r.QueueDepth > queueDepthConcern {
		recs = append(recs, fmt.Sprintf(
			"outgoing queue depth %d exceeds %d; raise the send rate or reduce message volume",
			r.QueueDepth, queueDepthConcern))
	}
	if r.MemoryCeiling > 0 && r.MemoryBytes > r.MemoryCeiling {
		recs = append(recs, fmt.Sprintf(
			"memory usage %d bytes exceeds the %d byte ceiling; reduce history sizes",
			r.MemoryBytes, r.MemoryCeiling))
	}
	if r.Stats.MessagesDropped > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d messages dropped after send retries; the connection may be unstable",
			r.Stats.MessagesDropped))
	}
	return recs
}

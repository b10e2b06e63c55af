package transport

import (
	"time"

	"go.uber.org/atomic"
)

// Metrics is a point-in-time snapshot of transport activity.
type Metrics struct {
	MessagesSent     uint64  `json:"messages_sent"`
	MessagesReceived uint64  `json:"messages_received"`
	BytesSent        uint64  `json:"bytes_sent"`
	BytesReceived    uint64  `json:"bytes_received"`
	ActiveEndpoints  int     `json:"active_endpoints"`
	Errors           uint64  `json:"errors"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
}

// Tracker accumulates transport counters lock-free so the hot send/receive
// paths never contend on a mutex. Every backend keeps one and folds it into
// Metrics on demand.
type Tracker struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	errors           atomic.Uint64
	latencySumMS     atomic.Float64
	latencyCount     atomic.Uint64
}

// NewTracker creates a zeroed tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordSent counts one outbound message of the given size.
func (t *Tracker) RecordSent(bytes int) {
	t.messagesSent.Inc()
	t.bytesSent.Add(uint64(bytes))
}

// RecordReceived counts one inbound message of the given size.
func (t *Tracker) RecordReceived(bytes int) {
	t.messagesReceived.Inc()
	t.bytesReceived.Add(uint64(bytes))
}

// RecordError counts one failed delivery or undecodable frame.
func (t *Tracker) RecordError() {
	t.errors.Inc()
}

// RecordLatency folds one observed delivery latency into the running average.
// Negative durations, from clock skew between peers, are ignored.
func (t *Tracker) RecordLatency(d time.Duration) {
	if d < 0 {
		return
	}
	t.latencySumMS.Add(float64(d) / float64(time.Millisecond))
	t.latencyCount.Inc()
}

// Snapshot folds the counters into a Metrics value. activeEndpoints is owned
// by the backend's registry and passed in by the caller.
func (t *Tracker) Snapshot(activeEndpoints int) Metrics {
	m := Metrics{
		MessagesSent:     t.messagesSent.Load(),
		MessagesReceived: t.messagesReceived.Load(),
		BytesSent:        t.bytesSent.Load(),
		BytesReceived:    t.bytesReceived.Load(),
		ActiveEndpoints:  activeEndpoints,
		Errors:           t.errors.Load(),
	}
	if n := t.latencyCount.Load(); n > 0 {
		m.AvgLatencyMS = t.latencySumMS.Load() / float64(n)
	}
	return m
}

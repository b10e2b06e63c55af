package gradient

import (
	"go.uber.org/atomic"
)

// Metrics is a point-in-time snapshot of protocol activity. AverageError is
// the mean absolute error across sent gradients; BatchEfficiency is sends
// per accumulated gradient, so small values mean batching is working.
type Metrics struct {
	GradientsSent        uint64  `json:"gradients_sent"`
	GradientsReceived    uint64  `json:"gradients_received"`
	GradientsAccumulated uint64  `json:"gradients_accumulated"`
	ClippingEvents       uint64  `json:"clipping_events"`
	InsignificantDropped uint64  `json:"insignificant_dropped"`
	DecodeFailures       uint64  `json:"decode_failures"`
	AverageError         float32 `json:"average_error"`
	BatchEfficiency      float32 `json:"batch_efficiency"`
}

type metricsTracker struct {
	sent           atomic.Uint64
	received       atomic.Uint64
	accumulated    atomic.Uint64
	clipped        atomic.Uint64
	insignificant  atomic.Uint64
	decodeFailures atomic.Uint64
	totalError     atomic.Float64
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{}
}

func (t *metricsTracker) snapshot() Metrics {
	m := Metrics{
		GradientsSent:        t.sent.Load(),
		GradientsReceived:    t.received.Load(),
		GradientsAccumulated: t.accumulated.Load(),
		ClippingEvents:       t.clipped.Load(),
		InsignificantDropped: t.insignificant.Load(),
		DecodeFailures:       t.decodeFailures.Load(),
	}
	if m.GradientsSent > 0 {
		m.AverageError = float32(t.totalError.Load() / float64(m.GradientsSent))
	}
	if m.GradientsAccumulated > 0 {
		m.BatchEfficiency = float32(m.GradientsSent) / float32(m.GradientsAccumulated)
	}
	return m
}

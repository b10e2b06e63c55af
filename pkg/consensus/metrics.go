package consensus

import (
	"go.uber.org/atomic"
)

// Metrics is a point-in-time snapshot of engine activity.
type Metrics struct {
	ProposalsCreated uint64 `json:"proposals_created"`
	VotesCast        uint64 `json:"votes_cast"`
	ConsensusReached uint64 `json:"consensus_reached"`
	ConsensusFailed  uint64 `json:"consensus_failed"`
	ProposalsExpired uint64 `json:"proposals_expired"`
}

type metricsTracker struct {
	proposalsCreated atomic.Uint64
	votesCast        atomic.Uint64
	consensusReached atomic.Uint64
	consensusFailed  atomic.Uint64
	proposalsExpired atomic.Uint64
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{}
}

func (t *metricsTracker) snapshot() Metrics {
	return Metrics{
		ProposalsCreated: t.proposalsCreated.Load(),
		VotesCast:        t.votesCast.Load(),
		ConsensusReached: t.consensusReached.Load(),
		ConsensusFailed:  t.consensusFailed.Load(),
		ProposalsExpired: t.proposalsExpired.Load(),
	}
}

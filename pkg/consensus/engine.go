package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neuromesh/pkg/transport"
)

const (
	// ProtocolID identifies the consensus protocol in negotiation.
	ProtocolID = "consensus"

	// BroadcastTopic is the shared topic all consensus traffic fans out on.
	BroadcastTopic = "consensus:broadcast"

	// MaxMessageSize caps consensus frames; proposals and tallies are small.
	MaxMessageSize = 100 * 1024

	// DefaultProposalTTL applies when a caller proposes without a TTL.
	DefaultProposalTTL = 60 * time.Second

	// DefaultSweepInterval is how often the expiry sweep runs.
	DefaultSweepInterval = 30 * time.Second

	// DefaultRetention is how long terminal proposals stay queryable after
	// their expiry time before the sweep drops them.
	DefaultRetention = time.Hour
)

// EndpointFor derives a node's point-to-point consensus endpoint.
func EndpointFor(nodeID uuid.UUID) string {
	return "consensus:" + nodeID.String()
}

// Config tunes an Engine. The zero value means SimpleMajority voting, the
// default sweep cadence, and the default retention window.
type Config struct {
	Algorithm Algorithm

	// SweepInterval controls the background expiry sweep. 0 picks
	// DefaultSweepInterval; negative disables the sweep entirely, leaving
	// expiry to the lazy check on vote attempts.
	SweepInterval time.Duration

	// Retention is how long terminal proposals outlive their expiry time.
	// 0 picks DefaultRetention.
	Retention time.Duration
}

// Engine runs one node's view of the consensus protocol: the participant
// set, the proposal table, and the read loops feeding both. All shared state
// sits behind one RWMutex which is never held across a transport call.
type Engine struct {
	nodeID uuid.UUID
	alg    Algorithm
	tr     transport.MessageTransport
	log    zerolog.Logger

	mu           sync.RWMutex
	participants map[uuid.UUID]struct{}
	proposals    map[uuid.UUID]*Proposal
	started      bool
	cancel       context.CancelFunc

	sweepInterval time.Duration
	retention     time.Duration
	metrics       *metricsTracker
	wg            sync.WaitGroup
}

// NewEngine creates a consensus engine for nodeID over tr. The local node is
// always a participant.
func NewEngine(nodeID uuid.UUID, tr transport.MessageTransport, cfg Config, log zerolog.Logger) *Engine {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	e := &Engine{
		nodeID:        nodeID,
		alg:           cfg.Algorithm,
		tr:            tr,
		log:           log.With().Str("component", "consensus").Str("node", nodeID.String()).Logger(),
		participants:  make(map[uuid.UUID]struct{}),
		proposals:     make(map[uuid.UUID]*Proposal),
		sweepInterval: cfg.SweepInterval,
		retention:     cfg.Retention,
		metrics:       newMetricsTracker(),
	}
	e.participants[nodeID] = struct{}{}
	return e
}

// Start subscribes to the broadcast topic and the node's own endpoint, then
// runs the read loops and the expiry sweep until ctx is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.started = true
	e.cancel = cancel
	e.mu.Unlock()

	sub, err := e.tr.Subscribe(runCtx, BroadcastTopic)
	if err != nil {
		e.stop()
		return fmt.Errorf("failed to subscribe to %s: %w", BroadcastTopic, err)
	}
	inbox, err := e.tr.Receive(runCtx, EndpointFor(e.nodeID))
	if err != nil {
		sub.Close()
		e.stop()
		return fmt.Errorf("failed to register consensus endpoint: %w", err)
	}

	e.wg.Add(2)
	go e.readLoop(runCtx, sub, "broadcast")
	go e.readLoop(runCtx, inbox, "direct")
	if e.sweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepLoop(runCtx)
	}

	e.log.Info().Str("algorithm", e.alg.String()).Msg("consensus engine started")
	return nil
}

// Stop cancels the read loops and waits for them to drain.
func (e *Engine) Stop() {
	e.stop()
	e.wg.Wait()
}

func (e *Engine) stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.started = false
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AddParticipant adds a voter to the population.
func (e *Engine) AddParticipant(id uuid.UUID) {
	e.mu.Lock()
	e.participants[id] = struct{}{}
	total := len(e.participants)
	e.mu.Unlock()
	e.log.Debug().Str("participant", id.String()).Int("total", total).Msg("participant added")
}

// RemoveParticipant drops a voter and synchronously re-evaluates every
// pending proposal against the smaller population. A proposal that was below
// threshold can flip to Accepted or Rejected here.
func (e *Engine) RemoveParticipant(id uuid.UUID) {
	e.mu.Lock()
	delete(e.participants, id)
	total := len(e.participants)
	flipped := 0
	if total > 0 {
		for _, p := range e.proposals {
			if p.Status != StatusPending {
				continue
			}
			if e.evaluateLocked(p) != StatusPending {
				flipped++
			}
		}
	}
	e.mu.Unlock()

	e.log.Debug().
		Str("participant", id.String()).
		Int("total", total).
		Int("flipped", flipped).
		Msg("participant removed")
}

// Participants returns the current voting population.
func (e *Engine) Participants() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(e.participants))
	for id := range e.participants {
		ids = append(ids, id)
	}
	return ids
}

// Propose creates a pending proposal owned by this node and broadcasts it.
// A non-positive ttl picks DefaultProposalTTL. The proposal is tracked
// locally even if the broadcast fails.
func (e *Engine) Propose(ctx context.Context, value any, ttl time.Duration) (uuid.UUID, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode proposal value: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultProposalTTL
	}
	p := NewProposal(e.nodeID, raw, ttl)

	e.mu.Lock()
	e.proposals[p.ID] = p
	e.mu.Unlock()
	e.metrics.proposalsCreated.Inc()

	if err := e.broadcast(ctx, NewProposeMessage(p)); err != nil {
		return p.ID, fmt.Errorf("proposal %s stored but not announced: %w", p.ID, err)
	}
	e.log.Info().Str("proposal", p.ID.String()).Dur("ttl", ttl).Msg("proposal created")
	return p.ID, nil
}

// CastVote records this node's vote, broadcasts it, then re-evaluates the
// proposal. When the vote tips the proposal into Accepted, a
// ConsensusReached announcement with the full tally goes out.
//
// The write lock is released before each broadcast and re-acquired after;
// holding it across a transport call risks stalling every reader behind a
// slow network operation.
func (e *Engine) CastVote(ctx context.Context, proposalID uuid.UUID, vote Vote) error {
	now := time.Now().UTC()

	e.mu.Lock()
	p, ok := e.proposals[proposalID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	if p.Status != StatusPending {
		status := p.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrProposalNotPending, proposalID, status)
	}
	if p.Expired(now) {
		p.Status = StatusExpired
		e.metrics.proposalsExpired.Inc()
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalExpired, proposalID)
	}
	p.Votes[e.nodeID] = vote
	e.mu.Unlock()

	e.metrics.votesCast.Inc()
	if err := e.broadcast(ctx, NewVoteMessage(proposalID, e.nodeID, vote)); err != nil {
		return err
	}

	e.mu.Lock()
	var announce *Message
	if p, ok := e.proposals[proposalID]; ok && p.Status == StatusPending {
		if e.evaluateLocked(p) == StatusAccepted {
			announce = NewConsensusReachedMessage(p)
		}
	}
	e.mu.Unlock()

	if announce != nil {
		if err := e.broadcast(ctx, announce); err != nil {
			return err
		}
		e.log.Info().Str("proposal", proposalID.String()).Msg("consensus reached")
	}
	return nil
}

// Proposal returns a copy of one tracked proposal.
func (e *Engine) Proposal(id uuid.UUID) (*Proposal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Proposals returns copies of every tracked proposal.
func (e *Engine) Proposals() []*Proposal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, p.Clone())
	}
	return out
}

// RequestState asks peers for their proposal tables; responses merge in via
// the read loop. Used by late joiners.
func (e *Engine) RequestState(ctx context.Context) error {
	return e.broadcast(ctx, NewStateRequestMessage(e.nodeID))
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() Metrics {
	return e.metrics.snapshot()
}

// HandleMessage applies one inbound wire message. It is exported for
// transports that deliver messages outside the engine's own read loops.
func (e *Engine) HandleMessage(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	switch msg.Type {
	case MessagePropose:
		e.handlePropose(msg)
	case MessageVote:
		e.handleVote(msg)
	case MessageStateRequest:
		return e.handleStateRequest(ctx, msg)
	case MessageStateResponse:
		e.handleStateResponse(msg)
	case MessageConsensusReached:
		e.handleConsensusReached(msg)
	}
	return nil
}

// handlePropose inserts an unknown proposal. The TTL is rebased onto the
// local clock so skewed peers cannot create proposals that are born expired.
func (e *Engine) handlePropose(msg *Message) {
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, known := e.proposals[msg.ProposalID]; known {
		return
	}
	e.proposals[msg.ProposalID] = &Proposal{
		ID:        msg.ProposalID,
		Proposer:  msg.Proposer,
		Value:     msg.Value,
		Votes:     make(map[uuid.UUID]Vote),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(msg.TTLSeconds) * time.Second),
		Status:    StatusPending,
	}
}

// handleVote records a peer's vote and re-evaluates. Votes for unknown or
// finalized proposals are dropped, as are broadcast echoes of this node's
// own votes, which CastVote already recorded.
func (e *Engine) handleVote(msg *Message) {
	if msg.Voter == e.nodeID {
		return
	}

	e.mu.Lock()
	p, ok := e.proposals[msg.ProposalID]
	if ok && p.Status == StatusPending {
		p.Votes[msg.Voter] = msg.Vote
		e.evaluateLocked(p)
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug().Str("proposal", msg.ProposalID.String()).Msg("vote for unknown proposal dropped")
	}
}

// handleStateRequest answers with a snapshot of the proposal table, sent
// point-to-point to the requester.
func (e *Engine) handleStateRequest(ctx context.Context, msg *Message) error {
	if msg.Requester == e.nodeID {
		return nil
	}

	e.mu.RLock()
	snapshot := make([]*Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		snapshot = append(snapshot, p.Clone())
	}
	e.mu.RUnlock()

	response := NewStateResponseMessage(snapshot)
	if err := transport.SendJSON(ctx, e.tr, EndpointFor(msg.Requester), response); err != nil {
		return fmt.Errorf("failed to answer state request from %s: %w", msg.Requester, err)
	}
	return nil
}

// handleStateResponse merges a peer's snapshot: only proposals not already
// tracked are filled in, so local state always wins on conflict.
func (e *Engine) handleStateResponse(msg *Message) {
	merged := 0

	e.mu.Lock()
	for _, p := range msg.Proposals {
		if p == nil || p.ID == uuid.Nil {
			continue
		}
		if _, known := e.proposals[p.ID]; known {
			continue
		}
		clone := p.Clone()
		if clone.Votes == nil {
			clone.Votes = make(map[uuid.UUID]Vote)
		}
		e.proposals[p.ID] = clone
		merged++
	}
	e.mu.Unlock()

	if merged > 0 {
		e.log.Debug().Int("merged", merged).Msg("state response merged")
	}
}

// handleConsensusReached force-accepts a pending proposal on a peer's
// announcement. Terminal statuses stay as they are; a divergent announcement
// is only logged.
func (e *Engine) handleConsensusReached(msg *Message) {
	e.mu.Lock()
	p, ok := e.proposals[msg.ProposalID]
	var conflict Status
	if ok {
		switch p.Status {
		case StatusPending:
			p.Status = StatusAccepted
		case StatusAccepted:
		default:
			conflict = p.Status
		}
	}
	e.mu.Unlock()

	if conflict != StatusPending {
		e.log.Warn().
			Str("proposal", msg.ProposalID.String()).
			Str("local_status", conflict.String()).
			Msg("consensus announcement conflicts with local terminal status")
	}
}

// evaluateLocked applies threshold arithmetic to a pending proposal. The
// caller holds the write lock. With zero participants nothing is decided.
func (e *Engine) evaluateLocked(p *Proposal) Status {
	total := len(e.participants)
	if p.Status != StatusPending || total == 0 {
		return p.Status
	}
	accepts, rejects, _ := p.Tally()
	required := e.alg.RequiredVotes(total)
	switch {
	case accepts >= required:
		p.Status = StatusAccepted
		e.metrics.consensusReached.Inc()
	case rejects > total-required:
		// Acceptance is mathematically impossible now.
		p.Status = StatusRejected
		e.metrics.consensusFailed.Inc()
	}
	return p.Status
}

func (e *Engine) broadcast(ctx context.Context, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := e.tr.Publish(ctx, BroadcastTopic, data); err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", msg.Type, err)
	}
	return nil
}

func (e *Engine) readLoop(ctx context.Context, r *transport.Receiver, source string) {
	defer e.wg.Done()
	defer r.Close()
	for {
		data, err := r.Recv(ctx)
		if err != nil {
			return
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			e.log.Warn().Err(err).Str("source", source).Msg("discarding undecodable consensus message")
			continue
		}
		if err := e.HandleMessage(ctx, msg); err != nil {
			e.log.Warn().Err(err).Str("type", msg.Type.String()).Msg("consensus message failed")
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(time.Now().UTC())
		}
	}
}

// sweep marks overdue pending proposals Expired and drops terminal proposals
// whose expiry time is older than the retention window.
func (e *Engine) sweep(now time.Time) (expired, pruned int) {
	e.mu.Lock()
	for id, p := range e.proposals {
		switch {
		case p.Status == StatusPending && p.Expired(now):
			p.Status = StatusExpired
			e.metrics.proposalsExpired.Inc()
			expired++
		case p.Status.Terminal() && now.Sub(p.ExpiresAt) > e.retention:
			delete(e.proposals, id)
			pruned++
		}
	}
	e.mu.Unlock()

	if expired > 0 || pruned > 0 {
		e.log.Debug().Int("expired", expired).Int("pruned", pruned).Msg("proposal sweep")
	}
	return expired, pruned
}

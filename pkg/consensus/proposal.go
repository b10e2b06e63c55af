package consensus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Vote is one participant's position on a proposal.
type Vote uint8

const (
	VoteAccept Vote = iota
	VoteReject
	VoteAbstain
)

// String returns the wire name of the vote.
func (v Vote) String() string {
	switch v {
	case VoteAccept:
		return "accept"
	case VoteReject:
		return "reject"
	case VoteAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Vote) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Vote) UnmarshalText(text []byte) error {
	switch string(text) {
	case "accept":
		*v = VoteAccept
	case "reject":
		*v = VoteReject
	case "abstain":
		*v = VoteAbstain
	default:
		return fmt.Errorf("unknown vote %q", text)
	}
	return nil
}

// Status is a proposal's lifecycle state. Transitions run one way only:
// Pending can become Accepted, Rejected, or Expired; terminal states never
// revert.
type Status uint8

const (
	StatusPending Status = iota
	StatusAccepted
	StatusRejected
	StatusExpired
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "accepted":
		*s = StatusAccepted
	case "rejected":
		*s = StatusRejected
	case "expired":
		*s = StatusExpired
	default:
		return fmt.Errorf("unknown proposal status %q", text)
	}
	return nil
}

// Proposal is one value put to a vote. Votes is keyed by voter identity, so
// a voter who changes their mind overwrites rather than double-counts.
type Proposal struct {
	ID        uuid.UUID          `json:"id"`
	Proposer  uuid.UUID          `json:"proposer"`
	Value     json.RawMessage    `json:"value"`
	Votes     map[uuid.UUID]Vote `json:"votes"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	Status    Status             `json:"status"`
}

// NewProposal creates a pending proposal owned by proposer, expiring after
// ttl.
func NewProposal(proposer uuid.UUID, value json.RawMessage, ttl time.Duration) *Proposal {
	now := time.Now().UTC()
	return &Proposal{
		ID:        uuid.New(),
		Proposer:  proposer,
		Value:     value,
		Votes:     make(map[uuid.UUID]Vote),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    StatusPending,
	}
}

// Expired reports whether now is past the proposal's TTL.
func (p *Proposal) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Tally counts the recorded votes. Abstentions tally separately; they count
// toward the participant population but never toward accept or reject.
func (p *Proposal) Tally() (accepts, rejects, abstains int) {
	for _, v := range p.Votes {
		switch v {
		case VoteAccept:
			accepts++
		case VoteReject:
			rejects++
		case VoteAbstain:
			abstains++
		}
	}
	return
}

// Clone returns a deep copy safe to hand outside the engine's lock.
func (p *Proposal) Clone() *Proposal {
	votes := make(map[uuid.UUID]Vote, len(p.Votes))
	for voter, v := range p.Votes {
		votes[voter] = v
	}
	value := make(json.RawMessage, len(p.Value))
	copy(value, p.Value)
	clone := *p
	clone.Votes = votes
	clone.Value = value
	return &clone
}

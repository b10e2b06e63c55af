package consensus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the consensus wire messages.
type MessageType uint8

const (
	MessagePropose MessageType = iota
	MessageVote
	MessageStateRequest
	MessageStateResponse
	MessageConsensusReached
)

// String returns the wire tag of the message type.
func (t MessageType) String() string {
	switch t {
	case MessagePropose:
		return "propose"
	case MessageVote:
		return "vote"
	case MessageStateRequest:
		return "state_request"
	case MessageStateResponse:
		return "state_response"
	case MessageConsensusReached:
		return "consensus_reached"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MessageType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "propose":
		*t = MessagePropose
	case "vote":
		*t = MessageVote
	case "state_request":
		*t = MessageStateRequest
	case "state_response":
		*t = MessageStateResponse
	case "consensus_reached":
		*t = MessageConsensusReached
	default:
		return fmt.Errorf("unknown consensus message type %q", text)
	}
	return nil
}

// Message is the single consensus wire format: an explicit type tag plus the
// fields that tag uses. Receivers dispatch on Type in one switch.
type Message struct {
	Type       MessageType        `json:"type"`
	ProposalID uuid.UUID          `json:"proposal_id"`
	Proposer   uuid.UUID          `json:"proposer"`
	Value      json.RawMessage    `json:"value,omitempty"`
	TTLSeconds int64              `json:"ttl_seconds,omitempty"`
	Voter      uuid.UUID          `json:"voter"`
	Vote       Vote               `json:"vote"`
	Requester  uuid.UUID          `json:"requester"`
	Proposals  []*Proposal        `json:"proposals,omitempty"`
	Votes      map[uuid.UUID]Vote `json:"votes,omitempty"`
}

// NewProposeMessage announces a fresh proposal. TTL travels as a relative
// duration so receivers expire against their own clock.
func NewProposeMessage(p *Proposal) *Message {
	return &Message{
		Type:       MessagePropose,
		ProposalID: p.ID,
		Proposer:   p.Proposer,
		Value:      p.Value,
		TTLSeconds: int64(p.ExpiresAt.Sub(p.CreatedAt) / time.Second),
	}
}

// NewVoteMessage carries one voter's position on a proposal.
func NewVoteMessage(proposalID, voter uuid.UUID, vote Vote) *Message {
	return &Message{
		Type:       MessageVote,
		ProposalID: proposalID,
		Voter:      voter,
		Vote:       vote,
	}
}

// NewStateRequestMessage asks peers for their proposal tables.
func NewStateRequestMessage(requester uuid.UUID) *Message {
	return &Message{
		Type:      MessageStateRequest,
		Requester: requester,
	}
}

// NewStateResponseMessage returns a snapshot of tracked proposals.
func NewStateResponseMessage(proposals []*Proposal) *Message {
	return &Message{
		Type:      MessageStateResponse,
		Proposals: proposals,
	}
}

// NewConsensusReachedMessage announces local acceptance, carrying the agreed
// value and the full tally that produced it.
func NewConsensusReachedMessage(p *Proposal) *Message {
	votes := make(map[uuid.UUID]Vote, len(p.Votes))
	for voter, v := range p.Votes {
		votes[voter] = v
	}
	return &Message{
		Type:       MessageConsensusReached,
		ProposalID: p.ID,
		Value:      p.Value,
		Votes:      votes,
	}
}

// Validate checks the fields the message type requires.
func (m *Message) Validate() error {
	switch m.Type {
	case MessagePropose:
		if m.ProposalID == uuid.Nil {
			return fmt.Errorf("propose message missing proposal id")
		}
		if m.Proposer == uuid.Nil {
			return fmt.Errorf("propose message missing proposer")
		}
		if len(m.Value) == 0 {
			return fmt.Errorf("propose message missing value")
		}
		if m.TTLSeconds <= 0 {
			return fmt.Errorf("propose message has non-positive ttl %d", m.TTLSeconds)
		}
	case MessageVote:
		if m.ProposalID == uuid.Nil {
			return fmt.Errorf("vote message missing proposal id")
		}
		if m.Voter == uuid.Nil {
			return fmt.Errorf("vote message missing voter")
		}
		if m.Vote > VoteAbstain {
			return fmt.Errorf("vote message has unknown vote %d", m.Vote)
		}
	case MessageStateRequest:
		if m.Requester == uuid.Nil {
			return fmt.Errorf("state request missing requester")
		}
	case MessageStateResponse:
		// An empty proposal set is a valid response.
	case MessageConsensusReached:
		if m.ProposalID == uuid.Nil {
			return fmt.Errorf("consensus reached message missing proposal id")
		}
	default:
		return fmt.Errorf("unknown consensus message type %d", m.Type)
	}
	return nil
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// DecodeMessage parses and validates one wire message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode consensus message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAgreementTTL bounds how long a negotiated agreement stays valid
// before the peers must renegotiate.
const DefaultAgreementTTL = 24 * time.Hour

// Agreement records the outcome of one peer negotiation for one protocol.
type Agreement struct {
	SessionID  uuid.UUID  `json:"session_id"`
	PeerID     string     `json:"peer_id"`
	ProtocolID string     `json:"protocol_id"`
	Negotiated Negotiated `json:"negotiated"`
	CreatedAt  time.Time  `json:"created_at"`
	ValidUntil time.Time  `json:"valid_until"`
}

// Expired reports whether the agreement's validity window has passed.
func (a *Agreement) Expired(now time.Time) bool {
	return now.After(a.ValidUntil)
}

// Registry tracks the protocols a node speaks and the agreements it has
// negotiated with peers. It also carries the migration table used to accept
// payloads from peers on older compatible versions.
type Registry struct {
	mu         sync.RWMutex
	protocols  map[string]Protocol
	agreements map[string]map[string]*Agreement
	migrations *MigrationRegistry
	ttl        time.Duration
	log        zerolog.Logger
}

// NewRegistry creates an empty registry. The logger may be zerolog.Nop().
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		protocols:  make(map[string]Protocol),
		agreements: make(map[string]map[string]*Agreement),
		migrations: NewMigrationRegistry(),
		ttl:        DefaultAgreementTTL,
		log:        log.With().Str("component", "protocol-registry").Logger(),
	}
}

// SetAgreementTTL overrides the validity window for future agreements.
func (r *Registry) SetAgreementTTL(ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ttl > 0 {
		r.ttl = ttl
	}
}

// Register adds a protocol. Registering the same ID twice fails.
func (r *Registry) Register(p Protocol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.protocols[p.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrProtocolExists, p.ID())
	}
	r.protocols[p.ID()] = p
	r.log.Info().Str("protocol", p.ID()).Str("version", p.Version().String()).Msg("protocol registered")
	return nil
}

// Get looks a protocol up by ID.
func (r *Registry) Get(id string) (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[id]
	return p, ok
}

// Protocols lists the registered protocol IDs.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.protocols))
	for id := range r.protocols {
		ids = append(ids, id)
	}
	return ids
}

// Migrations exposes the migration table for registration at startup.
func (r *Registry) Migrations() *MigrationRegistry {
	return r.migrations
}

// NegotiateWith runs the protocol's negotiation against a peer advertisement
// and records the agreement, replacing any previous one with that peer.
func (r *Registry) NegotiateWith(peerID, protocolID string, peer Capabilities) (*Agreement, error) {
	p, ok := r.Get(protocolID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, protocolID)
	}
	negotiated, err := p.Negotiate(peer)
	if err != nil {
		return nil, fmt.Errorf("negotiation with %s for %s failed: %w", peerID, protocolID, err)
	}

	now := time.Now().UTC()
	r.mu.Lock()
	agreement := &Agreement{
		SessionID:  uuid.New(),
		PeerID:     peerID,
		ProtocolID: protocolID,
		Negotiated: negotiated,
		CreatedAt:  now,
		ValidUntil: now.Add(r.ttl),
	}
	if r.agreements[peerID] == nil {
		r.agreements[peerID] = make(map[string]*Agreement)
	}
	r.agreements[peerID][protocolID] = agreement
	r.mu.Unlock()

	r.log.Info().
		Str("peer", peerID).
		Str("protocol", protocolID).
		Str("compression", negotiated.Compression.String()).
		Str("encryption", negotiated.Encryption.String()).
		Int("max_message_size", negotiated.MaxMessageSize).
		Msg("negotiated with peer")
	return agreement, nil
}

// AgreementFor returns the live agreement with a peer for a protocol, if one
// exists and has not expired.
func (r *Registry) AgreementFor(peerID, protocolID string) (*Agreement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agreements[peerID][protocolID]
	if !ok || a.Expired(time.Now().UTC()) {
		return nil, false
	}
	return a, true
}

// Agreements returns every agreement still inside its validity window.
func (r *Registry) Agreements() []*Agreement {
	now := time.Now().UTC()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Agreement
	for _, byProtocol := range r.agreements {
		for _, a := range byProtocol {
			if !a.Expired(now) {
				active = append(active, a)
			}
		}
	}
	return active
}

// SweepExpired drops agreements past their validity window and returns how
// many were removed.
func (r *Registry) SweepExpired() int {
	now := time.Now().UTC()
	removed := 0

	r.mu.Lock()
	for peerID, byProtocol := range r.agreements {
		for protocolID, a := range byProtocol {
			if a.Expired(now) {
				delete(byProtocol, protocolID)
				removed++
			}
		}
		if len(byProtocol) == 0 {
			delete(r.agreements, peerID)
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.log.Debug().Int("removed", removed).Msg("expired agreements swept")
	}
	return removed
}

// EncodeVersioned wraps a payload with the registered protocol's current
// version.
func (r *Registry) EncodeVersioned(protocolID string, payload []byte) ([]byte, error) {
	p, ok := r.Get(protocolID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, protocolID)
	}
	msg := &VersionedMessage{
		Version:    p.Version(),
		ProtocolID: protocolID,
		Payload:    payload,
	}
	return msg.Encode()
}

// DecodeVersioned unwraps a versioned payload, migrating it up to the
// registered protocol's current version when the sender was older.
func (r *Registry) DecodeVersioned(data []byte) (Protocol, []byte, error) {
	msg, err := DecodeVersionedMessage(data)
	if err != nil {
		return nil, nil, err
	}
	p, ok := r.Get(msg.ProtocolID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, msg.ProtocolID)
	}
	payload, err := r.migrations.Migrate(msg.ProtocolID, msg.Version, p.Version(), msg.Payload)
	if err != nil {
		return nil, nil, err
	}
	return p, payload, nil
}

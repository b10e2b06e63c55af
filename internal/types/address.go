package types

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// ValidateListenAddress checks one listener multiaddr.
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if _, err := multiaddr.NewMultiaddr(addr); err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}
	return nil
}

// Validate checks the peer entry: NodeID must be a UUID and Address a
// multiaddr ending in a /p2p component that names the peer.
func (p *PeerConfig) Validate() error {
	if p.NodeID == "" {
		return fmt.Errorf("node_id cannot be empty")
	}
	if _, err := uuid.Parse(p.NodeID); err != nil {
		return fmt.Errorf("invalid node_id %q: %w", p.NodeID, err)
	}
	if p.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	addr, err := multiaddr.NewMultiaddr(p.Address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", p.Address, err)
	}
	if _, err := peer.AddrInfoFromP2pAddr(addr); err != nil {
		return fmt.Errorf("address %q must carry a /p2p peer id: %w", p.Address, err)
	}
	return nil
}

// PeerID extracts the libp2p peer id from the address.
func (p *PeerConfig) PeerID() (peer.ID, error) {
	addr, err := multiaddr.NewMultiaddr(p.Address)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", p.Address, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("address %q must carry a /p2p peer id: %w", p.Address, err)
	}
	return info.ID, nil
}

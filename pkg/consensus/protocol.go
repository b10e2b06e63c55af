package consensus

import (
	"neuromesh/pkg/protocol"
)

// The engine satisfies protocol.Protocol so it can take part in capability
// negotiation alongside the other node protocols.
var _ protocol.Protocol = (*Engine)(nil)

// ID returns the protocol identity.
func (e *Engine) ID() string {
	return ProtocolID
}

// Version returns the protocol version.
func (e *Engine) Version() protocol.Version {
	return protocol.NewVersion(1, 0, 0)
}

// Capabilities advertises what consensus traffic needs from a channel:
// small, ordered, bidirectional frames, optionally TLS.
func (e *Engine) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Compression:     []protocol.Compression{protocol.CompressionNone},
		Encryption:      []protocol.Encryption{protocol.EncryptionNone, protocol.EncryptionTLS},
		MaxMessageSize:  MaxMessageSize,
		Streaming:       false,
		Bidirectional:   true,
		OrderedDelivery: true,
	}
}

// Negotiate prefers TLS when the peer offers it; vote tallies are worth
// protecting. Compression stays off, the frames are tiny.
func (e *Engine) Negotiate(peer protocol.Capabilities) (protocol.Negotiated, error) {
	caps := e.Capabilities()
	return protocol.Negotiated{
		Version:        e.Version(),
		Compression:    protocol.CompressionNone,
		Encryption:     protocol.ChooseEncryption([]protocol.Encryption{protocol.EncryptionTLS}, caps, peer),
		MaxMessageSize: protocol.NegotiateMessageSize(caps.MaxMessageSize, peer.MaxMessageSize),
	}, nil
}

// Encode rejects the generic escape hatch; consensus has a specialized
// message API.
func (e *Engine) Encode(string, []byte) ([]byte, error) {
	return nil, protocol.ErrUnsupportedOperation
}

// Decode rejects the generic escape hatch; consensus has a specialized
// message API.
func (e *Engine) Decode([]byte) (string, []byte, error) {
	return "", nil, protocol.ErrUnsupportedOperation
}

package gradient

import (
	"neuromesh/pkg/protocol"
)

// The gradient protocol satisfies protocol.Protocol so it can take part in
// capability negotiation alongside the other node protocols.
var _ protocol.Protocol = (*Protocol)(nil)

// ID returns the protocol identity.
func (p *Protocol) ID() string {
	return ProtocolID
}

// Version returns the protocol version.
func (p *Protocol) Version() protocol.Version {
	return protocol.NewVersion(1, 0, 0)
}

// Capabilities advertises what gradient traffic needs from a channel: large
// ordered frames with every codec on offer.
func (p *Protocol) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Compression: []protocol.Compression{
			protocol.CompressionNone,
			protocol.CompressionGzip,
			protocol.CompressionZstd,
		},
		Encryption:      []protocol.Encryption{protocol.EncryptionNone, protocol.EncryptionTLS},
		MaxMessageSize:  MaxMessageSize,
		Streaming:       false,
		Bidirectional:   true,
		OrderedDelivery: true,
	}
}

// Negotiate prefers the strongest codec the peer shares; direction vectors
// are long runs of floats that compress well. Encryption stays off.
func (p *Protocol) Negotiate(peer protocol.Capabilities) (protocol.Negotiated, error) {
	caps := p.Capabilities()
	prefs := []protocol.Compression{protocol.CompressionZstd, protocol.CompressionGzip}
	return protocol.Negotiated{
		Version:        p.Version(),
		Compression:    protocol.ChooseCompression(prefs, caps, peer),
		Encryption:     protocol.EncryptionNone,
		MaxMessageSize: protocol.NegotiateMessageSize(caps.MaxMessageSize, peer.MaxMessageSize),
	}, nil
}

// Encode rejects the generic escape hatch; gradients go through
// SendGradient.
func (p *Protocol) Encode(string, []byte) ([]byte, error) {
	return nil, protocol.ErrUnsupportedOperation
}

// Decode rejects the generic escape hatch; gradients arrive through
// Receive.
func (p *Protocol) Decode([]byte) (string, []byte, error) {
	return "", nil, protocol.ErrUnsupportedOperation
}

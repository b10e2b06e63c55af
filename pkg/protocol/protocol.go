// Package protocol defines the contract shared by every node protocol:
// identity, semantic versioning, capability advertisement, and the
// negotiation handshake that picks a mutually supported compression,
// encryption, and message-size limit. It also owns the compression codecs
// and a registry tracking per-peer negotiation agreements.
package protocol

import (
	"fmt"
)

// Compression identifies a payload compression algorithm.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// String returns the wire name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// MarshalText implements encoding.TextMarshaler so capabilities serialize
// with readable names.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*c = CompressionNone
	case "gzip":
		*c = CompressionGzip
	case "zstd":
		*c = CompressionZstd
	default:
		return fmt.Errorf("unknown compression algorithm %q", text)
	}
	return nil
}

// Encryption identifies a channel encryption scheme.
type Encryption uint8

const (
	EncryptionNone Encryption = iota
	EncryptionTLS
)

// String returns the wire name of the scheme.
func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionTLS:
		return "tls"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Encryption) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Encryption) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*e = EncryptionNone
	case "tls":
		*e = EncryptionTLS
	default:
		return fmt.Errorf("unknown encryption scheme %q", text)
	}
	return nil
}

// Capabilities is a protocol's advertisement: what it can speak and what it
// requires from the channel.
type Capabilities struct {
	Compression     []Compression `json:"compression"`
	Encryption      []Encryption  `json:"encryption"`
	MaxMessageSize  int           `json:"max_message_size"`
	Streaming       bool          `json:"streaming"`
	Bidirectional   bool          `json:"bidirectional"`
	OrderedDelivery bool          `json:"ordered_delivery"`
}

// SupportsCompression reports whether alg appears in the advertisement.
func (c Capabilities) SupportsCompression(alg Compression) bool {
	for _, have := range c.Compression {
		if have == alg {
			return true
		}
	}
	return false
}

// SupportsEncryption reports whether scheme appears in the advertisement.
func (c Capabilities) SupportsEncryption(scheme Encryption) bool {
	for _, have := range c.Encryption {
		if have == scheme {
			return true
		}
	}
	return false
}

// Negotiated is the outcome of a capability handshake. Every field is a
// member of both peers' advertisements.
type Negotiated struct {
	Version        Version     `json:"version"`
	Compression    Compression `json:"compression"`
	Encryption     Encryption  `json:"encryption"`
	MaxMessageSize int         `json:"max_message_size"`
}

// Protocol is implemented by every protocol riding on the transport.
type Protocol interface {
	// ID returns the protocol's stable string identity.
	ID() string

	// Version returns the protocol's semantic version.
	Version() Version

	// Capabilities returns the protocol's advertisement.
	Capabilities() Capabilities

	// Negotiate intersects the local advertisement with the peer's and
	// picks the most capable common options. Missing options degrade
	// silently to none/unencrypted; negotiation itself never fails.
	Negotiate(peer Capabilities) (Negotiated, error)

	// Encode and Decode are generic escape hatches for protocols without a
	// specialized message API. Protocols that have one reject these with
	// ErrUnsupportedOperation.
	Encode(kind string, payload []byte) ([]byte, error)
	Decode(data []byte) (kind string, payload []byte, err error)
}

// ChooseCompression returns the first algorithm from prefs supported by both
// advertisements, falling back to CompressionNone.
func ChooseCompression(prefs []Compression, local, peer Capabilities) Compression {
	for _, alg := range prefs {
		if alg == CompressionNone {
			break
		}
		if local.SupportsCompression(alg) && peer.SupportsCompression(alg) {
			return alg
		}
	}
	return CompressionNone
}

// ChooseEncryption returns the first scheme from prefs supported by both
// advertisements, falling back to EncryptionNone.
func ChooseEncryption(prefs []Encryption, local, peer Capabilities) Encryption {
	for _, scheme := range prefs {
		if scheme == EncryptionNone {
			break
		}
		if local.SupportsEncryption(scheme) && peer.SupportsEncryption(scheme) {
			return scheme
		}
	}
	return EncryptionNone
}

// NegotiateMessageSize returns the stricter of the two advertised limits.
// A non-positive limit means the peer did not constrain it.
func NegotiateMessageSize(local, peer int) int {
	switch {
	case local <= 0:
		return peer
	case peer <= 0:
		return local
	case peer < local:
		return peer
	default:
		return local
	}
}

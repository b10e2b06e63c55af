// Package keys manages the node's Ed25519 identity material: generation,
// validation, and conversion into the libp2p key type the host needs.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyManager handles cryptographic key operations
type KeyManager struct{}

// NewKeyManager creates a new KeyManager instance
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// GeneratePrivateKey generates a new Ed25519 private key and returns it as base64
func (km *KeyManager) GeneratePrivateKey() (string, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate Ed25519 key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(privateKey), nil
}

// ValidatePrivateKey validates that a private key string is valid base64 and correct length
func (km *KeyManager) ValidatePrivateKey(privateKeyBase64 string) error {
	if privateKeyBase64 == "" {
		return nil // Empty is valid - will be generated
	}

	if _, err := decodePrivateKey(privateKeyBase64); err != nil {
		return err
	}
	return nil
}

// GetPublicKey derives the public key from a private key
func (km *KeyManager) GetPublicKey(privateKeyBase64 string) (string, error) {
	privateKey, err := decodePrivateKey(privateKeyBase64)
	if err != nil {
		return "", err
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(publicKey), nil
}

// Libp2pPrivateKey converts a base64 Ed25519 private key into the libp2p key
// type used as the host identity.
func Libp2pPrivateKey(privateKeyBase64 string) (crypto.PrivKey, error) {
	if privateKeyBase64 == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	privateKey, err := decodePrivateKey(privateKeyBase64)
	if err != nil {
		return nil, err
	}

	libp2pKey, err := crypto.UnmarshalEd25519PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal Ed25519 private key: %w", err)
	}
	return libp2pKey, nil
}

// PeerID derives the libp2p peer id a host with this private key would have.
func PeerID(privateKeyBase64 string) (peer.ID, error) {
	libp2pKey, err := Libp2pPrivateKey(privateKeyBase64)
	if err != nil {
		return "", err
	}

	id, err := peer.IDFromPrivateKey(libp2pKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive peer id: %w", err)
	}
	return id, nil
}

func decodePrivateKey(privateKeyBase64 string) (ed25519.PrivateKey, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("private key must be valid base64: %w", err)
	}

	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}

	return ed25519.PrivateKey(keyBytes), nil
}

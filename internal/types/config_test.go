package types

import (
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testPeerAddress(t *testing.T) (string, peer.ID) {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return fmt.Sprintf("/ip4/127.0.0.1/tcp/9000/p2p/%s", id), id
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "1m30s\n", string(out))

	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("1h30m"), &d))
	assert.Equal(t, 90*time.Minute, time.Duration(d))
}

func TestDurationRejectsMalformedValues(t *testing.T) {
	var d Duration
	assert.Error(t, yaml.Unmarshal([]byte("banana"), &d))
	assert.Error(t, yaml.Unmarshal([]byte(`"10"`), &d))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.Node.ID)
	assert.Empty(t, cfg.Node.PrivateKey)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/9000"}, cfg.Network.Addresses)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Network.ConnectionTimeout))
	assert.Equal(t, "simple-majority", cfg.Consensus.Algorithm)
	assert.InDelta(t, 0.75, cfg.Consensus.QuorumThreshold, 1e-9)
	assert.Equal(t, time.Minute, time.Duration(cfg.Consensus.ProposalTTL))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Consensus.SweepInterval))
	assert.Equal(t, time.Hour, time.Duration(cfg.Consensus.Retention))
	assert.Equal(t, 32, cfg.Gradient.BatchSize)
	assert.True(t, cfg.Gradient.AutoFlush)
	assert.InDelta(t, 5.0, cfg.Gradient.MaxNorm, 1e-9)
	assert.True(t, cfg.Protocol.EnableCompression)
	assert.False(t, cfg.Protocol.EnableEncryption)
	assert.Equal(t, 10*1024*1024, cfg.Protocol.MaxMessageSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigUnmarshalOverDefaults(t *testing.T) {
	raw := `
consensus:
  algorithm: byzantine
  proposal_ttl: 2m
gradient:
  auto_flush: false
`
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(raw), cfg))

	assert.Equal(t, "byzantine", cfg.Consensus.Algorithm)
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.Consensus.ProposalTTL))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Consensus.SweepInterval))
	assert.False(t, cfg.Gradient.AutoFlush)
	assert.Equal(t, 32, cfg.Gradient.BatchSize)
}

func TestPeerConfigValidate(t *testing.T) {
	addr, _ := testPeerAddress(t)

	valid := PeerConfig{NodeID: uuid.NewString(), Address: addr}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		peer PeerConfig
	}{
		{"empty node id", PeerConfig{Address: addr}},
		{"malformed node id", PeerConfig{NodeID: "not-a-uuid", Address: addr}},
		{"empty address", PeerConfig{NodeID: uuid.NewString()}},
		{"malformed address", PeerConfig{NodeID: uuid.NewString(), Address: "127.0.0.1:9000"}},
		{"missing p2p component", PeerConfig{NodeID: uuid.NewString(), Address: "/ip4/127.0.0.1/tcp/9000"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.peer.Validate())
		})
	}
}

func TestPeerConfigPeerID(t *testing.T) {
	addr, id := testPeerAddress(t)
	p := PeerConfig{NodeID: uuid.NewString(), Address: addr}

	got, err := p.PeerID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestValidateListenAddress(t *testing.T) {
	assert.NoError(t, ValidateListenAddress("/ip4/0.0.0.0/tcp/9000"))
	assert.NoError(t, ValidateListenAddress("/ip6/::/tcp/9000"))
	assert.Error(t, ValidateListenAddress(""))
	assert.Error(t, ValidateListenAddress("localhost:9000"))
}

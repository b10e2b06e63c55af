package network

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuromesh/internal/types"
	"neuromesh/pkg/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := NewHost(&types.NetworkConfig{
		Addresses: []string{"/ip4/127.0.0.1/tcp/0"},
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func newTestTransport(t *testing.T, h *Host) *Transport {
	t.Helper()
	tr := NewTransport(h, 0, zerolog.Nop())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func p2pAddr(t *testing.T, h *Host) multiaddr.Multiaddr {
	t.Helper()
	addrs := h.Addrs()
	require.NotEmpty(t, addrs)
	full, err := multiaddr.NewMultiaddr(fmt.Sprintf("%s/p2p/%s", addrs[0], h.ID()))
	require.NoError(t, err)
	return full
}

func TestSendAcrossHosts(t *testing.T) {
	ctx := testContext(t)
	hostA, hostB := newTestHost(t), newTestHost(t)
	trA, trB := newTestTransport(t, hostA), newTestTransport(t, hostB)

	rcv, err := trB.Receive(ctx, "consensus:node-b")
	require.NoError(t, err)

	id, err := hostA.AddPeer(p2pAddr(t, hostB))
	require.NoError(t, err)
	require.Equal(t, hostB.ID(), id)
	trA.AddRoute("consensus:node-b", id)

	require.NoError(t, trA.Send(ctx, "consensus:node-b", []byte("hello")))

	data, err := rcv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	assert.Equal(t, uint64(1), trA.Metrics().MessagesSent)
	require.Eventually(t, func() bool {
		return trB.Metrics().MessagesReceived == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendPreservesOrderPerPeer(t *testing.T) {
	ctx := testContext(t)
	hostA, hostB := newTestHost(t), newTestHost(t)
	trA, trB := newTestTransport(t, hostA), newTestTransport(t, hostB)

	rcv, err := trB.Receive(ctx, "neuron:node-b:gradient")
	require.NoError(t, err)

	id, err := hostA.AddPeer(p2pAddr(t, hostB))
	require.NoError(t, err)
	trA.AddRoute("neuron:node-b:gradient", id)

	const n = 25
	for i := 0; i < n; i++ {
		require.NoError(t, trA.Send(ctx, "neuron:node-b:gradient", []byte(fmt.Sprintf("msg-%02d", i))))
	}
	for i := 0; i < n; i++ {
		data, err := rcv.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%02d", i), string(data))
	}
}

func TestSendLocalEndpointBypassesNetwork(t *testing.T) {
	ctx := testContext(t)
	host := newTestHost(t)
	tr := newTestTransport(t, host)

	rcv, err := tr.Receive(ctx, "consensus:self")
	require.NoError(t, err)

	require.NoError(t, tr.Send(ctx, "consensus:self", []byte("loopback")))

	data, err := rcv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("loopback"), data)

	m := tr.Metrics()
	assert.Equal(t, uint64(1), m.MessagesSent)
	assert.Equal(t, uint64(1), m.MessagesReceived)
}

func TestSendUnroutedDestination(t *testing.T) {
	ctx := testContext(t)
	host := newTestHost(t)
	tr := newTestTransport(t, host)

	err := tr.Send(ctx, "consensus:nowhere", []byte("lost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnknownDestination)
	assert.Equal(t, uint64(1), tr.Metrics().Errors)
}

func TestPublishReachesLocalAndRemoteSubscribers(t *testing.T) {
	ctx := testContext(t)
	hostA, hostB := newTestHost(t), newTestHost(t)
	trA, trB := newTestTransport(t, hostA), newTestTransport(t, hostB)

	localSub, err := trA.Subscribe(ctx, "consensus:broadcast")
	require.NoError(t, err)
	remoteSub, err := trB.Subscribe(ctx, "consensus:broadcast")
	require.NoError(t, err)

	id, err := hostA.AddPeer(p2pAddr(t, hostB))
	require.NoError(t, err)
	trA.AddRoute("consensus:node-b", id)

	require.NoError(t, trA.Publish(ctx, "consensus:broadcast", []byte("announcement")))

	data, err := localSub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("announcement"), data)

	data, err = remoteSub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("announcement"), data)
}

func TestPublishWithoutRemoteSubscribersDropsSilently(t *testing.T) {
	ctx := testContext(t)
	hostA, hostB := newTestHost(t), newTestHost(t)
	trA, trB := newTestTransport(t, hostA), newTestTransport(t, hostB)

	id, err := hostA.AddPeer(p2pAddr(t, hostB))
	require.NoError(t, err)
	trA.AddRoute("consensus:node-b", id)

	// nobody subscribes anywhere; the envelope still travels and is dropped
	require.NoError(t, trA.Publish(ctx, "consensus:broadcast", []byte("into the void")))

	require.Eventually(t, func() bool {
		return trA.Metrics().MessagesSent == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), trB.Metrics().MessagesReceived)
}

func TestMalformedEnvelopeSkipped(t *testing.T) {
	ctx := testContext(t)
	hostA, hostB := newTestHost(t), newTestHost(t)
	trA, trB := newTestTransport(t, hostA), newTestTransport(t, hostB)

	rcv, err := trB.Receive(ctx, "consensus:node-b")
	require.NoError(t, err)

	id, err := hostA.AddPeer(p2pAddr(t, hostB))
	require.NoError(t, err)
	trA.AddRoute("consensus:node-b", id)

	// hand-roll a stream carrying garbage before a valid envelope
	s, err := hostA.Host().NewStream(ctx, hostB.ID(), WireProtocolID)
	require.NoError(t, err)
	require.NoError(t, transport.WriteFrame(s, []byte("not an envelope")))

	env := transport.NewEnvelope(hostA.ID().String(), "consensus:node-b", []byte("valid"))
	encoded, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, transport.WriteFrame(s, encoded))
	require.NoError(t, s.Close())

	data, err := rcv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("valid"), data)

	require.Eventually(t, func() bool {
		return trB.Metrics().Errors == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectReturnsPeerID(t *testing.T) {
	ctx := testContext(t)
	hostA, hostB := newTestHost(t), newTestHost(t)

	id, err := hostA.Connect(ctx, p2pAddr(t, hostB))
	require.NoError(t, err)
	assert.Equal(t, hostB.ID(), id)

	_, err = hostA.Connect(ctx, hostB.Addrs()[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPeerID)
}

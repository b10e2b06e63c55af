// Package node assembles a running mesh node from its configuration: the
// libp2p transport, the consensus engine, the gradient protocol, and the
// registry tying their capability advertisements together.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"neuromesh/internal/keys"
	"neuromesh/internal/network"
	"neuromesh/internal/storage"
	"neuromesh/internal/types"
	"neuromesh/pkg/consensus"
	"neuromesh/pkg/gradient"
	"neuromesh/pkg/protocol"
)

// GradientHandler consumes gradient messages addressed to this node.
type GradientHandler func(*gradient.Message)

// Node is one mesh participant: a libp2p host, the transport riding on it,
// and the protocols registered over that transport.
type Node struct {
	cfg *types.Config
	log zerolog.Logger
	id  uuid.UUID

	host      *network.Host
	transport *network.Transport
	registry  *protocol.Registry
	engine    *consensus.Engine
	gradients *gradient.Protocol

	// peers persists membership learned at runtime; nil when disabled.
	peers *storage.Registry

	onGradient GradientHandler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a node from a validated configuration. The libp2p host starts
// listening immediately; protocol loops wait for Start.
func New(cfg *types.Config, log zerolog.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	id, err := uuid.Parse(cfg.Node.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}
	privateKey, err := keys.Libp2pPrivateKey(cfg.Node.PrivateKey)
	if err != nil {
		return nil, err
	}

	host, err := network.NewHost(&cfg.Network, privateKey, log)
	if err != nil {
		return nil, err
	}
	tr := network.NewTransport(host, 0, log)

	algorithm, err := consensus.ParseAlgorithm(cfg.Consensus.Algorithm, cfg.Consensus.QuorumThreshold)
	if err != nil {
		tr.Close()
		host.Close()
		return nil, err
	}
	// A zero sweep interval in the file disables the background sweep.
	sweep := time.Duration(cfg.Consensus.SweepInterval)
	if sweep == 0 {
		sweep = -1
	}
	engine := consensus.NewEngine(id, tr, consensus.Config{
		Algorithm:     algorithm,
		SweepInterval: sweep,
		Retention:     time.Duration(cfg.Consensus.Retention),
	}, log)

	gradients := gradient.NewProtocol(id, tr, gradient.Config{
		BatchSize:        cfg.Gradient.BatchSize,
		DisableAutoFlush: !cfg.Gradient.AutoFlush,
	}, log)

	registry := protocol.NewRegistry(log)
	for _, p := range []protocol.Protocol{engine, gradients} {
		if err := registry.Register(p); err != nil {
			tr.Close()
			host.Close()
			return nil, err
		}
	}

	var peers *storage.Registry
	if cfg.Node.PeersFile != "" {
		peers, err = storage.NewRegistry(cfg.Node.PeersFile)
		if err != nil {
			tr.Close()
			host.Close()
			return nil, err
		}
	}

	return &Node{
		cfg:       cfg,
		log:       log.With().Str("component", "node").Str("node", id.String()).Logger(),
		id:        id,
		host:      host,
		transport: tr,
		registry:  registry,
		engine:    engine,
		gradients: gradients,
		peers:     peers,
	}, nil
}

// SetGradientHandler installs the consumer for inbound gradient messages.
// Must be called before Start; without a handler messages are logged and
// dropped.
func (n *Node) SetGradientHandler(h GradientHandler) {
	n.onGradient = h
}

// Start wires the configured peers into the transport, negotiates protocol
// capabilities with them, and runs the consensus and gradient receive loops
// until ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return fmt.Errorf("node already started")
	}
	n.started = true
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	for i := range n.cfg.Peers {
		if err := n.connectPeer(ctx, &n.cfg.Peers[i]); err != nil {
			return err
		}
	}
	if err := n.connectStoredPeers(ctx); err != nil {
		return err
	}

	if err := n.engine.Start(ctx); err != nil {
		return err
	}

	rcv, err := n.gradients.Receive(ctx)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer rcv.Close()
		for {
			msg, err := rcv.Recv(ctx)
			if err != nil {
				return
			}
			n.handleGradient(msg)
		}
	}()

	n.log.Info().
		Int("peers", len(n.cfg.Peers)).
		Int("agreements", len(n.registry.Agreements())).
		Strs("protocols", n.registry.Protocols()).
		Msg("node started")
	return nil
}

// connectPeer registers one configured peer: its routes, its consensus
// membership, and the capability agreements for each protocol. An
// unreachable peer is not fatal; its address stays in the peerstore for an
// on-demand dial.
func (n *Node) connectPeer(ctx context.Context, p *types.PeerConfig) error {
	peerUUID, err := uuid.Parse(p.NodeID)
	if err != nil {
		return fmt.Errorf("invalid peer node_id %s: %w", p.NodeID, err)
	}
	maddr, err := multiaddr.NewMultiaddr(p.Address)
	if err != nil {
		return fmt.Errorf("invalid peer address %s: %w", p.Address, err)
	}
	pid, err := n.host.AddPeer(maddr)
	if err != nil {
		return fmt.Errorf("failed to register peer %s: %w", p.NodeID, err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, time.Duration(n.cfg.Network.ConnectionTimeout))
	_, err = n.host.Connect(dialCtx, maddr)
	cancelDial()
	if err != nil {
		n.log.Warn().
			Str("peer", p.NodeID).
			Str("address", p.Address).
			Err(err).
			Msg("peer unreachable, will dial on demand")
	}

	n.transport.AddRoute(consensus.EndpointFor(peerUUID), pid)
	n.transport.AddRoute(gradient.EndpointFor(peerUUID), pid)
	n.engine.AddParticipant(peerUUID)

	return n.negotiateWith(p.NodeID)
}

// connectStoredPeers wires in peers persisted by earlier AddMeshPeer calls,
// skipping any the config already names.
func (n *Node) connectStoredPeers(ctx context.Context) error {
	if n.peers == nil {
		return nil
	}
	configured := make(map[string]struct{}, len(n.cfg.Peers))
	for i := range n.cfg.Peers {
		configured[n.cfg.Peers[i].NodeID] = struct{}{}
	}

	stored, err := n.peers.Load()
	if err != nil {
		return err
	}
	for i := range stored {
		if _, ok := configured[stored[i].NodeID]; ok {
			continue
		}
		if stored[i].NodeID == n.id.String() {
			continue
		}
		if err := n.connectPeer(ctx, &stored[i]); err != nil {
			return err
		}
	}
	return nil
}

// AddMeshPeer joins a new peer to the running node: routes, consensus
// membership, capability agreements, and, when a peers file is configured,
// persistence across restarts.
func (n *Node) AddMeshPeer(ctx context.Context, p types.PeerConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := n.connectPeer(ctx, &p); err != nil {
		return err
	}
	if n.peers != nil && !n.peers.Has(p.NodeID) {
		if err := n.peers.Add(p); err != nil {
			return err
		}
	}
	n.log.Info().Str("peer", p.NodeID).Msg("peer joined")
	return nil
}

// RemoveMeshPeer drops a peer from routing and consensus. Pending proposals
// re-evaluate against the smaller participant set immediately.
func (n *Node) RemoveMeshPeer(id uuid.UUID) error {
	n.engine.RemoveParticipant(id)
	n.transport.RemoveRoute(consensus.EndpointFor(id))
	n.transport.RemoveRoute(gradient.EndpointFor(id))
	if n.peers != nil && n.peers.Has(id.String()) {
		if err := n.peers.Remove(id.String()); err != nil {
			return err
		}
	}
	n.log.Info().Str("peer", id.String()).Msg("peer removed")
	return nil
}

// negotiateWith records capability agreements for every registered protocol.
// Peers run the same stack, so the peer advertisement is this node's own,
// trimmed to what the protocol section of the config allows.
func (n *Node) negotiateWith(peerID string) error {
	for _, id := range n.registry.Protocols() {
		p, ok := n.registry.Get(id)
		if !ok {
			continue
		}
		agreement, err := n.registry.NegotiateWith(peerID, id, n.assumedPeerCapabilities(p))
		if err != nil {
			return err
		}
		if id == gradient.ProtocolID {
			n.gradients.SetNegotiated(agreement.Negotiated)
		}
	}
	return nil
}

func (n *Node) assumedPeerCapabilities(p protocol.Protocol) protocol.Capabilities {
	caps := p.Capabilities()
	if !n.cfg.Protocol.EnableCompression {
		caps.Compression = []protocol.Compression{protocol.CompressionNone}
	}
	if !n.cfg.Protocol.EnableEncryption {
		caps.Encryption = []protocol.Encryption{protocol.EncryptionNone}
	}
	if n.cfg.Protocol.MaxMessageSize > 0 {
		caps.MaxMessageSize = n.cfg.Protocol.MaxMessageSize
	}
	return caps
}

func (n *Node) handleGradient(msg *gradient.Message) {
	if n.onGradient != nil {
		n.onGradient(msg)
		return
	}
	ev := n.log.Debug().
		Float32("magnitude", msg.Gradient.Magnitude).
		Uint32("steps", msg.Gradient.Steps)
	if msg.Source != nil {
		ev = ev.Str("source", msg.Source.String())
	}
	ev.Msg("gradient received without handler")
}

// Propose submits a value for consensus using the configured proposal TTL.
func (n *Node) Propose(ctx context.Context, value any) (uuid.UUID, error) {
	return n.engine.Propose(ctx, value, time.Duration(n.cfg.Consensus.ProposalTTL))
}

// SubmitGradient clips g to the configured max norm and accumulates it
// toward target, dispatching automatically when the batch fills.
func (n *Node) SubmitGradient(ctx context.Context, target uuid.UUID, g *gradient.Gradient) error {
	n.gradients.ClipGradient(g, float32(n.cfg.Gradient.MaxNorm))
	return n.gradients.AccumulateGradient(ctx, target, g)
}

// Stop halts the protocol loops and closes the transport and host.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	cancel := n.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.engine.Stop()
	n.wg.Wait()

	err := errors.Join(n.transport.Close(), n.host.Close())
	n.log.Info().Msg("node stopped")
	return err
}

// ID returns the node's mesh identity.
func (n *Node) ID() uuid.UUID {
	return n.id
}

// Host returns the underlying libp2p host wrapper.
func (n *Node) Host() *network.Host {
	return n.host
}

// Engine returns the consensus engine.
func (n *Node) Engine() *consensus.Engine {
	return n.engine
}

// Gradients returns the gradient protocol.
func (n *Node) Gradients() *gradient.Protocol {
	return n.gradients
}

// Registry returns the protocol registry with its negotiated agreements.
func (n *Node) Registry() *protocol.Registry {
	return n.registry
}

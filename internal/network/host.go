// Package network provides the libp2p-backed half of the transport layer: a
// configured host and a framed-stream implementation of
// transport.MessageTransport.
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"neuromesh/internal/types"
)

// Host wraps the libp2p host every protocol shares.
type Host struct {
	host host.Host
	log  zerolog.Logger
}

// NewHost creates a libp2p host with TCP transport, default security and
// muxers, a connection manager, and resource limits holding each peer to a
// single connection. A nil privateKey makes libp2p generate a throwaway
// identity, which is what tests want.
func NewHost(config *types.NetworkConfig, privateKey crypto.PrivKey, log zerolog.Logger) (*Host, error) {
	var opts []libp2p.Option

	if privateKey != nil {
		opts = append(opts, libp2p.Identity(privateKey))
	}

	opts = append(opts, libp2p.Transport(tcp.NewTCPTransport))
	opts = append(opts, libp2p.DefaultSecurity)
	opts = append(opts, libp2p.DefaultMuxers)

	connManager, err := connmgr.NewConnManager(
		1024, // low watermark
		1152, // high watermark
		connmgr.WithGracePeriod(10*time.Second),
		connmgr.WithSilencePeriod(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	opts = append(opts, libp2p.ConnectionManager(connManager))

	// One connection per peer; every protocol multiplexes streams over it.
	limits := rcmgr.PartialLimitConfig{
		System: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(768),
			ConnsInbound:  rcmgr.LimitVal(512),
			ConnsOutbound: rcmgr.LimitVal(512),
		},
		PeerDefault: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(1),
			ConnsInbound:  rcmgr.LimitVal(1),
			ConnsOutbound: rcmgr.LimitVal(1),
		},
	}.Build(rcmgr.DefaultLimits.AutoScale())

	resourceManager, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(limits))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}
	opts = append(opts, libp2p.ResourceManager(resourceManager))

	var listenAddrs []multiaddr.Multiaddr
	for _, addrStr := range config.Addresses {
		addr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addrStr, err)
		}
		listenAddrs = append(listenAddrs, addr)
	}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrs(listenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	hostLog := log.With().Str("component", "host").Logger()
	h.Network().Notify(&connLogger{log: hostLog})

	hostLog.Info().
		Str("id", h.ID().String()).
		Strs("addresses", formatAddrs(h.Addrs())).
		Msg("libp2p host started")

	return &Host{host: h, log: hostLog}, nil
}

// Host returns the underlying libp2p host.
func (h *Host) Host() host.Host {
	return h.host
}

// ID returns the host's peer id.
func (h *Host) ID() peer.ID {
	return h.host.ID()
}

// Addrs returns the bound listen addresses.
func (h *Host) Addrs() []multiaddr.Multiaddr {
	return h.host.Addrs()
}

// AddPeer records the peer's address in the peerstore without dialing and
// returns its id. The address must carry a /p2p component; streams opened
// later dial on demand.
func (h *Host) AddPeer(addr multiaddr.Multiaddr) (peer.ID, error) {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingPeerID, err)
	}
	h.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return info.ID, nil
}

// Connect dials the peer at addr, which must carry a /p2p component, and
// returns its id. The address is remembered for later redials.
func (h *Host) Connect(ctx context.Context, addr multiaddr.Multiaddr) (peer.ID, error) {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingPeerID, err)
	}
	h.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)

	if err := h.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", info.ID, err)
	}
	return info.ID, nil
}

// Close closes the host.
func (h *Host) Close() error {
	return h.host.Close()
}

func formatAddrs(addrs []multiaddr.Multiaddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// connLogger reports connection churn on the host's logger.
type connLogger struct {
	log zerolog.Logger
}

var _ network.Notifiee = (*connLogger)(nil)

func (c *connLogger) Connected(_ network.Network, conn network.Conn) {
	c.log.Debug().
		Stringer("peer", conn.RemotePeer()).
		Stringer("address", conn.RemoteMultiaddr()).
		Str("direction", conn.Stat().Direction.String()).
		Msg("peer connected")
}

func (c *connLogger) Disconnected(_ network.Network, conn network.Conn) {
	c.log.Debug().Stringer("peer", conn.RemotePeer()).Msg("peer disconnected")
}

func (c *connLogger) Listen(network.Network, multiaddr.Multiaddr) {}

func (c *connLogger) ListenClose(network.Network, multiaddr.Multiaddr) {}

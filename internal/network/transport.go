package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"neuromesh/pkg/transport"
)

// WireProtocolID is the libp2p protocol id the framed-stream transport
// speaks.
const WireProtocolID protocol.ID = "/neuromesh/transport/1.0.0"

// topicPrefix marks envelope destinations that address a topic instead of an
// endpoint.
const topicPrefix = "topic:"

// streamWriteTimeout bounds a single frame write when the caller's context
// carries no deadline.
const streamWriteTimeout = 30 * time.Second

// Transport is the libp2p-backed transport.MessageTransport. Envelopes travel
// as length-prefixed frames over streams; a route table installed by the
// daemon maps logical endpoints to peers. Local receivers and remote routes
// coexist, and a destination open in this process is delivered directly.
type Transport struct {
	host    *Host
	log     zerolog.Logger
	local   *transport.Router
	tracker *transport.Tracker

	mu      sync.RWMutex
	routes  map[string]peer.ID
	streams map[peer.ID]*outbound

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

var _ transport.MessageTransport = (*Transport)(nil)

// NewTransport wires a transport into the host's stream handler. buffer is
// the queue depth of each receiver; 0 means transport.DefaultReceiverBuffer.
func NewTransport(h *Host, buffer int, log zerolog.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		host:    h,
		log:     log.With().Str("component", "network-transport").Logger(),
		local:   transport.NewRouter(buffer),
		tracker: transport.NewTracker(),
		routes:  make(map[string]peer.ID),
		streams: make(map[peer.ID]*outbound),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.Host().SetStreamHandler(WireProtocolID, t.handleStream)
	return t
}

// AddRoute maps a logical endpoint to the peer hosting it. Topic publishes
// fan out to the distinct set of routed peers.
func (t *Transport) AddRoute(endpoint string, id peer.ID) {
	t.mu.Lock()
	t.routes[endpoint] = id
	t.mu.Unlock()
}

// RemoveRoute drops the endpoint's route.
func (t *Transport) RemoveRoute(endpoint string) {
	t.mu.Lock()
	delete(t.routes, endpoint)
	t.mu.Unlock()
}

// Send delivers data to the endpoint: directly when it is open in this
// process, otherwise over a stream to the routed peer.
func (t *Transport) Send(ctx context.Context, destination string, data []byte) error {
	if t.closed.Load() {
		return transport.ErrTransportClosed
	}

	err := t.local.Deliver(ctx, destination, data)
	if err == nil {
		t.tracker.RecordSent(len(data))
		t.tracker.RecordReceived(len(data))
		return nil
	}
	if !errors.Is(err, transport.ErrUnknownDestination) {
		t.tracker.RecordError()
		return transport.NewTransportError("send", destination, err)
	}

	id, ok := t.route(destination)
	if !ok {
		t.tracker.RecordError()
		return transport.NewTransportError("send", destination, transport.ErrUnknownDestination)
	}
	if err := t.sendToPeer(ctx, id, destination, data); err != nil {
		t.tracker.RecordError()
		return transport.NewTransportError("send", destination, err)
	}
	t.tracker.RecordSent(len(data))
	return nil
}

// Receive registers the endpoint for inbound delivery. A previous receiver
// under the same name is torn down and replaced.
func (t *Transport) Receive(_ context.Context, endpoint string) (*transport.Receiver, error) {
	r, err := t.local.Open(endpoint)
	if err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			return nil, transport.ErrTransportClosed
		}
		return nil, transport.NewTransportError("receive", endpoint, err)
	}
	return r, nil
}

// Publish fans data out to local subscribers and forwards one envelope per
// routed peer. Remote forwarding failures are logged and counted, not
// returned; topic delivery is best-effort.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if t.closed.Load() {
		return transport.ErrTransportClosed
	}

	delivered, dropped, err := t.local.Fanout(topic, data)
	if err != nil {
		return err
	}
	for i := 0; i < delivered; i++ {
		t.tracker.RecordSent(len(data))
		t.tracker.RecordReceived(len(data))
	}
	for i := 0; i < dropped; i++ {
		t.tracker.RecordError()
	}

	for _, id := range t.routedPeers() {
		if err := t.sendToPeer(ctx, id, topicPrefix+topic, data); err != nil {
			t.tracker.RecordError()
			t.log.Warn().Err(err).Stringer("peer", id).Str("topic", topic).Msg("failed to forward publication")
			continue
		}
		t.tracker.RecordSent(len(data))
	}
	return nil
}

// Subscribe registers a new listener for the topic.
func (t *Transport) Subscribe(_ context.Context, topic string) (*transport.Receiver, error) {
	r, err := t.local.Listen(topic)
	if err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			return nil, transport.ErrTransportClosed
		}
		return nil, transport.NewTransportError("subscribe", topic, err)
	}
	return r, nil
}

// Close removes the stream handler, resets open streams, and tears down
// local receivers. The host stays up; its owner closes it.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	t.host.Host().RemoveStreamHandler(WireProtocolID)

	t.mu.Lock()
	streams := make([]*outbound, 0, len(t.streams))
	for _, ob := range t.streams {
		streams = append(streams, ob)
	}
	t.streams = make(map[peer.ID]*outbound)
	t.mu.Unlock()
	for _, ob := range streams {
		ob.reset()
	}

	t.local.Close()
	return nil
}

// Metrics returns a snapshot of transport counters.
func (t *Transport) Metrics() transport.Metrics {
	return t.tracker.Snapshot(t.local.Active())
}

func (t *Transport) route(endpoint string) (peer.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.routes[endpoint]
	return id, ok
}

// routedPeers returns the distinct peers present in the route table.
func (t *Transport) routedPeers() []peer.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[peer.ID]struct{}, len(t.routes))
	peers := make([]peer.ID, 0, len(t.routes))
	for _, id := range t.routes {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		peers = append(peers, id)
	}
	return peers
}

func (t *Transport) sendToPeer(ctx context.Context, id peer.ID, destination string, data []byte) error {
	env := transport.NewEnvelope(t.host.ID().String(), destination, data)
	encoded, err := env.Encode()
	if err != nil {
		return err
	}

	ob := t.outboundFor(id)
	if err := t.writeToPeer(ctx, ob, id, encoded); err != nil {
		// retry once on a fresh stream
		if err := t.writeToPeer(ctx, ob, id, encoded); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) outboundFor(id peer.ID) *outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	ob, ok := t.streams[id]
	if !ok {
		ob = &outbound{}
		t.streams[id] = ob
	}
	return ob
}

// writeToPeer writes one frame over the peer's outbound stream, opening it
// when absent. Writes to one peer are serialized, so frames arrive in the
// order they were sent.
func (t *Transport) writeToPeer(ctx context.Context, ob *outbound, id peer.ID, encoded []byte) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.s == nil {
		s, err := t.host.Host().NewStream(ctx, id, WireProtocolID)
		if err != nil {
			return fmt.Errorf("failed to open stream to %s: %w", id, err)
		}
		ob.s = s
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(streamWriteTimeout)
	}
	_ = ob.s.SetWriteDeadline(deadline)

	if err := transport.WriteFrame(ob.s, encoded); err != nil {
		_ = ob.s.Reset()
		ob.s = nil
		return err
	}
	return nil
}

// handleStream drains one inbound stream, envelope by envelope. A malformed
// envelope is skipped; a framing error ends the stream.
func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	for {
		frame, err := transport.ReadFrame(s, transport.DefaultMaxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, network.ErrReset) {
				return
			}
			t.tracker.RecordError()
			t.log.Warn().Err(err).Stringer("peer", remote).Msg("closing stream after read failure")
			_ = s.Reset()
			return
		}

		env, err := transport.DecodeEnvelope(frame)
		if err != nil {
			t.tracker.RecordError()
			t.log.Warn().Err(err).Stringer("peer", remote).Msg("discarding undecodable envelope")
			continue
		}
		t.dispatch(env)
	}
}

// dispatch routes one inbound envelope to local receivers.
func (t *Transport) dispatch(env *transport.Envelope) {
	latency := time.Since(env.Timestamp)

	if name, ok := strings.CutPrefix(env.Destination, topicPrefix); ok {
		delivered, dropped, err := t.local.Fanout(name, env.Payload)
		if err != nil {
			return
		}
		for i := 0; i < delivered; i++ {
			t.tracker.RecordReceived(len(env.Payload))
			t.tracker.RecordLatency(latency)
		}
		for i := 0; i < dropped; i++ {
			t.tracker.RecordError()
		}
		return
	}

	if err := t.local.Deliver(t.ctx, env.Destination, env.Payload); err != nil {
		t.tracker.RecordError()
		t.log.Debug().
			Err(err).
			Str("destination", env.Destination).
			Str("source", env.Source).
			Msg("dropping envelope with no local receiver")
		return
	}
	t.tracker.RecordReceived(len(env.Payload))
	t.tracker.RecordLatency(latency)
}

// outbound serializes frame writes to one peer over a lazily opened stream.
type outbound struct {
	mu sync.Mutex
	s  network.Stream
}

func (ob *outbound) reset() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.s != nil {
		_ = ob.s.Reset()
		ob.s = nil
	}
}

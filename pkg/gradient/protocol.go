package gradient

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neuromesh/pkg/protocol"
	"neuromesh/pkg/transport"
)

const (
	// ProtocolID identifies the gradient protocol in negotiation.
	ProtocolID = "gradient"

	// MaxMessageSize caps gradient frames; batched direction vectors can be
	// large.
	MaxMessageSize = 10 * 1024 * 1024

	// DefaultBatchSize applies when a config leaves the batch size unset.
	DefaultBatchSize = 32
)

// EndpointFor derives a node's gradient inbox address.
func EndpointFor(nodeID uuid.UUID) string {
	return "neuron:" + nodeID.String() + ":gradient"
}

// Config tunes a Protocol. The zero value means DefaultBatchSize with
// auto-flush on.
type Config struct {
	// BatchSize is the per-node buffer size that triggers an automatic
	// dispatch. 0 picks DefaultBatchSize.
	BatchSize int

	// DisableAutoFlush turns off dispatch-on-full; buffers then drain only
	// through FlushGradients.
	DisableAutoFlush bool
}

// Protocol runs one node's gradient traffic: accumulation, clipping, and
// compressed dispatch over the transport. Compression follows whatever
// SetNegotiated installed, defaulting to none.
type Protocol struct {
	nodeID  uuid.UUID
	tr      transport.MessageTransport
	acc     *Accumulator
	log     zerolog.Logger
	metrics *metricsTracker

	mu         sync.RWMutex
	negotiated *protocol.Negotiated
}

// NewProtocol creates a gradient protocol for nodeID over tr.
func NewProtocol(nodeID uuid.UUID, tr transport.MessageTransport, cfg Config, log zerolog.Logger) *Protocol {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Protocol{
		nodeID:  nodeID,
		tr:      tr,
		acc:     NewAccumulator(cfg.BatchSize, !cfg.DisableAutoFlush),
		log:     log.With().Str("component", "gradient").Str("node", nodeID.String()).Logger(),
		metrics: newMetricsTracker(),
	}
}

// SetNegotiated installs a handshake outcome; subsequent sends and receipts
// use its compression codec.
func (p *Protocol) SetNegotiated(n protocol.Negotiated) {
	p.mu.Lock()
	p.negotiated = &n
	p.mu.Unlock()
	p.log.Debug().Str("compression", n.Compression.String()).Msg("negotiation installed")
}

func (p *Protocol) compression() protocol.Compression {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.negotiated == nil {
		return protocol.CompressionNone
	}
	return p.negotiated.Compression
}

// SendGradient dispatches one message to the target's gradient inbox.
// Insignificant gradients are dropped without touching the transport; the
// noise filter runs before any serialization work.
func (p *Protocol) SendGradient(ctx context.Context, msg *Message) error {
	if msg.Gradient == nil {
		return ErrMissingGradient
	}
	if !msg.Gradient.Significant() {
		p.metrics.insignificant.Inc()
		p.log.Debug().
			Str("target", msg.Target.String()).
			Float32("magnitude", msg.Gradient.Magnitude).
			Msg("insignificant gradient dropped")
		return nil
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	payload, err := protocol.Compress(p.compression(), data)
	if err != nil {
		return fmt.Errorf("failed to compress gradient message: %w", err)
	}
	if err := p.tr.Send(ctx, EndpointFor(msg.Target), payload); err != nil {
		return fmt.Errorf("failed to send gradient to %s: %w", msg.Target, err)
	}

	p.metrics.sent.Inc()
	p.metrics.totalError.Add(math.Abs(float64(msg.Gradient.Error)))
	return nil
}

// AccumulateGradient buffers a gradient bound for nodeID. When the buffer
// fills and auto-flush is on, the batch average dispatches immediately.
func (p *Protocol) AccumulateGradient(ctx context.Context, nodeID uuid.UUID, g *Gradient) error {
	avg, err := p.acc.Add(nodeID, g)
	if err != nil {
		return err
	}
	p.metrics.accumulated.Inc()
	if avg == nil {
		return nil
	}
	return p.SendGradient(ctx, NewAggregateMessage(nodeID, avg, DefaultContext(p.acc.BatchSize())))
}

// FlushGradients drains every buffer and dispatches the averages. Called at
// epoch boundaries.
func (p *Protocol) FlushGradients(ctx context.Context) error {
	for nodeID, avg := range p.acc.FlushAll() {
		msg := NewAggregateMessage(nodeID, avg, DefaultContext(p.acc.BatchSize()))
		if err := p.SendGradient(ctx, msg); err != nil {
			return fmt.Errorf("failed to dispatch flushed gradient for %s: %w", nodeID, err)
		}
	}
	return nil
}

// ClipGradient bounds g's magnitude at maxNorm in place, preserving
// direction.
func (p *Protocol) ClipGradient(g *Gradient, maxNorm float32) {
	if g.Clip(maxNorm) {
		p.metrics.clipped.Inc()
	}
}

// Receive registers this node's gradient inbox and returns a receiver
// yielding decoded messages.
func (p *Protocol) Receive(ctx context.Context) (*Receiver, error) {
	raw, err := p.tr.Receive(ctx, EndpointFor(p.nodeID))
	if err != nil {
		return nil, err
	}
	return &Receiver{raw: raw, protocol: p}, nil
}

// Metrics returns a snapshot of protocol counters.
func (p *Protocol) Metrics() Metrics {
	return p.metrics.snapshot()
}

func (p *Protocol) decode(data []byte) (*Message, error) {
	plain, err := protocol.Decompress(p.compression(), data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gradient message: %w", err)
	}
	msg, err := DecodeMessage(plain)
	if err != nil {
		return nil, err
	}
	p.metrics.received.Inc()
	return msg, nil
}

// Receiver yields decoded gradient messages from a node's inbox. A payload
// that fails decompression or decoding is logged and skipped, so one corrupt
// message never stalls a training loop; only transport teardown ends the
// stream.
type Receiver struct {
	raw      *transport.Receiver
	protocol *Protocol
}

// Recv blocks until the next decodable message arrives or ctx is done.
func (r *Receiver) Recv(ctx context.Context) (*Message, error) {
	for {
		data, err := r.raw.Recv(ctx)
		if err != nil {
			return nil, err
		}
		msg, err := r.protocol.decode(data)
		if err != nil {
			r.protocol.metrics.decodeFailures.Inc()
			r.protocol.log.Warn().Err(err).Msg("discarding undecodable gradient message")
			continue
		}
		return msg, nil
	}
}

// Close deregisters the inbox.
func (r *Receiver) Close() {
	r.raw.Close()
}

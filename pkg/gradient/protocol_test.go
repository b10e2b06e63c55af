package gradient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuromesh/pkg/protocol"
	"neuromesh/pkg/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ctx := testContext(t)
	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	source, target := uuid.New(), uuid.New()
	sender := NewProtocol(source, tr, Config{}, zerolog.Nop())
	receiver := NewProtocol(target, tr, Config{}, zerolog.Nop())

	inbox, err := receiver.Receive(ctx)
	require.NoError(t, err)
	defer inbox.Close()

	sent := NewMessage(source, target, New(0.25, []float32{0.1, -0.1, 0.2}), LearningContext{
		LearningRate: 0.01,
		Momentum:     0.9,
		BatchSize:    32,
		Epoch:        5,
		Loss:         LossCrossEntropy,
	})
	require.NoError(t, sender.SendGradient(ctx, sent))

	got, err := inbox.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, got.ID)
	require.NotNil(t, got.Source)
	assert.Equal(t, source, *got.Source)
	assert.Equal(t, sent.Gradient.Direction, got.Gradient.Direction)
	assert.Equal(t, float32(0.25), got.Gradient.Error)
	assert.Equal(t, 5, got.Context.Epoch)
	assert.Equal(t, LossCrossEntropy, got.Context.Loss)

	assert.Equal(t, uint64(1), sender.Metrics().GradientsSent)
	assert.Equal(t, uint64(1), receiver.Metrics().GradientsReceived)
}

func TestNegotiatedCompressionRoundTrip(t *testing.T) {
	for _, alg := range []protocol.Compression{
		protocol.CompressionNone,
		protocol.CompressionGzip,
		protocol.CompressionZstd,
	} {
		t.Run(alg.String(), func(t *testing.T) {
			ctx := testContext(t)
			tr := transport.NewChannelTransport(0)
			defer tr.Close()

			source, target := uuid.New(), uuid.New()
			sender := NewProtocol(source, tr, Config{}, zerolog.Nop())
			receiver := NewProtocol(target, tr, Config{}, zerolog.Nop())

			negotiated := protocol.Negotiated{
				Version:        sender.Version(),
				Compression:    alg,
				MaxMessageSize: MaxMessageSize,
			}
			sender.SetNegotiated(negotiated)
			receiver.SetNegotiated(negotiated)

			inbox, err := receiver.Receive(ctx)
			require.NoError(t, err)
			defer inbox.Close()

			direction := make([]float32, 512)
			for i := range direction {
				direction[i] = float32(i) * 0.01
			}
			sent := NewMessage(source, target, New(0.5, direction), DefaultContext(32))
			require.NoError(t, sender.SendGradient(ctx, sent))

			got, err := inbox.Recv(ctx)
			require.NoError(t, err)
			assert.Equal(t, sent.ID, got.ID)
			assert.Equal(t, direction, got.Gradient.Direction)
		})
	}
}

func TestInsignificantGradientNeverDispatched(t *testing.T) {
	ctx := testContext(t)
	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	source, target := uuid.New(), uuid.New()
	p := NewProtocol(source, tr, Config{}, zerolog.Nop())

	// No receiver is registered for the target, so an attempted send would
	// fail loudly. The filter drops the message before the transport.
	msg := NewMessage(source, target, New(0.9, []float32{0.0001, 0.0002}), DefaultContext(32))
	require.NoError(t, p.SendGradient(ctx, msg))

	m := p.Metrics()
	assert.Equal(t, uint64(0), m.GradientsSent)
	assert.Equal(t, uint64(1), m.InsignificantDropped)
	assert.Equal(t, uint64(0), tr.Metrics().MessagesSent)
}

func TestAccumulateAutoDispatchesBatchAverage(t *testing.T) {
	ctx := testContext(t)
	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	source, target := uuid.New(), uuid.New()
	sender := NewProtocol(source, tr, Config{BatchSize: 2}, zerolog.Nop())
	receiver := NewProtocol(target, tr, Config{}, zerolog.Nop())

	inbox, err := receiver.Receive(ctx)
	require.NoError(t, err)
	defer inbox.Close()

	require.NoError(t, sender.AccumulateGradient(ctx, target, New(0.2, []float32{1, 0})))
	require.NoError(t, sender.AccumulateGradient(ctx, target, New(0.4, []float32{0, 1})))

	got, err := inbox.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.Source, "a batch average has no single source")
	assert.Equal(t, target, got.Target)
	assert.Equal(t, uint32(2), got.Gradient.Steps)
	assert.InDelta(t, 0.3, got.Gradient.Error, 1e-4)
	assert.InDelta(t, 0.5, got.Gradient.Direction[0], 1e-4)
	assert.InDelta(t, 0.5, got.Gradient.Direction[1], 1e-4)
	assert.Equal(t, 2, got.Context.BatchSize)
	assert.Equal(t, LossMSE, got.Context.Loss)

	m := sender.Metrics()
	assert.Equal(t, uint64(2), m.GradientsAccumulated)
	assert.Equal(t, uint64(1), m.GradientsSent)
	assert.InDelta(t, 0.5, m.BatchEfficiency, 1e-6)
}

func TestFlushGradientsDispatchesPartialBuffers(t *testing.T) {
	ctx := testContext(t)
	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	source, target := uuid.New(), uuid.New()
	sender := NewProtocol(source, tr, Config{BatchSize: 16}, zerolog.Nop())
	receiver := NewProtocol(target, tr, Config{}, zerolog.Nop())

	inbox, err := receiver.Receive(ctx)
	require.NoError(t, err)
	defer inbox.Close()

	require.NoError(t, sender.AccumulateGradient(ctx, target, New(0.1, []float32{3, 0})))
	require.NoError(t, sender.AccumulateGradient(ctx, target, New(0.3, []float32{0, 3})))
	assert.Equal(t, uint64(0), sender.Metrics().GradientsSent, "batch is not full yet")

	require.NoError(t, sender.FlushGradients(ctx))

	got, err := inbox.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.Gradient.Steps)
	assert.InDelta(t, 0.2, got.Gradient.Error, 1e-4)
	assert.InDelta(t, 1.5, got.Gradient.Direction[0], 1e-4)

	require.NoError(t, sender.FlushGradients(ctx), "flushing empty buffers is a no-op")
	assert.Equal(t, uint64(1), sender.Metrics().GradientsSent)
}

func TestClipGradientCountsEvents(t *testing.T) {
	tr := transport.NewChannelTransport(0)
	defer tr.Close()
	p := NewProtocol(uuid.New(), tr, Config{}, zerolog.Nop())

	large := New(1.0, []float32{10, 10, 10})
	p.ClipGradient(large, 1.0)
	assert.Equal(t, float32(1.0), large.Magnitude)
	assert.Equal(t, uint64(1), p.Metrics().ClippingEvents)

	small := New(0.1, []float32{0.1})
	p.ClipGradient(small, 5.0)
	assert.Equal(t, uint64(1), p.Metrics().ClippingEvents, "in-bound gradients do not count")
}

func TestMalformedPayloadSkipped(t *testing.T) {
	ctx := testContext(t)
	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	nodeID := uuid.New()
	p := NewProtocol(nodeID, tr, Config{}, zerolog.Nop())
	inbox, err := p.Receive(ctx)
	require.NoError(t, err)
	defer inbox.Close()

	// A corrupt payload followed by a valid one: the receiver skips the
	// first and yields the second.
	require.NoError(t, tr.Send(ctx, EndpointFor(nodeID), []byte("not a gradient")))
	valid := NewMessage(uuid.New(), nodeID, New(0.25, []float32{1, 2}), DefaultContext(8))
	require.NoError(t, p.SendGradient(ctx, valid))

	got, err := inbox.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, valid.ID, got.ID)
	assert.Equal(t, uint64(1), p.Metrics().DecodeFailures)
}

func TestAccumulateDimensionMismatchSurfaces(t *testing.T) {
	ctx := testContext(t)
	tr := transport.NewChannelTransport(0)
	defer tr.Close()

	p := NewProtocol(uuid.New(), tr, Config{BatchSize: 4}, zerolog.Nop())
	target := uuid.New()

	require.NoError(t, p.AccumulateGradient(ctx, target, New(0.1, []float32{1, 2})))
	err := p.AccumulateGradient(ctx, target, New(0.2, []float32{1}))
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, uint64(1), p.Metrics().GradientsAccumulated)
}

func TestNegotiatePrefersStrongestSharedCodec(t *testing.T) {
	tr := transport.NewChannelTransport(0)
	defer tr.Close()
	p := NewProtocol(uuid.New(), tr, Config{}, zerolog.Nop())

	tests := []struct {
		name string
		peer []protocol.Compression
		want protocol.Compression
	}{
		{"full set picks zstd", []protocol.Compression{protocol.CompressionNone, protocol.CompressionGzip, protocol.CompressionZstd}, protocol.CompressionZstd},
		{"gzip only", []protocol.Compression{protocol.CompressionGzip}, protocol.CompressionGzip},
		{"no shared codec", []protocol.Compression{protocol.CompressionNone}, protocol.CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			negotiated, err := p.Negotiate(protocol.Capabilities{
				Compression:    tt.peer,
				Encryption:     []protocol.Encryption{protocol.EncryptionNone},
				MaxMessageSize: 4 * 1024 * 1024,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, negotiated.Compression)
			assert.Equal(t, protocol.EncryptionNone, negotiated.Encryption)
			assert.Equal(t, 4*1024*1024, negotiated.MaxMessageSize)
		})
	}
}

func TestGenericCodecRejected(t *testing.T) {
	tr := transport.NewChannelTransport(0)
	defer tr.Close()
	p := NewProtocol(uuid.New(), tr, Config{}, zerolog.Nop())

	_, err := p.Encode("gradient", []byte(`{}`))
	assert.ErrorIs(t, err, protocol.ErrUnsupportedOperation)
	_, _, err = p.Decode([]byte(`{}`))
	assert.ErrorIs(t, err, protocol.ErrUnsupportedOperation)
}

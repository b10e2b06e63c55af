package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestChannelTransportSendReceive(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	recv, err := tr.Receive(ctx, "node-a")
	require.NoError(t, err)

	payload := []byte("hello")
	require.NoError(t, tr.Send(ctx, "node-a", payload))

	got, err := recv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	m := tr.Metrics()
	assert.Equal(t, uint64(1), m.MessagesSent)
	assert.Equal(t, uint64(1), m.MessagesReceived)
	assert.Equal(t, uint64(len(payload)), m.BytesSent)
	assert.Equal(t, uint64(len(payload)), m.BytesReceived)
	assert.Equal(t, 1, m.ActiveEndpoints)
	assert.Equal(t, uint64(0), m.Errors)
}

func TestChannelTransportUnknownDestination(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	err := tr.Send(ctx, "nowhere", []byte("lost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDestination)

	m := tr.Metrics()
	assert.Equal(t, uint64(0), m.MessagesSent)
	assert.Equal(t, uint64(1), m.Errors)
}

func TestChannelTransportPublishFanOut(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	first, err := tr.Subscribe(ctx, "updates")
	require.NoError(t, err)
	second, err := tr.Subscribe(ctx, "updates")
	require.NoError(t, err)

	payload := []byte("broadcast")
	require.NoError(t, tr.Publish(ctx, "updates", payload))

	var wg sync.WaitGroup
	for _, sub := range []*Receiver{first, second} {
		wg.Add(1)
		go func(r *Receiver) {
			defer wg.Done()
			got, err := r.Recv(ctx)
			assert.NoError(t, err)
			assert.Equal(t, payload, got)
		}(sub)
	}
	wg.Wait()

	m := tr.Metrics()
	assert.Equal(t, uint64(2), m.MessagesSent)
	assert.Equal(t, uint64(2), m.MessagesReceived)
}

func TestChannelTransportPublishNoSubscribers(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	require.NoError(t, tr.Publish(ctx, "empty-topic", []byte("into the void")))

	m := tr.Metrics()
	assert.Equal(t, uint64(0), m.MessagesSent)
	assert.Equal(t, uint64(0), m.Errors)
}

func TestChannelTransportClosedSubscriberSkipped(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	gone, err := tr.Subscribe(ctx, "updates")
	require.NoError(t, err)
	alive, err := tr.Subscribe(ctx, "updates")
	require.NoError(t, err)

	gone.Close()
	require.NoError(t, tr.Publish(ctx, "updates", []byte("still delivered")))

	got, err := alive.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("still delivered"), got)

	m := tr.Metrics()
	assert.Equal(t, uint64(1), m.MessagesSent)
}

func TestChannelTransportFIFO(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	recv, err := tr.Receive(ctx, "ordered")
	require.NoError(t, err)

	const n = 32
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Send(ctx, "ordered", []byte(fmt.Sprintf("msg-%02d", i))))
	}
	for i := 0; i < n; i++ {
		got, err := recv.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%02d", i), string(got))
	}
}

func TestChannelTransportReplaceEndpoint(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	old, err := tr.Receive(ctx, "node-a")
	require.NoError(t, err)
	replacement, err := tr.Receive(ctx, "node-a")
	require.NoError(t, err)

	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("previous receiver was not torn down")
	}

	require.NoError(t, tr.Send(ctx, "node-a", []byte("rerouted")))
	got, err := replacement.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("rerouted"), got)
}

func TestChannelTransportClose(t *testing.T) {
	ctx := testContext(t)
	tr := NewChannelTransport(0)

	recv, err := tr.Receive(ctx, "node-a")
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, "node-a", []byte("buffered")))

	require.NoError(t, tr.Close())

	// Buffered payloads drain before the closed state is reported.
	got, err := recv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("buffered"), got)

	_, err = recv.Recv(ctx)
	assert.ErrorIs(t, err, ErrReceiverClosed)

	err = tr.Send(ctx, "node-a", []byte("late"))
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestTypedRoundTrip(t *testing.T) {
	type ping struct {
		Seq  int    `json:"seq"`
		Note string `json:"note"`
	}

	ctx := testContext(t)
	tr := NewChannelTransport(0)
	defer tr.Close()

	recv, err := tr.Receive(ctx, "typed")
	require.NoError(t, err)
	typed := NewTyped[ping](recv)

	require.NoError(t, SendJSON(ctx, tr, "typed", ping{Seq: 7, Note: "hi"}))

	got, err := typed.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ping{Seq: 7, Note: "hi"}, got)

	sub, err := tr.Subscribe(ctx, "typed:events")
	require.NoError(t, err)
	require.NoError(t, PublishJSON(ctx, tr, "typed:events", ping{Seq: 8, Note: "all"}))

	got, err = NewTyped[ping](sub).Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ping{Seq: 8, Note: "all"}, got)
}

package transport

import (
	"context"
	"errors"
)

// ChannelTransport routes messages between endpoints of a single process.
// Point-to-point sends block when the destination queue is full, so nothing
// is dropped and per-endpoint FIFO order holds; topic fan-out is best-effort
// and skips subscribers that are full or gone.
type ChannelTransport struct {
	router  *Router
	tracker *Tracker
}

// NewChannelTransport creates an in-process transport. buffer is the queue
// depth of each receiver; 0 means DefaultReceiverBuffer.
func NewChannelTransport(buffer int) *ChannelTransport {
	return &ChannelTransport{
		router:  NewRouter(buffer),
		tracker: NewTracker(),
	}
}

// Send delivers data to the endpoint's receiver, blocking while its queue is
// full. The caller must not modify data after Send returns.
func (t *ChannelTransport) Send(ctx context.Context, destination string, data []byte) error {
	if err := t.router.Deliver(ctx, destination, data); err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return ErrTransportClosed
		}
		t.tracker.RecordError()
		return NewTransportError("send", destination, err)
	}
	t.tracker.RecordSent(len(data))
	t.tracker.RecordReceived(len(data))
	return nil
}

// Receive registers the endpoint. A previous receiver under the same name is
// torn down and replaced.
func (t *ChannelTransport) Receive(_ context.Context, endpoint string) (*Receiver, error) {
	r, err := t.router.Open(endpoint)
	if err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return nil, ErrTransportClosed
		}
		return nil, NewTransportError("receive", endpoint, err)
	}
	return r, nil
}

// Publish fans data out to the topic's current subscribers. No subscribers is
// a no-op; a full subscriber queue drops that one delivery and counts an
// error.
func (t *ChannelTransport) Publish(_ context.Context, topic string, data []byte) error {
	delivered, dropped, err := t.router.Fanout(topic, data)
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
	return nil
}

// Subscribe registers a new listener for the topic.
func (t *ChannelTransport) Subscribe(_ context.Context, topic string) (*Receiver, error) {
	r, err := t.router.Listen(topic)
	if err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return nil, ErrTransportClosed
		}
		return nil, NewTransportError("subscribe", topic, err)
	}
	return r, nil
}

// Close tears down every endpoint and subscription. Further operations fail
// with ErrTransportClosed.
func (t *ChannelTransport) Close() error {
	t.router.Close()
	return nil
}

// Metrics returns a snapshot of transport counters.
func (t *ChannelTransport) Metrics() Metrics {
	return t.tracker.Snapshot(t.router.Active())
}

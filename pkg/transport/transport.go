// Package transport provides the message transport abstraction shared by all
// node protocols: point-to-point send/receive between named endpoints and
// best-effort topic fan-out via publish/subscribe. Payloads are opaque byte
// slices; only the protocols riding on top interpret them.
package transport

import (
	"context"
	"sync"
)

// MessageTransport is the contract every transport backend satisfies.
// Two implementations ship with the repository: the in-process
// ChannelTransport below and the libp2p-backed stream transport in
// internal/network.
type MessageTransport interface {
	// Send delivers data to a registered destination endpoint. Sending to
	// an endpoint nobody has registered fails with ErrUnknownDestination.
	Send(ctx context.Context, destination string, data []byte) error

	// Receive registers an inbound endpoint and returns a handle producing
	// every payload addressed to it. Registering an endpoint that already
	// exists tears down the previous receiver.
	Receive(ctx context.Context, endpoint string) (*Receiver, error)

	// Publish delivers data to every current subscriber of the topic.
	// A topic with no subscribers is a silent no-op.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe registers a new listener for a topic.
	Subscribe(ctx context.Context, topic string) (*Receiver, error)

	// Close tears down every endpoint and subscription.
	Close() error

	// Metrics returns a snapshot of transport counters.
	Metrics() Metrics
}

// Receiver is the consumer half of an endpoint or topic subscription. The
// stream of payloads ends only when the receiver, its endpoint registration,
// or the transport itself is torn down.
type Receiver struct {
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	cancel func()
}

func newReceiver(buffer int) *Receiver {
	return &Receiver{
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// C exposes the raw payload channel for select loops. Pair it with Done;
// the channel itself is never closed.
func (r *Receiver) C() <-chan []byte {
	return r.ch
}

// Done is closed when the receiver is torn down.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Recv blocks until the next payload arrives, the context is cancelled, or
// the receiver is torn down. Payloads enqueued before teardown are still
// drained before ErrReceiverClosed is reported.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-r.ch:
		return data, nil
	default:
	}
	select {
	case data := <-r.ch:
		return data, nil
	case <-r.done:
		select {
		case data := <-r.ch:
			return data, nil
		default:
			return nil, ErrReceiverClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close deregisters the receiver from its transport. Safe to call more than
// once.
func (r *Receiver) Close() {
	if r.cancel != nil {
		r.cancel()
		return
	}
	r.teardown()
}

// deliver enqueues one payload without blocking. It reports false when the
// receiver is full or already torn down.
func (r *Receiver) deliver(data []byte) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.ch <- data:
		return true
	default:
		return false
	}
}

// deliverWait enqueues one payload, blocking until there is room, the context
// is cancelled, or the receiver is torn down.
func (r *Receiver) deliverWait(ctx context.Context, data []byte) error {
	select {
	case <-r.done:
		return ErrReceiverClosed
	default:
	}
	select {
	case r.ch <- data:
		return nil
	case <-r.done:
		return ErrReceiverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// teardown signals consumers that the stream has ended. Idempotent.
func (r *Receiver) teardown() {
	r.once.Do(func() { close(r.done) })
}

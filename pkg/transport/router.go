package transport

import (
	"context"
	"sync"
)

// DefaultReceiverBuffer is the per-receiver queue depth used when the caller
// does not pick one.
const DefaultReceiverBuffer = 256

// Router owns the local delivery tables shared by transport backends: named
// point-to-point endpoints and per-topic subscriber lists. ChannelTransport
// is a Router plus counters; the libp2p transport uses one for the local half
// of its routing.
type Router struct {
	mu        sync.RWMutex
	endpoints map[string]*Receiver
	topics    map[string][]*Receiver
	closed    bool
	buffer    int
}

// NewRouter creates an empty router. buffer is the queue depth of each
// receiver; 0 means DefaultReceiverBuffer.
func NewRouter(buffer int) *Router {
	if buffer <= 0 {
		buffer = DefaultReceiverBuffer
	}
	return &Router{
		endpoints: make(map[string]*Receiver),
		topics:    make(map[string][]*Receiver),
		buffer:    buffer,
	}
}

// Open registers endpoint and returns its receiver. A previous receiver under
// the same name is torn down and replaced.
func (r *Router) Open(endpoint string) (*Receiver, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrTransportClosed
	}
	old := r.endpoints[endpoint]
	rcv := newReceiver(r.buffer)
	rcv.cancel = func() { r.dropEndpoint(endpoint, rcv) }
	r.endpoints[endpoint] = rcv
	r.mu.Unlock()

	if old != nil {
		old.teardown()
	}
	return rcv, nil
}

// Listen adds a subscriber to topic and returns its receiver.
func (r *Router) Listen(topic string) (*Receiver, error) {
	if topic == "" {
		return nil, ErrEmptyEndpoint
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrTransportClosed
	}
	rcv := newReceiver(r.buffer)
	rcv.cancel = func() { r.dropSubscriber(topic, rcv) }
	r.topics[topic] = append(r.topics[topic], rcv)
	r.mu.Unlock()

	return rcv, nil
}

// Deliver hands data to the endpoint's receiver, blocking while its queue is
// full. It fails with ErrUnknownDestination when nobody has the endpoint open
// and ErrReceiverClosed when the receiver went away mid-wait.
func (r *Router) Deliver(ctx context.Context, endpoint string, data []byte) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrTransportClosed
	}
	rcv, ok := r.endpoints[endpoint]
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownDestination
	}
	return rcv.deliverWait(ctx, data)
}

// Fanout hands data to every live subscriber of topic without blocking and
// reports how many deliveries landed and how many were dropped on a full
// queue. Torn-down subscribers are pruned.
func (r *Router) Fanout(topic string, data []byte) (delivered, dropped int, err error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return 0, 0, ErrTransportClosed
	}
	subs := make([]*Receiver, len(r.topics[topic]))
	copy(subs, r.topics[topic])
	r.mu.RUnlock()

	stale := false
	for _, sub := range subs {
		if sub.closed() {
			stale = true
			continue
		}
		if sub.deliver(data) {
			delivered++
		} else {
			dropped++
		}
	}
	if stale {
		r.pruneTopic(topic)
	}
	return delivered, dropped, nil
}

// Active returns the number of open endpoints.
func (r *Router) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Close tears down every receiver. Further operations fail with
// ErrTransportClosed.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	receivers := make([]*Receiver, 0, len(r.endpoints))
	for _, rcv := range r.endpoints {
		receivers = append(receivers, rcv)
	}
	for _, subs := range r.topics {
		receivers = append(receivers, subs...)
	}
	r.endpoints = make(map[string]*Receiver)
	r.topics = make(map[string][]*Receiver)
	r.mu.Unlock()

	for _, rcv := range receivers {
		rcv.teardown()
	}
}

func (r *Router) dropEndpoint(endpoint string, rcv *Receiver) {
	r.mu.Lock()
	if r.endpoints[endpoint] == rcv {
		delete(r.endpoints, endpoint)
	}
	r.mu.Unlock()
	rcv.teardown()
}

func (r *Router) dropSubscriber(topic string, rcv *Receiver) {
	r.mu.Lock()
	subs := r.topics[topic]
	for i, sub := range subs {
		if sub == rcv {
			r.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.topics[topic]) == 0 {
		delete(r.topics, topic)
	}
	r.mu.Unlock()
	rcv.teardown()
}

func (r *Router) pruneTopic(topic string) {
	r.mu.Lock()
	subs := r.topics[topic]
	alive := subs[:0]
	for _, sub := range subs {
		if !sub.closed() {
			alive = append(alive, sub)
		}
	}
	if len(alive) == 0 {
		delete(r.topics, topic)
	} else {
		r.topics[topic] = alive
	}
	r.mu.Unlock()
}

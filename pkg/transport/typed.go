package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendJSON serializes v and sends it point-to-point.
func SendJSON(ctx context.Context, t MessageTransport, destination string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %q: %w", destination, err)
	}
	return t.Send(ctx, destination, data)
}

// PublishJSON serializes v and publishes it to a topic.
func PublishJSON(ctx context.Context, t MessageTransport, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for topic %q: %w", topic, err)
	}
	return t.Publish(ctx, topic, data)
}

// Typed wraps a Receiver and decodes each payload into M.
type Typed[M any] struct {
	r *Receiver
}

// NewTyped creates a typed view over a raw receiver.
func NewTyped[M any](r *Receiver) *Typed[M] {
	return &Typed[M]{r: r}
}

// Recv blocks for the next payload and decodes it. A payload that does not
// decode into M is returned as an error; the stream itself stays usable.
func (t *Typed[M]) Recv(ctx context.Context) (M, error) {
	var msg M
	data, err := t.r.Recv(ctx)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

// Close tears down the underlying receiver.
func (t *Typed[M]) Close() {
	t.r.Close()
}

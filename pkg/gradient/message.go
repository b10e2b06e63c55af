package gradient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LossType names the loss function a gradient was derived from. Any value
// outside the predefined set names a custom loss.
type LossType string

const (
	LossMSE          LossType = "mse"
	LossCrossEntropy LossType = "cross_entropy"
	LossHuber        LossType = "huber"
)

// LearningContext is metadata riding along with a gradient. The protocol
// never interprets it; only the receiving node does.
type LearningContext struct {
	LearningRate float32  `json:"learning_rate"`
	Momentum     float32  `json:"momentum"`
	BatchSize    int      `json:"batch_size"`
	Epoch        int      `json:"epoch"`
	Loss         LossType `json:"loss_type"`
}

// DefaultContext returns the learning metadata attached to auto-dispatched
// batch averages.
func DefaultContext(batchSize int) LearningContext {
	return LearningContext{
		LearningRate: 0.01,
		Momentum:     0.9,
		BatchSize:    batchSize,
		Loss:         LossMSE,
	}
}

// Message is the gradient wire format. Source is nil for batch averages,
// which have no single originating node.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	Source    *uuid.UUID      `json:"source,omitempty"`
	Target    uuid.UUID       `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
	Gradient  *Gradient       `json:"gradient"`
	Context   LearningContext `json:"learning_context"`
}

// NewMessage builds a gradient message from source to target.
func NewMessage(source, target uuid.UUID, g *Gradient, lc LearningContext) *Message {
	return &Message{
		ID:        uuid.New(),
		Source:    &source,
		Target:    target,
		Timestamp: time.Now().UTC(),
		Gradient:  g,
		Context:   lc,
	}
}

// NewAggregateMessage builds a message carrying a batch average.
func NewAggregateMessage(target uuid.UUID, g *Gradient, lc LearningContext) *Message {
	return &Message{
		ID:        uuid.New(),
		Target:    target,
		Timestamp: time.Now().UTC(),
		Gradient:  g,
		Context:   lc,
	}
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gradient message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses one wire message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode gradient message: %w", err)
	}
	if m.Gradient == nil {
		return nil, fmt.Errorf("%w: message %s", ErrMissingGradient, m.ID)
	}
	return &m, nil
}

package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxFrameSize caps a single framed message at 10MB.
const DefaultMaxFrameSize = 10 * 1024 * 1024

// Envelope wraps every payload that crosses a process boundary. The payload
// stays opaque; routing uses only the header fields.
type Envelope struct {
	ID          uuid.UUID         `json:"id"`
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Timestamp   time.Time         `json:"timestamp"`
	Payload     []byte            `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope creates an envelope with a fresh id and the current timestamp.
func NewEnvelope(source, destination string, payload []byte) *Envelope {
	return &Envelope{
		ID:          uuid.New(),
		Source:      source,
		Destination: destination,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire-format envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &e, nil
}

// WriteFrame writes data as one length-prefixed frame: a 4-byte big-endian
// length followed by the payload.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > DefaultMaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting frames larger than
// max (DefaultMaxFrameSize when max <= 0).
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if int(length) > max {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return data, nil
}

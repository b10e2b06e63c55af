package gradient

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Accumulator buffers gradients per destination node and averages each
// buffer when it drains. With auto-flush on, a buffer drains as soon as it
// reaches the batch size; partial buffers persist until flushed explicitly.
// Safe for concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	pending   map[uuid.UUID][]*Gradient
	batchSize int
	autoFlush bool
}

// NewAccumulator creates an accumulator draining at batchSize. Sizes below
// one are raised to one.
func NewAccumulator(batchSize int, autoFlush bool) *Accumulator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Accumulator{
		pending:   make(map[uuid.UUID][]*Gradient),
		batchSize: batchSize,
		autoFlush: autoFlush,
	}
}

// BatchSize returns the configured drain threshold.
func (a *Accumulator) BatchSize() int {
	return a.batchSize
}

// Pending returns how many gradients are buffered for nodeID.
func (a *Accumulator) Pending(nodeID uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending[nodeID])
}

// Add buffers a copy of g for nodeID; the caller keeps its argument. When
// auto-flush is on and the buffer reaches the batch size, the buffer drains
// atomically and Add returns the averaged gradient; otherwise it returns
// nil. A gradient whose dimension differs from the buffered ones is refused.
func (a *Accumulator) Add(nodeID uuid.UUID, g *Gradient) (*Gradient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf := a.pending[nodeID]
	if len(buf) > 0 && len(buf[0].Direction) != len(g.Direction) {
		return nil, fmt.Errorf("%w: node %s buffers %d components, got %d",
			ErrDimensionMismatch, nodeID, len(buf[0].Direction), len(g.Direction))
	}
	a.pending[nodeID] = append(buf, g.Clone())

	if a.autoFlush && len(a.pending[nodeID]) >= a.batchSize {
		return a.drainLocked(nodeID), nil
	}
	return nil, nil
}

// Flush drains nodeID's buffer regardless of fill level and returns the
// average, or nil when nothing is buffered.
func (a *Accumulator) Flush(nodeID uuid.UUID) *Gradient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked(nodeID)
}

// FlushAll drains every buffer and returns the averages by node.
func (a *Accumulator) FlushAll() map[uuid.UUID]*Gradient {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[uuid.UUID]*Gradient, len(a.pending))
	for nodeID := range a.pending {
		if avg := a.drainLocked(nodeID); avg != nil {
			out[nodeID] = avg
		}
	}
	return out
}

// drainLocked removes one node's buffer and averages it: the fold sums
// errors, components, and step counts, then everything divides by the summed
// steps. Add keeps buffers dimension-homogeneous, so the fold cannot fail.
func (a *Accumulator) drainLocked(nodeID uuid.UUID) *Gradient {
	buf := a.pending[nodeID]
	if len(buf) == 0 {
		return nil
	}
	delete(a.pending, nodeID)

	avg := buf[0].Clone()
	for _, g := range buf[1:] {
		if err := avg.Accumulate(g); err != nil {
			continue
		}
	}
	if avg.Steps > 1 {
		factor := 1 / float32(avg.Steps)
		avg.Error *= factor
		for i := range avg.Direction {
			avg.Direction[i] *= factor
		}
		avg.Magnitude = norm(avg.Direction)
	}
	return avg
}

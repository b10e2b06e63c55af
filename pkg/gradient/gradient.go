// Package gradient implements the backward error propagation protocol:
// per-node accumulation of learning gradients into batches, magnitude
// clipping, compressed point-to-point dispatch, and typed receipt.
package gradient

import (
	"fmt"
	"math"
)

// SignificanceThreshold is the magnitude below which a gradient is noise and
// is dropped rather than sent.
const SignificanceThreshold = 0.001

// Gradient is one backward error signal: an error scalar, a direction
// vector, the vector's L2 norm, and the number of raw gradients folded in.
// Magnitude is recomputed after every mutation so it always equals the norm
// of Direction.
type Gradient struct {
	Error     float32   `json:"error"`
	Direction []float32 `json:"direction"`
	Magnitude float32   `json:"magnitude"`
	Steps     uint32    `json:"accumulated_steps"`
}

// New creates a single-step gradient and computes its magnitude.
func New(err float32, direction []float32) *Gradient {
	return &Gradient{
		Error:     err,
		Direction: direction,
		Magnitude: norm(direction),
		Steps:     1,
	}
}

// Accumulate folds other into g component-wise, summing errors and step
// counts. The step count is what averaging later divides by.
func (g *Gradient) Accumulate(other *Gradient) error {
	if len(g.Direction) != len(other.Direction) {
		return fmt.Errorf("%w: %d vs %d components",
			ErrDimensionMismatch, len(g.Direction), len(other.Direction))
	}
	for i, v := range other.Direction {
		g.Direction[i] += v
	}
	g.Error += other.Error
	g.Steps += other.Steps
	g.Magnitude = norm(g.Direction)
	return nil
}

// Clip scales the direction so the magnitude does not exceed maxNorm,
// pinning the magnitude to exactly maxNorm. A gradient already within the
// bound is left untouched. Returns whether clipping occurred.
func (g *Gradient) Clip(maxNorm float32) bool {
	if g.Magnitude <= maxNorm {
		return false
	}
	scale := maxNorm / g.Magnitude
	for i := range g.Direction {
		g.Direction[i] *= scale
	}
	g.Magnitude = maxNorm
	return true
}

// Significant reports whether the gradient is worth propagating.
func (g *Gradient) Significant() bool {
	return g.Magnitude > SignificanceThreshold
}

// Clone returns an independent copy.
func (g *Gradient) Clone() *Gradient {
	direction := make([]float32, len(g.Direction))
	copy(direction, g.Direction)
	clone := *g
	clone.Direction = direction
	return &clone
}

func norm(direction []float32) float32 {
	var sum float64
	for _, v := range direction {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

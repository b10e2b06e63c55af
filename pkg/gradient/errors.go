package gradient

import "errors"

var (
	// ErrDimensionMismatch is returned when two gradients with different
	// direction vector lengths are combined.
	ErrDimensionMismatch = errors.New("gradient dimension mismatch")

	// ErrMissingGradient is returned for messages that carry no gradient.
	ErrMissingGradient = errors.New("gradient message carries no gradient")
)

// Package consensus implements distributed agreement over the shared
// transport: nodes propose JSON values, peers vote, and each node evaluates
// quorum thresholds locally against its view of the participant set. No
// leader, no log; agreement is reached purely through vote exchange and
// threshold arithmetic.
package consensus

import (
	"fmt"
	"math"
)

type algorithmKind uint8

const (
	kindSimpleMajority algorithmKind = iota
	kindSuperMajority
	kindByzantine
	kindUnanimous
	kindQuorum
)

// Algorithm decides how many accept votes a proposal needs given the current
// participant count. The zero value is SimpleMajority.
type Algorithm struct {
	kind      algorithmKind
	threshold float64
}

// Built-in vote policies.
var (
	SimpleMajority = Algorithm{kind: kindSimpleMajority}
	SuperMajority  = Algorithm{kind: kindSuperMajority}
	Byzantine      = Algorithm{kind: kindByzantine}
	Unanimous      = Algorithm{kind: kindUnanimous}
)

// Quorum requires ceil(total*threshold) accepts, never fewer than one.
func Quorum(threshold float64) Algorithm {
	return Algorithm{kind: kindQuorum, threshold: threshold}
}

// ParseAlgorithm resolves a config name. threshold is only consulted for
// "quorum" and must lie in (0, 1].
func ParseAlgorithm(name string, threshold float64) (Algorithm, error) {
	switch name {
	case "simple-majority", "":
		return SimpleMajority, nil
	case "super-majority":
		return SuperMajority, nil
	case "byzantine":
		return Byzantine, nil
	case "unanimous":
		return Unanimous, nil
	case "quorum":
		if threshold <= 0 || threshold > 1 {
			return Algorithm{}, fmt.Errorf("quorum threshold must be in (0, 1], got %v", threshold)
		}
		return Quorum(threshold), nil
	default:
		return Algorithm{}, fmt.Errorf("unknown consensus algorithm %q", name)
	}
}

// RequiredVotes computes the accept-vote threshold for total participants.
func (a Algorithm) RequiredVotes(total int) int {
	if total <= 0 {
		return 0
	}
	switch a.kind {
	case kindSuperMajority, kindByzantine:
		return (2*total)/3 + 1
	case kindUnanimous:
		return total
	case kindQuorum:
		required := int(math.Ceil(float64(total) * a.threshold))
		if required < 1 {
			required = 1
		}
		return required
	default:
		return total/2 + 1
	}
}

// String returns the config name of the algorithm.
func (a Algorithm) String() string {
	switch a.kind {
	case kindSuperMajority:
		return "super-majority"
	case kindByzantine:
		return "byzantine"
	case kindUnanimous:
		return "unanimous"
	case kindQuorum:
		return fmt.Sprintf("quorum(%.2f)", a.threshold)
	default:
		return "simple-majority"
	}
}

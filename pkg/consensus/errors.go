package consensus

import (
	"errors"
)

// Common consensus errors
var (
	ErrUnknownProposal    = errors.New("unknown proposal")
	ErrProposalNotPending = errors.New("proposal already finalized")
	ErrProposalExpired    = errors.New("proposal expired")
	ErrAlreadyStarted     = errors.New("consensus engine already started")
)

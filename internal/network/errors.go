package network

import "errors"

// Sentinel errors for host and dial failures. Transport-level failures reuse
// the sentinels from pkg/transport so callers match one set across backends.
var (
	ErrInvalidAddress = errors.New("invalid multiaddr format")
	ErrMissingPeerID  = errors.New("address carries no /p2p peer id")
)

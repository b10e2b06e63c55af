package protocol

import (
	"errors"
)

// Common protocol errors
var (
	ErrUnsupportedOperation = errors.New("generic encode/decode not supported by this protocol")
	ErrProtocolNotFound     = errors.New("protocol not registered")
	ErrProtocolExists       = errors.New("protocol already registered")
	ErrIncompatibleVersion  = errors.New("incompatible protocol version")
	ErrInvalidVersion       = errors.New("invalid version string")
)

package fdlink

import (
	"errors"

	"fdlink/pkg/fdframe"
)

// Error taxonomy mirrors the status codes a caller can receive back from
// any Engine method, the same way the teacher's link package exposes one
// sentinel per failure mode instead of ad hoc fmt.Errorf strings.
var (
	ErrTimeout      = errors.New("fdlink: timed out waiting for window/queue space")
	ErrInvalidData  = errors.New("fdlink: invalid data")
	ErrUnknownPeer  = errors.New("fdlink: unknown peer address")
	ErrDataTooLarge = errors.New("fdlink: payload larger than MTU")
	ErrOutOfMemory  = errors.New("fdlink: no free frame slots")
	ErrFailed       = errors.New("fdlink: operation failed")
	ErrClosed       = errors.New("fdlink: engine closed")

	// ErrBadCRC wraps fdframe.ErrBadCRC so callers can errors.Is against
	// either the engine or the codec sentinel.
	ErrBadCRC = fdframe.ErrBadCRC
)

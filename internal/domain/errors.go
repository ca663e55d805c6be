package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("unavailable")
	ErrProtocol        = errors.New("protocol error")
	ErrChannelFailure  = errors.New("channel failure")
	ErrTimeout         = errors.New("timeout")
	ErrInvalidID       = errors.New("invalid node id")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrSpawnFailed     = errors.New("spawn failed")
)

// ErrChannelClosed is returned by endpoints that were shut down locally.
var ErrChannelClosed = fmt.Errorf("%w: channel closed", ErrChannelFailure)

// TimeoutError wraps ErrTimeout as a recoverable channel failure.
func TimeoutError() error {
	return fmt.Errorf("%w: %w", ErrChannelFailure, ErrTimeout)
}

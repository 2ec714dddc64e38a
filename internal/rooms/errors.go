package rooms

import "errors"

var (
	ErrNilChannel      = errors.New("channel cannot be nil")
	ErrChannelAttached = errors.New("channel is already attached")
	ErrUnknownChannel  = errors.New("channel is not attached")
)

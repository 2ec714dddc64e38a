package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Handler-related errors
var (
	ErrInvalidToken   = errors.New("missing or malformed channel token")
	ErrInvalidFrame   = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrNotSignedIn    = errors.New("no valid session for this channel")
	ErrRoomNotAllowed = errors.New("not allowed to join this room")
)

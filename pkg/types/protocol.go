package types

import "encoding/json"

// Channel frame event names
const (
	// client -> server
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"

	// server -> client
	EventDataChange = "data-change"
	EventJoined     = "joined"
	EventLeft       = "left"
	EventError      = "error"
)

// Frame is one JSON message on a channel, {"event": "...", "data": ...}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is the server side shape of Frame before encoding
type OutboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ChannelError is the payload of an "error" frame
type ChannelError struct {
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

// RoomAck is the payload of "joined" and "left" frames
type RoomAck struct {
	Room string `json:"room"`
}

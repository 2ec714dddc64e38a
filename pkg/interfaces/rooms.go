package interfaces

import "registersync/pkg/types"

// RoomRegistry is the only shared mutable state of the synchronization layer.
// Every operation is atomic with respect to the others.
type RoomRegistry interface {
	// Join subscribes a channel to a room; joining twice is a no-op
	Join(channelID string, room types.Room) error

	// Leave removes one membership; a single Leave undoes any number of Joins
	Leave(channelID string, room types.Room)

	// DropChannel removes the channel from every room it belonged to
	DropChannel(channelID string)

	// MembersOf returns a snapshot of the channel IDs subscribed to room
	MembersOf(room types.Room) []string
}

// Publisher accepts change events for fan-out. Publish must not block on
// delivery; it returns as soon as the event is queued.
type Publisher interface {
	Publish(event *types.ChangeEvent) error
}

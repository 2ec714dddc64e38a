package rooms

import (
	"sort"
	"sync"

	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

// Registry maps rooms to the channels subscribed to them
// ARCHITECTURAL DISCOVERY: both directions are indexed under one lock so
// DropChannel and a concurrent Recipients call can never see a channel
// removed from one room but not another
type Registry struct {
	mu          sync.RWMutex
	channels    map[string]interfaces.Channel    // channelID -> Channel
	members     map[string]map[string]struct{}   // roomID -> channelIDs
	memberships map[string]map[string]types.Room // channelID -> roomID -> Room
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		channels:    make(map[string]interfaces.Channel),
		members:     make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]types.Room),
	}
}

// Attach makes a connected channel known to the registry so it can join rooms
func (r *Registry) Attach(ch interfaces.Channel) error {
	if ch == nil {
		return ErrNilChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch.ID()]; exists {
		return ErrChannelAttached
	}
	r.channels[ch.ID()] = ch
	r.memberships[ch.ID()] = make(map[string]types.Room)
	return nil
}

// Lookup returns an attached channel
func (r *Registry) Lookup(channelID string) (interfaces.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[channelID]
	return ch, exists
}

// Join subscribes an attached channel to room. Joining twice is a no-op.
// A room comes into existence with its first member.
func (r *Registry) Join(channelID string, room types.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, attached := r.memberships[channelID]
	if !attached {
		return ErrUnknownChannel
	}

	id := room.ID()
	if r.members[id] == nil {
		r.members[id] = make(map[string]struct{})
	}
	r.members[id][channelID] = struct{}{}
	joined[id] = room
	return nil
}

// Leave removes the channel from room. Leaving a room the channel is not in
// is a no-op. Empty rooms are discarded.
func (r *Registry) Leave(channelID string, room types.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(channelID, room.ID())
}

func (r *Registry) leaveLocked(channelID, roomID string) {
	if joined, exists := r.memberships[channelID]; exists {
		delete(joined, roomID)
	}
	if members, exists := r.members[roomID]; exists {
		delete(members, channelID)
		if len(members) == 0 {
			delete(r.members, roomID)
		}
	}
}

// DropChannel removes the channel from every room and forgets it, in one
// step with respect to Recipients and MembersOf
func (r *Registry) DropChannel(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.memberships[channelID] {
		r.leaveLocked(channelID, roomID)
	}
	delete(r.memberships, channelID)
	delete(r.channels, channelID)
}

// MembersOf returns the sorted IDs of channels subscribed to room
func (r *Registry) MembersOf(room types.Room) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.members[room.ID()]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recipients resolves the members of room to channel handles in a single
// snapshot. Channels closed after the snapshot drop their frames silently.
func (r *Registry) Recipients(room types.Room) []interfaces.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.members[room.ID()]
	recipients := make([]interfaces.Channel, 0, len(members))
	for id := range members {
		if ch, exists := r.channels[id]; exists {
			recipients = append(recipients, ch)
		}
	}
	return recipients
}

// RoomsOf returns the rooms a channel currently belongs to
func (r *Registry) RoomsOf(channelID string) []types.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.memberships[channelID]
	result := make([]types.Room, 0, len(joined))
	for _, room := range joined {
		result = append(result, room)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID() < result[j].ID()
	})
	return result
}

// GetStats returns registry statistics for the health endpoint
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := 0
	for _, members := range r.members {
		memberships += len(members)
	}

	return map[string]int{
		"channels":    len(r.channels),
		"rooms":       len(r.members),
		"memberships": memberships,
	}
}

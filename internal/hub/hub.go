package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

// RecipientResolver turns a room into the channels to deliver to.
// It must return a consistent snapshot.
type RecipientResolver interface {
	Recipients(room types.Room) []interfaces.Channel
}

// Hub is the event broadcaster
// ARCHITECTURAL DISCOVERY: a single goroutine drains the event queue, so
// events published in order are delivered to each room in that order
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts of edits
	eventChannel    chan *types.ChangeEvent
	shutdownChannel chan struct{}

	rooms RecipientResolver

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a broadcaster with room for bufferSize queued events
func NewHub(rooms RecipientResolver, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Hub{
		eventChannel:    make(chan *types.ChangeEvent, bufferSize),
		shutdownChannel: make(chan struct{}),
		rooms:           rooms,
	}
}

// Start begins hub processing. Cancelling ctx stops the hub the same way
// Stop does, queued events included.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})

	slog.Info("starting event hub")

	h.wg.Add(1)
	go h.run(ctx, h.shutdownChannel)

	return nil
}

// Stop shuts the hub down. Events still queued are delivered first.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	slog.Info("stopping event hub")
	h.wg.Wait()
	return nil
}

// Publish queues an event for fan-out and returns immediately. A full queue
// drops the event: delivery is best-effort and clients reconcile by
// reloading.
func (h *Hub) Publish(event *types.ChangeEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- event:
		h.published.Add(1)
		return nil
	default:
		h.dropped.Add(1)
		slog.Warn("event queue full, dropping change event",
			"room", event.Room().ID(), "action", event.Action)
		return ErrEventChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}) {
	defer h.wg.Done()
	defer slog.Info("event hub stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.broadcast(event)

		case <-shutdown:
			h.drain()
			return

		case <-ctx.Done():
			// Publish checks running under the same lock, so nothing is
			// queued after this point and drain sees every accepted event
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			h.drain()
			return
		}
	}
}

// drain delivers whatever was queued before the hub stopped
func (h *Hub) drain() {
	for {
		select {
		case event := <-h.eventChannel:
			h.broadcast(event)
		default:
			return
		}
	}
}

// broadcast pushes one event to every member of its room
func (h *Hub) broadcast(event *types.ChangeEvent) {
	room := event.Room()
	recipients := h.rooms.Recipients(room)

	for _, ch := range recipients {
		// Send never blocks; a closed or saturated channel just misses the event
		if err := ch.Send(types.EventDataChange, event); err != nil {
			slog.Debug("change event not delivered",
				"room", room.ID(), "channel", ch.ID(), "error", err)
			continue
		}
		h.delivered.Add(1)
	}

	slog.Debug("change event broadcast",
		"room", room.ID(), "action", event.Action, "recipients", len(recipients))
}

// GetStats returns delivery counters
func (h *Hub) GetStats() map[string]int64 {
	return map[string]int64{
		"published": h.published.Load(),
		"delivered": h.delivered.Load(),
		"dropped":   h.dropped.Load(),
		"queued":    int64(len(h.eventChannel)),
	}
}

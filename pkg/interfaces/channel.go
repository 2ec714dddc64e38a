package interfaces

// Channel is one live connection from a browser tab
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details keeps
// the room registry and broadcaster testable with in-memory fakes
type Channel interface {
	// ID returns the connection identifier, unique per process
	ID() string

	// Send queues a frame for delivery without blocking the caller.
	// Delivery to a closed channel is a silent no-op.
	Send(event string, data interface{}) error

	// Close closes the connection and releases its writer
	Close() error
}

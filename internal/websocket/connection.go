package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"registersync/pkg/types"
)

// Connection implements the interfaces.Channel interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: buffer absorbs bursts while a tab is busy re-fetching
	writeTimeout time.Duration

	username     string // from the handshake token
	sessionToken string // session cookie presented at handshake, may be empty

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex
}

func newConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// NewConnection wraps an upgraded socket and starts its writer
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	c := newConnection(conn, bufferSize, writeTimeout)
	go c.writeLoop()
	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// writeCh is never closed, so a late Send can not panic.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection identifier
func (c *Connection) ID() string {
	return c.id
}

// Send encodes a frame and queues it. It never blocks: a full buffer drops
// the frame and a closed connection returns ErrConnectionClosed.
func (c *Connection) Send(event string, data interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	payload, err := json.Marshal(types.OutboundFrame{Event: event, Data: data})
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- payload:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// bind records who opened the channel. Joins re-check sessionToken each
// time, so nothing else about the session is kept.
func (c *Connection) bind(username, sessionToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.username = username
	c.sessionToken = sessionToken
}

// Username returns the name carried by the handshake token
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// SessionToken returns the session cookie value presented at handshake
func (c *Connection) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken
}

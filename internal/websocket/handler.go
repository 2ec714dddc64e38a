package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"registersync/internal/policy"
	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

// TokenHeader carries the channel token for clients that can not use the query string
const TokenHeader = "X-Channel-Token"

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: the dashboard is served from the same host;
		// development front ends run elsewhere
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// ChannelRegistry is the part of the room registry the handler drives
type ChannelRegistry interface {
	interfaces.RoomRegistry
	Attach(ch interfaces.Channel) error
	RoomsOf(channelID string) []types.Room
}

// SessionPeeker looks a session up without extending it
type SessionPeeker interface {
	Peek(token string) (*types.Session, error)
}

// HandlerConfig holds heartbeat and buffering settings
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	CookieName   string
}

// DefaultHandlerConfig returns a 30s ping with a 60s read deadline
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
		CookieName:   "registersync.sid",
	}
}

// Handler accepts channels and runs the room protocol on them
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic
type Handler struct {
	registry ChannelRegistry
	sessions SessionPeeker
	config   HandlerConfig
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry ChannelRegistry, sessions SessionPeeker, config HandlerConfig) *Handler {
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.CookieName == "" {
		config.CookieName = defaults.CookieName
	}
	return &Handler{
		registry: registry,
		sessions: sessions,
		config:   config,
	}
}

// HandleWebSocket validates the handshake token, upgrades, and starts the
// read pump. The token only has to be well formed; room joins are checked
// against the session cookie.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(TokenHeader)
	}
	username, ok := types.ParseChannelToken(token)
	if !ok {
		http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}

	// A missing or stale cookie does not block the handshake
	var sessionToken string
	signedIn := false
	if cookie, err := r.Cookie(h.config.CookieName); err == nil {
		sessionToken = cookie.Value
		_, err := h.sessions.Peek(sessionToken)
		signedIn = err == nil
	}

	// FUNCTIONAL DISCOVERY: WebSocket upgrade after validation prevents resource waste
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.config.BufferSize, h.config.WriteTimeout)
	wsConn.bind(username, sessionToken)

	if err := h.registry.Attach(wsConn); err != nil {
		slog.Error("failed to attach channel", "channel", wsConn.ID(), "error", err)
		_ = wsConn.Close()
		return
	}

	slog.Info("channel connected", "channel", wsConn.ID(), "user", username, "signed_in", signedIn)

	// TECHNICAL DISCOVERY: Separate goroutine for connection lifecycle management
	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// Leaving without leave-room still removes every membership
		joined := h.registry.RoomsOf(conn.ID())
		h.registry.DropChannel(conn.ID())
		_ = conn.Close()
		slog.Info("channel disconnected", "channel", conn.ID(), "user", conn.Username(), "rooms", len(joined))
	}()

	ws := conn.conn
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		slog.Warn("failed to set read deadline", "error", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.config.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error", "channel", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(conn, data)
	}
}

// handleFrame runs one client frame. Problems are reported back on the
// channel and never close it.
func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reply(conn, types.EventError, types.ChannelError{Message: ErrInvalidFrame.Error()})
		return
	}

	switch frame.Event {
	case types.EventJoinRoom, types.EventLeaveRoom:
	default:
		h.reply(conn, types.EventError, types.ChannelError{Message: ErrUnknownEvent.Error() + ": " + frame.Event})
		return
	}

	var roomID string
	if err := json.Unmarshal(frame.Data, &roomID); err != nil {
		h.reply(conn, types.EventError, types.ChannelError{Message: ErrInvalidFrame.Error()})
		return
	}
	room, err := types.ParseRoomID(roomID)
	if err != nil {
		h.reply(conn, types.EventError, types.ChannelError{Message: err.Error(), Room: roomID})
		return
	}

	if frame.Event == types.EventLeaveRoom {
		h.registry.Leave(conn.ID(), room)
		h.reply(conn, types.EventLeft, types.RoomAck{Room: room.ID()})
		return
	}

	session, err := h.authorizeJoin(conn)
	if err != nil {
		slog.Info("room join refused", "channel", conn.ID(), "room", room.ID(), "error", err)
		h.reply(conn, types.EventError, types.ChannelError{Message: err.Error(), Room: room.ID()})
		return
	}
	if err := h.registry.Join(conn.ID(), room); err != nil {
		h.reply(conn, types.EventError, types.ChannelError{Message: err.Error(), Room: room.ID()})
		return
	}
	slog.Debug("room joined", "channel", conn.ID(), "room", room.ID(), "user", session.Username, "role", session.Role)
	h.reply(conn, types.EventJoined, types.RoomAck{Room: room.ID()})
}

// authorizeJoin re-reads the session on every join so an expired or logged
// out session can not subscribe again on an old channel
func (h *Handler) authorizeJoin(conn *Connection) (*types.Session, error) {
	token := conn.SessionToken()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	session, err := h.sessions.Peek(token)
	if err != nil {
		return nil, ErrNotSignedIn
	}
	if err := policy.Authorize(session.Role, policy.OpJoinRoom); err != nil {
		if errors.Is(err, policy.ErrPermissionDenied) {
			return nil, ErrRoomNotAllowed
		}
		return nil, err
	}
	return session, nil
}

func (h *Handler) reply(conn *Connection, event string, data interface{}) {
	if err := conn.Send(event, data); err != nil {
		slog.Debug("reply not sent", "channel", conn.ID(), "event", event, "error", err)
	}
}

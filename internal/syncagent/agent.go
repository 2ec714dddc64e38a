package syncagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"registersync/pkg/types"
)

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNotConnected   = errors.New("channel not connected")
	ErrAlreadyOpen    = errors.New("channel already open")
	ErrLoginFailed    = errors.New("login failed")
	ErrSessionExpired = errors.New("session expired")
	ErrJoinRefused    = errors.New("room join refused")
)

// State is where the agent is in its connection lifecycle
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Logout reasons passed to Config.OnLogout
const (
	ReasonIdle    = "idle"
	ReasonExpired = "session expired"
	ReasonUser    = "user"
)

// Config describes the server and the callbacks the view layer provides
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:3000
	BaseURL string

	IdleWarning time.Duration
	IdleTimeout time.Duration
	AckTimeout  time.Duration

	// Clock drives the idle timers only; acknowledgement waits use wall time
	Clock  clock.Clock
	Dialer *websocket.Dialer

	// OnReload receives the full list after every re-fetch
	OnReload func(room types.Room, records []*types.Record)
	// OnIdleWarning fires once per idle period, before the forced logout
	OnIdleWarning func()
	OnLogout      func(reason string)
	OnDisconnect  func(err error)
}

// Agent keeps one browser view in step with the server. It owns one
// channel, at most one joined room, and the idle timers.
type Agent struct {
	config Config
	client *http.Client
	base   *url.URL

	mu       sync.Mutex
	state    State
	user     *UserInfo
	conn     *websocket.Conn
	current  types.Room
	records  []*types.Record
	done     chan struct{}
	acks     chan types.Frame
	reloadCh chan struct{}

	warnTimer   clock.Timer
	logoutTimer clock.Timer

	switchMu sync.Mutex
	writeMu  sync.Mutex
}

// UserInfo is the identity returned by login
type UserInfo struct {
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
}

// NewAgent builds an agent with its own cookie jar
func NewAgent(config Config) (*Agent, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", base.Scheme)
	}

	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.IdleWarning <= 0 {
		config.IdleWarning = 25 * time.Minute
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Minute
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = 5 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	dialer := websocket.DefaultDialer
	if config.Dialer != nil {
		dialer = config.Dialer
	}
	withJar := *dialer
	withJar.Jar = jar
	config.Dialer = &withJar

	return &Agent{
		config: config,
		client: &http.Client{Jar: jar, Timeout: 30 * time.Second},
		base:   base,
	}, nil
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// User returns the logged in identity
func (a *Agent) User() (UserInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return UserInfo{}, false
	}
	return *a.user, true
}

// CurrentRoom returns the joined room, if any
func (a *Agent) CurrentRoom() (types.Room, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.current.Type != ""
}

// Records returns the last fetched list for the current room
func (a *Agent) Records() []*types.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*types.Record(nil), a.records...)
}

// Open logs in, connects, and joins the room for the displayed view
func (a *Agent) Open(ctx context.Context, username, password string, view types.Room) error {
	if err := a.Login(ctx, username, password); err != nil {
		return err
	}
	if err := a.Connect(ctx); err != nil {
		return err
	}
	return a.Switch(ctx, view)
}

// Login authenticates and starts the idle timers
func (a *Agent) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Success bool     `json:"success"`
		User    UserInfo `json:"user"`
	}
	code, err := a.call(ctx, http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	if code != http.StatusOK || !resp.Success {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, code)
	}

	a.mu.Lock()
	a.user = &resp.User
	a.mu.Unlock()

	a.Activity()
	slog.Info("logged in", "user", resp.User.Username, "role", resp.User.Role)
	return nil
}

// Connect opens the channel. A dropped channel is not reopened automatically.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.user == nil {
		a.mu.Unlock()
		return ErrNotLoggedIn
	}
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return ErrAlreadyOpen
	}
	a.state = StateConnecting
	username := a.user.Username
	a.mu.Unlock()

	wsURL := *a.base
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws"
	wsURL.RawQuery = url.Values{"token": {types.NewChannelToken(username, a.config.Clock.Now())}}.Encode()

	conn, _, err := a.config.Dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		a.mu.Lock()
		a.state = StateDisconnected
		a.mu.Unlock()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	done := make(chan struct{})
	acks := make(chan types.Frame, 16)
	reloadCh := make(chan struct{}, 1)

	a.mu.Lock()
	a.conn = conn
	a.state = StateConnected
	a.done = done
	a.acks = acks
	a.reloadCh = reloadCh
	a.mu.Unlock()

	go a.readLoop(conn, done, acks, reloadCh)
	go a.reloadLoop(done, reloadCh)
	return nil
}

// Switch moves the view to room. The old room is left before the new one
// is joined, then the list is re-fetched in full.
func (a *Agent) Switch(ctx context.Context, room types.Room) error {
	a.switchMu.Lock()
	defer a.switchMu.Unlock()

	if _, err := types.NewRoom(room.Type, room.FinancialYear); err != nil {
		return err
	}

	a.mu.Lock()
	conn, acks, previous := a.conn, a.acks, a.current
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if previous.Type != "" && previous != room {
		if err := a.request(ctx, conn, acks, types.EventLeaveRoom, previous); err != nil {
			return err
		}
		a.mu.Lock()
		a.current = types.Room{}
		a.records = nil
		a.state = StateConnected
		a.mu.Unlock()
	}

	if err := a.request(ctx, conn, acks, types.EventJoinRoom, room); err != nil {
		return err
	}

	a.mu.Lock()
	a.current = room
	a.state = StateJoined
	a.mu.Unlock()

	a.Activity()
	return a.Reload(ctx)
}

// request sends a room frame and waits for its acknowledgement
func (a *Agent) request(ctx context.Context, conn *websocket.Conn, acks <-chan types.Frame, event string, room types.Room) error {
	if err := a.send(conn, event, room.ID()); err != nil {
		return err
	}

	want := types.EventJoined
	if event == types.EventLeaveRoom {
		want = types.EventLeft
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.AckTimeout)
	defer cancel()
	for {
		select {
		case frame, ok := <-acks:
			if !ok {
				return ErrNotConnected
			}
			switch frame.Event {
			case want:
				var ack types.RoomAck
				if err := json.Unmarshal(frame.Data, &ack); err == nil && ack.Room == room.ID() {
					return nil
				}
			case types.EventError:
				var failure types.ChannelError
				_ = json.Unmarshal(frame.Data, &failure)
				if failure.Room == room.ID() || failure.Room == "" {
					return fmt.Errorf("%w: %s", ErrJoinRefused, failure.Message)
				}
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("no %s acknowledgement for %s", want, room)
			}
			return ctx.Err()
		}
	}
}

func (a *Agent) send(conn *websocket.Conn, event string, data interface{}) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteJSON(types.OutboundFrame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// incomingEvent is the data-change payload as it arrives
type incomingEvent struct {
	Type   types.RegisterType `json:"type"`
	Action string             `json:"action"`
}

func (a *Agent) readLoop(conn *websocket.Conn, done chan struct{}, acks chan types.Frame, reloadCh chan struct{}) {
	var readErr error
	defer func() {
		close(done)
		close(acks)
		_ = conn.Close()

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
			a.state = StateDisconnected
			a.current = types.Room{}
		}
		a.mu.Unlock()

		slog.Info("channel closed", "error", readErr)
		if a.config.OnDisconnect != nil {
			a.config.OnDisconnect(readErr)
		}
	}()

	for {
		var frame types.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			readErr = err
			return
		}

		switch frame.Event {
		case types.EventDataChange:
			var ev incomingEvent
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				continue
			}
			current, joined := a.CurrentRoom()
			// Rooms already scope delivery; the type check guards the view
			if !joined || ev.Type != current.Type {
				continue
			}
			select {
			case reloadCh <- struct{}{}:
			default:
				// a reload is already pending and will see this change
			}
		case types.EventJoined, types.EventLeft, types.EventError:
			select {
			case acks <- frame:
			default:
				slog.Warn("dropping unexpected acknowledgement", "event", frame.Event)
			}
		}
	}
}

// reloadLoop coalesces bursts of change events into single re-fetches
func (a *Agent) reloadLoop(done <-chan struct{}, reloadCh <-chan struct{}) {
	for {
		select {
		case <-reloadCh:
			if err := a.Reload(context.Background()); err != nil {
				slog.Warn("reload after change failed", "error", err)
			}
		case <-done:
			return
		}
	}
}

// Reload fetches the full list for the current room from the server
func (a *Agent) Reload(ctx context.Context) error {
	room, joined := a.CurrentRoom()
	if !joined {
		return ErrNotConnected
	}

	path := "/api/" + room.Type.PathName() + "?" + url.Values{"year": {room.FinancialYear}}.Encode()
	var records []*types.Record
	code, err := a.call(ctx, http.MethodGet, path, nil, &records)
	if err != nil {
		return err
	}
	if code == http.StatusUnauthorized {
		a.expire(ReasonExpired)
		return ErrSessionExpired
	}
	if code != http.StatusOK {
		return fmt.Errorf("list %s: status %d", room, code)
	}

	for _, r := range records {
		r.Type = room.Type
	}

	a.mu.Lock()
	if a.current != room {
		// switched away while fetching
		a.mu.Unlock()
		return nil
	}
	a.records = records
	a.mu.Unlock()

	if a.config.OnReload != nil {
		a.config.OnReload(room, records)
	}
	return nil
}

// Activity records a user interaction and restarts the idle timers
func (a *Agent) Activity() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.user == nil {
		return
	}
	a.stopTimersLocked()
	a.warnTimer = a.config.Clock.AfterFunc(a.config.IdleWarning, func() {
		if a.config.OnIdleWarning != nil {
			a.config.OnIdleWarning()
		}
	})
	a.logoutTimer = a.config.Clock.AfterFunc(a.config.IdleTimeout, func() {
		a.expire(ReasonIdle)
	})
}

func (a *Agent) stopTimersLocked() {
	if a.warnTimer != nil {
		a.warnTimer.Stop()
		a.warnTimer = nil
	}
	if a.logoutTimer != nil {
		a.logoutTimer.Stop()
		a.logoutTimer = nil
	}
}

// Extend asks the server to slide the session window and restarts the
// local timers. The two clocks are not synchronized.
func (a *Agent) Extend(ctx context.Context) error {
	code, err := a.call(ctx, http.MethodPost, "/api/extend-session", nil, nil)
	if err != nil {
		return err
	}
	if code == http.StatusUnauthorized {
		a.expire(ReasonExpired)
		return ErrSessionExpired
	}
	if code != http.StatusOK {
		return fmt.Errorf("extend session: status %d", code)
	}
	a.Activity()
	return nil
}

// Logout ends the server session and closes the channel
func (a *Agent) Logout(ctx context.Context) error {
	_, err := a.call(ctx, http.MethodPost, "/api/logout", nil, nil)
	a.teardown(ReasonUser)
	return err
}

// expire is the client side forced logout
func (a *Agent) expire(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.call(ctx, http.MethodPost, "/api/logout", nil, nil); err != nil {
		slog.Debug("logout call failed", "error", err)
	}
	a.teardown(reason)
}

func (a *Agent) teardown(reason string) {
	a.mu.Lock()
	wasLoggedIn := a.user != nil
	a.user = nil
	a.stopTimersLocked()
	conn := a.conn
	a.records = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasLoggedIn {
		slog.Info("logged out", "reason", reason)
		if a.config.OnLogout != nil {
			a.config.OnLogout(reason)
		}
	}
}

// Close drops the channel and stops the timers without logging out
func (a *Agent) Close() error {
	a.mu.Lock()
	a.stopTimersLocked()
	conn, done := a.conn, a.done
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

// Done is closed when the current channel goes away
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.done
}

// call performs one JSON request with the agent's cookies
func (a *Agent) call(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

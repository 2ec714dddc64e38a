package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"registersync/internal/app"
	"registersync/internal/config"
	"registersync/pkg/types"
)

const frameTimeout = 2 * time.Second

// StartTestServer runs the full application behind an httptest server
func StartTestServer(t *testing.T) (*app.Application, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.Auth.BcryptCost = 4

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.StartServices(context.Background()); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
		_ = application.Stop(context.Background())
	})
	return application, server.URL
}

// TestClient is one browser profile: a cookie jar shared by HTTP and channels
type TestClient struct {
	t        *testing.T
	baseURL  string
	username string
	jar      http.CookieJar
	client   *http.Client
}

// Login creates a client and signs it in
func Login(t *testing.T, baseURL, username, password string) *TestClient {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	c := &TestClient{t: t, baseURL: baseURL, username: username, jar: jar, client: &http.Client{Jar: jar}}

	resp := c.Do(http.MethodPost, "/api/login", map[string]string{"username": username, "password": password})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login for %s failed with %d", username, resp.StatusCode)
	}
	return c
}

// Do sends a JSON request
func (c *TestClient) Do(method, path string, body interface{}) *http.Response {
	c.t.Helper()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			c.t.Fatalf("Failed to marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// CreateRecord posts a record and returns the stored row
func (c *TestClient) CreateRecord(register types.RegisterType, year string, fields map[string]interface{}) *types.Record {
	c.t.Helper()

	resp := c.Do(http.MethodPost, "/api/"+register.PathName(), map[string]interface{}{
		"financial_year": year,
		"fields":         fields,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("Create in %s returned %d", register, resp.StatusCode)
	}
	record := &types.Record{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		c.t.Fatalf("Failed to decode record: %v", err)
	}
	return record
}

// Dial opens a channel carrying the client's session cookie
func (c *TestClient) Dial() *websocket.Conn {
	c.t.Helper()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		c.t.Fatalf("Bad base url: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {types.NewChannelToken(c.username, time.Now())}}.Encode()

	dialer := websocket.Dialer{Jar: c.jar, HandshakeTimeout: frameTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		c.t.Fatalf("Failed to open channel: %v", err)
	}
	c.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Join sends join-room and waits for the acknowledgement
func Join(t *testing.T, conn *websocket.Conn, room types.Room) {
	t.Helper()

	if err := conn.WriteJSON(types.OutboundFrame{Event: types.EventJoinRoom, Data: room.ID()}); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
	frame := ReadFrame(t, conn)
	if frame.Event != types.EventJoined {
		t.Fatalf("Expected joined, got %s %s", frame.Event, frame.Data)
	}
}

// ReadFrame waits for the next frame
func ReadFrame(t *testing.T, conn *websocket.Conn) types.Frame {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(frameTimeout))
	var frame types.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// ReadChange reads a data-change frame and decodes its event
func ReadChange(t *testing.T, conn *websocket.Conn) ChangeFrame {
	t.Helper()

	frame := ReadFrame(t, conn)
	if frame.Event != types.EventDataChange {
		t.Fatalf("Expected data-change, got %s", frame.Event)
	}
	var change ChangeFrame
	if err := json.Unmarshal(frame.Data, &change); err != nil {
		t.Fatalf("Failed to decode change: %v", err)
	}
	return change
}

// ChangeFrame is the data of a data-change frame as a browser sees it
type ChangeFrame struct {
	Type      types.RegisterType `json:"type"`
	Action    string             `json:"action"`
	Data      json.RawMessage    `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// ExpectSilence fails if a frame arrives within the wait. A timed out read
// leaves the connection unusable, so this must be the last read on conn.
func ExpectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(wait))
	var frame types.Frame
	if err := conn.ReadJSON(&frame); err == nil {
		t.Errorf("Unexpected frame %s %s", frame.Event, frame.Data)
	}
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"registersync/pkg/types"
)

// Manager is the in-memory session store with a sliding expiry window.
// ARCHITECTURAL DISCOVERY: sessions live only in process memory; a restart
// logs everyone out, which matches single-process deployment
type Manager struct {
	clock         clock.Clock
	window        time.Duration
	sweepInterval time.Duration

	sessions map[string]*types.Session // token -> Session
	mu       sync.Mutex

	running  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a session store. A session is valid while
// now - LastActivity < window.
func NewManager(clk clock.Clock, window, sweepInterval time.Duration) *Manager {
	return &Manager{
		clock:         clk,
		window:        window,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]*types.Session),
	}
}

// Window returns the sliding expiry window
func (m *Manager) Window() time.Duration {
	return m.window
}

// Create starts a session for an authenticated user. Role is copied once
// and never changes for the lifetime of the session.
func (m *Manager) Create(user *types.User) *types.Session {
	now := m.clock.Now()
	session := &types.Session{
		Token:        uuid.NewString(),
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[session.Token] = session
	m.mu.Unlock()

	slog.Info("session created", "user", user.Username, "role", user.Role)
	copied := *session
	return &copied
}

// Validate returns the session for token and slides its window forward
func (m *Manager) Validate(token string) (*types.Session, error) {
	return m.lookup(token, true)
}

// Peek returns the session for token without extending it
func (m *Manager) Peek(token string) (*types.Session, error) {
	return m.lookup(token, false)
}

// Touch refreshes the sliding window of a still-valid session
func (m *Manager) Touch(token string) error {
	_, err := m.lookup(token, true)
	return err
}

func (m *Manager) lookup(token string, touch bool) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[token]
	if !exists {
		return nil, ErrSessionNotFound
	}

	now := m.clock.Now()
	if m.expired(session, now) {
		delete(m.sessions, token)
		return nil, ErrSessionExpired
	}

	if touch {
		session.LastActivity = now
	}

	copied := *session
	return &copied, nil
}

func (m *Manager) expired(session *types.Session, now time.Time) bool {
	return now.Sub(session.LastActivity) >= m.window
}

// Destroy removes a session; unknown tokens are ignored
func (m *Manager) Destroy(token string) {
	m.mu.Lock()
	session, exists := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()

	if exists {
		slog.Info("session destroyed", "user", session.Username)
	}
}

// Sweep evicts every expired session and reports how many were removed
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	evicted := 0
	for token, session := range m.sessions {
		if m.expired(session, now) {
			delete(m.sessions, token)
			evicted++
		}
	}
	return evicted
}

// Start launches the background sweeper
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrStoreAlreadyRunning
	}
	m.running = true
	m.shutdown = make(chan struct{})

	m.wg.Add(1)
	go m.sweepLoop(ctx, m.shutdown)

	return nil
}

// Stop halts the sweeper and waits for it to exit
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrStoreNotRunning
	}
	m.running = false
	close(m.shutdown)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Manager) sweepLoop(ctx context.Context, shutdown <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-m.clock.After(m.sweepInterval):
			if n := m.Sweep(); n > 0 {
				slog.Debug("expired sessions evicted", "count", n)
			}
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stats reports the number of stored sessions, including expired ones
// the sweeper has not reached yet
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"sessions":       len(m.sessions),
		"window_seconds": int(m.window.Seconds()),
	}
}

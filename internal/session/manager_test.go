package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"registersync/pkg/types"
)

var testUser = &types.User{ID: 1, Username: "viewer", Role: types.RoleViewer}

func newTestManager() (*Manager, *testclock.Clock) {
	clk := testclock.NewClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return NewManager(clk, 30*time.Minute, time.Minute), clk
}

func TestManager_CreateCopiesIdentity(t *testing.T) {
	m, clk := newTestManager()

	session := m.Create(testUser)
	if session.Token == "" {
		t.Fatal("Expected a session token")
	}
	if session.Username != "viewer" || session.Role != types.RoleViewer || session.UserID != 1 {
		t.Errorf("Unexpected session identity: %+v", session)
	}
	if !session.CreatedAt.Equal(clk.Now()) || !session.LastActivity.Equal(clk.Now()) {
		t.Error("Timestamps should come from the injected clock")
	}

	other := m.Create(testUser)
	if other.Token == session.Token {
		t.Error("Tokens must be unique per session")
	}
}

func TestManager_SlidingWindow(t *testing.T) {
	m, clk := newTestManager()
	session := m.Create(testUser)

	// T+29: still valid, and the window restarts from here
	clk.Advance(29 * time.Minute)
	if _, err := m.Validate(session.Token); err != nil {
		t.Fatalf("Validate at T+29m should succeed: %v", err)
	}

	// T+58: 29 minutes after the last validate
	clk.Advance(29 * time.Minute)
	if _, err := m.Validate(session.Token); err != nil {
		t.Fatalf("Validate should succeed after the window was reset: %v", err)
	}

	// T+89: 31 minutes without activity
	clk.Advance(31 * time.Minute)
	if _, err := m.Validate(session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}

	// Expired sessions are gone, not just rejected
	if _, err := m.Validate(session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after expiry, got %v", err)
	}
}

func TestManager_ExpiresWithoutTouch(t *testing.T) {
	m, clk := newTestManager()
	session := m.Create(testUser)

	clk.Advance(31 * time.Minute)
	if _, err := m.Validate(session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Expected ErrSessionExpired at T+31m, got %v", err)
	}
}

func TestManager_PeekDoesNotExtend(t *testing.T) {
	m, clk := newTestManager()
	session := m.Create(testUser)

	clk.Advance(20 * time.Minute)
	if _, err := m.Peek(session.Token); err != nil {
		t.Fatalf("Peek failed: %v", err)
	}

	clk.Advance(11 * time.Minute)
	if _, err := m.Peek(session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Peek must not slide the window, got %v", err)
	}
}

func TestManager_TouchExtends(t *testing.T) {
	m, clk := newTestManager()
	session := m.Create(testUser)

	clk.Advance(25 * time.Minute)
	if err := m.Touch(session.Token); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	clk.Advance(25 * time.Minute)
	if _, err := m.Peek(session.Token); err != nil {
		t.Errorf("Session should survive 25m after touch: %v", err)
	}

	if err := m.Touch("unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_Destroy(t *testing.T) {
	m, _ := newTestManager()
	session := m.Create(testUser)

	m.Destroy(session.Token)
	m.Destroy(session.Token)

	if _, err := m.Validate(session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ReturnedSessionIsACopy(t *testing.T) {
	m, _ := newTestManager()
	session := m.Create(testUser)

	session.Role = types.RoleAdmin

	stored, err := m.Peek(session.Token)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if stored.Role != types.RoleViewer {
		t.Error("Mutating a returned session must not change the stored role")
	}
}

func TestManager_Sweep(t *testing.T) {
	m, clk := newTestManager()
	stale := m.Create(testUser)

	clk.Advance(20 * time.Minute)
	fresh := m.Create(testUser)

	clk.Advance(15 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}

	if _, err := m.Peek(stale.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Stale session should be evicted, got %v", err)
	}
	if _, err := m.Peek(fresh.Token); err != nil {
		t.Errorf("Fresh session should remain: %v", err)
	}
	if m.Stats()["sessions"] != 1 {
		t.Errorf("Unexpected stats: %v", m.Stats())
	}
}

func TestManager_SweeperLoop(t *testing.T) {
	m, clk := newTestManager()
	m.Create(testUser)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrStoreAlreadyRunning) {
		t.Errorf("Expected ErrStoreAlreadyRunning, got %v", err)
	}

	clk.Advance(30 * time.Minute)
	// Wake the sweeper once the window has passed
	if err := clk.WaitAdvance(time.Minute, time.Second, 1); err != nil {
		t.Fatalf("Sweeper never waited on the clock: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for m.Stats()["sessions"] != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Stats()["sessions"] != 0 {
		t.Error("Sweeper should have evicted the expired session")
	}

	if err := m.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrStoreNotRunning) {
		t.Errorf("Expected ErrStoreNotRunning, got %v", err)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m, _ := newTestManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := m.Create(testUser)
			_, _ = m.Validate(session.Token)
			_ = m.Touch(session.Token)
			m.Destroy(session.Token)
		}()
	}
	wg.Wait()

	if m.Stats()["sessions"] != 0 {
		t.Errorf("Expected no sessions left, got %v", m.Stats()["sessions"])
	}
}

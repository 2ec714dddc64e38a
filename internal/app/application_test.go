package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock"

	"registersync/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.BcryptCost = 4
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1

	application, err := NewApplication(cfg)
	if err == nil {
		t.Fatal("Constructor should reject invalid configuration")
	}
	if application != nil {
		t.Error("Constructor should not return an application with invalid config")
	}
}

func TestNewApplication_UnwritableDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "missing", "dir", "app.db")

	if _, err := NewApplication(cfg); err == nil {
		t.Error("Constructor should fail when the database cannot be opened")
	}
}

func TestApplication_StartStop(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}

	resp, err := http.Get("http://" + application.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	var health struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || health.Status != "healthy" {
		t.Errorf("Expected healthy 200, got %d %q", resp.StatusCode, health.Status)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	select {
	case err, ok := <-application.Errors():
		if ok && err != nil {
			t.Errorf("Server reported error after clean shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Serve goroutine did not finish after Stop")
	}

	if _, err := http.Get("http://" + application.GetAddr() + "/health"); err == nil {
		t.Error("Server should not accept requests after Stop")
	}
}

func TestApplication_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer l.Close()

	cfg := testConfig(t)
	cfg.HTTP.Port = l.Addr().(*net.TCPAddr).Port

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	defer application.dbManager.Close()

	if err := application.Start(context.Background()); err == nil {
		t.Error("Start should fail when the port is taken")
	}
}

func TestApplication_ServicesThroughHandler(t *testing.T) {
	application, err := newApplication(testConfig(t), clock.WallClock)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.StartServices(context.Background()); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	server := httptest.NewServer(application.Handler())
	defer func() {
		server.Close()
		_ = application.Stop(context.Background())
	}()

	resp, err := http.Get(server.URL + "/api/session")
	if err != nil {
		t.Fatalf("Session request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a cookie, got %d", resp.StatusCode)
	}

	if application.Registry() == nil {
		t.Error("Registry should be exposed")
	}
}

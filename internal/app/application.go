package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/juju/clock"

	"registersync/internal/api"
	"registersync/internal/auth"
	"registersync/internal/config"
	"registersync/internal/database"
	"registersync/internal/hub"
	"registersync/internal/mutation"
	"registersync/internal/rooms"
	"registersync/internal/session"
	"registersync/internal/websocket"
	pkgdatabase "registersync/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	sessions   *session.Manager
	registry   *rooms.Registry
	eventHub   *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Accounts → Sessions → Rooms → Hub → Mutations → Channels → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	return newApplication(cfg, clock.WallClock)
}

func newApplication(cfg *config.Config, clk clock.Clock) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager applies the embedded migrations on open
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Seed accounts
	authService := auth.NewService(dbManager, auth.NewHasher(cfg.Auth.BcryptCost))
	seedCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()
	err = authService.Seed(seedCtx, auth.SeedAccounts{
		AdminUsername:  cfg.Auth.AdminUsername,
		AdminPassword:  cfg.Auth.AdminPassword,
		ViewerPassword: cfg.Auth.ViewerPassword,
		GamerPassword:  cfg.Auth.GamerPassword,
		SecurityAnswer: cfg.Auth.SecurityAnswer,
	})
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to seed accounts: %w", err)
	}

	// STEP 3: In-memory session store
	sessions := session.NewManager(clk, cfg.Session.Window, cfg.Session.SweepInterval)

	// STEP 4: Room registry and the hub that fans events out over it
	registry := rooms.NewRegistry()
	eventHub := hub.NewHub(registry, 0)

	// STEP 5: Mutation service, the only writer of register data
	registers := mutation.NewService(dbManager, eventHub, clk)

	// STEP 6: Channel handler
	wsHandler := websocket.NewHandler(registry, sessions, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
		CookieName:   cfg.Session.CookieName,
	})

	// STEP 7: HTTP API with the channel endpoint mounted at /ws
	apiServer := api.NewServer(api.Dependencies{
		Auth:      authService,
		Sessions:  sessions,
		Registers: registers,
		Database:  dbManager,
		Channels:  http.HandlerFunc(wsHandler.HandleWebSocket),
		Stats: func() map[string]interface{} {
			return map[string]interface{}{
				"rooms":    registry.GetStats(),
				"events":   eventHub.GetStats(),
				"sessions": sessions.Stats(),
			}
		},
		Clock: clk,
	}, api.Options{
		CookieName:             cfg.Session.CookieName,
		CookieSecure:           cfg.Session.CookieSecure,
		LoginAttemptsPerMinute: cfg.HTTP.LoginAttemptsPerMinute,
	})

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		sessions:   sessions,
		registry:   registry,
		eventHub:   eventHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Handler returns the full HTTP surface, for serving from a test server
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Registry exposes room membership, mainly for tests and diagnostics
func (app *Application) Registry() *rooms.Registry {
	return app.registry
}

// StartServices starts the background workers without listening
func (app *Application) StartServices(ctx context.Context) error {
	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}
	if err := app.sessions.Start(ctx); err != nil {
		_ = app.eventHub.Stop()
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}
	return nil
}

// Start begins application execution
// Hub starts first to handle events, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.StartServices(ctx); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopServices()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	serveErr := make(chan error, 1)
	app.mu.Lock()
	app.listener = listener
	app.serveErr = serveErr
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(serveErr)
	}()

	slog.Info("registersync started", "addr", listener.Addr().String())
	return nil
}

// Errors reports a failure of the running HTTP server. It is nil before Start.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Sessions → Database
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down registersync")

	var errs []error

	// STEP 1: Stop accepting new requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Deliver queued events, then stop the sweeper
	app.stopServices()

	// STEP 3: Close database connections
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	slog.Info("registersync shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) stopServices() {
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		slog.Warn("event hub shutdown error", "error", err)
	}
	if err := app.sessions.Stop(); err != nil && !errors.Is(err, session.ErrStoreNotRunning) {
		slog.Warn("session sweeper shutdown error", "error", err)
	}
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

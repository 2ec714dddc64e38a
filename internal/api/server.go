package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"

	"registersync/pkg/types"
)

// SessionStore is the server side session state the API drives
type SessionStore interface {
	Create(user *types.User) *types.Session
	Validate(token string) (*types.Session, error)
	Touch(token string) error
	Destroy(token string)
	Window() time.Duration
}

// Authenticator checks credentials and security answers
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*types.User, error)
	VerifySecurityAnswer(ctx context.Context, username, answer string) error
	ChangePassword(ctx context.Context, username, newPassword string) error
}

// Registers is the gated entry point to register data
type Registers interface {
	List(ctx context.Context, session *types.Session, register types.RegisterType, year, sort string) ([]*types.Record, error)
	Get(ctx context.Context, session *types.Session, register types.RegisterType, id int64) (*types.Record, error)
	MaxSerial(ctx context.Context, session *types.Session, register types.RegisterType, year string) (int64, error)
	Create(ctx context.Context, session *types.Session, record *types.Record) (*types.Record, error)
	Update(ctx context.Context, session *types.Session, record *types.Record) (*types.Record, error)
	Delete(ctx context.Context, session *types.Session, register types.RegisterType, id int64) error
	Move(ctx context.Context, session *types.Session, register types.RegisterType, year string, id int64, direction string) ([]*types.Record, error)
	Overview(ctx context.Context, session *types.Session, year string) (map[types.RegisterType]int, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the components the HTTP layer talks to
type Dependencies struct {
	Auth      Authenticator
	Sessions  SessionStore
	Registers Registers
	Database  HealthChecker

	// Channels serves the websocket endpoint; nil leaves /ws unrouted
	Channels http.Handler

	// Stats feeds the health endpoint with component counters
	Stats func() map[string]interface{}

	Clock clock.Clock
}

// Options tune cookie and throttling behaviour
type Options struct {
	CookieName             string
	CookieSecure           bool
	LoginAttemptsPerMinute int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Dependencies
	options Options
	limiter *RateLimiter
	router  *mux.Router
	handler http.Handler
}

// NewServer wires routes and middleware
func NewServer(deps Dependencies, options Options) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if options.CookieName == "" {
		options.CookieName = "registersync.sid"
	}

	s := &Server{
		deps:    deps,
		options: options,
		limiter: NewRateLimiter(deps.Clock, options.LoginAttemptsPerMinute),
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	s.handler = s.corsMiddleware(s.router)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware.
// Fixed paths are registered before the {register} patterns so they win.
func (s *Server) setupRoutes() {
	if s.deps.Channels != nil {
		s.router.Handle("/ws", s.deps.Channels)
	}
	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware)

	// Authentication
	api.HandleFunc("/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	api.HandleFunc("/session", s.currentSession).Methods(http.MethodGet)
	api.Handle("/extend-session", s.requireSession(http.HandlerFunc(s.extendSession))).Methods(http.MethodPost)
	api.HandleFunc("/verify-security", s.verifySecurity).Methods(http.MethodPost)
	api.HandleFunc("/change-password", s.changePassword).Methods(http.MethodPost)

	// Dashboard
	api.Handle("/dashboard/overview", s.requireSession(http.HandlerFunc(s.overview))).Methods(http.MethodGet)

	// Registers
	registers := api.PathPrefix("/{register}").Subrouter()
	registers.Use(s.requireSession, s.registerMiddleware)
	registers.HandleFunc("/max-serial", s.maxSerial).Methods(http.MethodGet)
	registers.HandleFunc("/move/{id:[0-9]+}", s.moveRecord).Methods(http.MethodPost)
	registers.HandleFunc("/{id:[0-9]+}", s.getRecord).Methods(http.MethodGet)
	registers.HandleFunc("/{id:[0-9]+}", s.updateRecord).Methods(http.MethodPut)
	registers.HandleFunc("/{id:[0-9]+}", s.deleteRecord).Methods(http.MethodDelete)
	registers.HandleFunc("", s.listRecords).Methods(http.MethodGet)
	registers.HandleFunc("", s.createRecord).Methods(http.MethodPost)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Stats     map[string]interface{} `json:"stats,omitempty"`
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if s.deps.Database != nil {
		if err := s.deps.Database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: s.deps.Clock.Now(),
		Database:  dbStatus,
	}
	if s.deps.Stats != nil {
		response.Stats = s.deps.Stats()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

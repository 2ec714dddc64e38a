package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"registersync/internal/auth"
	"registersync/pkg/types"
)

const maxBodyBytes = 1 << 20

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserInfo struct {
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
}

type LoginResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	User    UserInfo `json:"user"`
}

type SessionResponse struct {
	Success bool           `json:"success"`
	User    *types.Session `json:"user"`
}

type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ExtendSessionResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

type VerifySecurityRequest struct {
	Username string `json:"username"`
	Answer   string `json:"answer"`
}

// ChangePasswordRequest repeats the security answer so a reset can not be
// performed by naming a username alone
type ChangePasswordRequest struct {
	Username    string `json:"username"`
	Answer      string `json:"answer"`
	NewPassword string `json:"newPassword"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// POST /api/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.limiter.Size() > 1024 {
		s.limiter.Cleanup()
	}
	if !s.limiter.Allow(clientAddress(r)) {
		s.sendError(w, "Too many login attempts, try again in a minute", http.StatusTooManyRequests)
		return
	}

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := s.deps.Auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Info("login failed", "user", req.Username, "remote", clientAddress(r))
			s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.Error("login error", "error", err)
		s.sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	session := s.deps.Sessions.Create(user)
	s.setSessionCookie(w, session.Token)

	writeJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		Message: "Login successful",
		User:    UserInfo{Username: session.Username, Role: session.Role},
	})
}

// POST /api/logout. Works with or without a live session.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.options.CookieName); err == nil {
		s.deps.Sessions.Destroy(cookie.Value)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "Logged out successfully"})
}

// GET /api/session
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromCookie(r)
	if !ok {
		s.sendError(w, "No active session", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, User: session})
}

// POST /api/extend-session. requireSession has already slid the window;
// Touch is repeated so the handler stands on its own.
func (s *Server) extendSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if err := s.deps.Sessions.Touch(session.Token); err != nil {
		s.sendError(w, "Session expired or not authenticated", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, ExtendSessionResponse{
		Success:          true,
		Message:          "Session extended",
		ExpiresInSeconds: int(s.deps.Sessions.Window().Seconds()),
	})
}

// POST /api/verify-security
func (s *Server) verifySecurity(w http.ResponseWriter, r *http.Request) {
	var req VerifySecurityRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.deps.Auth.VerifySecurityAnswer(r.Context(), req.Username, req.Answer); err != nil {
		if errors.Is(err, auth.ErrIncorrectAnswer) {
			s.sendError(w, "Incorrect answer. Please try again.", http.StatusBadRequest)
			return
		}
		slog.Error("security answer check failed", "error", err)
		s.sendError(w, "Verification failed. Please try again.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// POST /api/change-password
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.deps.Auth.VerifySecurityAnswer(r.Context(), req.Username, req.Answer); err != nil {
		if errors.Is(err, auth.ErrIncorrectAnswer) {
			s.sendError(w, "Incorrect answer. Please try again.", http.StatusBadRequest)
			return
		}
		slog.Error("security answer check failed", "error", err)
		s.sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	if err := s.deps.Auth.ChangePassword(r.Context(), req.Username, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("password change failed", "user", req.Username, "error", err)
		s.sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	slog.Info("password changed", "user", req.Username)
	writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

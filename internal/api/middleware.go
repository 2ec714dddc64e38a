package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"registersync/pkg/types"
)

type contextKey int

const (
	sessionKey contextKey = iota
	registerKey
)

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requireSession admits requests carrying a live session cookie and slides
// that session's window forward
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.sessionFromCookie(r)
		if !ok {
			s.sendError(w, "Session expired or not authenticated", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// registerMiddleware resolves the {register} path segment, 404 for unknown names
func (s *Server) registerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		register, err := types.ParseRegisterPath(mux.Vars(r)["register"])
		if err != nil {
			s.sendError(w, "Not found", http.StatusNotFound)
			return
		}
		ctx := context.WithValue(r.Context(), registerKey, register)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) sessionFromCookie(r *http.Request) (*types.Session, bool) {
	cookie, err := r.Cookie(s.options.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	session, err := s.deps.Sessions.Validate(cookie.Value)
	if err != nil {
		return nil, false
	}
	return session, true
}

func sessionFrom(r *http.Request) *types.Session {
	session, _ := r.Context().Value(sessionKey).(*types.Session)
	return session
}

func registerFrom(r *http.Request) types.RegisterType {
	register, _ := r.Context().Value(registerKey).(types.RegisterType)
	return register
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.options.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.options.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.options.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.options.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

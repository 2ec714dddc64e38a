package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"registersync/internal/mutation"
	"registersync/internal/policy"
	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendFailure maps a service error onto a status code. Store failures are
// logged and reported without detail.
func (s *Server) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mutation.ErrUnauthenticated):
		s.sendError(w, "Session expired or not authenticated", http.StatusUnauthorized)
	case errors.Is(err, policy.ErrPermissionDenied):
		s.sendError(w, "Permission denied", http.StatusForbidden)
	case errors.Is(err, interfaces.ErrRecordNotFound):
		s.sendError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrCannotMove):
		s.sendError(w, "Cannot move row", http.StatusBadRequest)
	case errors.Is(err, types.ErrInvalidFinancialYear),
		errors.Is(err, types.ErrInvalidDirection),
		errors.Is(err, types.ErrInvalidSerial),
		errors.Is(err, types.ErrInvalidRegister),
		errors.Is(err, mutation.ErrNilRecord):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.sendError(w, "Server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

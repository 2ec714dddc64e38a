package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for both unknown users and wrong
	// passwords so callers cannot tell the two apart
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrIncorrectAnswer    = errors.New("incorrect security answer")
	ErrWeakPassword       = errors.New("password must be at least 6 characters long")
)

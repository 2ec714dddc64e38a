package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserExists     = errors.New("user already exists")
	ErrRecordNotFound = errors.New("record not found")
	ErrCannotMove     = errors.New("cannot move row")
)

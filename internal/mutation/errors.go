package mutation

import "errors"

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrNilRecord       = errors.New("record cannot be nil")
)

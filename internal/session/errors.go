package session

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrStoreAlreadyRunning = errors.New("session store is already running")
	ErrStoreNotRunning     = errors.New("session store is not running")
)

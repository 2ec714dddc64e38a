package types

import "errors"

// Validation errors shared by the API, the channel protocol and the store
var (
	ErrInvalidRegister      = errors.New("unknown register type")
	ErrInvalidFinancialYear = errors.New("financial year must have the form YYYY-YYYY with consecutive years")
	ErrInvalidRoomID        = errors.New("room id must have the form <register>-<YYYY-YYYY>")
	ErrInvalidRole          = errors.New("invalid role")
	ErrInvalidUsername      = errors.New("username must be 1-50 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidSerial        = errors.New("serial number must not be negative")
	ErrInvalidDirection     = errors.New("direction must be 'up' or 'down'")
)

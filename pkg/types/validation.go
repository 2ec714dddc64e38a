package types

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for the high-frequency paths (every request carries a year)
var (
	usernameRegex      = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	financialYearRegex = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
	channelTokenRegex  = regexp.MustCompile(`^session-([a-zA-Z0-9_.-]{1,50})-(\d+)$`)
)

// financialYearLen is len("2024-2025").
const financialYearLen = 9

// Reorder directions accepted by the move endpoint.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// IsValidRegister reports whether t names a known register.
func IsValidRegister(t RegisterType) bool {
	for _, r := range AllRegisters {
		if r == t {
			return true
		}
	}
	return false
}

// IsOrderRegister reports whether t is one of the order registers, whose
// HTTP collection name carries an "-orders" suffix.
func IsOrderRegister(t RegisterType) bool {
	switch t {
	case RegisterSupply, RegisterDemand, RegisterBill:
		return true
	default:
		return false
	}
}

// PathName returns the HTTP collection segment for a register,
// e.g. "supply-orders" or "sanction-misc".
func (t RegisterType) PathName() string {
	if IsOrderRegister(t) {
		return string(t) + "-orders"
	}
	return string(t)
}

// ParseRegisterPath maps an HTTP collection segment back to its register.
func ParseRegisterPath(segment string) (RegisterType, error) {
	for _, r := range AllRegisters {
		if r.PathName() == segment {
			return r, nil
		}
	}
	return "", ErrInvalidRegister
}

// ValidFinancialYear checks the YYYY-YYYY+1 form.
func ValidFinancialYear(year string) bool {
	m := financialYearRegex.FindStringSubmatch(year)
	if m == nil {
		return false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	end, err := strconv.Atoi(m[2])
	if err != nil {
		return false
	}
	return end == start+1
}

// NewRoom validates both halves of a room key.
func NewRoom(t RegisterType, year string) (Room, error) {
	if !IsValidRegister(t) {
		return Room{}, ErrInvalidRegister
	}
	if !ValidFinancialYear(year) {
		return Room{}, ErrInvalidFinancialYear
	}
	return Room{Type: t, FinancialYear: year}, nil
}

// ParseRoomID parses "<register>-<YYYY-YYYY>". Register names may contain
// hyphens themselves, so the year is taken from the right.
func ParseRoomID(id string) (Room, error) {
	if len(id) < financialYearLen+2 {
		return Room{}, ErrInvalidRoomID
	}
	split := len(id) - financialYearLen
	if id[split-1] != '-' {
		return Room{}, ErrInvalidRoomID
	}
	room, err := NewRoom(RegisterType(id[:split-1]), id[split:])
	if err != nil {
		return Room{}, ErrInvalidRoomID
	}
	return room, nil
}

// IsValidRole reports whether r is part of the closed role set.
func IsValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleViewer, RoleGamer:
		return true
	default:
		return false
	}
}

// IsValidUsername checks login names: 1-50 characters.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// IsValidDirection accepts the two reorder directions.
func IsValidDirection(direction string) bool {
	return direction == DirectionUp || direction == DirectionDown
}

// NormalizeAnswer is applied to security answers before hashing and comparison.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// NewChannelToken builds the handshake token a client presents when opening a channel
func NewChannelToken(username string, at time.Time) string {
	return "session-" + username + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ParseChannelToken checks the handshake token shape and returns the username
// it names. The token is not tied to a server session.
func ParseChannelToken(token string) (string, bool) {
	m := channelTokenRegex.FindStringSubmatch(token)
	if m == nil {
		return "", false
	}
	return m[1], true
}

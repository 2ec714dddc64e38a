package policy

import (
	"errors"

	"registersync/pkg/types"
)

// Operation is something a role may or may not do to a register
type Operation string

const (
	OpRead     Operation = "read"
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpReorder  Operation = "reorder"
	OpJoinRoom Operation = "join-room"
)

var ErrPermissionDenied = errors.New("permission denied")

// table is the single place register permissions are decided. Every
// mutation entry point and every room join goes through Authorize.
//
// FUNCTIONAL DISCOVERY: reorder is gated like any other write, and the
// supplementary gamer role has no register access at all
var table = map[types.Role]map[Operation]bool{
	types.RoleAdmin: {
		OpRead:     true,
		OpCreate:   true,
		OpUpdate:   true,
		OpDelete:   true,
		OpReorder:  true,
		OpJoinRoom: true,
	},
	types.RoleViewer: {
		OpRead:     true,
		OpJoinRoom: true,
	},
	types.RoleGamer: {},
}

// Permit reports whether role may perform op
func Permit(role types.Role, op Operation) bool {
	return table[role][op]
}

// Authorize is Permit as an error, for use at the top of a handler
func Authorize(role types.Role, op Operation) error {
	if !Permit(role, op) {
		return ErrPermissionDenied
	}
	return nil
}

// IsWrite reports whether op changes register data
func IsWrite(op Operation) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpReorder:
		return true
	}
	return false
}

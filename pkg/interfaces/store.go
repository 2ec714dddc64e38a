package interfaces

import (
	"context"

	"registersync/pkg/types"
)

// UserStore persists accounts
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) error
	UpdateUserRole(ctx context.Context, username string, role types.Role) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
}

// RecordStore is the authoritative register store.
// FUNCTIONAL DISCOVERY: every write method returns only after the change is
// committed, so callers may publish change events as soon as it returns nil
type RecordStore interface {
	ListRecords(ctx context.Context, register types.RegisterType, year, sort string) ([]*types.Record, error)
	GetRecord(ctx context.Context, register types.RegisterType, id int64) (*types.Record, error)
	MaxSerial(ctx context.Context, register types.RegisterType, year string) (int64, error)
	CountRecords(ctx context.Context, register types.RegisterType, year string) (int, error)

	CreateRecord(ctx context.Context, record *types.Record) error
	UpdateRecord(ctx context.Context, record *types.Record) error
	// DeleteRecord returns the removed row so its financial year is known
	DeleteRecord(ctx context.Context, register types.RegisterType, id int64) (*types.Record, error)
	// SwapSerials moves a record one position up or down within its year and
	// returns both rows whose serial numbers changed
	SwapSerials(ctx context.Context, register types.RegisterType, year string, id int64, direction string) ([]*types.Record, error)
}

// DatabaseManager is the full persistence surface used by the application
type DatabaseManager interface {
	UserStore
	RecordStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

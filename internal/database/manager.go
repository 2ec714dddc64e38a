package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "registersync/pkg/database"
	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

const (
	writeQueueSize = 100
	busyRetryDelay = 250 * time.Millisecond
)

// allowedSortColumns guards the ORDER BY clause of ListRecords
var allowedSortColumns = map[string]bool{
	"serial_no":  true,
	"created_at": true,
	"updated_at": true,
}

const recordColumns = `id, register_type, financial_year, serial_no, fields, created_at, updated_at`

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	loopDone     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a database write operation
type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and starts
// the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
		loopDone:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.loopDone)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			// FUNCTIONAL DISCOVERY: only lock contention is retried; a retried
			// insert after any other failure could commit twice
			if isBusy(err) {
				slog.Warn("database busy, retrying write", "error", err)
				time.Sleep(busyRetryDelay)
				err = op.operation(op.ctx, m.db)
			}
			op.result <- err

		case <-m.shutdown:
			slog.Info("database write loop shutting down")
			m.failPending()
			return
		}
	}
}

// failPending answers every write still queued at shutdown
func (m *Manager) failPending() {
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- ErrManagerClosed
		default:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
// ctx only bounds the wait for a queue slot. A queued operation runs with
// ctx's values but without its cancellation, so a caller that goes away
// can not abort a write the writer has already accepted.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: context.WithoutCancel(ctx), operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.loopDone:
		// the loop may have answered just before it stopped
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// GetUserByUsername loads one account
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	query := `
		SELECT id, username, password_hash, security_answer_hash, role, created_at, updated_at
		FROM users
		WHERE username = ?
	`

	var user types.User
	err := m.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.SecurityAnswerHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return &user, nil
}

// CreateUser inserts a new account and fills in its ID
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if !types.IsValidUsername(user.Username) {
		return types.ErrInvalidUsername
	}
	if !types.IsValidRole(user.Role) {
		return types.ErrInvalidRole
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		now := time.Now().UTC()
		result, err := db.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, security_answer_hash, role, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, user.Username, user.PasswordHash, user.SecurityAnswerHash, user.Role, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrUserExists
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read user id: %w", err)
		}
		user.ID = id
		user.CreatedAt = now
		user.UpdatedAt = now
		return nil
	})
}

// UpdateUserRole changes the stored role of an account
func (m *Manager) UpdateUserRole(ctx context.Context, username string, role types.Role) error {
	if !types.IsValidRole(role) {
		return types.ErrInvalidRole
	}
	return m.updateUser(ctx, "role", username, string(role))
}

// UpdatePassword replaces the stored password hash
func (m *Manager) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	return m.updateUser(ctx, "password_hash", username, passwordHash)
}

// updateUser sets one column; column is always a constant from this file
func (m *Manager) updateUser(ctx context.Context, column, username, value string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		query := fmt.Sprintf("UPDATE users SET %s = ?, updated_at = ? WHERE username = ?", column)
		result, err := db.ExecContext(ctx, query, value, time.Now().UTC(), username)
		if err != nil {
			return fmt.Errorf("failed to update user %s: %w", column, err)
		}
		return requireAffected(result, interfaces.ErrUserNotFound)
	})
}

// ListRecords returns the rows of one register for one financial year
func (m *Manager) ListRecords(ctx context.Context, register types.RegisterType, year, sort string) ([]*types.Record, error) {
	if !allowedSortColumns[sort] {
		sort = "serial_no"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM register_records
		WHERE register_type = ? AND financial_year = ?
		ORDER BY %s, id
	`, recordColumns, sort)

	rows, err := m.db.QueryContext(ctx, query, register, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*types.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}

	return records, nil
}

// GetRecord loads one row of a register
func (m *Manager) GetRecord(ctx context.Context, register types.RegisterType, id int64) (*types.Record, error) {
	return getRecord(ctx, m.db, register, id)
}

// MaxSerial returns the highest serial number in use, 0 for an empty year
func (m *Manager) MaxSerial(ctx context.Context, register types.RegisterType, year string) (int64, error) {
	var maxSerial sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		"SELECT MAX(serial_no) FROM register_records WHERE register_type = ? AND financial_year = ?",
		register, year,
	).Scan(&maxSerial)
	if err != nil {
		return 0, fmt.Errorf("failed to query max serial: %w", err)
	}
	return maxSerial.Int64, nil
}

// CountRecords counts rows; an empty year counts across all years
func (m *Manager) CountRecords(ctx context.Context, register types.RegisterType, year string) (int, error) {
	query := "SELECT COUNT(*) FROM register_records WHERE register_type = ?"
	args := []interface{}{register}
	if year != "" {
		query += " AND financial_year = ?"
		args = append(args, year)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// CreateRecord inserts a row. A zero serial number is assigned the next
// free serial for the year inside the same transaction.
func (m *Manager) CreateRecord(ctx context.Context, record *types.Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	fieldsJSON, err := marshalFields(record.Fields)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		serial := record.SerialNo
		if serial == 0 {
			if err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(serial_no), 0) + 1 FROM register_records WHERE register_type = ? AND financial_year = ?",
				record.Type, record.FinancialYear,
			).Scan(&serial); err != nil {
				return fmt.Errorf("failed to allocate serial: %w", err)
			}
		}

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO register_records (register_type, financial_year, serial_no, fields, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, record.Type, record.FinancialYear, serial, fieldsJSON, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read record id: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit record creation: %w", err)
		}

		record.ID = id
		record.SerialNo = serial
		record.CreatedAt = now
		record.UpdatedAt = now
		return nil
	})
}

// UpdateRecord replaces the year, serial and fields of an existing row and
// refreshes record with the committed state.
func (m *Manager) UpdateRecord(ctx context.Context, record *types.Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	fieldsJSON, err := marshalFields(record.Fields)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, `
			UPDATE register_records
			SET financial_year = ?, serial_no = ?, fields = ?, updated_at = ?
			WHERE id = ? AND register_type = ?
		`, record.FinancialYear, record.SerialNo, fieldsJSON, time.Now().UTC(), record.ID, record.Type)
		if err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
		if err := requireAffected(result, interfaces.ErrRecordNotFound); err != nil {
			return err
		}

		committed, err := getRecord(ctx, tx, record.Type, record.ID)
		if err != nil {
			return err
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit record update: %w", err)
		}

		*record = *committed
		return nil
	})
}

// DeleteRecord removes a row and returns it as it was before deletion
func (m *Manager) DeleteRecord(ctx context.Context, register types.RegisterType, id int64) (*types.Record, error) {
	var deleted *types.Record

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// FUNCTIONAL DISCOVERY: the year must be read before the row is gone,
		// it decides which room hears about the delete
		existing, err := getRecord(ctx, tx, register, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM register_records WHERE id = ? AND register_type = ?",
			id, register,
		); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit record deletion: %w", err)
		}

		deleted = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}

// SwapSerials exchanges the serial number of a row with its neighbour in
// serial order. Both changed rows are returned, moved row first.
func (m *Manager) SwapSerials(ctx context.Context, register types.RegisterType, year string, id int64, direction string) ([]*types.Record, error) {
	if !types.IsValidDirection(direction) {
		return nil, types.ErrInvalidDirection
	}

	var swapped []*types.Record

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		current, err := getRecord(ctx, tx, register, id)
		if err != nil {
			if errors.Is(err, interfaces.ErrRecordNotFound) {
				return interfaces.ErrCannotMove
			}
			return err
		}
		if current.FinancialYear != year {
			return interfaces.ErrCannotMove
		}

		neighbourQuery := fmt.Sprintf(`
			SELECT %s
			FROM register_records
			WHERE register_type = ? AND financial_year = ? AND serial_no < ?
			ORDER BY serial_no DESC, id DESC
			LIMIT 1
		`, recordColumns)
		if direction == types.DirectionDown {
			neighbourQuery = fmt.Sprintf(`
				SELECT %s
				FROM register_records
				WHERE register_type = ? AND financial_year = ? AND serial_no > ?
				ORDER BY serial_no ASC, id ASC
				LIMIT 1
			`, recordColumns)
		}

		neighbour, err := scanRecord(tx.QueryRowContext(ctx, neighbourQuery, register, year, current.SerialNo))
		if err != nil {
			if errors.Is(err, interfaces.ErrRecordNotFound) {
				return interfaces.ErrCannotMove
			}
			return err
		}

		now := time.Now().UTC()
		update := "UPDATE register_records SET serial_no = ?, updated_at = ? WHERE id = ?"
		if _, err := tx.ExecContext(ctx, update, neighbour.SerialNo, now, current.ID); err != nil {
			return fmt.Errorf("failed to move record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, update, current.SerialNo, now, neighbour.ID); err != nil {
			return fmt.Errorf("failed to move neighbour record: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit record move: %w", err)
		}

		current.SerialNo, neighbour.SerialNo = neighbour.SerialNo, current.SerialNo
		current.UpdatedAt, neighbour.UpdatedAt = now, now
		swapped = []*types.Record{current, neighbour}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return swapped, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// queryRower is satisfied by both *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getRecord(ctx context.Context, q queryRower, register types.RegisterType, id int64) (*types.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM register_records WHERE id = ? AND register_type = ?", recordColumns)
	return scanRecord(q.QueryRowContext(ctx, query, id, register))
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var record types.Record
	var fieldsJSON string

	err := row.Scan(
		&record.ID,
		&record.Type,
		&record.FinancialYear,
		&record.SerialNo,
		&fieldsJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &record.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
	}

	return &record, nil
}

func marshalFields(fields map[string]interface{}) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record fields: %w", err)
	}
	return string(raw), nil
}

func validateRecord(record *types.Record) error {
	if !types.IsValidRegister(record.Type) {
		return types.ErrInvalidRegister
	}
	if !types.ValidFinancialYear(record.FinancialYear) {
		return types.ErrInvalidFinancialYear
	}
	if record.SerialNo < 0 {
		return types.ErrInvalidSerial
	}
	return nil
}

func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}

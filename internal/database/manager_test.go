package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"registersync/pkg/database"
	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	return manager
}

func createRecord(t *testing.T, m *Manager, register types.RegisterType, year string, fields map[string]interface{}) *types.Record {
	t.Helper()
	record := &types.Record{Type: register, FinancialYear: year, Fields: fields}
	if err := m.CreateRecord(context.Background(), record); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	return record
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.DatabaseManager = &Manager{}
}

func TestManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(&database.Config{})
	if err == nil {
		t.Error("Expected error for empty config")
	}
}

func TestManager_UserLifecycle(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	user := &types.User{
		Username:           "admin",
		PasswordHash:       "hash",
		SecurityAnswerHash: "answer",
		Role:               types.RoleAdmin,
	}
	if err := manager.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == 0 {
		t.Error("Expected user ID to be assigned")
	}

	if err := manager.CreateUser(ctx, &types.User{Username: "admin", Role: types.RoleViewer}); !errors.Is(err, interfaces.ErrUserExists) {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}

	if err := manager.UpdatePassword(ctx, "admin", "new-hash"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	if err := manager.UpdateUserRole(ctx, "admin", types.RoleViewer); err != nil {
		t.Fatalf("UpdateUserRole failed: %v", err)
	}

	loaded, err := manager.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if loaded.PasswordHash != "new-hash" || loaded.Role != types.RoleViewer {
		t.Errorf("Unexpected user state: %+v", loaded)
	}
}

func TestManager_UserNotFound(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.GetUserByUsername(ctx, "ghost"); !errors.Is(err, interfaces.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	if err := manager.UpdatePassword(ctx, "ghost", "x"); !errors.Is(err, interfaces.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound on update, got %v", err)
	}
	if err := manager.UpdateUserRole(ctx, "ghost", "root"); !errors.Is(err, types.ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestManager_CreateRecordAssignsSerial(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	first := createRecord(t, manager, types.RegisterSupply, "2024-2025", map[string]interface{}{"firm_name": "Acme"})
	second := createRecord(t, manager, types.RegisterSupply, "2024-2025", nil)
	other := createRecord(t, manager, types.RegisterSupply, "2023-2024", nil)

	if first.SerialNo != 1 || second.SerialNo != 2 {
		t.Errorf("Expected serials 1 and 2, got %d and %d", first.SerialNo, second.SerialNo)
	}
	if other.SerialNo != 1 {
		t.Errorf("Serials are per financial year, got %d", other.SerialNo)
	}

	maxSerial, err := manager.MaxSerial(ctx, types.RegisterSupply, "2024-2025")
	if err != nil || maxSerial != 2 {
		t.Errorf("MaxSerial = %d, %v; want 2", maxSerial, err)
	}

	empty, err := manager.MaxSerial(ctx, types.RegisterDemand, "2024-2025")
	if err != nil || empty != 0 {
		t.Errorf("MaxSerial on empty year = %d, %v; want 0", empty, err)
	}

	loaded, err := manager.GetRecord(ctx, types.RegisterSupply, first.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if loaded.Fields["firm_name"] != "Acme" {
		t.Errorf("Fields not round-tripped: %+v", loaded.Fields)
	}
}

func TestManager_CreateRecordValidation(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	err := manager.CreateRecord(ctx, &types.Record{Type: "payroll", FinancialYear: "2024-2025"})
	if !errors.Is(err, types.ErrInvalidRegister) {
		t.Errorf("Expected ErrInvalidRegister, got %v", err)
	}

	err = manager.CreateRecord(ctx, &types.Record{Type: types.RegisterBill, FinancialYear: "2024"})
	if !errors.Is(err, types.ErrInvalidFinancialYear) {
		t.Errorf("Expected ErrInvalidFinancialYear, got %v", err)
	}
}

func TestManager_ListRecordsScopedAndSorted(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	for i := 3; i >= 1; i-- {
		record := &types.Record{Type: types.RegisterDemand, FinancialYear: "2024-2025", SerialNo: int64(i)}
		if err := manager.CreateRecord(ctx, record); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}
	createRecord(t, manager, types.RegisterDemand, "2023-2024", nil)
	createRecord(t, manager, types.RegisterSupply, "2024-2025", nil)

	// Unknown sort columns fall back to serial_no
	records, err := manager.ListRecords(ctx, types.RegisterDemand, "2024-2025", "1; DROP TABLE users")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, record := range records {
		if record.SerialNo != int64(i+1) {
			t.Errorf("Record %d has serial %d", i, record.SerialNo)
		}
		if record.Type != types.RegisterDemand {
			t.Errorf("Unexpected register %s", record.Type)
		}
	}

	count, err := manager.CountRecords(ctx, types.RegisterDemand, "")
	if err != nil || count != 4 {
		t.Errorf("CountRecords across years = %d, %v; want 4", count, err)
	}
}

func TestManager_UpdateRecord(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	record := createRecord(t, manager, types.RegisterSanctionMisc, "2024-2025", map[string]interface{}{"code": "A1"})

	update := &types.Record{
		ID:            record.ID,
		Type:          types.RegisterSanctionMisc,
		FinancialYear: "2025-2026",
		SerialNo:      9,
		Fields:        map[string]interface{}{"code": "B2"},
	}
	if err := manager.UpdateRecord(ctx, update); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	if update.FinancialYear != "2025-2026" || update.Fields["code"] != "B2" || update.CreatedAt.IsZero() {
		t.Errorf("UpdateRecord should refresh the committed row: %+v", update)
	}

	missing := &types.Record{ID: 999, Type: types.RegisterSanctionMisc, FinancialYear: "2024-2025"}
	if err := manager.UpdateRecord(ctx, missing); !errors.Is(err, interfaces.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}

	// A record is only reachable through its own register
	wrongRegister := &types.Record{ID: record.ID, Type: types.RegisterBill, FinancialYear: "2024-2025"}
	if err := manager.UpdateRecord(ctx, wrongRegister); !errors.Is(err, interfaces.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound across registers, got %v", err)
	}
}

func TestManager_DeleteRecordReturnsYear(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	record := createRecord(t, manager, types.RegisterBill, "2022-2023", nil)

	deleted, err := manager.DeleteRecord(ctx, types.RegisterBill, record.ID)
	if err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if deleted.FinancialYear != "2022-2023" || deleted.ID != record.ID {
		t.Errorf("Unexpected deleted record: %+v", deleted)
	}

	if _, err := manager.GetRecord(ctx, types.RegisterBill, record.ID); !errors.Is(err, interfaces.ErrRecordNotFound) {
		t.Errorf("Expected record to be gone, got %v", err)
	}
	if _, err := manager.DeleteRecord(ctx, types.RegisterBill, record.ID); !errors.Is(err, interfaces.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound on second delete, got %v", err)
	}
}

func TestManager_SwapSerials(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	first := createRecord(t, manager, types.RegisterSupply, "2024-2025", nil)
	second := createRecord(t, manager, types.RegisterSupply, "2024-2025", nil)

	swapped, err := manager.SwapSerials(ctx, types.RegisterSupply, "2024-2025", second.ID, types.DirectionUp)
	if err != nil {
		t.Fatalf("SwapSerials failed: %v", err)
	}
	if len(swapped) != 2 {
		t.Fatalf("Expected two swapped records, got %d", len(swapped))
	}
	if swapped[0].ID != second.ID || swapped[0].SerialNo != 1 {
		t.Errorf("Moved record should now be serial 1: %+v", swapped[0])
	}
	if swapped[1].ID != first.ID || swapped[1].SerialNo != 2 {
		t.Errorf("Neighbour should now be serial 2: %+v", swapped[1])
	}

	records, err := manager.ListRecords(ctx, types.RegisterSupply, "2024-2025", "serial_no")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if records[0].ID != second.ID {
		t.Error("List order should reflect the swap")
	}
}

func TestManager_SwapSerialsAtEdges(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	only := createRecord(t, manager, types.RegisterSupply, "2024-2025", nil)

	tests := []struct {
		name      string
		year      string
		id        int64
		direction string
		want      error
	}{
		{"top moving up", "2024-2025", only.ID, types.DirectionUp, interfaces.ErrCannotMove},
		{"bottom moving down", "2024-2025", only.ID, types.DirectionDown, interfaces.ErrCannotMove},
		{"unknown id", "2024-2025", 999, types.DirectionUp, interfaces.ErrCannotMove},
		{"wrong year", "2023-2024", only.ID, types.DirectionUp, interfaces.ErrCannotMove},
		{"bad direction", "2024-2025", only.ID, "sideways", types.ErrInvalidDirection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.SwapSerials(ctx, types.RegisterSupply, tt.year, tt.id, tt.direction)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestManager_SingleWriterPattern(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	const numWrites = 20
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)

	wg.Add(numWrites)
	for i := 0; i < numWrites; i++ {
		go func(id int) {
			defer wg.Done()
			record := &types.Record{
				Type:          types.RegisterSupply,
				FinancialYear: "2024-2025",
				Fields:        map[string]interface{}{"n": fmt.Sprint(id)},
			}
			if err := manager.CreateRecord(ctx, record); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent write failed: %v", err)
	}

	// Serial allocation runs inside the writer, so no two rows share a serial
	records, err := manager.ListRecords(ctx, types.RegisterSupply, "2024-2025", "serial_no")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != numWrites {
		t.Fatalf("Expected %d records, got %d", numWrites, len(records))
	}
	for i, record := range records {
		if record.SerialNo != int64(i+1) {
			t.Errorf("Expected serial %d, got %d", i+1, record.SerialNo)
		}
	}
}

func TestManager_HealthCheckBehavior(t *testing.T) {
	manager := setupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck should pass: %v", err)
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	createRecord(t, manager, types.RegisterSupply, "2024-2025", nil)

	if err := manager.Close(); err != nil {
		t.Errorf("Close should succeed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second Close should be a no-op: %v", err)
	}

	err := manager.CreateRecord(ctx, &types.Record{Type: types.RegisterSupply, FinancialYear: "2024-2025"})
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after Close, got %v", err)
	}
}

// blockWriter occupies the single writer until the returned func is called
func blockWriter(t *testing.T, m *Manager) func() {
	t.Helper()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.executeWrite(context.Background(), func(context.Context, *sql.DB) error {
			close(started)
			<-release
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Writer never picked up the blocking operation")
	}
	return func() { close(release) }
}

func waitQueued(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(m.writeChannel) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d queued writes, have %d", n, len(m.writeChannel))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_QueuedWriteSurvivesCallerCancel(t *testing.T) {
	manager := setupTestDB(t)
	release := blockWriter(t, manager)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- manager.CreateRecord(ctx, &types.Record{
			Type:          types.RegisterBill,
			FinancialYear: "2024-2025",
			Fields:        map[string]interface{}{"bill_no": "B-1"},
		})
	}()

	waitQueued(t, manager, 1)
	cancel()
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Accepted write should commit after the caller cancels: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CreateRecord did not return")
	}

	records, err := manager.ListRecords(context.Background(), types.RegisterBill, "2024-2025", "")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected the row to be stored, got %d rows", len(records))
	}
}

func TestManager_CloseAnswersQueuedWrites(t *testing.T) {
	manager := setupTestDB(t)
	release := blockWriter(t, manager)

	done := make(chan error, 1)
	go func() {
		done <- manager.CreateRecord(context.Background(), &types.Record{
			Type:          types.RegisterBill,
			FinancialYear: "2024-2025",
		})
	}()
	waitQueued(t, manager, 1)

	closed := make(chan error, 1)
	go func() { closed <- manager.Close() }()

	select {
	case <-manager.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not signal shutdown")
	}
	release()

	select {
	case err := <-done:
		// the loop may run or refuse the queued write, but never drops it
		if err != nil && !errors.Is(err, ErrManagerClosed) {
			t.Errorf("Expected success or ErrManagerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Queued write was never answered after Close")
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

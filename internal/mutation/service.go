package mutation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/juju/clock"

	"registersync/internal/policy"
	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

// Service is the only path from a request to the register store.
// Every call is authorized first; every successful write produces its
// change events after the store has committed.
type Service struct {
	store     interfaces.RecordStore
	publisher interfaces.Publisher
	clock     clock.Clock

	// commitMu spans store write plus enqueue, so events reach the hub in
	// the order the store committed them
	commitMu sync.Mutex
}

// NewService wires a mutation service
func NewService(store interfaces.RecordStore, publisher interfaces.Publisher, clk clock.Clock) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		clock:     clk,
	}
}

func authorize(session *types.Session, op policy.Operation) error {
	if session == nil {
		return ErrUnauthenticated
	}
	err := policy.Authorize(session.Role, op)
	if err != nil && policy.IsWrite(op) {
		slog.Warn("write refused", "user", session.Username, "role", session.Role, "operation", op)
	}
	return err
}

// List returns the rows of one register year
func (s *Service) List(ctx context.Context, session *types.Session, register types.RegisterType, year, sort string) ([]*types.Record, error) {
	if err := authorize(session, policy.OpRead); err != nil {
		return nil, err
	}
	if !types.ValidFinancialYear(year) {
		return nil, types.ErrInvalidFinancialYear
	}
	return s.store.ListRecords(ctx, register, year, sort)
}

// Get returns one row
func (s *Service) Get(ctx context.Context, session *types.Session, register types.RegisterType, id int64) (*types.Record, error) {
	if err := authorize(session, policy.OpRead); err != nil {
		return nil, err
	}
	return s.store.GetRecord(ctx, register, id)
}

// MaxSerial returns the highest serial in a register year
func (s *Service) MaxSerial(ctx context.Context, session *types.Session, register types.RegisterType, year string) (int64, error) {
	if err := authorize(session, policy.OpRead); err != nil {
		return 0, err
	}
	if !types.ValidFinancialYear(year) {
		return 0, types.ErrInvalidFinancialYear
	}
	return s.store.MaxSerial(ctx, register, year)
}

// Create inserts a record and announces it to the record's room
func (s *Service) Create(ctx context.Context, session *types.Session, record *types.Record) (*types.Record, error) {
	if err := authorize(session, policy.OpCreate); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNilRecord
	}

	err := s.commit(func() ([]*types.ChangeEvent, error) {
		if err := s.store.CreateRecord(ctx, record); err != nil {
			return nil, err
		}
		return []*types.ChangeEvent{s.event(record.Type, types.ActionCreate, record.FinancialYear, record)}, nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update replaces a record. The event goes to the room of the year the
// record has after the update.
func (s *Service) Update(ctx context.Context, session *types.Session, record *types.Record) (*types.Record, error) {
	if err := authorize(session, policy.OpUpdate); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNilRecord
	}

	err := s.commit(func() ([]*types.ChangeEvent, error) {
		if err := s.store.UpdateRecord(ctx, record); err != nil {
			return nil, err
		}
		return []*types.ChangeEvent{s.event(record.Type, types.ActionUpdate, record.FinancialYear, record)}, nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a record. The payload carries only the id.
func (s *Service) Delete(ctx context.Context, session *types.Session, register types.RegisterType, id int64) error {
	if err := authorize(session, policy.OpDelete); err != nil {
		return err
	}

	return s.commit(func() ([]*types.ChangeEvent, error) {
		deleted, err := s.store.DeleteRecord(ctx, register, id)
		if err != nil {
			return nil, err
		}
		return []*types.ChangeEvent{
			s.event(register, types.ActionDelete, deleted.FinancialYear, types.DeletedRecord{ID: deleted.ID}),
		}, nil
	})
}

// Move swaps a record with its neighbour and emits one update per swapped row
func (s *Service) Move(ctx context.Context, session *types.Session, register types.RegisterType, year string, id int64, direction string) ([]*types.Record, error) {
	if err := authorize(session, policy.OpReorder); err != nil {
		return nil, err
	}
	if !types.IsValidDirection(direction) {
		return nil, types.ErrInvalidDirection
	}

	var swapped []*types.Record
	err := s.commit(func() ([]*types.ChangeEvent, error) {
		var err error
		swapped, err = s.store.SwapSerials(ctx, register, year, id, direction)
		if err != nil {
			return nil, err
		}
		events := make([]*types.ChangeEvent, 0, len(swapped))
		for _, record := range swapped {
			events = append(events, s.event(register, types.ActionUpdate, record.FinancialYear, record))
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return swapped, nil
}

// commit runs write and, only if it succeeds, hands its events to the
// publisher. Publish never blocks, so the caller's response does not wait
// on delivery.
func (s *Service) commit(write func() ([]*types.ChangeEvent, error)) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	events, err := write()
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := s.publisher.Publish(event); err != nil {
			// The write stands; subscribers catch up on their next reload
			slog.Warn("change event not published",
				"room", event.Room().ID(), "action", event.Action, "error", err)
		}
	}
	return nil
}

func (s *Service) event(register types.RegisterType, action, year string, data interface{}) *types.ChangeEvent {
	return &types.ChangeEvent{
		Type:          register,
		Action:        action,
		Data:          data,
		Timestamp:     s.clock.Now(),
		FinancialYear: year,
	}
}

// Overview counts the rows of every register. An empty year counts all years.
func (s *Service) Overview(ctx context.Context, session *types.Session, year string) (map[types.RegisterType]int, error) {
	if err := authorize(session, policy.OpRead); err != nil {
		return nil, err
	}
	if year != "" && !types.ValidFinancialYear(year) {
		return nil, types.ErrInvalidFinancialYear
	}

	counts := make(map[types.RegisterType]int, len(types.AllRegisters))
	for _, register := range types.AllRegisters {
		n, err := s.store.CountRecords(ctx, register, year)
		if err != nil {
			return nil, err
		}
		counts[register] = n
	}
	return counts, nil
}

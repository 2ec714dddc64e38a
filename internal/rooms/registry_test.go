package rooms

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"registersync/pkg/interfaces"
	"registersync/pkg/types"
)

type fakeChannel struct {
	id string
}

func (f *fakeChannel) ID() string { return f.id }
func (f *fakeChannel) Send(event string, data interface{}) error { return nil }
func (f *fakeChannel) Close() error { return nil }

var (
	supply2425 = types.Room{Type: types.RegisterSupply, FinancialYear: "2024-2025"}
	supply2324 = types.Room{Type: types.RegisterSupply, FinancialYear: "2023-2024"}
	demand2425 = types.Room{Type: types.RegisterDemand, FinancialYear: "2024-2025"}
)

func attached(t *testing.T, r *Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := r.Attach(&fakeChannel{id: id}); err != nil {
			t.Fatalf("Attach(%s) failed: %v", id, err)
		}
	}
}

func TestRegistry_InterfaceCompliance(t *testing.T) {
	var _ interfaces.RoomRegistry = NewRegistry()
}

func TestRegistry_AttachValidation(t *testing.T) {
	r := NewRegistry()

	if err := r.Attach(nil); !errors.Is(err, ErrNilChannel) {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}

	attached(t, r, "a")
	if err := r.Attach(&fakeChannel{id: "a"}); !errors.Is(err, ErrChannelAttached) {
		t.Errorf("Expected ErrChannelAttached, got %v", err)
	}

	if err := r.Join("ghost", supply2425); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Expected ErrUnknownChannel, got %v", err)
	}
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	attached(t, r, "a")

	for i := 0; i < 2; i++ {
		if err := r.Join("a", supply2425); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}
	if members := r.MembersOf(supply2425); len(members) != 1 {
		t.Fatalf("Expected a single membership, got %v", members)
	}

	// One leave fully removes membership regardless of duplicate joins
	r.Leave("a", supply2425)
	if members := r.MembersOf(supply2425); len(members) != 0 {
		t.Errorf("Expected no members after leave, got %v", members)
	}
	if stats := r.GetStats(); stats["rooms"] != 0 {
		t.Errorf("Empty room should be discarded, stats %v", stats)
	}
}

func TestRegistry_RoomsAreScopedByYearAndType(t *testing.T) {
	r := NewRegistry()
	attached(t, r, "a", "b", "c")

	_ = r.Join("a", supply2425)
	_ = r.Join("b", supply2425)
	_ = r.Join("c", supply2324)

	if got := r.MembersOf(supply2425); fmt.Sprint(got) != "[a b]" {
		t.Errorf("Expected [a b] in %s, got %v", supply2425, got)
	}
	if got := r.MembersOf(supply2324); fmt.Sprint(got) != "[c]" {
		t.Errorf("Expected [c] in %s, got %v", supply2324, got)
	}
	if got := r.MembersOf(demand2425); len(got) != 0 {
		t.Errorf("Expected empty %s, got %v", demand2425, got)
	}
}

func TestRegistry_LeaveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	attached(t, r, "a")

	r.Leave("a", supply2425)
	r.Leave("ghost", supply2425)

	if stats := r.GetStats(); stats["rooms"] != 0 || stats["channels"] != 1 {
		t.Errorf("Unexpected stats %v", stats)
	}
}

func TestRegistry_SwitchRooms(t *testing.T) {
	r := NewRegistry()
	attached(t, r, "a")

	_ = r.Join("a", supply2425)
	r.Leave("a", supply2425)
	_ = r.Join("a", supply2324)

	rooms := r.RoomsOf("a")
	if len(rooms) != 1 || rooms[0] != supply2324 {
		t.Errorf("Expected membership in %s only, got %v", supply2324, rooms)
	}
	if len(r.Recipients(supply2425)) != 0 {
		t.Error("Old room should have no recipients after the switch")
	}
}

func TestRegistry_DropChannelRemovesEverywhere(t *testing.T) {
	r := NewRegistry()
	attached(t, r, "a", "b")

	_ = r.Join("a", supply2425)
	_ = r.Join("a", demand2425)
	_ = r.Join("b", supply2425)

	r.DropChannel("a")

	for _, room := range []types.Room{supply2425, demand2425} {
		for _, id := range r.MembersOf(room) {
			if id == "a" {
				t.Errorf("Dropped channel still in %s", room)
			}
		}
	}
	if _, ok := r.Lookup("a"); ok {
		t.Error("Dropped channel should be forgotten")
	}
	if len(r.RoomsOf("a")) != 0 {
		t.Error("Dropped channel should have no rooms")
	}
	if got := r.Recipients(supply2425); len(got) != 1 || got[0].ID() != "b" {
		t.Errorf("Expected only b to remain, got %v", got)
	}

	// Dropping again is harmless
	r.DropChannel("a")
}

func TestRegistry_ConcurrentJoinLeaveAndBroadcast(t *testing.T) {
	r := NewRegistry()
	const channels = 50

	var wg sync.WaitGroup
	for i := 0; i < channels; i++ {
		id := fmt.Sprintf("ch-%d", i)
		attached(t, r, id)

		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Join(id, supply2425)
				_ = r.Join(id, demand2425)
				r.Leave(id, supply2425)
			}
			r.DropChannel(id)
		}(id)

		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// Every snapshot must only contain channels still attached
				for _, ch := range r.Recipients(demand2425) {
					if ch == nil {
						t.Error("Recipients returned a nil channel")
					}
				}
				_ = r.MembersOf(supply2425)
			}
		}()
	}
	wg.Wait()

	stats := r.GetStats()
	if stats["channels"] != 0 || stats["rooms"] != 0 || stats["memberships"] != 0 {
		t.Errorf("Expected empty registry, got %v", stats)
	}
}

package room

import (
	"errors"
	"sync"
	"testing"
)

// emitRecorder captures emitted event names.
type emitRecorder struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *emitRecorder) emit(event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("transport gone")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *emitRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_JoinWhileConnected(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &emitRecorder{}
	reg.HandleConnOpen(rec.emit)

	reg.Join("job-1")
	reg.Join("conv-2")
	reg.Join("job-1") // duplicate, no second emit

	assertEvents(t, rec.all(), []string{"join:job-1", "join:conv-2"})
}

func TestRegistry_JoinDeferredUntilOpen(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Join("job-1")
	reg.Join("conv-2")

	rec := &emitRecorder{}
	reg.HandleConnOpen(rec.emit)

	assertEvents(t, rec.all(), []string{"join:job-1", "join:conv-2"})
}

func TestRegistry_ReplayAfterReconnect(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &emitRecorder{}
	reg.HandleConnOpen(rec.emit)

	reg.Join("job-1")
	reg.Join("conv-2")
	reg.Join("job-3")
	reg.Leave("conv-2")

	// Simulated disconnect/reconnect cycle.
	reg.HandleConnLost()
	rec2 := &emitRecorder{}
	reg.HandleConnOpen(rec2.emit)

	// Exactly the desired set, original join order, no duplicates.
	assertEvents(t, rec2.all(), []string{"join:job-1", "join:job-3"})
}

func TestRegistry_Leave(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &emitRecorder{}
	reg.HandleConnOpen(rec.emit)

	reg.Join("job-1")
	reg.Leave("job-1")
	reg.Leave("job-1")     // no-op
	reg.Leave("never-was") // no-op

	assertEvents(t, rec.all(), []string{"join:job-1", "leave:job-1"})

	if rooms := reg.Rooms(); len(rooms) != 0 {
		t.Errorf("Rooms = %v, want empty", rooms)
	}
}

func TestRegistry_NoEmitWhileDisconnected(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &emitRecorder{}
	reg.HandleConnOpen(rec.emit)
	reg.HandleConnLost()

	reg.Join("job-1")
	reg.Leave("job-1")

	if got := rec.all(); len(got) != 0 {
		t.Errorf("events while disconnected = %v, want none", got)
	}
}

func TestRegistry_FailedJoinStillReplayed(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &emitRecorder{fail: true}
	reg.HandleConnOpen(rec.emit)

	// Emit fails, but the intent is recorded.
	reg.Join("job-1")

	rec2 := &emitRecorder{}
	reg.HandleConnOpen(rec2.emit)

	assertEvents(t, rec2.all(), []string{"join:job-1"})
}

func TestRegistry_RoomsOrder(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Join("c")
	reg.Join("a")
	reg.Join("b")
	reg.Leave("a")
	reg.Join("a") // rejoin appends at tail

	want := []string{"c", "b", "a"}
	got := reg.Rooms()
	if len(got) != len(want) {
		t.Fatalf("Rooms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Rooms[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

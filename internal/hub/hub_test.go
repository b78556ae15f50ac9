package hub

import (
	"sort"
	"testing"
)

// fakeSub records delivered events; reject makes Send report a full buffer.
type fakeSub struct {
	id     string
	events []any
	reject bool
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(event any) bool {
	if f.reject {
		return false
	}
	f.events = append(f.events, event)
	return true
}

func TestJoinRoom_Idempotent(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	h.JoinRoom(a, "room1")
	h.JoinRoom(a, "room1")

	h.Broadcast("room1", "ping")
	if len(a.events) != 1 {
		t.Fatalf("double join must not duplicate delivery, got %d events", len(a.events))
	}
	rooms := h.Rooms("a")
	if len(rooms) != 1 || rooms[0] != "room1" {
		t.Fatalf("unexpected rooms: %v", rooms)
	}
}

func TestLeaveRoom(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	h.JoinRoom(a, "room1")
	h.LeaveRoom("a", "room1")
	h.LeaveRoom("a", "room1") // no-op

	h.Broadcast("room1", "ping")
	if len(a.events) != 0 {
		t.Fatalf("left member must not receive events")
	}
	if rooms := h.Rooms("a"); len(rooms) != 0 {
		t.Fatalf("expected no rooms, got %v", rooms)
	}
}

func TestBroadcast_AllMembersInOrder(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	h.JoinRoom(a, "room1")
	h.JoinRoom(b, "room1")

	for _, ev := range []string{"one", "two", "three"} {
		h.Broadcast("room1", ev)
	}
	for _, sub := range []*fakeSub{a, b} {
		if len(sub.events) != 3 {
			t.Fatalf("%s: expected 3 events, got %d", sub.id, len(sub.events))
		}
		for i, want := range []string{"one", "two", "three"} {
			if sub.events[i] != want {
				t.Fatalf("%s: event %d = %v, want %s", sub.id, i, sub.events[i], want)
			}
		}
	}
}

func TestBroadcast_MissingRoomIsNoop(t *testing.T) {
	h := NewHub()
	h.Broadcast("nobody-home", "ping")
}

func TestBroadcast_SlowMemberEjected(t *testing.T) {
	h := NewHub()
	a := &fakeSub{id: "a"}
	slow := &fakeSub{id: "slow", reject: true}
	h.JoinRoom(a, "room1")
	h.JoinRoom(slow, "room1")
	h.JoinRoom(slow, "room2")

	h.Broadcast("room1", "first")
	if len(a.events) != 1 {
		t.Fatalf("healthy member must still receive the event")
	}
	// The slow member is gone from every room, not just the broadcast one.
	if rooms := h.Rooms("slow"); len(rooms) != 0 {
		t.Fatalf("slow member still in rooms %v", rooms)
	}

	slow.reject = false
	h.Broadcast("room2", "second")
	if len(slow.events) != 0 {
		t.Fatalf("ejected member must not receive further events")
	}
}

// A reconnected client registers a fresh subscriber under the same id.
// Ejecting the stale instance must not strip the fresh one's rooms.
func TestBroadcast_EjectsOnlyStaleInstance(t *testing.T) {
	h := NewHub()
	stale := &fakeSub{id: "a", reject: true}
	h.JoinRoom(stale, "session:42")

	fresh := &fakeSub{id: "a"}
	h.JoinRoom(fresh, LobbyRoom)

	h.Broadcast("session:42", "ping")

	rooms := h.Rooms("a")
	if len(rooms) != 1 || rooms[0] != LobbyRoom {
		t.Fatalf("fresh subscriber must keep its rooms, got %v", rooms)
	}
	h.Broadcast(LobbyRoom, "hello")
	if len(fresh.events) != 1 || fresh.events[0] != "hello" {
		t.Fatalf("fresh subscriber must still receive events, got %v", fresh.events)
	}
}

func TestDisconnect_ReportsRooms(t *testing.T) {
	h := NewHub()
	var gotID string
	var gotRooms []string
	h.OnDisconnect(func(clientID string, rooms []string) {
		gotID = clientID
		gotRooms = rooms
	})

	a := &fakeSub{id: "a"}
	h.JoinRoom(a, LobbyRoom)
	h.JoinRoom(a, "session:42")

	h.Disconnect("a")
	if gotID != "a" {
		t.Fatalf("disconnect hook got id %q", gotID)
	}
	sort.Strings(gotRooms)
	if len(gotRooms) != 2 || gotRooms[0] != LobbyRoom || gotRooms[1] != "session:42" {
		t.Fatalf("unexpected rooms at disconnect: %v", gotRooms)
	}
	if rooms := h.Rooms("a"); len(rooms) != 0 {
		t.Fatalf("disconnected client still in %v", rooms)
	}
}

func TestDisconnect_UnknownClient(t *testing.T) {
	h := NewHub()
	called := false
	h.OnDisconnect(func(string, []string) { called = true })
	h.Disconnect("ghost")
	if !called {
		t.Fatalf("hook should still run with an empty room list")
	}
}

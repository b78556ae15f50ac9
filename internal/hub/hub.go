package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/obslog"
)

// LobbyRoom is the shared room every connected client belongs to.
const LobbyRoom = "lobby"

// Subscriber is one connected client as the hub sees it. Send must never
// block: implementations buffer and report false when the buffer is full,
// at which point the hub drops the member rather than stalling a room.
type Subscriber interface {
	ID() string
	Send(event any) bool
}

// DisconnectFunc receives the rooms the client belonged to at the moment
// of disconnect so session-level notices can be emitted.
type DisconnectFunc func(clientID string, rooms []string)

// Hub maps connected clients to rooms and fans events out. Membership is
// reconstructed from live connections only; nothing here is persisted.
type Hub struct {
	mu           sync.Mutex
	rooms        map[string]map[string]Subscriber
	clientRooms  map[string]map[string]struct{}
	onDisconnect DisconnectFunc
}

func NewHub() *Hub {
	return &Hub{
		rooms:       make(map[string]map[string]Subscriber),
		clientRooms: make(map[string]map[string]struct{}),
	}
}

// OnDisconnect registers the coordinator's disconnect hook. Must be called
// before clients connect.
func (h *Hub) OnDisconnect(fn DisconnectFunc) { h.onDisconnect = fn }

// JoinRoom adds the subscriber to a room. Idempotent.
func (h *Hub) JoinRoom(sub Subscriber, roomID string) {
	if sub == nil || roomID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]Subscriber)
		h.rooms[roomID] = members
	}
	members[sub.ID()] = sub
	joined, ok := h.clientRooms[sub.ID()]
	if !ok {
		joined = make(map[string]struct{})
		h.clientRooms[sub.ID()] = joined
	}
	joined[roomID] = struct{}{}
}

// LeaveRoom removes the client from a room. Idempotent.
func (h *Hub) LeaveRoom(clientID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(clientID, roomID)
}

func (h *Hub) leaveLocked(clientID, roomID string) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if joined, ok := h.clientRooms[clientID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(h.clientRooms, clientID)
		}
	}
}

// Rooms returns the rooms the client currently belongs to.
func (h *Hub) Rooms(clientID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined := h.clientRooms[clientID]
	out := make([]string, 0, len(joined))
	for r := range joined {
		out = append(out, r)
	}
	return out
}

// Broadcast delivers event to every member of the room. Delivery is
// best-effort per client; a member whose buffer is full is ejected from
// all rooms so it cannot hold the others back. Sends happen under the hub
// lock, which serializes broadcasts to a room and preserves per-recipient
// order (Subscriber.Send is non-blocking, so the lock is never held across
// I/O).
func (h *Hub) Broadcast(roomID string, event any) {
	h.mu.Lock()
	var dropped []Subscriber
	for _, sub := range h.rooms[roomID] {
		if !sub.Send(event) {
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		// Eject only rooms where this instance is still the member; a
		// reconnected client's fresh subscriber under the same id keeps
		// its memberships.
		id := sub.ID()
		for r := range h.clientRooms[id] {
			if h.rooms[r][id] == sub {
				h.leaveLocked(id, r)
			}
		}
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		obslog.L().Warn("hub_member_dropped",
			zap.String("client_id", sub.ID()),
			zap.String("room_id", roomID),
		)
	}
}

// Disconnect removes the client from every room and invokes the
// registered disconnect hook with the rooms it belonged to.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	joined := h.clientRooms[clientID]
	rooms := make([]string, 0, len(joined))
	for r := range joined {
		rooms = append(rooms, r)
	}
	for _, r := range rooms {
		h.leaveLocked(clientID, r)
	}
	fn := h.onDisconnect
	h.mu.Unlock()

	if fn != nil {
		fn(clientID, rooms)
	}
}

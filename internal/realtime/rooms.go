package realtime

import "sync"

// RoomTable tracks which connections have joined which logical rooms
// (conversation views). It deliberately knows nothing about the transport:
// the socket layer calls Join/Leave and the delivery engine asks IsViewing.
type RoomTable struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]string   // roomID -> connID -> userID
	byConn map[string]map[string]struct{} // connID -> roomIDs
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms:  make(map[string]map[string]string),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (r *RoomTable) Join(roomID, connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]string)
		r.rooms[roomID] = room
	}
	room[connID] = userID

	set, ok := r.byConn[connID]
	if !ok {
		set = make(map[string]struct{})
		r.byConn[connID] = set
	}
	set[roomID] = struct{}{}
}

func (r *RoomTable) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, connID)
}

// LeaveAll drops a closed connection from every room it had joined.
func (r *RoomTable) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.byConn[connID] {
		r.leaveLocked(roomID, connID)
	}
}

func (r *RoomTable) leaveLocked(roomID, connID string) {
	if room, ok := r.rooms[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if set, ok := r.byConn[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// IsViewing reports whether any of the user's connections is currently a
// member of the room.
func (r *RoomTable) IsViewing(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, uid := range r.rooms[roomID] {
		if uid == userID {
			return true
		}
	}
	return false
}

// MembersOf returns the distinct user IDs with a connection in the room.
func (r *RoomTable) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for _, uid := range r.rooms[roomID] {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		users = append(users, uid)
	}
	return users
}

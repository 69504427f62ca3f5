package realtime

import (
	socketio "github.com/googollee/go-socket.io"
)

// Emitter is the push side of the realtime layer. Every user has a personal
// room named after their user ID, so ToUser reaches all of their devices.
// Implementations must never fail the caller: push is best-effort and the
// persisted state is the source of truth.
type Emitter interface {
	ToUser(userID string, event string, data interface{})
	ToRoom(roomID string, event string, data interface{})
	Broadcast(event string, data interface{})
}

// PresenceRoom is the global room every authenticated connection joins,
// used for presence broadcasts.
const PresenceRoom = "presence"

// SocketEmitter pushes over a socket.io server.
type SocketEmitter struct {
	Server *socketio.Server
}

func (e *SocketEmitter) ToUser(userID string, event string, data interface{}) {
	if e.Server != nil {
		e.Server.BroadcastToRoom("/", userID, event, data)
	}
}

func (e *SocketEmitter) ToRoom(roomID string, event string, data interface{}) {
	if e.Server != nil {
		e.Server.BroadcastToRoom("/", roomID, event, data)
	}
}

func (e *SocketEmitter) Broadcast(event string, data interface{}) {
	if e.Server != nil {
		e.Server.BroadcastToRoom("/", PresenceRoom, event, data)
	}
}

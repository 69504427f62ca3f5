package handlers

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/database"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/realtime"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/services"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/utils"
)

var SocketServer *socketio.Server

// SocketDeps carries the per-process tables and services the gateway mutates.
// They are constructed once in main and injected, never global singletons, so
// tests can spin up fresh instances.
type SocketDeps struct {
	Presence *realtime.PresenceRegistry
	Rooms    *realtime.RoomTable
	Delivery *services.DeliveryService
	Calls    *services.CallService
}

// Typing throttle: minimum interval between typing relays per user
const typingThrottleDuration = 3 * time.Second

// BroadcastPresenceUpdate tells every connected client that a user came
// online or went away.
func BroadcastPresenceUpdate(userId string, isOnline bool, lastSeen *time.Time) {
	if SocketServer == nil {
		return
	}
	data := map[string]interface{}{
		"userId":   userId,
		"isOnline": isOnline,
	}
	if lastSeen != nil {
		data["lastSeen"] = lastSeen
	}
	SocketServer.BroadcastToRoom("/", realtime.PresenceRoom, "presence_update", data)
}

func InitSocketServer(deps SocketDeps) *socketio.Server {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
		},
	})

	var (
		lastTypingEmit = make(map[string]time.Time)
		lastTypingMu   sync.Mutex
	)

	// connUser pulls the authenticated user id stored on the connection
	connUser := func(s socketio.Conn) string {
		userId, _ := s.Context().(string)
		return userId
	}

	// joinedConversation loads the conversation and rejects non-participants
	joinedConversation := func(s socketio.Conn, conversationId string) (*models.Conversation, string, bool) {
		userId := connUser(s)
		if userId == "" || conversationId == "" {
			return nil, "", false
		}
		var conv models.Conversation
		if err := database.DB.First(&conv, "id = ?", conversationId).Error; err != nil {
			return nil, "", false
		}
		if !conv.HasParticipant(userId) {
			return nil, "", false
		}
		return &conv, userId, true
	}

	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext("")
		url := s.URL()

		token := url.Query().Get("token")
		if token == "" {
			token = url.Query().Get("auth_token") // Fallback
		}
		if token == "" {
			log.Println("Socket Connection Rejected: No token provided", s.ID())
			return fmt.Errorf("authentication required")
		}

		claims, err := utils.ValidateToken(token)
		if err != nil {
			log.Println("Socket Connection Rejected: Invalid token", s.ID())
			return fmt.Errorf("invalid token")
		}

		userId := claims.UserID
		s.SetContext(userId)

		// Personal room for targeted emits, global room for presence
		s.Join(userId)
		s.Join(realtime.PresenceRoom)

		if first := deps.Presence.MarkOnline(userId, s.ID()); first {
			BroadcastPresenceUpdate(userId, true, nil)
		}

		s.Emit("online_users", deps.Presence.OnlineUsers())

		// Deliver whatever arrived while this user was offline
		go deps.Delivery.Reconcile(userId)

		return nil
	})

	server.OnEvent("/", "join_chat", func(s socketio.Conn, conversationId string) {
		_, userId, ok := joinedConversation(s, conversationId)
		if !ok {
			return
		}
		s.Join(conversationId)
		deps.Rooms.Join(conversationId, s.ID(), userId)
	})

	server.OnEvent("/", "leave_chat", func(s socketio.Conn, conversationId string) {
		s.Leave(conversationId)
		deps.Rooms.Leave(conversationId, s.ID())
	})

	server.OnEvent("/", "typing", func(s socketio.Conn, data map[string]interface{}) {
		conversationId, _ := data["conversationId"].(string)
		conv, userId, ok := joinedConversation(s, conversationId)
		if !ok {
			return
		}

		lastTypingMu.Lock()
		last, seen := lastTypingEmit[userId]
		if seen && time.Since(last) < typingThrottleDuration {
			lastTypingMu.Unlock()
			return
		}
		lastTypingEmit[userId] = time.Now()
		lastTypingMu.Unlock()

		server.BroadcastToRoom("/", conv.OtherParticipant(userId), "user_typing", map[string]interface{}{
			"conversationId": conversationId,
			"userId":         userId,
			"expiresAt":      time.Now().Add(4 * time.Second).Unix(), // Auto-expire on client
		})
	})

	server.OnEvent("/", "call_invite", func(s socketio.Conn, data map[string]interface{}) {
		conversationId, _ := data["conversationId"].(string)
		media, _ := data["media"].(string)
		userId := connUser(s)
		if userId == "" {
			return
		}
		if err := deps.Calls.Invite(userId, conversationId, media); err != nil {
			s.Emit("call_error", map[string]interface{}{
				"conversationId": conversationId,
				"error":          err.Error(),
			})
		}
	})

	server.OnEvent("/", "call_answer", func(s socketio.Conn, data map[string]interface{}) {
		conversationId, _ := data["conversationId"].(string)
		accept, _ := data["accept"].(bool)
		userId := connUser(s)
		if userId == "" {
			return
		}
		deps.Calls.Answer(userId, conversationId, accept)
	})

	server.OnEvent("/", "call_signal", func(s socketio.Conn, data map[string]interface{}) {
		conversationId, _ := data["conversationId"].(string)
		toUserId, _ := data["to"].(string)
		userId := connUser(s)
		if userId == "" {
			return
		}
		// Errors are dropped: signaling is fire-and-forget
		deps.Calls.Signal(userId, conversationId, toUserId, data["data"])
	})

	server.OnEvent("/", "call_end", func(s socketio.Conn, data map[string]interface{}) {
		conversationId, _ := data["conversationId"].(string)
		userId := connUser(s)
		if userId == "" {
			return
		}
		deps.Calls.End(userId, conversationId)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		userId := connUser(s)
		if userId == "" {
			return
		}

		deps.Rooms.LeaveAll(s.ID())

		if wentOffline, lastSeen := deps.Presence.MarkOffline(userId, s.ID()); wentOffline {
			BroadcastPresenceUpdate(userId, false, &lastSeen)
			// Losing the last connection mid-call counts as hanging up
			deps.Calls.HandleDisconnect(userId)
		}
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("socket error:", e)
	})

	go server.Serve()
	SocketServer = server
	return server
}

// Gin Handler to wrap Socket.io
func SocketHandler(server *socketio.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		server.ServeHTTP(c.Writer, c.Request)
	}
}

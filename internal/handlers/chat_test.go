package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/database"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/realtime"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/services"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/logger"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) {
	logger.Init("development")
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db
	database.DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.Notification{},
	)

	// A nil socket server makes every emit a no-op
	emitter := &realtime.SocketEmitter{}
	notifier := services.NewNotifier(db, emitter)
	Delivery = services.NewDeliveryService(db, realtime.NewPresenceRegistry(), realtime.NewRoomTable(), emitter, notifier)
}

func seedUsers(ids ...string) {
	for _, id := range ids {
		database.DB.Create(&models.User{ID: id, Username: id, Email: id + "@example.com"})
	}
}

func performRequest(handler gin.HandlerFunc, userId, method, target string, body interface{}, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("userId", userId)
	c.Params = params

	handler(c)
	return w
}

func TestOpenConversation_IdempotentAcrossOrder(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")

	w1 := performRequest(OpenConversation, "alice", "POST", "/api/chat/conversations", gin.H{"userId": "bob"})
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := performRequest(OpenConversation, "bob", "POST", "/api/chat/conversations", gin.H{"userId": "alice"})
	assert.Equal(t, http.StatusOK, w2.Code)

	var r1, r2 struct {
		Conversation models.Conversation `json:"conversation"`
	}
	json.Unmarshal(w1.Body.Bytes(), &r1)
	json.Unmarshal(w2.Body.Bytes(), &r2)
	assert.Equal(t, r1.Conversation.ID, r2.Conversation.ID)

	var count int64
	database.DB.Model(&models.Conversation{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestOpenConversation_WithSelfOrUnknown(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice")

	w := performRequest(OpenConversation, "alice", "POST", "/api/chat/conversations", gin.H{"userId": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(OpenConversation, "alice", "POST", "/api/chat/conversations", gin.H{"userId": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage_EmptyPayload(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")

	w := performRequest(SendMessage, "alice", "POST",
		"/api/chat/conversations/"+conv.ID+"/messages",
		gin.H{"content": ""},
		gin.Param{Key: "id", Value: conv.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage_NotParticipant(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob", "mallory")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")

	w := performRequest(SendMessage, "mallory", "POST",
		"/api/chat/conversations/"+conv.ID+"/messages",
		gin.H{"content": "hi"},
		gin.Param{Key: "id", Value: conv.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMessages_ClearedAtFloor(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")

	Delivery.SendMessage("alice", conv.ID, "before clear", nil)

	w := performRequest(ClearConversation, "bob", "POST",
		"/api/chat/conversations/"+conv.ID+"/clear", nil,
		gin.Param{Key: "id", Value: conv.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(GetMessages, "bob", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages", nil,
		gin.Param{Key: "id", Value: conv.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Empty(t, resp.Messages)

	// New messages land after the floor; the clock must tick past it first
	time.Sleep(5 * time.Millisecond)
	Delivery.SendMessage("alice", conv.ID, "after clear", nil)

	w = performRequest(GetMessages, "bob", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages", nil,
		gin.Param{Key: "id", Value: conv.ID})
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Len(t, resp.Messages, 1)
	assert.Equal(t, "after clear", resp.Messages[0].Content)

	// Alice still sees full history
	w = performRequest(GetMessages, "alice", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages", nil,
		gin.Param{Key: "id", Value: conv.ID})
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Len(t, resp.Messages, 2)
}

func TestEditMessage(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")
	msg, _ := Delivery.SendMessage("alice", conv.ID, "tpyo", nil)

	w := performRequest(EditMessage, "bob", "PUT",
		"/api/chat/messages/"+msg.ID, gin.H{"content": "hijack"},
		gin.Param{Key: "id", Value: msg.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(EditMessage, "alice", "PUT",
		"/api/chat/messages/"+msg.ID, gin.H{"content": "typo"},
		gin.Param{Key: "id", Value: msg.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Message
	database.DB.First(&got, "id = ?", msg.ID)
	assert.Equal(t, "typo", got.Content)
	assert.NotNil(t, got.EditedAt)
}

func TestEditMessage_DeletedRejected(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")
	msg, _ := Delivery.SendMessage("alice", conv.ID, "going away", nil)

	performRequest(DeleteMessage, "alice", "DELETE",
		"/api/chat/messages/"+msg.ID+"?scope=everyone", nil,
		gin.Param{Key: "id", Value: msg.ID})

	w := performRequest(EditMessage, "alice", "PUT",
		"/api/chat/messages/"+msg.ID, gin.H{"content": "resurrect"},
		gin.Param{Key: "id", Value: msg.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMessage_ForEveryoneKeepsOrdering(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")

	m1, _ := Delivery.SendMessage("alice", conv.ID, "first", nil)
	time.Sleep(5 * time.Millisecond)
	m2, _ := Delivery.SendMessage("alice", conv.ID, "second", nil)
	time.Sleep(5 * time.Millisecond)
	Delivery.SendMessage("alice", conv.ID, "third", nil)

	// Only the sender may delete for everyone
	w := performRequest(DeleteMessage, "bob", "DELETE",
		"/api/chat/messages/"+m2.ID+"?scope=everyone", nil,
		gin.Param{Key: "id", Value: m2.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(DeleteMessage, "alice", "DELETE",
		"/api/chat/messages/"+m2.ID+"?scope=everyone", nil,
		gin.Param{Key: "id", Value: m2.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(GetMessages, "bob", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages", nil,
		gin.Param{Key: "id", Value: conv.ID})
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	// Row stays in place, blanked
	assert.Len(t, resp.Messages, 3)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.Equal(t, m2.ID, resp.Messages[1].ID)
	assert.True(t, resp.Messages[1].IsDeleted)
	assert.Empty(t, resp.Messages[1].Content)
	assert.Equal(t, "third", resp.Messages[2].Content)

	_ = m1
}

func TestDeleteMessage_ForMeHidesLocally(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")
	msg, _ := Delivery.SendMessage("alice", conv.ID, "awkward", nil)

	w := performRequest(DeleteMessage, "bob", "DELETE",
		"/api/chat/messages/"+msg.ID+"?scope=me", nil,
		gin.Param{Key: "id", Value: msg.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}

	w = performRequest(GetMessages, "bob", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages", nil,
		gin.Param{Key: "id", Value: conv.ID})
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Empty(t, resp.Messages)

	// Sender's copy is untouched
	w = performRequest(GetMessages, "alice", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages", nil,
		gin.Param{Key: "id", Value: conv.ID})
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Len(t, resp.Messages, 1)
}

func TestGetConversations(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob", "carol")

	convAB, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")
	Delivery.SendMessage("bob", convAB.ID, "hey alice", nil)
	models.GetOrCreateConversation(database.DB, "alice", "carol")

	w := performRequest(GetConversations, "alice", "GET", "/api/chat/conversations", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []struct {
			ID          string          `json:"id"`
			User        models.User     `json:"user"`
			LastMessage *models.Message `json:"lastMessage"`
			UnreadCount int64           `json:"unreadCount"`
		} `json:"conversations"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Len(t, resp.Conversations, 2)

	for _, conv := range resp.Conversations {
		if conv.ID == convAB.ID {
			assert.Equal(t, "bob", conv.User.ID)
			assert.NotNil(t, conv.LastMessage)
			assert.EqualValues(t, 1, conv.UnreadCount)
		} else {
			assert.Equal(t, "carol", conv.User.ID)
			assert.Nil(t, conv.LastMessage)
		}
	}
}

func TestGetMessages_BeforeCursor(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob")
	conv, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")

	var older, newest *models.Message
	for i, text := range []string{"one", "two", "three"} {
		m, _ := Delivery.SendMessage("alice", conv.ID, text, nil)
		if i == 0 {
			older = m
		}
		newest = m
		time.Sleep(5 * time.Millisecond)
	}

	w := performRequest(GetMessages, "bob", "GET",
		"/api/chat/conversations/"+conv.ID+"/messages?before="+newest.ID, nil,
		gin.Param{Key: "id", Value: conv.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Len(t, resp.Messages, 2)
	assert.Equal(t, older.ID, resp.Messages[0].ID)
}

func TestGetMessages_CursorFromOtherConversationRejected(t *testing.T) {
	SetupTestDB(t)
	seedUsers("alice", "bob", "carol")
	convAB, _ := models.GetOrCreateConversation(database.DB, "alice", "bob")
	convAC, _ := models.GetOrCreateConversation(database.DB, "alice", "carol")

	Delivery.SendMessage("alice", convAB.ID, "hello bob", nil)
	foreign, _ := Delivery.SendMessage("alice", convAC.ID, "hello carol", nil)

	// A message id from another conversation is not a valid anchor
	w := performRequest(GetMessages, "bob", "GET",
		"/api/chat/conversations/"+convAB.ID+"/messages?before="+foreign.ID, nil,
		gin.Param{Key: "id", Value: convAB.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

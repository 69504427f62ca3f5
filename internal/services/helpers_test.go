package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	logger.Init("development")

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Conversation{}, &models.Message{}, &models.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type emitted struct {
	Target string
	Event  string
	Data   interface{}
}

// fakeEmitter records pushes instead of hitting a socket server.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) ToUser(userID, event string, data interface{}) {
	f.record(userID, event, data)
}

func (f *fakeEmitter) ToRoom(roomID, event string, data interface{}) {
	f.record(roomID, event, data)
}

func (f *fakeEmitter) Broadcast(event string, data interface{}) {
	f.record("*", event, data)
}

func (f *fakeEmitter) record(target, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Target: target, Event: event, Data: data})
}

func (f *fakeEmitter) count(target, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Target == target && e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func seedConversation(t *testing.T, db *gorm.DB, a, b string) *models.Conversation {
	for _, id := range []string{a, b} {
		db.Create(&models.User{ID: id, Username: id, Email: id + "@example.com"})
	}
	conv, err := models.GetOrCreateConversation(db, a, b)
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

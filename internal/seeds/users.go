package seeds

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/database"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// SeedDemoUsers creates a small set of demo accounts for local development.
// Existing users with the same usernames are reused.
func SeedDemoUsers() []models.User {
	log.Println("👤 Seeding Demo Users...")

	accounts := []struct {
		Username string
		Name     string
	}{
		{"aarav", "Aarav Sharma"},
		{"priya", "Priya Patel"},
		{"rahul", "Rahul Verma"},
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)

	users := make([]models.User, 0, len(accounts))
	for _, acct := range accounts {
		var user models.User
		if err := database.DB.Where("username = ?", acct.Username).First(&user).Error; err == nil {
			users = append(users, user)
			continue
		}

		user = models.User{
			ID:       uuid.New().String(),
			Username: acct.Username,
			Name:     acct.Name,
			Email:    acct.Username + "@connestro.dev",
			Password: string(hash),
			Image:    "https://api.dicebear.com/7.x/avataaars/svg?seed=" + acct.Username,
		}
		database.DB.Create(&user)
		users = append(users, user)
	}

	return users
}

// SeedDemoConversations opens conversations between the demo users and drops
// a few messages in so the chat UI has something to render.
func SeedDemoConversations(users []models.User) {
	if len(users) < 2 {
		return
	}
	log.Println("💬 Seeding Demo Conversations...")

	conv, err := models.GetOrCreateConversation(database.DB, users[0].ID, users[1].ID)
	if err != nil {
		log.Printf("⚠️ Failed to seed conversation: %v", err)
		return
	}

	lines := []struct {
		Sender string
		Text   string
	}{
		{users[0].ID, "hey, did you see the new reels page?"},
		{users[1].ID, "yeah! the autoplay is so smooth now"},
		{users[0].ID, "want to hop on a call later?"},
	}

	var last models.Message
	for i, line := range lines {
		msg := models.Message{
			ConversationID: conv.ID,
			SenderID:       line.Sender,
			Content:        line.Text,
			CreatedAt:      time.Now().Add(time.Duration(i-len(lines)) * time.Minute),
		}
		database.DB.Create(&msg)
		last = msg
	}

	conv.LastMessageID = &last.ID
	conv.IncrementUnread(conv.OtherParticipant(last.SenderID))
	database.DB.Save(conv)
}

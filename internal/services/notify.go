package services

import (
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/realtime"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/logger"
	"gorm.io/gorm"
)

// Notifier persists a notification and pushes it to the recipient's live
// connections. It never fails the primary action: a notification that cannot
// be written or pushed is logged and dropped.
type Notifier struct {
	db      *gorm.DB
	emitter realtime.Emitter
}

func NewNotifier(db *gorm.DB, emitter realtime.Emitter) *Notifier {
	return &Notifier{db: db, emitter: emitter}
}

func (n *Notifier) Notify(userID, actorID string, typ models.NotificationType, text, link string) {
	notification := models.Notification{
		UserID:  userID,
		ActorID: actorID,
		Type:    typ,
		Text:    text,
		Link:    link,
	}

	if err := n.db.Create(&notification).Error; err != nil {
		logger.Error().Err(err).Str("userId", userID).Msg("Failed to create notification")
		return
	}

	// Load the actor so the client can render without a second fetch; skip
	// real-time if it fails, the row is already durable
	var full models.Notification
	if err := n.db.Preload("Actor").First(&full, "id = ?", notification.ID).Error; err != nil {
		full = notification
	}

	n.emitter.ToUser(userID, "notification", full)
}

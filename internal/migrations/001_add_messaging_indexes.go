package migrations

import (
	"gorm.io/gorm"
)

// Migration001AddMessagingIndexes adds composite indexes for the hot-path
// messaging queries that single-column AutoMigrate indexes don't cover:
// 1. Conversation history pagination (conversation_id, created_at)
// 2. A user's conversation list (participant_a / participant_b)
// 3. A user's unread notification badge (user_id, is_read)
//
// All indexes are idempotent (IF NOT EXISTS) for safe re-runs.
func Migration001AddMessagingIndexes() Migration {
	return Migration{
		ID:   "001_add_messaging_indexes",
		Name: "Add composite indexes for messaging hot paths",
		Up: func(db *gorm.DB) error {
			// Optimizes: WHERE conversation_id = ? AND created_at < ? ORDER BY created_at DESC
			idx1 := `
				CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
				ON messages (conversation_id, created_at)
			`
			if err := db.Exec(idx1).Error; err != nil {
				return err
			}

			// Optimizes: WHERE participant_a = ? OR participant_b = ?
			idx2 := `
				CREATE INDEX IF NOT EXISTS idx_conversations_participant_a
				ON conversations (participant_a, updated_at)
			`
			if err := db.Exec(idx2).Error; err != nil {
				return err
			}
			idx3 := `
				CREATE INDEX IF NOT EXISTS idx_conversations_participant_b
				ON conversations (participant_b, updated_at)
			`
			if err := db.Exec(idx3).Error; err != nil {
				return err
			}

			// Optimizes: WHERE user_id = ? AND is_read = false
			idx4 := `
				CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
				ON notifications (user_id, is_read)
			`
			return db.Exec(idx4).Error
		},
		Down: func(db *gorm.DB) error {
			for _, idx := range []string{
				"idx_messages_conversation_created",
				"idx_conversations_participant_a",
				"idx_conversations_participant_b",
				"idx_notifications_user_unread",
			} {
				if err := db.Exec("DROP INDEX IF EXISTS " + idx).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}

package services

import (
	"time"

	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/realtime"
	apperrors "github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/errors"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/logger"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/utils"
	"gorm.io/gorm"
)

// DeliveryService decides, on every send, whether the recipient is actively
// viewing the conversation, merely online, or offline, and applies the
// matching receipt/unread/notification effects. Receipt sets only ever grow:
// read implies delivered and neither is ever taken back.
type DeliveryService struct {
	db       *gorm.DB
	presence *realtime.PresenceRegistry
	rooms    *realtime.RoomTable
	emitter  realtime.Emitter
	notifier *Notifier

	// Bounds for the offline-delivery reconciliation sweep
	SweepLookback time.Duration
	SweepBatch    int
}

func NewDeliveryService(db *gorm.DB, presence *realtime.PresenceRegistry, rooms *realtime.RoomTable, emitter realtime.Emitter, notifier *Notifier) *DeliveryService {
	return &DeliveryService{
		db:            db,
		presence:      presence,
		rooms:         rooms,
		emitter:       emitter,
		notifier:      notifier,
		SweepLookback: 72 * time.Hour,
		SweepBatch:    200,
	}
}

func (s *DeliveryService) loadConversation(conversationID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		return nil, apperrors.NotFound("Conversation not found")
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.Forbidden("Not a participant of this conversation")
	}
	return &conv, nil
}

// SendMessage persists a message and runs the three-way recipient
// classification. The message row is created before any receipt is computed
// against it.
func (s *DeliveryService) SendMessage(senderID, conversationID, content string, attachments []models.Attachment) (*models.Message, error) {
	conv, err := s.loadConversation(conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if content == "" && len(attachments) == 0 {
		return nil, apperrors.BadRequest("Message must have text or attachments")
	}

	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		Kind:           models.MessageKindText,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, apperrors.Internal("Failed to send message")
	}

	recipient := conv.OtherParticipant(senderID)
	preview := notificationPreview(content, attachments)
	switch {
	case s.rooms.IsViewing(recipient, conversationID):
		// Actively viewing: delivered+read immediately, no unread, no alert
		msg.MarkReadBy(recipient)
		conv.ResetUnread(recipient)
		s.emitter.ToUser(senderID, "message_read", map[string]interface{}{
			"conversationId": conversationID,
			"messageIds":     []string{msg.ID},
			"readerId":       recipient,
		})

	case s.presence.IsOnline(recipient):
		// Online elsewhere: delivered, unread bump, alert
		msg.MarkDeliveredTo(recipient)
		conv.IncrementUnread(recipient)
		s.emitter.ToUser(senderID, "message_delivered", map[string]interface{}{
			"conversationId": conversationID,
			"messageIds":     []string{msg.ID},
		})
		s.notifier.Notify(recipient, senderID, models.NotificationTypeMessage,
			preview, "/messages/"+conversationID)

	default:
		// Offline: delivery deferred to the reconciliation sweep
		conv.IncrementUnread(recipient)
		s.notifier.Notify(recipient, senderID, models.NotificationTypeMessage,
			preview, "/messages/"+conversationID)
	}

	if err := s.db.Save(&msg).Error; err != nil {
		logger.Error().Err(err).Str("messageId", msg.ID).Msg("Failed to save message receipts")
	}

	conv.LastMessageID = &msg.ID
	if err := s.db.Save(conv).Error; err != nil {
		logger.Error().Err(err).Str("conversationId", conversationID).Msg("Failed to update conversation")
	}

	s.db.Preload("Sender").First(&msg, "id = ?", msg.ID)

	// Personal rooms cover every device of both parties
	payload := map[string]interface{}{"message": msg}
	s.emitter.ToUser(recipient, "receive_message", payload)
	s.emitter.ToUser(senderID, "receive_message", payload)
	s.broadcastConversationUpdated(conv)

	return &msg, nil
}

// MarkRead adds userID to the read set of every unread message from the peer,
// resets the unread counter and pushes a read receipt to the other side.
func (s *DeliveryService) MarkRead(conversationID, userID string) error {
	conv, err := s.loadConversation(conversationID, userID)
	if err != nil {
		return err
	}

	var messages []models.Message
	if err := s.db.Where("conversation_id = ? AND sender_id <> ?", conversationID, userID).
		Find(&messages).Error; err != nil {
		return apperrors.Internal("Failed to load messages")
	}

	var readIDs []string
	for i := range messages {
		if messages[i].MarkReadBy(userID) {
			if err := s.db.Save(&messages[i]).Error; err != nil {
				logger.Error().Err(err).Str("messageId", messages[i].ID).Msg("Failed to persist read receipt")
				continue
			}
			readIDs = append(readIDs, messages[i].ID)
		}
	}

	conv.ResetUnread(userID)
	if err := s.db.Save(conv).Error; err != nil {
		return apperrors.Internal("Failed to update conversation")
	}

	if len(readIDs) > 0 {
		s.emitter.ToUser(conv.OtherParticipant(userID), "message_read", map[string]interface{}{
			"conversationId": conversationID,
			"messageIds":     readIDs,
			"readerId":       userID,
		})
	}
	s.broadcastConversationUpdated(conv)
	return nil
}

// ClearConversation moves userID's visibility floor to now and zeroes their
// unread counter. The peer's view and the message rows are untouched.
func (s *DeliveryService) ClearConversation(conversationID, userID string) error {
	conv, err := s.loadConversation(conversationID, userID)
	if err != nil {
		return err
	}

	conv.SetClearedAt(userID, time.Now())
	conv.ResetUnread(userID)
	if err := s.db.Save(conv).Error; err != nil {
		return apperrors.Internal("Failed to clear conversation")
	}

	s.emitter.ToUser(userID, "conversation_updated", map[string]interface{}{
		"conversationId": conversationID,
	})
	return nil
}

// Reconcile marks messages that arrived while userID was offline as
// delivered, bounded by the lookback window and batch size, and tells the
// original senders in batches grouped by (sender, conversation). Runs on
// every fresh connection.
func (s *DeliveryService) Reconcile(userID string) {
	var conversations []models.Conversation
	if err := s.db.Where("participant_a = ? OR participant_b = ?", userID, userID).
		Find(&conversations).Error; err != nil {
		logger.Error().Err(err).Str("userId", userID).Msg("Reconcile: failed to load conversations")
		return
	}
	if len(conversations) == 0 {
		return
	}

	convIDs := make([]string, 0, len(conversations))
	for _, c := range conversations {
		convIDs = append(convIDs, c.ID)
	}

	// sender -> conversation -> delivered message ids. The batch cap counts
	// messages actually swept; already-delivered rows are paged past by
	// keyset so a backlog behind them cannot stall forever.
	delivered := make(map[string]map[string][]string)
	cursor := time.Now().Add(-s.SweepLookback)
	swept := 0
	for swept < s.SweepBatch {
		var page []models.Message
		if err := s.db.Where("conversation_id IN ? AND sender_id <> ? AND created_at > ?", convIDs, userID, cursor).
			Order("created_at asc").
			Limit(s.SweepBatch).
			Find(&page).Error; err != nil {
			logger.Error().Err(err).Str("userId", userID).Msg("Reconcile: failed to load messages")
			return
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			if swept >= s.SweepBatch {
				break
			}
			m := &page[i]
			if !m.MarkDeliveredTo(userID) {
				continue
			}
			if err := s.db.Save(m).Error; err != nil {
				logger.Error().Err(err).Str("messageId", m.ID).Msg("Reconcile: failed to persist delivery")
				continue
			}
			swept++
			byConv, ok := delivered[m.SenderID]
			if !ok {
				byConv = make(map[string][]string)
				delivered[m.SenderID] = byConv
			}
			byConv[m.ConversationID] = append(byConv[m.ConversationID], m.ID)
		}
		cursor = page[len(page)-1].CreatedAt
	}

	for senderID, byConv := range delivered {
		for convID, ids := range byConv {
			s.emitter.ToUser(senderID, "message_delivered", map[string]interface{}{
				"conversationId": convID,
				"messageIds":     ids,
			})
		}
	}
}

// notificationPreview renders the short alert text for a new message.
func notificationPreview(content string, attachments []models.Attachment) string {
	if content == "" && len(attachments) > 0 {
		return "sent you an attachment"
	}
	return utils.TruncateString(utils.StripHTML(content), 80)
}

func (s *DeliveryService) broadcastConversationUpdated(conv *models.Conversation) {
	for _, userID := range conv.Participants() {
		s.emitter.ToUser(userID, "conversation_updated", map[string]interface{}{
			"conversationId": conv.ID,
		})
	}
}

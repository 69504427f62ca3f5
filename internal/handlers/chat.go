package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/database"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/services"
	apperrors "github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/errors"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/utils"
)

// Delivery is wired from main at startup, like SocketServer.
var Delivery *services.DeliveryService

const defaultMessagePageSize = 50

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// GetConversations returns the user's conversations, most recent first
func GetConversations(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var conversations []models.Conversation
	err := database.DB.Where("participant_a = ? OR participant_b = ?", userId, userId).
		Preload("LastMessage").
		Order("updated_at desc").
		Find(&conversations).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}

	result := make([]gin.H, 0, len(conversations))
	for i := range conversations {
		conv := &conversations[i]

		var partner models.User
		database.DB.Select("id", "username", "name", "image").
			First(&partner, "id = ?", conv.OtherParticipant(userId))

		// The cleared-at floor also hides the last-message preview
		lastMsg := conv.LastMessage
		if lastMsg != nil {
			floor := conv.ClearedAtFor(userId)
			if !lastMsg.CreatedAt.After(floor) || lastMsg.IsDeletedFor(userId) {
				lastMsg = nil
			}
		}

		result = append(result, gin.H{
			"id":          conv.ID,
			"user":        partner,
			"lastMessage": lastMsg,
			"unreadCount": conv.UnreadFor(userId),
			"updatedAt":   conv.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": result})
}

// OpenConversation finds or creates the conversation with another user
func OpenConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)

	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
		return
	}
	if req.UserID == userId {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot open a conversation with yourself"})
		return
	}

	var other models.User
	if err := database.DB.Select("id").First(&other, "id = ?", req.UserID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	conv, err := models.GetOrCreateConversation(database.DB, userId, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// GetMessages returns a page of messages before an optional cursor,
// honoring the caller's cleared-at floor and local deletes
func GetMessages(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationId := c.Param("id")

	var conv models.Conversation
	if err := database.DB.First(&conv, "id = ?", conversationId).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if !conv.HasParticipant(userId) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this conversation"})
		return
	}

	limit := defaultMessagePageSize
	query := database.DB.Where("conversation_id = ?", conversationId)

	if floor := conv.ClearedAtFor(userId); !floor.IsZero() {
		query = query.Where("created_at > ?", floor)
	}

	if before := c.Query("before"); before != "" {
		var cursor models.Message
		if err := database.DB.First(&cursor, "id = ?", before).Error; err != nil || cursor.ConversationID != conversationId {
			c.JSON(http.StatusNotFound, gin.H{"error": "Cursor message not found"})
			return
		}
		query = query.Where("created_at < ?", cursor.CreatedAt)
	}

	var page []models.Message
	if err := query.Order("created_at desc").Limit(limit).Preload("Sender").Find(&page).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	// Oldest first for rendering, minus locally hidden messages
	messages := make([]models.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		if page[i].IsDeletedFor(userId) {
			continue
		}
		messages = append(messages, page[i])
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendMessage pushes a new message through the delivery engine
func SendMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationId := c.Param("id")

	var req struct {
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	// Per-user spam guard on top of the IP limiter; skipped when redis is down
	if database.Redis != nil {
		if ok, err := database.CheckRateLimit("chat:"+userId, 30, time.Minute); err == nil && !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many messages, slow down"})
			return
		}
	}

	msg, err := Delivery.SendMessage(userId, conversationId, utils.SanitizeHTML(req.Content), req.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkConversationRead marks everything from the peer as read
func MarkConversationRead(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationId := c.Param("id")

	if err := Delivery.MarkRead(conversationId, userId); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}

// ClearConversation hides history up to now for the caller only
func ClearConversation(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	conversationId := c.Param("id")

	if err := Delivery.ClearConversation(conversationId, userId); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation cleared"})
}

// EditMessage lets the sender change the text of a non-deleted message
func EditMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	messageId := c.Param("id")

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}

	var msg models.Message
	if err := database.DB.First(&msg, "id = ?", messageId).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if msg.SenderID != userId {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the sender can edit a message"})
		return
	}
	if msg.IsDeleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot edit a deleted message"})
		return
	}

	now := time.Now()
	msg.Content = utils.SanitizeHTML(req.Content)
	msg.EditedAt = &now
	if err := database.DB.Save(&msg).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to edit message"})
		return
	}

	emitToParticipants(msg.ConversationID, "message_edited", gin.H{"message": msg})
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage supports scope=me (hide locally) and scope=everyone
// (sender-only; blanks the message but keeps the row so history positions
// do not shift)
func DeleteMessage(c *gin.Context) {
	userId := c.MustGet("userId").(string)
	messageId := c.Param("id")
	scope := c.DefaultQuery("scope", "me")

	var msg models.Message
	if err := database.DB.First(&msg, "id = ?", messageId).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}

	var conv models.Conversation
	if err := database.DB.First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if !conv.HasParticipant(userId) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this conversation"})
		return
	}

	switch scope {
	case "me":
		msg.MarkDeletedFor(userId)
		if err := database.DB.Save(&msg).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
			return
		}

	case "everyone":
		if msg.SenderID != userId {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the sender can delete for everyone"})
			return
		}
		msg.Blank()
		if err := database.DB.Save(&msg).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
			return
		}
		emitToParticipants(msg.ConversationID, "message_deleted", gin.H{
			"messageId":      msg.ID,
			"conversationId": msg.ConversationID,
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be 'me' or 'everyone'"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

func emitToParticipants(conversationId, event string, data interface{}) {
	var conv models.Conversation
	if err := database.DB.First(&conv, "id = ?", conversationId).Error; err != nil {
		return
	}
	if SocketServer == nil {
		return
	}
	for _, userID := range conv.Participants() {
		SocketServer.BroadcastToRoom("/", userID, event, data)
	}
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message kinds
const (
	MessageKindText = "text"
	MessageKindCall = "call"
)

// Call media types
const (
	CallMediaAudio = "audio"
	CallMediaVideo = "video"
)

// Call outcomes recorded on the call-log message
const (
	CallStatusMissed   = "missed"
	CallStatusDeclined = "declined"
	CallStatusEnded    = "ended"
)

// Attachment kinds
const (
	AttachmentKindImage = "image"
	AttachmentKindVideo = "video"
	AttachmentKindFile  = "file"
)

type Attachment struct {
	Kind string `json:"kind"` // image, video, file
	URL  string `json:"url"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
	Name string `json:"name"`
}

// CallInfo summarizes a finished call on a kind=call message.
// StartedAt stays nil when the call was never answered.
type CallInfo struct {
	Media       string     `json:"media"`
	Status      string     `json:"status"`
	InitiatorID string     `json:"initiatorId"`
	RecipientID string     `json:"recipientId"`
	StartedAt   *time.Time `json:"startedAt"`
	EndedAt     time.Time  `json:"endedAt"`
	DurationSec int        `json:"durationSec"`
}

type Message struct {
	ID             string `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string `gorm:"index;type:text;not null" json:"conversationId"`
	SenderID       string `gorm:"index;type:text;not null" json:"senderId"`

	Content     string       `gorm:"type:text" json:"content"`
	Attachments []Attachment `gorm:"serializer:json" json:"attachments,omitempty"`

	Kind string    `gorm:"type:text;default:'text';not null" json:"kind"`
	Call *CallInfo `gorm:"serializer:json" json:"call,omitempty"`

	// Receipt sets; add-only, see MarkDeliveredTo / MarkReadBy
	DeliveredTo []string `gorm:"serializer:json" json:"deliveredTo"`
	ReadBy      []string `gorm:"serializer:json" json:"readBy"`

	// Users who hid this message locally (delete-for-me)
	DeletedFor []string `gorm:"serializer:json" json:"-"`

	// Delete-for-everyone blanks content but keeps the row so history
	// positions are stable
	IsDeleted bool       `gorm:"default:false" json:"isDeleted"`
	EditedAt  *time.Time `json:"editedAt"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`

	Sender User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Kind == "" {
		m.Kind = MessageKindText
	}
	return
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (m *Message) IsDeliveredTo(userID string) bool { return containsID(m.DeliveredTo, userID) }
func (m *Message) IsReadBy(userID string) bool      { return containsID(m.ReadBy, userID) }
func (m *Message) IsDeletedFor(userID string) bool  { return containsID(m.DeletedFor, userID) }

// MarkDeliveredTo adds userID to the delivered set. Returns false when the
// user was already present, so receipts stay monotonic.
func (m *Message) MarkDeliveredTo(userID string) bool {
	if containsID(m.DeliveredTo, userID) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, userID)
	return true
}

// MarkReadBy adds userID to the read set; a read implies delivery.
func (m *Message) MarkReadBy(userID string) bool {
	m.MarkDeliveredTo(userID)
	if containsID(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

func (m *Message) MarkDeletedFor(userID string) bool {
	if containsID(m.DeletedFor, userID) {
		return false
	}
	m.DeletedFor = append(m.DeletedFor, userID)
	return true
}

// Blank clears user-visible content for delete-for-everyone.
func (m *Message) Blank() {
	m.Content = ""
	m.Attachments = nil
	m.IsDeleted = true
}

package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Conversation is a two-party chat thread. Identity is the sorted participant
// pair, so FindByParticipants(a, b) and FindByParticipants(b, a) hit the same
// row regardless of who opened it first.
type Conversation struct {
	ID      string `gorm:"primaryKey;type:text" json:"id"`
	PairKey string `gorm:"uniqueIndex;type:text;not null" json:"-"`

	ParticipantA string `gorm:"index;type:text;not null" json:"participantA"`
	ParticipantB string `gorm:"index;type:text;not null" json:"participantB"`

	LastMessageID *string  `gorm:"type:text" json:"lastMessageId"`
	LastMessage   *Message `gorm:"foreignKey:LastMessageID" json:"lastMessage,omitempty"`

	// Per-participant badge counters and local history floors.
	// Stored as JSON so the same model works on postgres and the sqlite test DB.
	UnreadCounts map[string]int64     `gorm:"serializer:json" json:"unreadCounts"`
	ClearedAt    map[string]time.Time `gorm:"serializer:json" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.PairKey == "" {
		c.PairKey = PairKey(c.ParticipantA, c.ParticipantB)
	}
	if c.UnreadCounts == nil {
		c.UnreadCounts = map[string]int64{}
	}
	if c.ClearedAt == nil {
		c.ClearedAt = map[string]time.Time{}
	}
	return
}

// PairKey derives the order-independent identity key for a participant pair.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the peer of userID in this conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

func (c *Conversation) UnreadFor(userID string) int64 {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[userID]
}

func (c *Conversation) IncrementUnread(userID string) {
	if c.UnreadCounts == nil {
		c.UnreadCounts = map[string]int64{}
	}
	c.UnreadCounts[userID]++
}

func (c *Conversation) ResetUnread(userID string) {
	if c.UnreadCounts == nil {
		c.UnreadCounts = map[string]int64{}
	}
	c.UnreadCounts[userID] = 0
}

// ClearedAtFor returns the visibility floor for userID; zero time means the
// user never cleared this conversation.
func (c *Conversation) ClearedAtFor(userID string) time.Time {
	if c.ClearedAt == nil {
		return time.Time{}
	}
	return c.ClearedAt[userID]
}

func (c *Conversation) SetClearedAt(userID string, at time.Time) {
	if c.ClearedAt == nil {
		c.ClearedAt = map[string]time.Time{}
	}
	c.ClearedAt[userID] = at
}

// GetOrCreateConversation is the idempotent upsert on the pair key. Concurrent
// opens for the same pair race on the unique index; the loser falls back to a
// lookup so both callers converge on one row.
func GetOrCreateConversation(db *gorm.DB, userA, userB string) (*Conversation, error) {
	key := PairKey(userA, userB)

	var conv Conversation
	if err := db.Where("pair_key = ?", key).First(&conv).Error; err == nil {
		return &conv, nil
	}

	conv = Conversation{
		PairKey:      key,
		ParticipantA: userA,
		ParticipantB: userB,
		UnreadCounts: map[string]int64{},
		ClearedAt:    map[string]time.Time{},
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(&conv).Error
	if err != nil {
		return nil, err
	}

	// DoNothing on conflict leaves conv without the winning row's state
	if err := db.Where("pair_key = ?", key).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

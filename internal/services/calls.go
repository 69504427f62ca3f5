package services

import (
	"sync"
	"time"

	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/realtime"
	apperrors "github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/errors"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/logger"
	"gorm.io/gorm"
)

// callSession is the ephemeral per-conversation call state. It only exists
// between invite and a terminal transition (answer-decline, end, ring
// timeout, disconnect).
type callSession struct {
	CallerID       string
	CalleeID       string
	ConversationID string
	Media          string
	Accepted       bool
	StartedAt      time.Time

	timer      *time.Timer
	generation uint64
}

// CallService owns the in-memory call-session table, at most one session per
// conversation. Every terminal transition writes exactly one kind=call
// message into the conversation's history. Stale answer/end for a
// conversation without a session is a silent no-op: races between disconnect
// cleanup and explicit end are expected.
type CallService struct {
	mu       sync.Mutex
	sessions map[string]*callSession
	nextGen  uint64

	db       *gorm.DB
	emitter  realtime.Emitter
	notifier *Notifier

	RingTimeout time.Duration
}

func NewCallService(db *gorm.DB, emitter realtime.Emitter, notifier *Notifier, ringTimeout time.Duration) *CallService {
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	return &CallService{
		sessions:    make(map[string]*callSession),
		db:          db,
		emitter:     emitter,
		notifier:    notifier,
		RingTimeout: ringTimeout,
	}
}

// Invite starts ringing the other participant. A new invite on a conversation
// with a live session supersedes it: the old ring timer is cancelled and the
// entry overwritten in one critical section, so two racing invites can never
// both hold an armed timer.
func (s *CallService) Invite(callerID, conversationID, media string) error {
	if media != models.CallMediaAudio && media != models.CallMediaVideo {
		return apperrors.BadRequest("Invalid call media type")
	}

	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		return apperrors.NotFound("Conversation not found")
	}
	if !conv.HasParticipant(callerID) {
		return apperrors.Forbidden("Not a participant of this conversation")
	}
	calleeID := conv.OtherParticipant(callerID)

	s.mu.Lock()
	if existing, ok := s.sessions[conversationID]; ok {
		existing.timer.Stop()
	}
	s.nextGen++
	sess := &callSession{
		CallerID:       callerID,
		CalleeID:       calleeID,
		ConversationID: conversationID,
		Media:          media,
		generation:     s.nextGen,
	}
	gen := sess.generation
	sess.timer = time.AfterFunc(s.RingTimeout, func() {
		s.onRingTimeout(conversationID, gen)
	})
	s.sessions[conversationID] = sess
	s.mu.Unlock()

	s.emitter.ToUser(calleeID, "call_invite", map[string]interface{}{
		"conversationId": conversationID,
		"from":           callerID,
		"media":          media,
	})
	return nil
}

// Answer handles accept and decline, both valid only while ringing and only
// from the callee. Anyone else, the caller included, cannot answer.
func (s *CallService) Answer(userID, conversationID string, accept bool) {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok || sess.Accepted || userID != sess.CalleeID {
		s.mu.Unlock()
		return
	}
	sess.timer.Stop()

	if accept {
		sess.Accepted = true
		sess.StartedAt = time.Now()
		callerID := sess.CallerID
		s.mu.Unlock()

		s.emitter.ToUser(callerID, "call_answer", map[string]interface{}{
			"conversationId": conversationID,
			"accept":         true,
		})
		return
	}

	delete(s.sessions, conversationID)
	callerID, calleeID, media := sess.CallerID, sess.CalleeID, sess.Media
	s.mu.Unlock()

	s.writeCallLog(conversationID, models.CallInfo{
		Media:       media,
		Status:      models.CallStatusDeclined,
		InitiatorID: callerID,
		RecipientID: calleeID,
		EndedAt:     time.Now(),
	})
	s.emitter.ToUser(callerID, "call_answer", map[string]interface{}{
		"conversationId": conversationID,
		"accept":         false,
	})
	s.emitEndToBoth(conversationID, callerID, calleeID)
	s.notifier.Notify(callerID, calleeID, models.NotificationTypeDeclinedCall,
		"declined your call", "/messages/"+conversationID)
}

// End terminates an accepted or still-ringing call. Missing session or a
// caller who is not part of the session is a no-op.
func (s *CallService) End(userID, conversationID string) {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok || (userID != sess.CallerID && userID != sess.CalleeID) {
		s.mu.Unlock()
		return
	}
	sess.timer.Stop()
	delete(s.sessions, conversationID)
	s.mu.Unlock()

	now := time.Now()
	info := models.CallInfo{
		Media:       sess.Media,
		InitiatorID: sess.CallerID,
		RecipientID: sess.CalleeID,
		EndedAt:     now,
	}
	if sess.Accepted {
		started := sess.StartedAt
		info.Status = models.CallStatusEnded
		info.StartedAt = &started
		dur := int(now.Sub(started).Seconds())
		if dur < 0 {
			dur = 0
		}
		info.DurationSec = dur
	} else {
		info.Status = models.CallStatusMissed
	}
	s.writeCallLog(conversationID, info)

	other := sess.CalleeID
	if userID == sess.CalleeID {
		other = sess.CallerID
	}
	s.emitter.ToUser(other, "call_end", map[string]interface{}{
		"conversationId": conversationID,
	})
}

// HandleDisconnect tears down any session the user was part of, as if they
// had ended the call.
func (s *CallService) HandleDisconnect(userID string) {
	s.mu.Lock()
	var convIDs []string
	for convID, sess := range s.sessions {
		if sess.CallerID == userID || sess.CalleeID == userID {
			convIDs = append(convIDs, convID)
		}
	}
	s.mu.Unlock()

	for _, convID := range convIDs {
		s.End(userID, convID)
	}
}

// Signal relays an opaque payload to the other participant's connections.
// Not part of the state machine: no session is required.
func (s *CallService) Signal(fromUserID, conversationID, toUserID string, payload interface{}) error {
	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		return apperrors.NotFound("Conversation not found")
	}
	if !conv.HasParticipant(fromUserID) || !conv.HasParticipant(toUserID) {
		return apperrors.Forbidden("Not a participant of this conversation")
	}

	s.emitter.ToUser(toUserID, "call_signal", map[string]interface{}{
		"conversationId": conversationID,
		"from":           fromUserID,
		"data":           payload,
	})
	return nil
}

// ActiveSession reports whether a call session exists for the conversation.
func (s *CallService) ActiveSession(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[conversationID]
	return ok
}

// onRingTimeout fires when the callee never answered. The generation check
// makes a stale timer (cancelled session, superseded invite) a no-op.
func (s *CallService) onRingTimeout(conversationID string, generation uint64) {
	s.mu.Lock()
	sess, ok := s.sessions[conversationID]
	if !ok || sess.generation != generation || sess.Accepted {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, conversationID)
	callerID, calleeID, media := sess.CallerID, sess.CalleeID, sess.Media
	s.mu.Unlock()

	s.writeCallLog(conversationID, models.CallInfo{
		Media:       media,
		Status:      models.CallStatusMissed,
		InitiatorID: callerID,
		RecipientID: calleeID,
		EndedAt:     time.Now(),
	})
	s.emitEndToBoth(conversationID, callerID, calleeID)

	// The callee is told they missed the call; the caller already watched
	// it ring out
	s.notifier.Notify(calleeID, callerID, models.NotificationTypeMissedCall,
		"called you", "/messages/"+conversationID)
}

func (s *CallService) emitEndToBoth(conversationID, callerID, calleeID string) {
	payload := map[string]interface{}{"conversationId": conversationID}
	s.emitter.ToUser(callerID, "call_end", payload)
	s.emitter.ToUser(calleeID, "call_end", payload)
}

// writeCallLog inserts the kind=call message that records the call's outcome
// in ordinary history and tells both participants to refresh.
func (s *CallService) writeCallLog(conversationID string, info models.CallInfo) {
	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		logger.Error().Err(err).Str("conversationId", conversationID).Msg("Call log: conversation lookup failed")
		return
	}

	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       info.InitiatorID,
		Kind:           models.MessageKindCall,
		Call:           &info,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		logger.Error().Err(err).Str("conversationId", conversationID).Msg("Call log: failed to create message")
		return
	}

	conv.LastMessageID = &msg.ID
	if err := s.db.Save(&conv).Error; err != nil {
		logger.Error().Err(err).Str("conversationId", conversationID).Msg("Call log: failed to update conversation")
	}

	payload := map[string]interface{}{"message": msg}
	for _, userID := range conv.Participants() {
		s.emitter.ToUser(userID, "receive_message", payload)
		s.emitter.ToUser(userID, "conversation_updated", map[string]interface{}{
			"conversationId": conversationID,
		})
	}
}

package services

import (
	"testing"
	"time"

	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	apperrors "github.com/saurav-kumar-sah-dev/Connestro-sub000/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

const testRingTimeout = 60 * time.Millisecond

type callFixture struct {
	db      *gorm.DB
	emitter *fakeEmitter
	svc     *CallService
	conv    *models.Conversation
}

func newCallFixture(t *testing.T) *callFixture {
	db := newTestDB(t)
	emitter := &fakeEmitter{}
	notifier := NewNotifier(db, emitter)
	return &callFixture{
		db:      db,
		emitter: emitter,
		svc:     NewCallService(db, emitter, notifier, testRingTimeout),
		conv:    seedConversation(t, db, "alice", "bob"),
	}
}

func (f *callFixture) callLogs(t *testing.T) []models.Message {
	var msgs []models.Message
	if err := f.db.Where("conversation_id = ? AND kind = ?", f.conv.ID, models.MessageKindCall).
		Order("created_at asc").Find(&msgs).Error; err != nil {
		t.Fatalf("load call logs: %v", err)
	}
	return msgs
}

func waitForRingTimeout() {
	time.Sleep(testRingTimeout + 100*time.Millisecond)
}

func TestCall_RingTimeoutWritesMissedLog(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaVideo))
	assert.True(t, f.svc.ActiveSession(f.conv.ID))
	assert.Equal(t, 1, f.emitter.count("bob", "call_invite"))

	waitForRingTimeout()

	assert.False(t, f.svc.ActiveSession(f.conv.ID))

	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusMissed, logs[0].Call.Status)
	assert.Equal(t, models.CallMediaVideo, logs[0].Call.Media)
	assert.Nil(t, logs[0].Call.StartedAt)

	// Both sides hear the call end; the callee is told they missed it
	assert.Equal(t, 1, f.emitter.count("alice", "call_end"))
	assert.Equal(t, 1, f.emitter.count("bob", "call_end"))

	var n models.Notification
	assert.NoError(t, f.db.First(&n, "user_id = ?", "bob").Error)
	assert.Equal(t, models.NotificationTypeMissedCall, n.Type)
	assert.Equal(t, "alice", n.ActorID)
}

func TestCall_Declined(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaAudio))
	f.svc.Answer("bob", f.conv.ID, false)

	assert.False(t, f.svc.ActiveSession(f.conv.ID))
	assert.Equal(t, 1, f.emitter.count("alice", "call_answer"))

	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusDeclined, logs[0].Call.Status)
	assert.Nil(t, logs[0].Call.StartedAt)

	// Decline notifies the caller, with the callee as actor
	var n models.Notification
	assert.NoError(t, f.db.First(&n, "user_id = ?", "alice").Error)
	assert.Equal(t, models.NotificationTypeDeclinedCall, n.Type)
	assert.Equal(t, "bob", n.ActorID)

	// The cancelled ring timer must not add a second log
	waitForRingTimeout()
	assert.Len(t, f.callLogs(t), 1)
}

func TestCall_AcceptedThenEnded(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaVideo))
	f.svc.Answer("bob", f.conv.ID, true)

	assert.True(t, f.svc.ActiveSession(f.conv.ID))
	assert.Equal(t, 1, f.emitter.count("alice", "call_answer"))

	// Accepting cancels the ring timer
	waitForRingTimeout()
	assert.True(t, f.svc.ActiveSession(f.conv.ID))
	assert.Empty(t, f.callLogs(t))

	f.svc.End("alice", f.conv.ID)
	assert.False(t, f.svc.ActiveSession(f.conv.ID))

	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusEnded, logs[0].Call.Status)
	assert.NotNil(t, logs[0].Call.StartedAt)
	assert.GreaterOrEqual(t, logs[0].Call.DurationSec, 0)

	// Hang-up is pushed to the other party
	assert.Equal(t, 1, f.emitter.count("bob", "call_end"))
}

func TestCall_EndWhileRingingIsMissed(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaAudio))
	f.svc.End("alice", f.conv.ID)

	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusMissed, logs[0].Call.Status)
	assert.Nil(t, logs[0].Call.StartedAt)
}

func TestCall_ReinviteSupersedesSession(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaAudio))
	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaVideo))

	// Only the second invite's timer is live, so exactly one missed log
	waitForRingTimeout()
	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallMediaVideo, logs[0].Call.Media)
}

func TestCall_StaleActionsAreNoOps(t *testing.T) {
	f := newCallFixture(t)

	f.svc.Answer("bob", f.conv.ID, true)
	f.svc.Answer("bob", f.conv.ID, false)
	f.svc.End("alice", f.conv.ID)

	assert.Empty(t, f.callLogs(t))
	assert.Empty(t, f.emitter.events)
}

func TestCall_OutsidersCannotActOnSession(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaAudio))
	f.emitter.reset()

	// A third party can neither accept, decline, nor tear down the call
	f.svc.Answer("carol", f.conv.ID, true)
	f.svc.Answer("carol", f.conv.ID, false)
	f.svc.End("carol", f.conv.ID)

	assert.True(t, f.svc.ActiveSession(f.conv.ID))
	assert.Empty(t, f.callLogs(t))
	assert.Empty(t, f.emitter.events)

	// The caller cannot accept their own invite
	f.svc.Answer("alice", f.conv.ID, true)
	assert.Equal(t, 0, f.emitter.count("alice", "call_answer"))
	assert.True(t, f.svc.ActiveSession(f.conv.ID))

	// The callee still can, and either participant may end
	f.svc.Answer("bob", f.conv.ID, true)
	assert.Equal(t, 1, f.emitter.count("alice", "call_answer"))

	f.svc.End("alice", f.conv.ID)
	assert.False(t, f.svc.ActiveSession(f.conv.ID))
	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusEnded, logs[0].Call.Status)
}

func TestCall_DisconnectDuringRinging(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaVideo))
	f.svc.HandleDisconnect("bob")

	assert.False(t, f.svc.ActiveSession(f.conv.ID))
	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusMissed, logs[0].Call.Status)

	// The stale ring timer must stay silent
	waitForRingTimeout()
	assert.Len(t, f.callLogs(t), 1)
}

func TestCall_DisconnectDuringAcceptedCall(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Invite("alice", f.conv.ID, models.CallMediaVideo))
	f.svc.Answer("bob", f.conv.ID, true)
	f.svc.HandleDisconnect("alice")

	logs := f.callLogs(t)
	assert.Len(t, logs, 1)
	assert.Equal(t, models.CallStatusEnded, logs[0].Call.Status)
	// The remaining party is the one notified
	assert.Equal(t, 1, f.emitter.count("bob", "call_end"))
}

func TestCall_InviteValidation(t *testing.T) {
	f := newCallFixture(t)

	var appErr *apperrors.AppError

	err := f.svc.Invite("mallory", f.conv.ID, models.CallMediaVideo)
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 403, appErr.Code)

	err = f.svc.Invite("alice", "missing", models.CallMediaVideo)
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 404, appErr.Code)

	err = f.svc.Invite("alice", f.conv.ID, "hologram")
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.Code)
}

func TestCall_SignalRelay(t *testing.T) {
	f := newCallFixture(t)

	assert.NoError(t, f.svc.Signal("alice", f.conv.ID, "bob", map[string]interface{}{"sdp": "offer"}))
	assert.Equal(t, 1, f.emitter.count("bob", "call_signal"))

	var appErr *apperrors.AppError
	err := f.svc.Signal("alice", f.conv.ID, "mallory", nil)
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 403, appErr.Code)
}

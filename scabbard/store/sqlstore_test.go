package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splinter/scabbard/twopc"
	"splinter/storage"
	"splinter/utils"
	"splinter/wire"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, postgres, err := storage.Open("memory")
	require.NoError(t, err)
	s, err := NewSQLStore(db, postgres)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const serviceKey = "QAZED-12345::svc-a"

func TestContextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	yes := true
	alarm := time.Now().Add(30 * time.Second).Truncate(time.Nanosecond)
	ctx := twopc.NewCoordinatorContext(1, "svc-a", []string{"svc-b", "svc-c"}, nil)
	ctx.State = twopc.WaitingForVoteResponses
	ctx.SelfVote = &yes
	ctx.Value = []byte("batch")
	ctx.Alarm = &alarm
	ctx.Participants[0].Vote = &yes

	require.NoError(t, s.AddContext(serviceKey, ctx))

	fetched, err := s.FetchContext(serviceKey, 1)
	require.NoError(t, err)
	assert.Equal(t, twopc.RoleCoordinator, fetched.Role)
	assert.Equal(t, twopc.WaitingForVoteResponses, fetched.State)
	assert.Equal(t, []byte("batch"), fetched.Value)
	require.NotNil(t, fetched.SelfVote)
	assert.True(t, *fetched.SelfVote)
	require.Len(t, fetched.Participants, 2)
	assert.Equal(t, "svc-b", fetched.Participants[0].ProcessID)
	require.NotNil(t, fetched.Participants[0].Vote)
	assert.Nil(t, fetched.Participants[1].Vote)
	require.NotNil(t, fetched.Alarm)
	assert.Equal(t, alarm.UnixNano(), fetched.Alarm.UnixNano())
}

func TestSingleContextPerEpoch(t *testing.T) {
	s := newTestStore(t)
	coordinator := twopc.NewCoordinatorContext(1, "svc-a", []string{"svc-b"}, nil)
	require.NoError(t, s.AddContext(serviceKey, coordinator))

	// a participant context for the same (service, epoch) must be refused.
	participant := twopc.NewParticipantContext(1, "svc-a", []string{"svc-b"}, nil)
	err := s.AddContext(serviceKey, participant)
	assert.True(t, utils.IsConstraintViolation(err))

	// and the same role again as well.
	err = s.AddContext(serviceKey, coordinator)
	assert.True(t, utils.IsConstraintViolation(err))
}

func TestUpdateContextOverwritesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := twopc.NewParticipantContext(2, "svc-a", []string{"svc-b", "svc-c"}, nil)
	require.NoError(t, s.AddContext(serviceKey, ctx))

	ctx.State = twopc.Commit
	epoch := uint64(2)
	ctx.LastCommitEpoch = &epoch
	require.NoError(t, s.UpdateContext(serviceKey, ctx))

	fetched, err := s.FetchContext(serviceKey, 2)
	require.NoError(t, err)
	assert.Equal(t, twopc.Commit, fetched.State)
	require.NotNil(t, fetched.LastCommitEpoch)
	assert.Equal(t, uint64(2), *fetched.LastCommitEpoch)
	assert.Len(t, fetched.Participants, 2)
}

func TestLatestContext(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddContext(serviceKey, twopc.NewCoordinatorContext(1, "svc-a", nil, nil)))
	require.NoError(t, s.AddContext(serviceKey, twopc.NewCoordinatorContext(2, "svc-a", nil, nil)))

	latest, err := s.LatestContext(serviceKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Epoch)

	_, err = s.LatestContext("unknown")
	assert.True(t, utils.IsNotFound(err))
}

func TestEventsListedInInsertionOrderExcludingExecuted(t *testing.T) {
	s := newTestStore(t)

	first, err := s.AddEvent(serviceKey, 1, twopc.Start{Value: []byte("v1")})
	require.NoError(t, err)
	second, err := s.AddEvent(serviceKey, 1, twopc.Vote{Decision: true})
	require.NoError(t, err)
	third, err := s.AddEvent(serviceKey, 1, twopc.Deliver{
		From: "svc-b",
		Message: wire.TwoPhaseCommitMessage{
			MessageType: wire.TwoPCVoteResponse, Epoch: 1, Response: true,
		},
	})
	require.NoError(t, err)

	events, err := s.ListPendingEvents(serviceKey, 1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, first, events[0].ID)
	assert.Equal(t, second, events[1].ID)
	assert.Equal(t, third, events[2].ID)

	start, ok := events[0].Event.(twopc.Start)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), start.Value)

	deliver, ok := events[2].Event.(twopc.Deliver)
	require.True(t, ok)
	assert.Equal(t, "svc-b", deliver.From)
	assert.True(t, deliver.Message.Response)

	require.NoError(t, s.MarkEventExecuted(first, time.Now()))
	events, err = s.ListPendingEvents(serviceKey, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second, events[0].ID)
}

func TestActionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := twopc.NewCoordinatorContext(1, "svc-a", []string{"svc-b"}, nil)
	ctx.State = twopc.Voting

	updateID, err := s.AddAction(serviceKey, 1, twopc.Update{Context: ctx})
	require.NoError(t, err)
	sendID, err := s.AddAction(serviceKey, 1, twopc.SendMessage{
		To: "svc-b",
		Message: wire.TwoPhaseCommitMessage{
			MessageType: wire.TwoPCVoteRequest, Epoch: 1, Value: []byte("v"),
		},
	})
	require.NoError(t, err)
	_, err = s.AddAction(serviceKey, 1, twopc.Notify{
		Notification: twopc.ParticipantRequestForVote, Value: []byte("v"),
	})
	require.NoError(t, err)

	actions, err := s.ListPendingActions(serviceKey, 1)
	require.NoError(t, err)
	require.Len(t, actions, 3)

	update, ok := actions[0].Action.(twopc.Update)
	require.True(t, ok)
	assert.Equal(t, twopc.Voting, update.Context.State)
	assert.Equal(t, "svc-b", update.Context.Participants[0].ProcessID)

	send, ok := actions[1].Action.(twopc.SendMessage)
	require.True(t, ok)
	assert.Equal(t, "svc-b", send.To)
	assert.Equal(t, wire.TwoPCVoteRequest, send.Message.MessageType)

	require.NoError(t, s.MarkActionExecuted(updateID, time.Now()))
	require.NoError(t, s.MarkActionExecuted(sendID, time.Now()))
	actions, err = s.ListPendingActions(serviceKey, 1)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	_, ok = actions[0].Action.(twopc.Notify)
	assert.True(t, ok)
}

func TestSupervisorNotifications(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddSupervisorNotification(SupervisorNotification{
		ServiceID: serviceKey,
		Epoch:     1,
		Type:      SupervisorCommit,
		Value:     []byte("v"),
	}))
}

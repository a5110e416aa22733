package twopc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splinter/wire"
)

func updatesOf(actions []Action) []Update {
	var out []Update
	for _, a := range actions {
		if u, ok := a.(Update); ok {
			out = append(out, u)
		}
	}
	return out
}

func sendsOf(actions []Action) []SendMessage {
	var out []SendMessage
	for _, a := range actions {
		if s, ok := a.(SendMessage); ok {
			out = append(out, s)
		}
	}
	return out
}

func notifiesOf(actions []Action) []Notify {
	var out []Notify
	for _, a := range actions {
		if n, ok := a.(Notify); ok {
			out = append(out, n)
		}
	}
	return out
}

// deliver a full happy-path round across one coordinator and two
// participants wired together in memory.
func TestTwoPhaseCommitHappyPath(t *testing.T) {
	algo := NewAlgorithm()
	value := []byte("batch")

	coordinator := NewCoordinatorContext(1, "svc-a", []string{"svc-b", "svc-c"}, nil)
	pb := NewParticipantContext(1, "svc-a", []string{"svc-b", "svc-c"}, nil)
	pc := NewParticipantContext(1, "svc-a", []string{"svc-b", "svc-c"}, nil)

	// Start: vote requests go out, the coordinator enters Voting.
	actions, err := algo.Event(coordinator, Start{Value: value})
	require.NoError(t, err)
	sends := sendsOf(actions)
	require.Len(t, sends, 2)
	for _, send := range sends {
		assert.Equal(t, wire.TwoPCVoteRequest, send.Message.MessageType)
		assert.Equal(t, uint64(1), send.Message.Epoch)
		assert.Equal(t, value, send.Message.Value)
	}
	coordinator = updatesOf(actions)[0].Context
	assert.Equal(t, Voting, coordinator.State)
	require.NotNil(t, coordinator.Alarm)

	// participants receive the request and are asked to vote.
	deliverRequest := func(ctx Context) Context {
		actions, err := algo.Event(ctx, Deliver{From: "svc-a", Message: sends[0].Message})
		require.NoError(t, err)
		notifies := notifiesOf(actions)
		require.Len(t, notifies, 1)
		assert.Equal(t, ParticipantRequestForVote, notifies[0].Notification)
		assert.Equal(t, value, notifies[0].Value)
		return updatesOf(actions)[0].Context
	}
	pb = deliverRequest(pb)
	pc = deliverRequest(pc)
	assert.Equal(t, Voting, pb.State)

	// local votes: responses travel to the coordinator.
	voteYes := func(ctx Context) (Context, wire.TwoPhaseCommitMessage) {
		actions, err := algo.Event(ctx, Vote{Decision: true})
		require.NoError(t, err)
		sends := sendsOf(actions)
		require.Len(t, sends, 1)
		assert.Equal(t, wire.TwoPCVoteResponse, sends[0].Message.MessageType)
		assert.True(t, sends[0].Message.Response)
		return updatesOf(actions)[0].Context, sends[0].Message
	}
	var respB, respC wire.TwoPhaseCommitMessage
	pb, respB = voteYes(pb)
	pc, respC = voteYes(pc)
	assert.Equal(t, Voted, pb.State)

	// coordinator self-vote.
	actions, err = algo.Event(coordinator, Vote{Decision: true})
	require.NoError(t, err)
	coordinator = updatesOf(actions)[0].Context
	assert.Equal(t, WaitingForVoteResponses, coordinator.State)

	// first response: still waiting.
	actions, err = algo.Event(coordinator, Deliver{From: "svc-b", Message: respB})
	require.NoError(t, err)
	coordinator = updatesOf(actions)[0].Context
	assert.Empty(t, sendsOf(actions))

	// second response: unanimous, the commit goes out.
	actions, err = algo.Event(coordinator, Deliver{From: "svc-c", Message: respC})
	require.NoError(t, err)
	commits := sendsOf(actions)
	require.Len(t, commits, 2)
	for _, send := range commits {
		assert.Equal(t, wire.TwoPCCommit, send.Message.MessageType)
	}
	notifies := notifiesOf(actions)
	require.Len(t, notifies, 1)
	assert.Equal(t, NotifyCommit, notifies[0].Notification)

	coordinator = updatesOf(actions)[0].Context
	assert.Equal(t, Commit, coordinator.State)
	require.NotNil(t, coordinator.LastCommitEpoch)
	assert.Equal(t, uint64(1), *coordinator.LastCommitEpoch)
	assert.Nil(t, coordinator.Alarm)

	// participants land in Commit with the epoch recorded.
	commitAt := func(ctx Context) Context {
		actions, err := algo.Event(ctx, Deliver{From: "svc-a", Message: commits[0].Message})
		require.NoError(t, err)
		notifies := notifiesOf(actions)
		require.Len(t, notifies, 1)
		assert.Equal(t, NotifyCommit, notifies[0].Notification)
		return updatesOf(actions)[0].Context
	}
	pb = commitAt(pb)
	pc = commitAt(pc)
	assert.Equal(t, Commit, pb.State)
	require.NotNil(t, pb.LastCommitEpoch)
	assert.Equal(t, uint64(1), *pb.LastCommitEpoch)
	assert.Equal(t, uint64(1), *pc.LastCommitEpoch)
}

func TestCoordinatorAlarmAbortsRound(t *testing.T) {
	algo := NewAlgorithm()
	ctx := NewCoordinatorContext(1, "svc-a", []string{"svc-b"}, nil)

	actions, err := algo.Event(ctx, Start{Value: []byte("v")})
	require.NoError(t, err)
	ctx = updatesOf(actions)[0].Context

	actions, err = algo.Event(ctx, Alarm{})
	require.NoError(t, err)
	sends := sendsOf(actions)
	require.Len(t, sends, 1)
	assert.Equal(t, wire.TwoPCAbort, sends[0].Message.MessageType)
	notifies := notifiesOf(actions)
	require.Len(t, notifies, 1)
	assert.Equal(t, NotifyAbort, notifies[0].Notification)

	ctx = updatesOf(actions)[0].Context
	assert.Equal(t, Abort, ctx.State)
	assert.Nil(t, ctx.LastCommitEpoch)
}

func TestNegativeVoteAborts(t *testing.T) {
	algo := NewAlgorithm()
	ctx := NewCoordinatorContext(1, "svc-a", []string{"svc-b"}, nil)

	actions, err := algo.Event(ctx, Start{Value: []byte("v")})
	require.NoError(t, err)
	ctx = updatesOf(actions)[0].Context

	actions, err = algo.Event(ctx, Deliver{From: "svc-b", Message: wire.TwoPhaseCommitMessage{
		MessageType: wire.TwoPCVoteResponse, Epoch: 1, Response: false,
	}})
	require.NoError(t, err)
	sends := sendsOf(actions)
	require.Len(t, sends, 1)
	assert.Equal(t, wire.TwoPCAbort, sends[0].Message.MessageType)
	assert.Equal(t, Abort, updatesOf(actions)[0].Context.State)
}

func TestStaleVoteRequestIgnored(t *testing.T) {
	algo := NewAlgorithm()
	last := uint64(3)
	ctx := NewParticipantContext(4, "svc-a", []string{"svc-b"}, &last)

	actions, err := algo.Event(ctx, Deliver{From: "svc-a", Message: wire.TwoPhaseCommitMessage{
		MessageType: wire.TwoPCVoteRequest, Epoch: 2, Value: []byte("old"),
	}})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestParticipantAlarmChasesDecision(t *testing.T) {
	algo := NewAlgorithm()
	ctx := NewParticipantContext(1, "svc-a", []string{"svc-b"}, nil)

	actions, err := algo.Event(ctx, Deliver{From: "svc-a", Message: wire.TwoPhaseCommitMessage{
		MessageType: wire.TwoPCVoteRequest, Epoch: 1, Value: []byte("v"),
	}})
	require.NoError(t, err)
	ctx = updatesOf(actions)[0].Context

	actions, err = algo.Event(ctx, Vote{Decision: true})
	require.NoError(t, err)
	ctx = updatesOf(actions)[0].Context
	assert.Equal(t, Voted, ctx.State)

	actions, err = algo.Event(ctx, Alarm{})
	require.NoError(t, err)
	sends := sendsOf(actions)
	require.Len(t, sends, 1)
	assert.Equal(t, wire.TwoPCDecisionRequest, sends[0].Message.MessageType)
	ctx = updatesOf(actions)[0].Context
	require.NotNil(t, ctx.Alarm)

	// the coordinator replays its decision for the chased epoch.
	coordLast := uint64(1)
	coordinator := NewCoordinatorContext(2, "svc-a", []string{"svc-b"}, &coordLast)
	actions, err = algo.Event(coordinator, Deliver{From: "svc-b", Message: sends[0].Message})
	require.NoError(t, err)
	replay := sendsOf(actions)
	require.Len(t, replay, 1)
	assert.Equal(t, wire.TwoPCCommit, replay[0].Message.MessageType)
	assert.Equal(t, uint64(1), replay[0].Message.Epoch)
}

func TestInvalidEventReported(t *testing.T) {
	algo := NewAlgorithm()
	ctx := NewCoordinatorContext(1, "svc-a", []string{"svc-b"}, nil)
	_, err := algo.Event(ctx, Vote{Decision: true})
	require.Error(t, err)
}

package twopc

import (
	"splinter/wire"
)

func (a *Algorithm) coordinatorEvent(ctx Context, event Event) ([]Action, error) {
	switch ev := event.(type) {
	case Start:
		if ctx.State != WaitingForStart {
			return nil, invalidEvent(&ctx, event)
		}
		ctx.Value = ev.Value
		for i := range ctx.Participants {
			ctx.Participants[i].Vote = nil
			ctx.Participants[i].DecisionAck = false
		}
		actions := make([]Action, 0, len(ctx.Participants)+2)
		for _, p := range ctx.Participants {
			actions = append(actions, SendMessage{
				To: p.ProcessID,
				Message: wire.TwoPhaseCommitMessage{
					MessageType: wire.TwoPCVoteRequest,
					Epoch:       ctx.Epoch,
					Value:       ev.Value,
				},
			})
		}
		actions = append(actions, Notify{Notification: CoordinatorRequestForVote})
		ctx.State = Voting
		ctx.Alarm = a.alarmAt(a.voteTimeout)
		actions = append(actions, Update{Context: ctx.Clone()})
		return actions, nil

	case Vote:
		if ctx.State != Voting && ctx.State != WaitingForVoteResponses {
			return nil, invalidEvent(&ctx, event)
		}
		decision := ev.Decision
		ctx.SelfVote = &decision
		if !decision {
			return a.coordinatorDecide(ctx, false), nil
		}
		if ctx.allVotedYes() {
			return a.coordinatorDecide(ctx, true), nil
		}
		ctx.State = WaitingForVoteResponses
		return []Action{Update{Context: ctx.Clone()}}, nil

	case Deliver:
		return a.coordinatorDeliver(ctx, ev)

	case Alarm:
		switch ctx.State {
		case Voting, WaitingForVoteResponses:
			// missing votes count as aborts.
			return a.coordinatorDecide(ctx, false), nil
		default:
			return nil, invalidEvent(&ctx, event)
		}

	default:
		return nil, invalidEvent(&ctx, event)
	}
}

func (a *Algorithm) coordinatorDeliver(ctx Context, ev Deliver) ([]Action, error) {
	msg := ev.Message
	switch msg.MessageType {
	case wire.TwoPCVoteResponse:
		if msg.Epoch != ctx.Epoch {
			// stale or future response; drop.
			return nil, nil
		}
		if ctx.State.Terminal() || ctx.State == WaitingForDecisionAck {
			// late response after the decision; ignore.
			return nil, nil
		}
		if ctx.State != Voting && ctx.State != WaitingForVoteResponses {
			return nil, invalidEvent(&ctx, ev)
		}
		slot := ctx.participant(ev.From)
		if slot == nil {
			return nil, invalidEvent(&ctx, ev)
		}
		response := msg.Response
		slot.Vote = &response
		if !response {
			return a.coordinatorDecide(ctx, false), nil
		}
		if ctx.allVotedYes() && ctx.SelfVote != nil && *ctx.SelfVote {
			return a.coordinatorDecide(ctx, true), nil
		}
		return []Action{Update{Context: ctx.Clone()}}, nil

	case wire.TwoPCDecisionRequest:
		return a.coordinatorAnswerDecision(ctx, ev.From, msg.Epoch)

	default:
		return nil, invalidEvent(&ctx, ev)
	}
}

// coordinatorDecide broadcasts the decision and moves the context to its
// terminal state.
func (a *Algorithm) coordinatorDecide(ctx Context, commit bool) []Action {
	messageType := wire.TwoPCAbort
	notification := NotifyAbort
	if commit {
		messageType = wire.TwoPCCommit
		notification = NotifyCommit
	}

	actions := make([]Action, 0, len(ctx.Participants)+2)
	for _, p := range ctx.Participants {
		actions = append(actions, SendMessage{
			To:      p.ProcessID,
			Message: wire.TwoPhaseCommitMessage{MessageType: messageType, Epoch: ctx.Epoch},
		})
	}
	actions = append(actions, Notify{Notification: notification, Value: ctx.Value})

	if commit {
		ctx.State = Commit
		epoch := ctx.Epoch
		ctx.LastCommitEpoch = &epoch
	} else {
		ctx.State = Abort
	}
	ctx.Alarm = nil
	actions = append(actions, Update{Context: ctx.Clone()})
	return actions
}

// coordinatorAnswerDecision replays a decision for a participant that timed
// out waiting.
func (a *Algorithm) coordinatorAnswerDecision(ctx Context, from string, epoch uint64) ([]Action, error) {
	if epoch == ctx.Epoch {
		switch ctx.State {
		case Commit:
			return []Action{SendMessage{To: from,
				Message: wire.TwoPhaseCommitMessage{MessageType: wire.TwoPCCommit, Epoch: epoch}}}, nil
		case Abort:
			return []Action{SendMessage{To: from,
				Message: wire.TwoPhaseCommitMessage{MessageType: wire.TwoPCAbort, Epoch: epoch}}}, nil
		default:
			// no decision yet; the vote alarm will resolve the round.
			return nil, nil
		}
	}
	if epoch < ctx.Epoch {
		if ctx.LastCommitEpoch != nil && epoch <= *ctx.LastCommitEpoch {
			return []Action{SendMessage{To: from,
				Message: wire.TwoPhaseCommitMessage{MessageType: wire.TwoPCCommit, Epoch: epoch}}}, nil
		}
		return []Action{SendMessage{To: from,
			Message: wire.TwoPhaseCommitMessage{MessageType: wire.TwoPCAbort, Epoch: epoch}}}, nil
	}
	// future epoch: drop.
	return nil, nil
}

package twopc

import (
	"splinter/wire"
)

func (a *Algorithm) participantEvent(ctx Context, event Event) ([]Action, error) {
	switch ev := event.(type) {
	case Vote:
		if ctx.State != Voting {
			return nil, invalidEvent(&ctx, event)
		}
		decision := ev.Decision
		ctx.VoteDecision = &decision
		actions := []Action{SendMessage{
			To: ctx.CoordinatorID,
			Message: wire.TwoPhaseCommitMessage{
				MessageType: wire.TwoPCVoteResponse,
				Epoch:       ctx.Epoch,
				Response:    decision,
			},
		}}
		ctx.State = Voted
		ctx.DecisionTimeoutStart = a.now()
		ctx.Alarm = a.alarmAt(a.decisionTimeout)
		actions = append(actions, Update{Context: ctx.Clone()})
		return actions, nil

	case Deliver:
		return a.participantDeliver(ctx, ev)

	case Alarm:
		if ctx.State != Voted && ctx.State != WaitingForDecision {
			return nil, invalidEvent(&ctx, event)
		}
		// the decision is overdue; chase the coordinator and re-arm.
		ctx.State = WaitingForDecision
		ctx.Alarm = a.alarmAt(a.decisionTimeout)
		return []Action{
			SendMessage{
				To: ctx.CoordinatorID,
				Message: wire.TwoPhaseCommitMessage{
					MessageType: wire.TwoPCDecisionRequest,
					Epoch:       ctx.Epoch,
				},
			},
			Update{Context: ctx.Clone()},
		}, nil

	default:
		return nil, invalidEvent(&ctx, event)
	}
}

func (a *Algorithm) participantDeliver(ctx Context, ev Deliver) ([]Action, error) {
	msg := ev.Message
	switch msg.MessageType {
	case wire.TwoPCVoteRequest:
		if ctx.LastCommitEpoch != nil && msg.Epoch <= *ctx.LastCommitEpoch {
			// stale request from an already-settled epoch.
			return nil, nil
		}
		if ctx.State != WaitingForVoteRequest {
			return nil, invalidEvent(&ctx, ev)
		}
		ctx.Epoch = msg.Epoch
		ctx.Value = msg.Value
		ctx.State = Voting
		ctx.Alarm = a.alarmAt(a.decisionTimeout)
		return []Action{
			Notify{Notification: ParticipantRequestForVote, Value: msg.Value},
			Update{Context: ctx.Clone()},
		}, nil

	case wire.TwoPCCommit:
		if msg.Epoch != ctx.Epoch {
			return nil, nil
		}
		if ctx.State != Voted && ctx.State != WaitingForDecision {
			return nil, invalidEvent(&ctx, ev)
		}
		ctx.State = Commit
		epoch := ctx.Epoch
		ctx.LastCommitEpoch = &epoch
		ctx.Alarm = nil
		return []Action{
			Notify{Notification: NotifyCommit, Value: ctx.Value},
			Update{Context: ctx.Clone()},
		}, nil

	case wire.TwoPCAbort:
		if msg.Epoch != ctx.Epoch {
			return nil, nil
		}
		if ctx.State != Voted && ctx.State != WaitingForDecision && ctx.State != Voting {
			return nil, invalidEvent(&ctx, ev)
		}
		ctx.State = Abort
		ctx.Alarm = nil
		return []Action{
			Notify{Notification: NotifyAbort, Value: ctx.Value},
			Update{Context: ctx.Clone()},
		}, nil

	default:
		return nil, invalidEvent(&ctx, ev)
	}
}

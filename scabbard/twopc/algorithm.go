package twopc

import (
	"time"

	"splinter/configs"
	"splinter/utils"
)

// Algorithm applies events to a context, producing the action sequence the
// service must execute. The engine itself performs no I/O and is
// deterministic given the ordered event stream.
type Algorithm struct {
	voteTimeout     time.Duration
	decisionTimeout time.Duration
	now             func() time.Time
}

func NewAlgorithm() *Algorithm {
	return &Algorithm{
		voteTimeout:     configs.TwoPCVoteTimeout,
		decisionTimeout: configs.TwoPCDecisionTimeout,
		now:             time.Now,
	}
}

// Event processes one event. Unexpected events for the current state are
// reported as InvalidState; callers log and drop them.
func (a *Algorithm) Event(ctx Context, event Event) ([]Action, error) {
	switch ctx.Role {
	case RoleCoordinator:
		return a.coordinatorEvent(ctx, event)
	case RoleParticipant:
		return a.participantEvent(ctx, event)
	default:
		return nil, utils.Errorf(utils.KindInvalidState, "context has no role")
	}
}

func invalidEvent(ctx *Context, event Event) error {
	return utils.Errorf(utils.KindInvalidState,
		"%s in state %s cannot process %T", ctx.Role, ctx.State, event)
}

func (a *Algorithm) alarmAt(d time.Duration) *time.Time {
	t := a.now().Add(d)
	return &t
}

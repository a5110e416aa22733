// Package store persists scabbard consensus state: contexts, events,
// actions, and supervisor notifications, keyed by (service_id, epoch). The
// relational store provides crash recovery; the wal-backed commit log keeps
// the decided values for replay.
package store

import (
	"time"

	"splinter/scabbard/twopc"
)

// StoredEvent is an event with its assigned id.
type StoredEvent struct {
	ID    int64
	Epoch uint64
	Event twopc.Event
}

// StoredAction is an action with its assigned id.
type StoredAction struct {
	ID     int64
	Epoch  uint64
	Action twopc.Action
}

// SupervisorNotificationType mirrors the engine's Notify subtypes.
type SupervisorNotificationType int

const (
	SupervisorRequestForStart SupervisorNotificationType = iota + 1
	SupervisorCoordinatorRequestForVote
	SupervisorParticipantRequestForVote
	SupervisorCommit
	SupervisorAbort
)

// SupervisorNotification is a persisted control-flow surfacing.
type SupervisorNotification struct {
	ID        int64
	ServiceID string
	Epoch     uint64
	Type      SupervisorNotificationType
	// Value carries the proposal bytes on ParticipantRequestForVote.
	Value     []byte
	CreatedAt time.Time
}

// Store is the durable consensus log. All operations are atomic per call.
type Store interface {
	// AddContext inserts the context for (service, epoch). At most one
	// context may exist per key across both roles.
	AddContext(serviceID string, ctx twopc.Context) error
	// UpdateContext overwrites the context in place with its foreign-keyed
	// participant list, all-or-nothing.
	UpdateContext(serviceID string, ctx twopc.Context) error
	// FetchContext returns the context for (service, epoch); NotFound when
	// absent.
	FetchContext(serviceID string, epoch uint64) (*twopc.Context, error)
	// LatestContext returns the highest-epoch context of the service, or
	// NotFound.
	LatestContext(serviceID string) (*twopc.Context, error)

	// AddEvent appends an unexecuted event and returns its id.
	AddEvent(serviceID string, epoch uint64, event twopc.Event) (int64, error)
	// ListPendingEvents returns unexecuted events in insertion order.
	ListPendingEvents(serviceID string, epoch uint64) ([]StoredEvent, error)
	MarkEventExecuted(id int64, at time.Time) error

	// AddAction appends an unexecuted action and returns its id.
	AddAction(serviceID string, epoch uint64, action twopc.Action) (int64, error)
	// ListPendingActions returns unexecuted actions in insertion order.
	ListPendingActions(serviceID string, epoch uint64) ([]StoredAction, error)
	MarkActionExecuted(id int64, at time.Time) error

	AddSupervisorNotification(n SupervisorNotification) error

	Close() error
}

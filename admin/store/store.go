// Package store persists circuit proposals, committed circuits, and admin
// service events. One SQL implementation serves both SQLite and Postgres;
// a bounded in-memory event store backs non-durable deployments and tests.
package store

import (
	"splinter/wire"
)

// Predicate filters proposal and circuit listings.
type Predicate interface {
	matchProposal(p *wire.CircuitProposal) bool
	matchCircuit(c *wire.Circuit) bool
}

// ManagementTypeEq keeps entries whose management type equals the value.
type ManagementTypeEq string

func (m ManagementTypeEq) matchProposal(p *wire.CircuitProposal) bool {
	return p.Circuit.CircuitManagementType == string(m)
}

func (m ManagementTypeEq) matchCircuit(c *wire.Circuit) bool {
	return c.CircuitManagementType == string(m)
}

// MembersInclude keeps entries whose member set contains every listed node.
type MembersInclude []string

func (m MembersInclude) matchProposal(p *wire.CircuitProposal) bool {
	return membersContain(p.Circuit.Members, m)
}

func (m MembersInclude) matchCircuit(c *wire.Circuit) bool {
	return membersContain(c.Members, m)
}

func membersContain(members []wire.SplinterNode, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, node := range members {
			if node.NodeID == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the admin service's persistence contract. Every call is atomic.
type Store interface {
	// AddProposal fails with ConstraintViolation if the circuit id exists.
	AddProposal(p *wire.CircuitProposal) error
	// UpdateProposal fails with NotFound if absent.
	UpdateProposal(p *wire.CircuitProposal) error
	// RemoveProposal fails with NotFound if absent.
	RemoveProposal(circuitID string) error
	// FetchProposal hydrates the proposal with roster, members, and votes in
	// one transaction. NotFound when absent.
	FetchProposal(circuitID string) (*wire.CircuitProposal, error)
	// ListProposals filters by the given predicates.
	ListProposals(predicates ...Predicate) ([]*wire.CircuitProposal, error)

	// AddCircuit fails with ConstraintViolation if the circuit exists.
	AddCircuit(c *wire.Circuit) error
	// UpgradeProposalToCircuit atomically inserts the circuit with its nodes
	// and deletes the proposal.
	UpgradeProposalToCircuit(circuitID string) error
	// UpdateCircuit overwrites a committed circuit (status transitions).
	UpdateCircuit(c *wire.Circuit) error
	// RemoveCircuit fails with NotFound if absent.
	RemoveCircuit(circuitID string) error
	// FetchCircuit returns NotFound when absent.
	FetchCircuit(circuitID string) (*wire.Circuit, error)
	ListCircuits(predicates ...Predicate) ([]*wire.Circuit, error)

	ListNodes() ([]wire.SplinterNode, error)
	FetchNode(nodeID string) (*wire.SplinterNode, error)
	FetchService(circuitID, serviceID string) (*wire.SplinterService, error)
	ListServices(circuitID string) ([]wire.SplinterService, error)

	Close() error
}

// EventType discriminates admin service events.
type EventType int

const (
	ProposalSubmitted EventType = iota + 1
	ProposalVote
	ProposalAccepted
	ProposalRejected
	CircuitReady
	CircuitDisbanded
)

func (t EventType) String() string {
	switch t {
	case ProposalSubmitted:
		return "ProposalSubmitted"
	case ProposalVote:
		return "ProposalVote"
	case ProposalAccepted:
		return "ProposalAccepted"
	case ProposalRejected:
		return "ProposalRejected"
	case CircuitReady:
		return "CircuitReady"
	case CircuitDisbanded:
		return "CircuitDisbanded"
	default:
		return "Unknown"
	}
}

// Event is one admin service event with its proposal snapshot. RequesterKey
// carries the vote/acceptance key for the event types that have one.
type Event struct {
	ID           int64
	Type         EventType
	RequesterKey []byte
	Proposal     wire.CircuitProposal
}

// ManagementType is the management type of the event's circuit.
func (e *Event) ManagementType() string {
	return e.Proposal.Circuit.CircuitManagementType
}

// EventStore is the bounded, ordered admin event log. IDs are assigned
// monotonically by the store; when the bound is reached the smallest id is
// evicted before insertion.
type EventStore interface {
	AddEvent(e Event) (*Event, error)
	ListEventsSince(id int64) ([]*Event, error)
	ListEventsByManagementTypeSince(managementType string, id int64) ([]*Event, error)
}

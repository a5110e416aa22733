package admin

import (
	"time"

	"splinter/admin/store"
	"splinter/utils"
	"splinter/wire"
)

// Client is the in-process admin client used by the CLI and tests. It
// serializes user intent into signed CircuitManagementPayloads and submits
// them through the service, so client-built proposals run through exactly
// the same validation as network proposals.
type Client struct {
	service *Service
	signer  *Signer
}

func NewClient(service *Service, signer *Signer) *Client {
	return &Client{service: service, signer: signer}
}

func (c *Client) submit(payload *wire.CircuitManagementPayload) error {
	if err := c.signer.Sign(payload); err != nil {
		return err
	}
	return c.service.SubmitPayload(payload)
}

// ProposeCircuit submits a create request for circuit.
func (c *Client) ProposeCircuit(circuit wire.Circuit) error {
	return c.submit(&wire.CircuitManagementPayload{
		CreateRequest: &wire.CircuitCreateRequest{Circuit: circuit},
	})
}

// Vote submits an accept/reject vote on a pending proposal.
func (c *Client) Vote(circuitID, circuitHash string, accept bool) error {
	vote := wire.VoteReject
	if accept {
		vote = wire.VoteAccept
	}
	return c.submit(&wire.CircuitManagementPayload{
		Vote: &wire.CircuitVote{CircuitID: circuitID, CircuitHash: circuitHash, Vote: vote},
	})
}

// UpdateRoster proposes replacing the service roster of a committed
// circuit; requires unanimous acceptance like a create.
func (c *Client) UpdateRoster(circuitID string, roster []wire.SplinterService) error {
	return c.submit(&wire.CircuitManagementPayload{
		UpdateRosterRequest: &wire.CircuitUpdateRosterRequest{
			CircuitID: circuitID,
			Roster:    roster,
		},
	})
}

// Disband proposes retiring circuitID; requires unanimous acceptance.
func (c *Client) Disband(circuitID string) error {
	return c.submit(&wire.CircuitManagementPayload{
		DisbandRequest: &wire.CircuitRequest{CircuitID: circuitID},
	})
}

// Abandon unilaterally abandons circuitID on this node.
func (c *Client) Abandon(circuitID string) error {
	return c.submit(&wire.CircuitManagementPayload{
		AbandonRequest: &wire.CircuitRequest{CircuitID: circuitID},
	})
}

// Purge removes a disbanded or abandoned circuit from local state.
func (c *Client) Purge(circuitID string) error {
	return c.submit(&wire.CircuitManagementPayload{
		PurgeRequest: &wire.CircuitRequest{CircuitID: circuitID},
	})
}

// ListProposals returns the pending proposals.
func (c *Client) ListProposals(predicates ...store.Predicate) ([]*wire.CircuitProposal, error) {
	return c.service.Store().ListProposals(predicates...)
}

// FetchProposal returns one pending proposal.
func (c *Client) FetchProposal(circuitID string) (*wire.CircuitProposal, error) {
	return c.service.Store().FetchProposal(circuitID)
}

// ListCircuits returns the committed circuits.
func (c *Client) ListCircuits(predicates ...store.Predicate) ([]*wire.Circuit, error) {
	return c.service.Store().ListCircuits(predicates...)
}

// FetchCircuit returns one committed circuit.
func (c *Client) FetchCircuit(circuitID string) (*wire.Circuit, error) {
	return c.service.Store().FetchCircuit(circuitID)
}

// AwaitEvent blocks until an event of the given type for circuitID is
// observed, scanning history first so events emitted before the call are
// not missed.
func (c *Client) AwaitEvent(eventType store.EventType, circuitID string, timeout time.Duration) (*store.Event, error) {
	return c.AwaitEventMatching(timeout, func(e *store.Event) bool {
		return e.Type == eventType && e.Proposal.CircuitID == circuitID
	})
}

// AwaitEventMatching blocks until match accepts an event, history
// included.
func (c *Client) AwaitEventMatching(timeout time.Duration, match func(*store.Event) bool) (*store.Event, error) {
	deadline := time.After(timeout)
	var since int64
	for {
		events, err := c.service.Events().Store().ListEventsSince(since)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			since = e.ID
			if match(e) {
				return e, nil
			}
		}
		select {
		case <-deadline:
			return nil, utils.Errorf(utils.KindNotFound, "no matching event within %s", timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

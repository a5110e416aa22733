package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func testProposal(t *testing.T) *wire.CircuitProposal {
	t.Helper()
	circuit := wire.Circuit{
		CircuitID: "QAZED-12345",
		Roster: []wire.SplinterService{
			{ServiceID: "svc-a", ServiceType: "scabbard", AllowedNodes: []string{"Node-A"},
				Arguments: []wire.ServiceArgument{{Key: "peer_services", Value: "svc-b"}}},
			{ServiceID: "svc-b", ServiceType: "scabbard", AllowedNodes: []string{"Node-B"}},
		},
		Members: []wire.SplinterNode{
			{NodeID: "Node-A", Endpoints: []string{"tcp://127.0.0.1:8044", "inproc://a"}},
			{NodeID: "Node-B", Endpoints: []string{"tcp://127.0.0.1:8045"}},
		},
		AuthorizationType:     wire.CircuitAuthTrust,
		Persistence:           "any",
		Durability:            "none",
		Routes:                "any",
		CircuitManagementType: "test",
		CircuitVersion:        2,
	}
	hash, err := circuit.Hash()
	require.NoError(t, err)
	return &wire.CircuitProposal{
		ProposalType:    wire.ProposalTypeCreate,
		CircuitID:       circuit.CircuitID,
		CircuitHash:     hash,
		Circuit:         circuit,
		Requester:       []byte{1, 2, 3},
		RequesterNodeID: "Node-A",
	}
}

func TestProposalRoundTripPreservesHash(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	require.NoError(t, s.AddProposal(proposal))

	fetched, err := s.FetchProposal(proposal.CircuitID)
	require.NoError(t, err)

	// re-canonicalize: the hydrated circuit hashes to the stored digest.
	rehash, err := fetched.Circuit.Hash()
	require.NoError(t, err)
	assert.Equal(t, proposal.CircuitHash, rehash)
	assert.Equal(t, proposal.Circuit, fetched.Circuit)
}

func TestAddProposalRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	require.NoError(t, s.AddProposal(proposal))
	err := s.AddProposal(proposal)
	assert.True(t, utils.IsConstraintViolation(err))
}

func TestUpdateProposalRequiresExistence(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	assert.True(t, utils.IsNotFound(s.UpdateProposal(proposal)))
	assert.True(t, utils.IsNotFound(s.RemoveProposal(proposal.CircuitID)))
}

func TestVotesSortedByVoter(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	proposal.Votes = []wire.VoteRecord{
		{PublicKey: []byte{9}, Vote: wire.VoteAccept, VoterNodeID: "Node-C"},
		{PublicKey: []byte{8}, Vote: wire.VoteAccept, VoterNodeID: "Node-B"},
	}
	require.NoError(t, s.AddProposal(proposal))

	fetched, err := s.FetchProposal(proposal.CircuitID)
	require.NoError(t, err)
	require.Len(t, fetched.Votes, 2)
	assert.Equal(t, "Node-B", fetched.Votes[0].VoterNodeID)
	assert.Equal(t, "Node-C", fetched.Votes[1].VoterNodeID)
}

func TestUpgradeProposalToCircuit(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	require.NoError(t, s.AddProposal(proposal))
	require.NoError(t, s.UpgradeProposalToCircuit(proposal.CircuitID))

	// the proposal is gone, the circuit is active, in one transaction.
	_, err := s.FetchProposal(proposal.CircuitID)
	assert.True(t, utils.IsNotFound(err))

	committed, err := s.FetchCircuit(proposal.CircuitID)
	require.NoError(t, err)
	assert.Equal(t, wire.CircuitStatusActive, committed.CircuitStatus)
	assert.Equal(t, proposal.Circuit.Members, committed.Members)
	assert.Equal(t, proposal.Circuit.Roster, committed.Roster)

	nodes, err := s.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestProposalRejectedWhenCircuitExists(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	require.NoError(t, s.AddCircuit(&proposal.Circuit))

	// first-to-commit wins: a new proposal for a committed circuit id is a
	// constraint violation.
	err := s.AddProposal(proposal)
	assert.True(t, utils.IsConstraintViolation(err))
}

func TestListProposalsWithPredicates(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	require.NoError(t, s.AddProposal(proposal))

	other := testProposal(t)
	other.CircuitID = "ZXCVB-09876"
	other.Circuit.CircuitID = other.CircuitID
	other.Circuit.CircuitManagementType = "gameroom"
	require.NoError(t, s.AddProposal(other))

	byType, err := s.ListProposals(ManagementTypeEq("test"))
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "QAZED-12345", byType[0].CircuitID)

	byMembers, err := s.ListProposals(MembersInclude{"Node-A", "Node-B"})
	require.NoError(t, err)
	assert.Len(t, byMembers, 2)

	none, err := s.ListProposals(MembersInclude{"Node-Z"})
	require.NoError(t, err)
	assert.Len(t, none, 0)
}

func TestFetchServiceAndNode(t *testing.T) {
	s := newTestStore(t)
	proposal := testProposal(t)
	require.NoError(t, s.AddProposal(proposal))
	require.NoError(t, s.UpgradeProposalToCircuit(proposal.CircuitID))

	svc, err := s.FetchService(proposal.CircuitID, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Node-A"}, svc.AllowedNodes)
	require.Len(t, svc.Arguments, 1)
	assert.Equal(t, "peer_services", svc.Arguments[0].Key)

	node, err := s.FetchNode("Node-A")
	require.NoError(t, err)
	assert.Equal(t, []string{"inproc://a", "tcp://127.0.0.1:8044"}, node.Endpoints)

	_, err = s.FetchNode("Node-Z")
	assert.True(t, utils.IsNotFound(err))
}

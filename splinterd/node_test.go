package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	adminstore "splinter/admin/store"
	"splinter/circuit"
	"splinter/configs"
	"splinter/transport"
	"splinter/utils"
	"splinter/wire"
)

const awaitTimeout = 10 * time.Second

// testNetwork boots one node per id over a shared in-process transport.
func testNetwork(t *testing.T, ids ...string) map[string]*Node {
	t.Helper()

	seeds := make(map[string][]byte)
	adminKeys := make(map[string]string)
	for _, id := range ids {
		seed := make([]byte, ed25519.SeedSize)
		_, err := rand.Read(seed)
		require.NoError(t, err)
		seeds[id] = seed
		public := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
		adminKeys[id] = hex.EncodeToString(public)
	}

	shared := transport.NewMultiTransport(transport.NewInprocTransport())
	nodes := make(map[string]*Node)
	for _, id := range ids {
		cfg := &configs.Config{
			NodeID:          id,
			Endpoints:       []string{endpointOf(id)},
			Storage:         "memory",
			StateDir:        t.TempDir(),
			AdminKeys:       adminKeys,
			AdminPrivateKey: hex.EncodeToString(seeds[id]),
		}
		node, err := NewNode(cfg, zaptest.NewLogger(t), shared)
		require.NoError(t, err)
		require.NoError(t, node.Start())
		t.Cleanup(node.Shutdown)
		nodes[id] = node
	}
	return nodes
}

func endpointOf(nodeID string) string {
	return "inproc://" + strings.ToLower(nodeID)
}

func twoPartyCircuit(circuitID string, members ...string) wire.Circuit {
	c := wire.Circuit{
		CircuitID:             circuitID,
		AuthorizationType:     wire.CircuitAuthTrust,
		Persistence:           "any",
		Durability:            "none",
		Routes:                "any",
		CircuitManagementType: "test",
	}
	for i, member := range members {
		c.Members = append(c.Members, wire.SplinterNode{
			NodeID:    member,
			Endpoints: []string{endpointOf(member)},
		})
		c.Roster = append(c.Roster, wire.SplinterService{
			ServiceID:    "svc-" + string(rune('a'+i)),
			ServiceType:  "scabbard",
			AllowedNodes: []string{member},
		})
	}
	return c
}

// createCircuit runs the full propose/vote/commit flow and waits for every
// node to report the circuit ready.
func createCircuit(t *testing.T, nodes map[string]*Node, proposer string, def wire.Circuit) {
	t.Helper()
	require.NoError(t, nodes[proposer].AdminClient().ProposeCircuit(def))

	for id, node := range nodes {
		if !isMemberOf(&def, id) || id == proposer {
			continue
		}
		event, err := node.AdminClient().AwaitEvent(adminstore.ProposalSubmitted, def.CircuitID, awaitTimeout)
		require.NoError(t, err, "proposal did not reach %s", id)
		require.NoError(t, node.AdminClient().Vote(def.CircuitID, event.Proposal.CircuitHash, true))
	}
	for id, node := range nodes {
		if !isMemberOf(&def, id) {
			continue
		}
		_, err := node.AdminClient().AwaitEvent(adminstore.CircuitReady, def.CircuitID, awaitTimeout)
		require.NoError(t, err, "circuit never became ready on %s", id)
	}

	// scabbard instances come up asynchronously after CircuitReady; wait
	// until every member runs its roster service before returning.
	for _, svc := range def.Roster {
		for _, owner := range svc.AllowedNodes {
			if node, ok := nodes[owner]; ok {
				waitForService(t, node, def.CircuitID, svc.ServiceID)
			}
		}
	}
}

func waitForService(t *testing.T, node *Node, circuitID, serviceID string) {
	t.Helper()
	deadline := time.Now().Add(awaitTimeout)
	for time.Now().Before(deadline) {
		if _, ok := node.ScabbardService(circuit.ServiceID{CircuitID: circuitID, ServiceID: serviceID}); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scabbard service %s on circuit %s never started", serviceID, circuitID)
}

func isMemberOf(def *wire.Circuit, nodeID string) bool {
	for _, m := range def.Members {
		if m.NodeID == nodeID {
			return true
		}
	}
	return false
}

func submitBatch(t *testing.T, node *Node, circuitID, serviceID string, batch []byte) error {
	t.Helper()
	svc, ok := node.ScabbardService(circuit.ServiceID{CircuitID: circuitID, ServiceID: serviceID})
	require.True(t, ok, "no scabbard service %s on the node", serviceID)
	return svc.SubmitBatch(batch)
}

func awaitCommit(t *testing.T, node *Node, circuitID, serviceID string, epoch uint64) {
	t.Helper()
	svc, ok := node.ScabbardService(circuit.ServiceID{CircuitID: circuitID, ServiceID: serviceID})
	require.True(t, ok)
	require.NoError(t, svc.AwaitCommit(epoch, awaitTimeout))
}

func TestTwoPartyCreate(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B")
	def := twoPartyCircuit("QAZED-12345", "Node-A", "Node-B")
	createCircuit(t, nodes, "Node-A", def)

	for id, node := range nodes {
		circuits, err := node.AdminClient().ListCircuits()
		require.NoError(t, err)
		require.Len(t, circuits, 1, "store of %s", id)
		assert.Equal(t, "QAZED-12345", circuits[0].CircuitID)
		assert.Equal(t, wire.CircuitStatusActive, circuits[0].CircuitStatus)

		proposals, err := node.AdminClient().ListProposals()
		require.NoError(t, err)
		assert.Len(t, proposals, 0, "store of %s", id)
	}

	// identical circuit hash on both members (committed circuits
	// re-canonicalize to the same digest).
	hashA := circuitHash(t, nodes["Node-A"], "QAZED-12345")
	hashB := circuitHash(t, nodes["Node-B"], "QAZED-12345")
	assert.Equal(t, hashA, hashB)

	// a scabbard batch through svc-a succeeds.
	require.NoError(t, submitBatch(t, nodes["Node-A"], "QAZED-12345", "svc-a",
		[]byte("CreateContractRegistry")))
	awaitCommit(t, nodes["Node-A"], "QAZED-12345", "svc-a", 1)
	awaitCommit(t, nodes["Node-B"], "QAZED-12345", "svc-b", 1)
}

func circuitHash(t *testing.T, node *Node, circuitID string) string {
	t.Helper()
	c, err := node.AdminClient().FetchCircuit(circuitID)
	require.NoError(t, err)
	hash, err := c.Hash()
	require.NoError(t, err)
	return hash
}

func TestTwoPartyAbandonAndPurge(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B")
	def := twoPartyCircuit("QAZED-12345", "Node-A", "Node-B")
	createCircuit(t, nodes, "Node-A", def)

	// abandon is unilateral: A flips its local status, B is unchanged.
	require.NoError(t, nodes["Node-A"].AdminClient().Abandon("QAZED-12345"))
	circuitA, err := nodes["Node-A"].AdminClient().FetchCircuit("QAZED-12345")
	require.NoError(t, err)
	assert.Equal(t, wire.CircuitStatusAbandoned, circuitA.CircuitStatus)

	circuitB, err := nodes["Node-B"].AdminClient().FetchCircuit("QAZED-12345")
	require.NoError(t, err)
	assert.Equal(t, wire.CircuitStatusActive, circuitB.CircuitStatus)

	// purge removes it from A only.
	require.NoError(t, nodes["Node-A"].AdminClient().Purge("QAZED-12345"))
	circuitsA, err := nodes["Node-A"].AdminClient().ListCircuits()
	require.NoError(t, err)
	assert.Len(t, circuitsA, 0)

	circuitsB, err := nodes["Node-B"].AdminClient().ListCircuits()
	require.NoError(t, err)
	assert.Len(t, circuitsB, 1)

	// batches through A's svc-a now fail with InvalidState.
	err = submitBatch(t, nodes["Node-A"], "QAZED-12345", "svc-a", []byte("batch"))
	require.Error(t, err)
	assert.True(t, utils.IsInvalidState(err))
}

func TestPurgeOfActiveCircuitRejected(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B")
	def := twoPartyCircuit("QAZED-12345", "Node-A", "Node-B")
	createCircuit(t, nodes, "Node-A", def)

	err := nodes["Node-A"].AdminClient().Purge("QAZED-12345")
	require.Error(t, err)
	assert.True(t, utils.IsInvalidState(err))

	// the circuit still accepts batches on both sides.
	require.NoError(t, submitBatch(t, nodes["Node-A"], "QAZED-12345", "svc-a", []byte("b1")))
	awaitCommit(t, nodes["Node-A"], "QAZED-12345", "svc-a", 1)
	require.NoError(t, submitBatch(t, nodes["Node-B"], "QAZED-12345", "svc-b", []byte("b2")))
	awaitCommit(t, nodes["Node-B"], "QAZED-12345", "svc-b", 2)
}

func TestThreePartyCircuitsSurvivePeerPurge(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B", "Node-C")

	first := twoPartyCircuit("QWERT-01234", "Node-A", "Node-B", "Node-C")
	second := twoPartyCircuit("01234-QWERT", "Node-A", "Node-B", "Node-C")
	createCircuit(t, nodes, "Node-A", first)
	createCircuit(t, nodes, "Node-B", second)

	// abandon + purge the first circuit from A.
	require.NoError(t, nodes["Node-A"].AdminClient().Abandon("QWERT-01234"))
	require.NoError(t, nodes["Node-A"].AdminClient().Purge("QWERT-01234"))
	circuitsA, err := nodes["Node-A"].AdminClient().ListCircuits()
	require.NoError(t, err)
	require.Len(t, circuitsA, 1)
	assert.Equal(t, "01234-QWERT", circuitsA[0].CircuitID)

	// the second circuit still accepts batches from all three members.
	serviceOf := map[string]string{"Node-A": "svc-a", "Node-B": "svc-b", "Node-C": "svc-c"}
	epoch := uint64(0)
	for _, id := range []string{"Node-A", "Node-B", "Node-C"} {
		epoch++
		require.NoError(t, submitBatch(t, nodes[id], "01234-QWERT", serviceOf[id],
			[]byte("batch-from-"+id)))
		awaitCommit(t, nodes[id], "01234-QWERT", serviceOf[id], epoch)
	}
}

func TestVoteRecordsIdenticalAcrossMembersAtCommit(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B", "Node-C")
	def := twoPartyCircuit("ABCDE-12345", "Node-A", "Node-B", "Node-C")

	require.NoError(t, nodes["Node-A"].AdminClient().ProposeCircuit(def))

	var hash string
	for _, id := range []string{"Node-B", "Node-C"} {
		event, err := nodes[id].AdminClient().AwaitEvent(adminstore.ProposalSubmitted, def.CircuitID, awaitTimeout)
		require.NoError(t, err)
		hash = event.Proposal.CircuitHash
		require.NoError(t, nodes[id].AdminClient().Vote(def.CircuitID, hash, true))
	}

	for _, node := range nodes {
		event, err := node.AdminClient().AwaitEvent(adminstore.ProposalAccepted, def.CircuitID, awaitTimeout)
		require.NoError(t, err)
		assert.Equal(t, hash, event.Proposal.CircuitHash)
		// votes are sorted by voter and identical on every member.
		require.Len(t, event.Proposal.Votes, 2)
		assert.Equal(t, "Node-B", event.Proposal.Votes[0].VoterNodeID)
		assert.Equal(t, "Node-C", event.Proposal.Votes[1].VoterNodeID)
		for _, vote := range event.Proposal.Votes {
			assert.Equal(t, wire.VoteAccept, vote.Vote)
		}
	}
}

func TestRejectVoteRemovesProposal(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B")
	def := twoPartyCircuit("REJEC-00001", "Node-A", "Node-B")

	require.NoError(t, nodes["Node-A"].AdminClient().ProposeCircuit(def))
	event, err := nodes["Node-B"].AdminClient().AwaitEvent(adminstore.ProposalSubmitted, def.CircuitID, awaitTimeout)
	require.NoError(t, err)
	require.NoError(t, nodes["Node-B"].AdminClient().Vote(def.CircuitID, event.Proposal.CircuitHash, false))

	for id, node := range nodes {
		_, err := node.AdminClient().AwaitEvent(adminstore.ProposalRejected, def.CircuitID, awaitTimeout)
		require.NoError(t, err, "rejection never reached %s", id)
		proposals, err := node.AdminClient().ListProposals()
		require.NoError(t, err)
		assert.Len(t, proposals, 0)
		circuits, err := node.AdminClient().ListCircuits()
		require.NoError(t, err)
		assert.Len(t, circuits, 0)
	}
}

func TestUpdateRosterAddsService(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B")
	def := twoPartyCircuit("ROSTA-00001", "Node-A", "Node-B")
	createCircuit(t, nodes, "Node-A", def)

	roster := append(append([]wire.SplinterService(nil), def.Roster...), wire.SplinterService{
		ServiceID:    "svc-x",
		ServiceType:  "scabbard",
		AllowedNodes: []string{"Node-B"},
	})
	require.NoError(t, nodes["Node-A"].AdminClient().UpdateRoster("ROSTA-00001", roster))

	event, err := nodes["Node-B"].AdminClient().AwaitEventMatching(awaitTimeout, func(e *adminstore.Event) bool {
		return e.Type == adminstore.ProposalSubmitted &&
			e.Proposal.CircuitID == "ROSTA-00001" &&
			e.Proposal.ProposalType == wire.ProposalTypeUpdateRoster
	})
	require.NoError(t, err)
	require.NoError(t, nodes["Node-B"].AdminClient().Vote("ROSTA-00001", event.Proposal.CircuitHash, true))

	for id, node := range nodes {
		_, err := node.AdminClient().AwaitEventMatching(awaitTimeout, func(e *adminstore.Event) bool {
			return e.Type == adminstore.CircuitReady &&
				e.Proposal.CircuitID == "ROSTA-00001" &&
				e.Proposal.ProposalType == wire.ProposalTypeUpdateRoster
		})
		require.NoError(t, err, "roster update never committed on %s", id)

		c, err := node.AdminClient().FetchCircuit("ROSTA-00001")
		require.NoError(t, err)
		require.Len(t, c.Roster, 3)
		assert.Equal(t, "svc-x", c.Roster[2].ServiceID)

		proposals, err := node.AdminClient().ListProposals()
		require.NoError(t, err)
		assert.Len(t, proposals, 0)
	}

	// the new service comes up on its owning node.
	waitForService(t, nodes["Node-B"], "ROSTA-00001", "svc-x")
}

func TestDisbandRetiresCircuit(t *testing.T) {
	nodes := testNetwork(t, "Node-A", "Node-B")
	def := twoPartyCircuit("DISBA-00001", "Node-A", "Node-B")
	createCircuit(t, nodes, "Node-A", def)

	require.NoError(t, nodes["Node-A"].AdminClient().Disband("DISBA-00001"))
	event, err := nodes["Node-B"].AdminClient().AwaitEventMatching(awaitTimeout, func(e *adminstore.Event) bool {
		return e.Type == adminstore.ProposalSubmitted &&
			e.Proposal.CircuitID == "DISBA-00001" &&
			e.Proposal.ProposalType == wire.ProposalTypeDisband
	})
	require.NoError(t, err)
	require.NoError(t, nodes["Node-B"].AdminClient().Vote("DISBA-00001", event.Proposal.CircuitHash, true))

	for id, node := range nodes {
		_, err := node.AdminClient().AwaitEvent(adminstore.CircuitDisbanded, "DISBA-00001", awaitTimeout)
		require.NoError(t, err, "disband never completed on %s", id)
		c, err := node.AdminClient().FetchCircuit("DISBA-00001")
		require.NoError(t, err)
		assert.Equal(t, wire.CircuitStatusDisbanded, c.CircuitStatus)
	}

	// a disbanded circuit can be purged.
	require.NoError(t, nodes["Node-A"].AdminClient().Purge("DISBA-00001"))
}

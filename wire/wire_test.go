package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleCircuit() Circuit {
	return Circuit{
		CircuitID: "QAZED-12345",
		Roster: []SplinterService{
			{ServiceID: "svc-a", ServiceType: "scabbard", AllowedNodes: []string{"Node-A"},
				Arguments: []ServiceArgument{{Key: "peer_services", Value: "svc-b"}}},
			{ServiceID: "svc-b", ServiceType: "scabbard", AllowedNodes: []string{"Node-B"}},
		},
		Members: []SplinterNode{
			{NodeID: "Node-A", Endpoints: []string{"tcp://127.0.0.1:8044"}},
			{NodeID: "Node-B", Endpoints: []string{"tcp://127.0.0.1:8045"}},
		},
		AuthorizationType:     CircuitAuthTrust,
		Persistence:           "any",
		Durability:            "none",
		Routes:                "any",
		CircuitManagementType: "test",
		CircuitVersion:        2,
		CircuitStatus:         CircuitStatusActive,
	}
}

func TestCircuitHashStableAcrossRoundTrip(t *testing.T) {
	circuit := sampleCircuit()
	hash, err := circuit.Hash()
	require.NoError(t, err)

	b, err := circuit.MarshalWire()
	require.NoError(t, err)

	var decoded Circuit
	require.NoError(t, decoded.UnmarshalWire(b))
	rehash, err := decoded.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash, rehash)
}

func TestProposalRoundTripPreservesVotes(t *testing.T) {
	circuit := sampleCircuit()
	hash, err := circuit.Hash()
	require.NoError(t, err)

	proposal := CircuitProposal{
		ProposalType:    ProposalTypeCreate,
		CircuitID:       circuit.CircuitID,
		CircuitHash:     hash,
		Circuit:         circuit,
		Votes:           []VoteRecord{{PublicKey: []byte{1, 2}, Vote: VoteAccept, VoterNodeID: "Node-B"}},
		Requester:       []byte{9, 9},
		RequesterNodeID: "Node-A",
	}

	b, err := proposal.MarshalWire()
	require.NoError(t, err)

	var decoded CircuitProposal
	require.NoError(t, decoded.UnmarshalWire(b))
	assert.Equal(t, proposal, decoded)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	msg := &AuthTrustRequest{Identity: "Node-A"}
	b, err := msg.MarshalWire()
	require.NoError(t, err)

	// A newer writer adds field 15; an old reader must skip it.
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	var decoded AuthTrustRequest
	require.NoError(t, decoded.UnmarshalWire(b))
	assert.Equal(t, "Node-A", decoded.Identity)
}

func TestNetworkEnvelope(t *testing.T) {
	frame, err := WrapAuthorizationMessage(AuthProtocolRequestType, &AuthProtocolRequest{AuthProtocolMin: 1, AuthProtocolMax: 1})
	require.NoError(t, err)

	var env NetworkMessage
	require.NoError(t, env.UnmarshalWire(frame))
	assert.Equal(t, AuthorizationType, env.MessageType)

	var auth AuthorizationMessage
	require.NoError(t, auth.UnmarshalWire(env.Payload))
	assert.Equal(t, AuthProtocolRequestType, auth.MessageType)
}

package admin

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splinter/utils"
	"splinter/wire"
)

type staticKeys map[string]ed25519.PublicKey

func (k staticKeys) AdminKey(nodeID string) (ed25519.PublicKey, bool) {
	key, ok := k[nodeID]
	return key, ok
}

func newTestSigner(t *testing.T, nodeID string) *Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return NewSigner(nodeID, key)
}

func TestSignAndVerifyPayload(t *testing.T) {
	signer := newTestSigner(t, "Node-A")
	payload := &wire.CircuitManagementPayload{
		PurgeRequest: &wire.CircuitRequest{CircuitID: "QAZED-12345"},
	}
	require.NoError(t, signer.Sign(payload))

	keys := staticKeys{"Node-A": signer.PublicKey()}
	header, err := VerifyPayload(payload, keys)
	require.NoError(t, err)
	assert.Equal(t, wire.CircuitPurgeAction, header.Action)
	assert.Equal(t, "Node-A", header.RequesterNodeID)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := newTestSigner(t, "Node-A")
	payload := &wire.CircuitManagementPayload{
		Vote: &wire.CircuitVote{CircuitID: "QAZED-12345", CircuitHash: "aa", Vote: wire.VoteAccept},
	}
	require.NoError(t, signer.Sign(payload))
	keys := staticKeys{"Node-A": signer.PublicKey()}

	// flip the vote after signing: the digest no longer matches.
	payload.Vote.Vote = wire.VoteReject
	_, err := VerifyPayload(payload, keys)
	require.Error(t, err)
	assert.Equal(t, utils.KindUnauthorized, utils.KindOf(err))
}

func TestVerifyRejectsUnregisteredKey(t *testing.T) {
	signer := newTestSigner(t, "Node-A")
	imposter := newTestSigner(t, "Node-A")
	payload := &wire.CircuitManagementPayload{
		AbandonRequest: &wire.CircuitRequest{CircuitID: "QAZED-12345"},
	}
	require.NoError(t, imposter.Sign(payload))

	keys := staticKeys{"Node-A": signer.PublicKey()}
	_, err := VerifyPayload(payload, keys)
	require.Error(t, err)
	assert.Equal(t, utils.KindUnauthorized, utils.KindOf(err))
}

func TestSignRejectsEmptyPayload(t *testing.T) {
	signer := newTestSigner(t, "Node-A")
	err := signer.Sign(&wire.CircuitManagementPayload{})
	require.Error(t, err)
	assert.True(t, utils.IsInvalidState(err))
}

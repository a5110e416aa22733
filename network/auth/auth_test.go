package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"splinter/transport"
	"splinter/utils"
)

func connPair(t *testing.T) (transport.Connection, transport.Connection) {
	t.Helper()
	tp := transport.NewInprocTransport()
	listener, err := tp.Listen("inproc://auth-test")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	dialed, err := tp.Connect("inproc://auth-test")
	require.NoError(t, err)
	accepted, err := listener.Accept()
	require.NoError(t, err)
	return dialed, accepted
}

func TestTrustHandshakeBothDirections(t *testing.T) {
	logger := zaptest.NewLogger(t)
	alpha := NewManager(logger, "alpha-node", nil)
	beta := NewManager(logger, "beta-node", nil)

	dialed, accepted := connPair(t)

	type result struct {
		identity Identity
		err      error
	}
	alphaDone := make(chan result, 1)
	betaDone := make(chan result, 1)
	go func() {
		id, err := alpha.Authorize("conn-alpha", dialed)
		alphaDone <- result{id, err}
	}()
	go func() {
		id, err := beta.Authorize("conn-beta", accepted)
		betaDone <- result{id, err}
	}()

	alphaResult := <-alphaDone
	betaResult := <-betaDone
	require.NoError(t, alphaResult.err)
	require.NoError(t, betaResult.err)
	assert.Equal(t, "beta-node", alphaResult.identity.Trust)
	assert.Equal(t, "alpha-node", betaResult.identity.Trust)
}

func TestChallengeHandshakeVerifiesKeys(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, alphaKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, betaKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	alpha := NewManager(logger, "alpha-node", alphaKey)
	beta := NewManager(logger, "beta-node", betaKey)

	dialed, accepted := connPair(t)

	type result struct {
		identity Identity
		err      error
	}
	alphaDone := make(chan result, 1)
	betaDone := make(chan result, 1)
	go func() {
		id, err := alpha.Authorize("conn-alpha", dialed)
		alphaDone <- result{id, err}
	}()
	go func() {
		id, err := beta.Authorize("conn-beta", accepted)
		betaDone <- result{id, err}
	}()

	alphaResult := <-alphaDone
	betaResult := <-betaDone
	require.NoError(t, alphaResult.err)
	require.NoError(t, betaResult.err)
	assert.Equal(t, []byte(betaKey.Public().(ed25519.PublicKey)), alphaResult.identity.PublicKey)
	assert.Equal(t, []byte(alphaKey.Public().(ed25519.PublicKey)), betaResult.identity.PublicKey)
}

func TestVersionMismatchRejected(t *testing.T) {
	logger := zaptest.NewLogger(t)
	manager := NewManager(logger, "alpha-node", nil)

	version := supportedProtocolVersion(logger, 2, 2)
	assert.Equal(t, uint32(0), version)

	// the responder-side rejection: the protocol request is received, the
	// failure is recorded, and Status surfaces it.
	manager.begin("conn-x")
	defer manager.remove("conn-x")
	_, err := manager.NextRemoteState("conn-x", ActReceiveAuthProtocolRequest)
	require.NoError(t, err)
	manager.setFailure("conn-x", utils.NewError(utils.KindUnauthorized, "unable to agree on protocol version"))
	_, _, err = manager.Status("conn-x")
	require.Error(t, err)
	assert.Equal(t, utils.KindUnauthorized, utils.KindOf(err))
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	logger := zaptest.NewLogger(t)
	manager := NewManager(logger, "alpha-node", nil)
	manager.begin("conn-y")
	defer manager.remove("conn-y")

	// receiving a trust response before sending a request is undefined.
	_, err := manager.NextLocalState("conn-y", ActReceiveAuthTrustResponse)
	require.Error(t, err)
	assert.True(t, utils.IsInvalidState(err))

	// the state is untouched by the failed transition.
	done, _, err := manager.Status("conn-y")
	require.NoError(t, err)
	assert.False(t, done)
}

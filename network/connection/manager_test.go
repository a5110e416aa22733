package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"splinter/network"
	"splinter/network/auth"
	"splinter/transport"
	"splinter/utils"
)

// two managers over a shared in-process transport: the responder listens,
// the initiator requests an outbound connection.
func TestRequestOutboundAuthorizesAndNotifies(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tp := transport.NewInprocTransport()

	responderMatrix := network.NewMatrix(logger)
	defer responderMatrix.Shutdown()
	responder := NewManager(logger, tp,
		responderMatrix, auth.NewManager(logger, "beta-node", nil))
	responder.Start()
	defer responder.Shutdown()

	listener, err := tp.Listen("inproc://beta")
	require.NoError(t, err)
	responder.Listen(listener)

	initiatorMatrix := network.NewMatrix(logger)
	defer initiatorMatrix.Shutdown()
	initiator := NewManager(logger, tp,
		initiatorMatrix, auth.NewManager(logger, "alpha-node", nil))
	initiator.Start()
	defer initiator.Shutdown()

	notifications := make(chan Notification, 8)
	initiator.Subscribe(notifications)

	reply := make(chan OutboundResult, 1)
	initiator.RequestOutbound("inproc://beta", utils.NewConnectionID(), reply)
	result := <-reply
	require.NoError(t, result.Err)
	assert.Equal(t, "beta-node", result.Identity.Trust)

	select {
	case n := <-notifications:
		assert.Equal(t, Connected, n.Kind)
		assert.Equal(t, "inproc://beta", n.Endpoint)
		assert.False(t, n.Inbound)
	case <-time.After(5 * time.Second):
		t.Fatal("no Connected notification")
	}

	assert.Equal(t, []string{"inproc://beta"}, initiator.ListConnections())
	require.NoError(t, initiator.RemoveConnection("inproc://beta"))
	assert.Empty(t, initiator.ListConnections())

	err = initiator.RemoveConnection("inproc://beta")
	assert.True(t, utils.IsNotFound(err))
}

// requesting the same endpoint twice shares the session.
func TestRequestOutboundIsIdempotentForLiveConnections(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tp := transport.NewInprocTransport()

	responderMatrix := network.NewMatrix(logger)
	defer responderMatrix.Shutdown()
	responder := NewManager(logger, tp,
		responderMatrix, auth.NewManager(logger, "beta-node", nil))
	responder.Start()
	defer responder.Shutdown()
	listener, err := tp.Listen("inproc://beta")
	require.NoError(t, err)
	responder.Listen(listener)

	initiatorMatrix := network.NewMatrix(logger)
	defer initiatorMatrix.Shutdown()
	initiator := NewManager(logger, tp,
		initiatorMatrix, auth.NewManager(logger, "alpha-node", nil))
	initiator.Start()
	defer initiator.Shutdown()

	first := make(chan OutboundResult, 1)
	initiator.RequestOutbound("inproc://beta", "conn-1", first)
	firstResult := <-first
	require.NoError(t, firstResult.Err)

	second := make(chan OutboundResult, 1)
	initiator.RequestOutbound("inproc://beta", "conn-2", second)
	secondResult := <-second
	require.NoError(t, secondResult.Err)
	assert.Equal(t, firstResult.ConnectionID, secondResult.ConnectionID)
}

package network

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"splinter/transport"
	"splinter/utils"
)

func pair(t *testing.T) (transport.Connection, transport.Connection) {
	t.Helper()
	tp := transport.NewInprocTransport()
	listener, err := tp.Listen("inproc://matrix-test")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	dialed, err := tp.Connect("inproc://matrix-test")
	require.NoError(t, err)
	accepted, err := listener.Accept()
	require.NoError(t, err)
	return dialed, accepted
}

func TestMatrixRoutesInbound(t *testing.T) {
	matrix := NewMatrix(zaptest.NewLogger(t))
	defer matrix.Shutdown()

	local, remote := pair(t)
	require.NoError(t, matrix.AddConnection("conn-1", local))

	require.NoError(t, remote.Send([]byte("frame")))
	env, ok := matrix.Recv()
	require.True(t, ok)
	assert.Equal(t, "conn-1", env.ConnectionID)
	assert.Equal(t, []byte("frame"), env.Payload)
}

func TestMatrixPreservesSendOrder(t *testing.T) {
	matrix := NewMatrix(zaptest.NewLogger(t))
	defer matrix.Shutdown()

	local, remote := pair(t)
	require.NoError(t, matrix.AddConnection("conn-1", local))

	for i := 0; i < 20; i++ {
		require.NoError(t, matrix.Send("conn-1", []byte(fmt.Sprintf("m%02d", i))))
	}
	for i := 0; i < 20; i++ {
		msg, err := remote.Recv()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%02d", i), string(msg))
	}
}

func TestMatrixSendToUnknownReturnsPayload(t *testing.T) {
	matrix := NewMatrix(zaptest.NewLogger(t))
	defer matrix.Shutdown()

	err := matrix.Send("nowhere", []byte("payload"))
	require.Error(t, err)
	var sendErr *utils.NetworkSendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "nowhere", sendErr.Recipient)
	assert.Equal(t, []byte("payload"), sendErr.Payload)

	// heartbeats report the connection as gone instead.
	assert.False(t, matrix.SendHeartbeat("nowhere", []byte("hb")))
}

func TestMatrixRemoveConnection(t *testing.T) {
	matrix := NewMatrix(zaptest.NewLogger(t))
	defer matrix.Shutdown()

	local, _ := pair(t)
	require.NoError(t, matrix.AddConnection("conn-1", local))
	assert.Equal(t, []string{"conn-1"}, matrix.ListConnections())

	matrix.RemoveConnection("conn-1")
	assert.Empty(t, matrix.ListConnections())
	assert.Error(t, matrix.Send("conn-1", []byte("x")))
}

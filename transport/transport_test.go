package transport

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawDialWithVersions(endpoint string, min, max uint32) (net.Conn, error) {
	conn, err := net.Dial("tcp", strings.TrimPrefix(endpoint, "tcp://"))
	if err != nil {
		return nil, err
	}
	var req [8]byte
	binary.BigEndian.PutUint32(req[0:4], min)
	binary.BigEndian.PutUint32(req[4:8], max)
	if _, err := conn.Write(req[:]); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func readNegotiationResponse(conn net.Conn) (uint32, error) {
	var resp [4]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(resp[:]), nil
}

func TestTCPRoundTrip(t *testing.T) {
	tp := NewTCPTransport()
	listener, err := tp.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan Connection, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := tp.Connect(listener.Endpoint())
	require.NoError(t, err)
	defer client.Disconnect()

	server := <-accepted
	defer server.Disconnect()

	require.NoError(t, client.Send([]byte("hello")))
	msg, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg)

	require.NoError(t, server.Send([]byte("world")))
	msg, err = client.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), msg)
}

func TestInprocRoundTrip(t *testing.T) {
	tp := NewInprocTransport()
	listener, err := tp.Listen("inproc://node-a")
	require.NoError(t, err)
	defer listener.Close()

	client, err := tp.Connect("inproc://node-a")
	require.NoError(t, err)

	server, err := listener.Accept()
	require.NoError(t, err)

	require.NoError(t, client.Send([]byte("ping")))
	msg, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), msg)
}

func TestInprocConnectWithoutListener(t *testing.T) {
	tp := NewInprocTransport()
	_, err := tp.Connect("inproc://nowhere")
	assert.Error(t, err)
}

func TestMultiTransportDispatchesByScheme(t *testing.T) {
	multi := NewMultiTransport(NewTCPTransport(), NewInprocTransport())

	assert.True(t, multi.Accepts("tcp://127.0.0.1:0"))
	assert.True(t, multi.Accepts("inproc://x"))
	assert.False(t, multi.Accepts("zmq://x"))

	_, err := multi.Connect("zmq://somewhere")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestVersionNegotiationRejectsNoOverlap(t *testing.T) {
	// The responder only speaks [FrameVersionMin, FrameVersion]; an initiator
	// demanding a newer protocol must be turned away with a zero version.
	tp := NewTCPTransport()
	listener, err := tp.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	acceptErr := make(chan error, 1)
	go func() {
		_, err := listener.Accept()
		acceptErr <- err
	}()

	conn, err := rawDialWithVersions(listener.Endpoint(), 2, 2)
	require.NoError(t, err)
	defer conn.Close()

	version, err := readNegotiationResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), version)
	assert.ErrorIs(t, <-acceptErr, ErrUnsupportedVersion)
}

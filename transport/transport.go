// Package transport provides the byte-stream layer under the splinter
// network: message-framed connections, listeners, and dialers for tcp, tls,
// and in-process endpoints, plus a scheme-dispatching multi transport.
package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme is returned by the multi transport for an address
	// no inner transport accepts.
	ErrUnsupportedScheme = errors.New("unsupported address scheme")

	// ErrUnsupportedVersion is returned when frame version negotiation finds
	// no overlap.
	ErrUnsupportedVersion = errors.New("unable to agree on frame version")

	// ErrDisconnected is returned by operations on a closed connection.
	ErrDisconnected = errors.New("connection disconnected")
)

// Connection is a bidirectional, message-framed byte channel.
type Connection interface {
	// Send writes one framed message.
	Send(message []byte) error
	// Recv blocks for the next framed message.
	Recv() ([]byte, error)
	// Disconnect tears the connection down.
	Disconnect() error
	LocalEndpoint() string
	RemoteEndpoint() string
}

// Listener yields incoming connections on a bound endpoint.
type Listener interface {
	Accept() (Connection, error)
	Endpoint() string
	Close() error
}

// Transport dials and listens on endpoints of one address family.
type Transport interface {
	// Accepts reports whether address belongs to this transport.
	Accepts(address string) bool
	// Connect dials endpoint and completes frame version negotiation.
	Connect(endpoint string) (Connection, error)
	// Listen binds and returns a listener.
	Listen(bind string) (Listener, error)
}

// ConnectError wraps a dial failure with its endpoint.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

package transport

import (
	"net"
	"strings"

	"splinter/configs"
)

const tcpScheme = "tcp://"

// TCPTransport dials and listens on raw TCP endpoints (tcp://host:port).
type TCPTransport struct{}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Accepts(address string) bool {
	return strings.HasPrefix(address, tcpScheme)
}

func (t *TCPTransport) Connect(endpoint string) (Connection, error) {
	addr := strings.TrimPrefix(endpoint, tcpScheme)
	conn, err := net.DialTimeout("tcp", addr, configs.ConnectTimeout)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	version, err := negotiateOutbound(conn)
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	return newFrameConn(conn, version, tcpScheme), nil
}

func (t *TCPTransport) Listen(bind string) (Listener, error) {
	addr := strings.TrimPrefix(bind, tcpScheme)
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	inner, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{inner: inner}, nil
}

type tcpListener struct {
	inner *net.TCPListener
}

func (l *tcpListener) Accept() (Connection, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	version, err := negotiateInbound(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newFrameConn(conn, version, tcpScheme), nil
}

func (l *tcpListener) Endpoint() string {
	return tcpScheme + l.inner.Addr().String()
}

func (l *tcpListener) Close() error {
	return l.inner.Close()
}

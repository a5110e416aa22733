package transport

import (
	"fmt"
	"strings"
	"sync"
)

const inprocScheme = "inproc://"

// InprocTransport connects co-located services through in-memory channel
// pairs. Endpoints are names in a transport-local registry, so two nodes in
// one process reach each other by sharing the same InprocTransport.
type InprocTransport struct {
	mu        sync.Mutex
	listeners map[string]*inprocListener
}

func NewInprocTransport() *InprocTransport {
	return &InprocTransport{listeners: make(map[string]*inprocListener)}
}

func (t *InprocTransport) Accepts(address string) bool {
	return strings.HasPrefix(address, inprocScheme)
}

func (t *InprocTransport) Connect(endpoint string) (Connection, error) {
	t.mu.Lock()
	listener, ok := t.listeners[endpoint]
	t.mu.Unlock()
	if !ok {
		return nil, &ConnectError{Endpoint: endpoint, Err: fmt.Errorf("no listener bound")}
	}

	local, remote := newInprocPair(endpoint)
	select {
	case listener.incoming <- remote:
		return local, nil
	case <-listener.closed:
		return nil, &ConnectError{Endpoint: endpoint, Err: fmt.Errorf("listener closed")}
	}
}

func (t *InprocTransport) Listen(bind string) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[bind]; ok {
		return nil, fmt.Errorf("%s already bound", bind)
	}
	l := &inprocListener{
		endpoint:  bind,
		incoming:  make(chan Connection, 16),
		closed:    make(chan struct{}),
		transport: t,
	}
	t.listeners[bind] = l
	return l, nil
}

func (t *InprocTransport) unbind(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, endpoint)
}

type inprocListener struct {
	endpoint  string
	incoming  chan Connection
	closed    chan struct{}
	closeOnce sync.Once
	transport *InprocTransport
}

func (l *inprocListener) Accept() (Connection, error) {
	select {
	case conn := <-l.incoming:
		return conn, nil
	case <-l.closed:
		return nil, ErrDisconnected
	}
}

func (l *inprocListener) Endpoint() string { return l.endpoint }

func (l *inprocListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.transport.unbind(l.endpoint)
	})
	return nil
}

type inprocConn struct {
	endpoint  string
	send      chan []byte
	recv      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	peer      *inprocConn
}

func newInprocPair(endpoint string) (*inprocConn, *inprocConn) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	a := &inprocConn{endpoint: endpoint, send: a2b, recv: b2a, closed: make(chan struct{})}
	b := &inprocConn{endpoint: endpoint, send: b2a, recv: a2b, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *inprocConn) Send(message []byte) error {
	buf := make([]byte, len(message))
	copy(buf, message)
	select {
	case <-c.closed:
		return ErrDisconnected
	case <-c.peer.closed:
		return ErrDisconnected
	case c.send <- buf:
		return nil
	}
}

func (c *inprocConn) Recv() ([]byte, error) {
	select {
	case msg := <-c.recv:
		return msg, nil
	case <-c.closed:
		return nil, ErrDisconnected
	case <-c.peer.closed:
		// drain what the peer managed to send before it closed.
		select {
		case msg := <-c.recv:
			return msg, nil
		default:
			return nil, ErrDisconnected
		}
	}
}

func (c *inprocConn) Disconnect() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *inprocConn) LocalEndpoint() string { return c.endpoint }

func (c *inprocConn) RemoteEndpoint() string { return c.endpoint }

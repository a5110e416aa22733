package network

import (
	"sync"

	"go.uber.org/zap"

	"splinter/configs"
	"splinter/transport"
	"splinter/utils"
)

// Matrix is the many-to-many byte router behind authorized connections.
// Each registered connection gets a reader goroutine feeding the shared
// inbound channel and a writer goroutine draining a bounded FIFO queue, so
// per-connection send ordering is preserved.
type Matrix struct {
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*matrixConn

	inbound      chan Envelope
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

type matrixConn struct {
	id        string
	conn      transport.Connection
	sendQueue chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewMatrix(logger *zap.Logger) *Matrix {
	return &Matrix{
		logger:   logger,
		conns:    make(map[string]*matrixConn),
		inbound:  make(chan Envelope, configs.DispatchQueue),
		shutdown: make(chan struct{}),
	}
}

// AddConnection registers an authorized connection under its id.
func (m *Matrix) AddConnection(id string, conn transport.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; ok {
		return utils.Errorf(utils.KindInvalidState, "connection %s already registered", id)
	}
	mc := &matrixConn{
		id:        id,
		conn:      conn,
		sendQueue: make(chan []byte, configs.MatrixSendQueue),
		done:      make(chan struct{}),
	}
	m.conns[id] = mc
	go m.readLoop(mc)
	go m.writeLoop(mc)
	return nil
}

// RemoveConnection deregisters and disconnects id. Unknown ids are a no-op.
func (m *Matrix) RemoveConnection(id string) {
	m.mu.Lock()
	mc, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if ok {
		mc.close()
	}
}

// Send queues payload on id's FIFO. A full queue or unknown id surfaces a
// NetworkSendError carrying the payload back to the caller.
func (m *Matrix) Send(id string, payload []byte) error {
	m.mu.Lock()
	mc, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return &utils.NetworkSendError{Recipient: id, Payload: payload}
	}
	select {
	case mc.sendQueue <- payload:
		return nil
	case <-mc.done:
		return &utils.NetworkSendError{Recipient: id, Payload: payload}
	default:
		return &utils.NetworkSendError{Recipient: id, Payload: payload}
	}
}

// SendHeartbeat queues a heartbeat frame, dropping it when the queue is
// full. The returned flag reports whether the connection is still known.
func (m *Matrix) SendHeartbeat(id string, payload []byte) bool {
	m.mu.Lock()
	mc, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case mc.sendQueue <- payload:
	default:
		m.logger.Debug("heartbeat dropped, send queue full", zap.String("connection_id", id))
	}
	return true
}

// Recv blocks for the next inbound frame from any connection.
func (m *Matrix) Recv() (Envelope, bool) {
	select {
	case env := <-m.inbound:
		return env, true
	case <-m.shutdown:
		return Envelope{}, false
	}
}

// ListConnections returns the registered connection ids.
func (m *Matrix) ListConnections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown disconnects everything and releases Recv callers.
func (m *Matrix) Shutdown() {
	m.shutdownOnce.Do(func() { close(m.shutdown) })
	m.mu.Lock()
	conns := make([]*matrixConn, 0, len(m.conns))
	for _, mc := range m.conns {
		conns = append(conns, mc)
	}
	m.conns = make(map[string]*matrixConn)
	m.mu.Unlock()
	for _, mc := range conns {
		mc.close()
	}
}

func (m *Matrix) readLoop(mc *matrixConn) {
	for {
		payload, err := mc.conn.Recv()
		if err != nil {
			select {
			case <-mc.done:
			case <-m.shutdown:
			default:
				m.logger.Debug("connection read failed",
					zap.String("connection_id", mc.id), zap.Error(err))
				m.RemoveConnection(mc.id)
			}
			return
		}
		select {
		case m.inbound <- Envelope{ConnectionID: mc.id, Payload: payload}:
		case <-m.shutdown:
			return
		}
	}
}

func (m *Matrix) writeLoop(mc *matrixConn) {
	for {
		select {
		case payload := <-mc.sendQueue:
			if err := mc.conn.Send(payload); err != nil {
				m.logger.Debug("connection write failed",
					zap.String("connection_id", mc.id), zap.Error(err))
				m.RemoveConnection(mc.id)
				return
			}
		case <-mc.done:
			return
		case <-m.shutdown:
			return
		}
	}
}

func (mc *matrixConn) close() {
	mc.closeOnce.Do(func() {
		close(mc.done)
		mc.conn.Disconnect()
	})
}

// Package connection owns the lifecycle of every byte-level connection:
// dialing, authorization gating, heartbeats, reconnection with capped
// backoff, and registration with the matrix. All state lives in a single
// goroutine reached exclusively by message passing.
package connection

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"splinter/configs"
	"splinter/network"
	"splinter/network/auth"
	"splinter/transport"
	"splinter/utils"
	"splinter/wire"
)

// NotificationKind discriminates subscriber notifications.
type NotificationKind int

const (
	Connected NotificationKind = iota
	Disconnected
	InboundDisconnected
	FatalConnectionError
)

// Notification is delivered to subscribers on connection state changes.
type Notification struct {
	Kind         NotificationKind
	Endpoint     string
	ConnectionID string
	Identity     auth.Identity
	Inbound      bool
	Err          error
}

// OutboundResult answers a RequestOutbound call.
type OutboundResult struct {
	ConnectionID string
	Endpoint     string
	Identity     auth.Identity
	Err          error
}

type connMeta struct {
	id       string
	endpoint string
	identity auth.Identity
	outbound bool
	state    *stateMachine

	retryFrequency time.Duration
	nextRetry      time.Time
}

type command interface{}

type requestOutboundCmd struct {
	endpoint     string
	connectionID string
	reply        chan OutboundResult
}

type addInboundCmd struct {
	conn transport.Connection
}

type removeConnectionCmd struct {
	endpoint string
	reply    chan error
}

type listConnectionsCmd struct {
	reply chan []string
}

type subscribeCmd struct {
	ch    chan Notification
	reply chan int
}

type unsubscribeCmd struct {
	id int
}

type dialResultCmd struct {
	meta  *connMeta
	conn  transport.Connection
	err   error
	reply chan OutboundResult
}

type heartbeatTick struct{}

// Manager is the connection manager. Construct with NewManager, then Start.
type Manager struct {
	logger    *zap.Logger
	transport transport.Transport
	matrix    *network.Matrix
	authMgr   *auth.Manager

	commands chan command
	done     chan struct{}
	stopped  chan struct{}
}

func NewManager(logger *zap.Logger, tp transport.Transport, matrix *network.Matrix, authMgr *auth.Manager) *Manager {
	return &Manager{
		logger:    logger,
		transport: tp,
		matrix:    matrix,
		authMgr:   authMgr,
		commands:  make(chan command, 64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start launches the manager goroutine and its pacemaker.
func (m *Manager) Start() {
	go m.run()
	go m.pacemaker()
}

// Shutdown stops the manager; registered connections are torn down by the
// matrix shutdown that follows in boot-reverse order.
func (m *Manager) Shutdown() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}
	select {
	case <-m.stopped:
	case <-time.After(configs.ShutdownGracePeriod):
		m.logger.Warn("connection manager did not stop within grace period")
	}
}

// RequestOutbound dials endpoint, authorizes, and registers the connection
// with the matrix under connectionID. The endpoint is remembered for
// reconnection. The result arrives on reply.
func (m *Manager) RequestOutbound(endpoint, connectionID string, reply chan OutboundResult) {
	select {
	case m.commands <- requestOutboundCmd{endpoint: endpoint, connectionID: connectionID, reply: reply}:
	case <-m.done:
		reply <- OutboundResult{
			Endpoint: endpoint,
			Err:      utils.NewError(utils.KindInvalidState, "connection manager stopped"),
		}
	}
}

// AddInbound authorizes and registers an accepted connection.
func (m *Manager) AddInbound(conn transport.Connection) {
	m.submit(addInboundCmd{conn: conn})
}

// RemoveConnection deregisters and disconnects the connection to endpoint.
func (m *Manager) RemoveConnection(endpoint string) error {
	reply := make(chan error, 1)
	m.submit(removeConnectionCmd{endpoint: endpoint, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return utils.NewError(utils.KindInvalidState, "connection manager stopped")
	}
}

// ListConnections returns the endpoints of all managed connections.
func (m *Manager) ListConnections() []string {
	reply := make(chan []string, 1)
	m.submit(listConnectionsCmd{reply: reply})
	select {
	case list := <-reply:
		return list
	case <-m.done:
		return nil
	}
}

// Subscribe registers ch for notifications and returns a subscriber id.
func (m *Manager) Subscribe(ch chan Notification) int {
	reply := make(chan int, 1)
	m.submit(subscribeCmd{ch: ch, reply: reply})
	select {
	case id := <-reply:
		return id
	case <-m.done:
		return -1
	}
}

// Unsubscribe removes a subscriber.
func (m *Manager) Unsubscribe(id int) {
	m.submit(unsubscribeCmd{id: id})
}

func (m *Manager) submit(cmd command) bool {
	select {
	case m.commands <- cmd:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) pacemaker() {
	ticker := time.NewTicker(configs.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.submit(heartbeatTick{})
		case <-m.done:
			return
		}
	}
}

func (m *Manager) run() {
	defer close(m.stopped)

	connections := make(map[string]*connMeta)
	subscribers := make(map[int]chan Notification)
	nextSubscriber := 0

	notify := func(n Notification) {
		for id, ch := range subscribers {
			select {
			case ch <- n:
			default:
				m.logger.Error("dropping notification for slow subscriber",
					zap.Int("subscriber_id", id))
			}
		}
	}

	for {
		select {
		case <-m.done:
			return
		case cmd := <-m.commands:
			switch c := cmd.(type) {
			case requestOutboundCmd:
				if existing, ok := connections[c.endpoint]; ok && existing.state.Status() == StatusConnected {
					c.reply <- OutboundResult{ConnectionID: existing.id, Endpoint: c.endpoint, Identity: existing.identity}
					continue
				}
				meta := &connMeta{
					id:             c.connectionID,
					endpoint:       c.endpoint,
					outbound:       true,
					state:          newStateMachine(),
					retryFrequency: configs.InitialRetryFrequency,
				}
				go m.dial(meta, c.reply)

			case addInboundCmd:
				go m.acceptInbound(c.conn)

			case dialResultCmd:
				if c.err != nil {
					if c.reply != nil {
						c.reply <- OutboundResult{Endpoint: c.meta.endpoint, Err: c.err}
					}
					if utils.KindOf(c.err) == utils.KindUnauthorized {
						// a refusal will not heal on retry.
						delete(connections, c.meta.endpoint)
						notify(Notification{Kind: FatalConnectionError, Endpoint: c.meta.endpoint, Err: c.err})
						continue
					}
					if c.meta.outbound {
						c.meta.state.set(StatusReconnecting)
						c.meta.retryFrequency *= 2
						if c.meta.retryFrequency > configs.MaximumRetryFrequency {
							c.meta.retryFrequency = configs.MaximumRetryFrequency
						}
						c.meta.nextRetry = time.Now().Add(c.meta.retryFrequency)
						connections[c.meta.endpoint] = c.meta
					}
					continue
				}

				if err := m.matrix.AddConnection(c.meta.id, c.conn); err != nil {
					m.logger.Error("unable to register authorized connection",
						zap.String("endpoint", c.meta.endpoint), zap.Error(err))
					c.conn.Disconnect()
					if c.reply != nil {
						c.reply <- OutboundResult{Endpoint: c.meta.endpoint, Err: err}
					}
					continue
				}
				c.meta.state.set(StatusConnected)
				c.meta.retryFrequency = configs.InitialRetryFrequency
				connections[c.meta.endpoint] = c.meta
				notify(Notification{
					Kind:         Connected,
					Endpoint:     c.meta.endpoint,
					ConnectionID: c.meta.id,
					Identity:     c.meta.identity,
					Inbound:      !c.meta.outbound,
				})
				if c.reply != nil {
					c.reply <- OutboundResult{
						ConnectionID: c.meta.id,
						Endpoint:     c.meta.endpoint,
						Identity:     c.meta.identity,
					}
				}

			case removeConnectionCmd:
				meta, ok := connections[c.endpoint]
				if !ok {
					c.reply <- utils.Errorf(utils.KindNotFound, "no connection for %s", c.endpoint)
					continue
				}
				delete(connections, c.endpoint)
				m.matrix.RemoveConnection(meta.id)
				meta.state.set(StatusDisconnected)
				c.reply <- nil

			case listConnectionsCmd:
				list := make([]string, 0, len(connections))
				for endpoint := range connections {
					list = append(list, endpoint)
				}
				c.reply <- list

			case subscribeCmd:
				id := nextSubscriber
				nextSubscriber++
				subscribers[id] = c.ch
				c.reply <- id

			case unsubscribeCmd:
				delete(subscribers, c.id)

			case heartbeatTick:
				frame, err := wire.WrapNetworkMessage(wire.NetworkHeartbeatType, &wire.NetworkHeartbeat{})
				if err != nil {
					m.logger.Error("unable to build heartbeat", zap.Error(err))
					continue
				}
				now := time.Now()
				for endpoint, meta := range connections {
					switch meta.state.Status() {
					case StatusConnected:
						if !m.matrix.SendHeartbeat(meta.id, frame) {
							// the matrix lost the connection under us.
							if meta.outbound {
								if err := meta.state.transit(StatusConnected, StatusReconnecting); err != nil {
									m.logger.Warn("unable to mark connection reconnecting", zap.Error(err))
									continue
								}
								meta.nextRetry = now
								notify(Notification{Kind: Disconnected, Endpoint: endpoint, ConnectionID: meta.id})
							} else {
								// inbound connections are announced once and
								// not actively reconnected.
								meta.state.set(StatusDisconnected)
								delete(connections, endpoint)
								notify(Notification{Kind: InboundDisconnected, Endpoint: endpoint, ConnectionID: meta.id})
							}
						}
					case StatusReconnecting:
						if !meta.nextRetry.After(now) {
							go m.dial(meta, nil)
							// push the next attempt out in case this one
							// also fails; success resets the frequency.
							meta.retryFrequency *= 2
							if meta.retryFrequency > configs.MaximumRetryFrequency {
								meta.retryFrequency = configs.MaximumRetryFrequency
							}
							meta.nextRetry = now.Add(meta.retryFrequency)
						}
					}
				}
			}
		}
	}
}

// Listen accepts connections from listener and feeds them through inbound
// authorization until shutdown. Concurrent handshakes are bounded by a
// semaphore so an accept storm cannot exhaust the node.
func (m *Manager) Listen(listener transport.Listener) {
	sem := make(chan struct{}, configs.MaxConnectionHandler)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-m.done:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) || errors.Is(err, transport.ErrDisconnected) {
					return
				}
				// per-connection failures (e.g. frame version rejection)
				// must not take the listener down.
				m.logger.Debug("accept failed",
					zap.String("endpoint", listener.Endpoint()), zap.Error(err))
				continue
			}
			sem <- struct{}{}
			go func(conn transport.Connection) {
				defer func() { <-sem }()
				m.acceptInbound(conn)
			}(conn)
		}
	}()
	go func() {
		<-m.done
		listener.Close()
	}()
}

// dial connects and authorizes off the manager goroutine, reporting back
// through a dialResultCmd.
func (m *Manager) dial(meta *connMeta, reply chan OutboundResult) {
	submitResult := func(cmd dialResultCmd) {
		if m.submit(cmd) {
			return
		}
		// manager stopped mid-dial; release the caller directly.
		if cmd.conn != nil {
			cmd.conn.Disconnect()
		}
		if cmd.reply != nil {
			cmd.reply <- OutboundResult{
				Endpoint: meta.endpoint,
				Err:      utils.NewError(utils.KindInvalidState, "connection manager stopped"),
			}
		}
	}

	conn, err := m.transport.Connect(meta.endpoint)
	if err != nil {
		m.logger.Debug("dial failed", zap.String("endpoint", meta.endpoint), zap.Error(err))
		submitResult(dialResultCmd{meta: meta, err: err, reply: reply})
		return
	}
	identity, err := m.authMgr.Authorize(meta.id, conn)
	if err != nil {
		m.logger.Info("authorization failed",
			zap.String("endpoint", meta.endpoint), zap.Error(err))
		conn.Disconnect()
		submitResult(dialResultCmd{meta: meta, err: err, reply: reply})
		return
	}
	meta.identity = identity
	submitResult(dialResultCmd{meta: meta, conn: conn, reply: reply})
}

// acceptInbound authorizes an accepted connection and registers it.
func (m *Manager) acceptInbound(conn transport.Connection) {
	meta := &connMeta{
		id:       utils.NewConnectionID(),
		endpoint: conn.RemoteEndpoint(),
		outbound: false,
		state:    newStateMachine(),
	}
	identity, err := m.authMgr.Authorize(meta.id, conn)
	if err != nil {
		m.logger.Info("inbound authorization failed",
			zap.String("endpoint", meta.endpoint), zap.Error(err))
		conn.Disconnect()
		return
	}
	meta.identity = identity
	m.submit(dialResultCmd{meta: meta, conn: conn})
}

// Package peer resolves remote node identities to connections. Peers are
// reference counted: AddPeer returns a PeerRef whose Close decrements the
// count, and the underlying connection is released when the last reference
// drops.
package peer

import (
	"sync"

	"go.uber.org/zap"

	"splinter/configs"
	"splinter/network/connection"
	"splinter/utils"
)

// Notification is delivered to subscribers when peer connectivity changes.
type Notification struct {
	Kind   NotificationKind
	PeerID string
}

type NotificationKind int

const (
	PeerConnected NotificationKind = iota
	PeerDisconnected
)

type peerEntry struct {
	peerID            string
	connectionID      string
	endpoints         []string
	lastKnownEndpoint string
	refCount          int
	connected         bool
}

// Manager maintains the peer map on top of the connection manager.
type Manager struct {
	logger  *zap.Logger
	connMgr *connection.Manager

	mu          sync.Mutex
	peers       map[string]*peerEntry
	byConnID    map[string]string
	subscribers map[int]chan Notification
	nextSub     int

	notifications chan connection.Notification
	subscriberID  int
	done          chan struct{}
}

func NewManager(logger *zap.Logger, connMgr *connection.Manager) *Manager {
	return &Manager{
		logger:      logger,
		connMgr:     connMgr,
		peers:       make(map[string]*peerEntry),
		byConnID:    make(map[string]string),
		subscribers: make(map[int]chan Notification),
		done:        make(chan struct{}),
	}
}

// Start subscribes to connection notifications and begins tracking.
func (m *Manager) Start() {
	m.notifications = make(chan connection.Notification, 32)
	m.subscriberID = m.connMgr.Subscribe(m.notifications)
	go m.watch()
}

// Shutdown stops notification tracking.
func (m *Manager) Shutdown() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}
	m.connMgr.Unsubscribe(m.subscriberID)
}

// AddPeer requests a connection to peerID over its known endpoints and
// returns a counted reference. Repeated calls for a live peer share the
// session and bump the count.
func (m *Manager) AddPeer(peerID string, endpoints []string) (*PeerRef, error) {
	m.mu.Lock()
	if entry, ok := m.peers[peerID]; ok && entry.connected {
		entry.refCount++
		entry.endpoints = endpoints
		m.mu.Unlock()
		return &PeerRef{manager: m, peerID: peerID}, nil
	}
	m.mu.Unlock()

	var lastErr error
	for _, endpoint := range endpoints {
		reply := make(chan connection.OutboundResult, 1)
		m.connMgr.RequestOutbound(endpoint, utils.NewConnectionID(), reply)
		result := <-reply
		if result.Err != nil {
			lastErr = result.Err
			continue
		}

		identity := result.Identity.String()
		if identity != peerID {
			lastErr = utils.Errorf(utils.KindUnauthorized,
				"endpoint %s identified as %s, expected %s", endpoint, identity, peerID)
			if err := m.connMgr.RemoveConnection(endpoint); err != nil {
				m.logger.Debug("unable to drop misidentified connection", zap.Error(err))
			}
			continue
		}

		m.mu.Lock()
		entry, ok := m.peers[peerID]
		if !ok {
			entry = &peerEntry{peerID: peerID}
			m.peers[peerID] = entry
		}
		entry.connectionID = result.ConnectionID
		entry.endpoints = endpoints
		entry.lastKnownEndpoint = endpoint
		entry.refCount++
		entry.connected = true
		m.byConnID[result.ConnectionID] = peerID
		m.mu.Unlock()

		m.notify(Notification{Kind: PeerConnected, PeerID: peerID})
		return &PeerRef{manager: m, peerID: peerID}, nil
	}
	if lastErr == nil {
		lastErr = utils.Errorf(utils.KindInvalidState, "no endpoints for peer %s", peerID)
	}
	return nil, lastErr
}

// RegisterInbound records a peer session established by the remote side.
// The returned ref keeps the session alive like an outbound one.
func (m *Manager) RegisterInbound(peerID, connectionID string) *PeerRef {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if !ok {
		entry = &peerEntry{peerID: peerID}
		m.peers[peerID] = entry
	}
	entry.connectionID = connectionID
	entry.refCount++
	entry.connected = true
	m.byConnID[connectionID] = peerID
	m.mu.Unlock()
	m.notify(Notification{Kind: PeerConnected, PeerID: peerID})
	return &PeerRef{manager: m, peerID: peerID}
}

// ListPeers returns the ids of currently tracked peers.
func (m *Manager) ListPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionID resolves a peer id to its current connection id.
func (m *Manager) ConnectionID(peerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.peers[peerID]
	if !ok || !entry.connected {
		return "", false
	}
	return entry.connectionID, true
}

// PeerID resolves a connection id back to the peer it serves.
func (m *Manager) PeerID(connectionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byConnID[connectionID]
	return id, ok
}

// Subscribe registers ch for peer notifications.
func (m *Manager) Subscribe(ch chan Notification) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	return id
}

// Unsubscribe removes a subscriber.
func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

func (m *Manager) notify(n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- n:
		default:
			m.logger.Error("dropping peer notification for slow subscriber",
				zap.Int("subscriber_id", id))
		}
	}
}

func (m *Manager) release(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if !ok {
		m.mu.Unlock()
		if configs.StrictRefCounts {
			panic("released a reference for unknown peer " + peerID)
		}
		m.logger.Error("released a reference for unknown peer", zap.String("peer_id", peerID))
		return
	}
	entry.refCount--
	if entry.refCount < 0 {
		m.mu.Unlock()
		if configs.StrictRefCounts {
			panic("negative ref count for peer " + peerID)
		}
		m.logger.Error("negative ref count for peer", zap.String("peer_id", peerID))
		return
	}
	if entry.refCount > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peerID)
	delete(m.byConnID, entry.connectionID)
	endpoint := entry.lastKnownEndpoint
	m.mu.Unlock()

	if endpoint != "" {
		if err := m.connMgr.RemoveConnection(endpoint); err != nil && !utils.IsNotFound(err) {
			m.logger.Debug("unable to remove peer connection", zap.Error(err))
		}
	}
}

// watch tracks connection-level notifications, updating peer connectivity
// and announcing reconnects that land on different endpoints.
func (m *Manager) watch() {
	for {
		select {
		case <-m.done:
			return
		case n := <-m.notifications:
			switch n.Kind {
			case connection.Connected:
				m.mu.Lock()
				peerID, ok := m.byConnID[n.ConnectionID]
				if !ok {
					// a reconnect comes back with the original connection
					// id; a brand-new inbound connection is not a peer until
					// RegisterInbound.
					m.mu.Unlock()
					continue
				}
				entry := m.peers[peerID]
				wasDisconnected := !entry.connected
				entry.connected = true
				if n.Endpoint != "" {
					entry.lastKnownEndpoint = n.Endpoint
				}
				m.mu.Unlock()
				if wasDisconnected {
					m.notify(Notification{Kind: PeerConnected, PeerID: peerID})
				}
			case connection.Disconnected, connection.InboundDisconnected, connection.FatalConnectionError:
				m.mu.Lock()
				peerID, ok := m.byConnID[n.ConnectionID]
				if ok {
					m.peers[peerID].connected = false
				}
				m.mu.Unlock()
				if ok {
					m.notify(Notification{Kind: PeerDisconnected, PeerID: peerID})
				}
			}
		}
	}
}

// PeerRef keeps a peer session alive. Close releases it.
type PeerRef struct {
	manager *Manager
	peerID  string
	once    sync.Once
}

// PeerID names the referenced peer.
func (r *PeerRef) PeerID() string { return r.peerID }

// Close decrements the peer's ref count.
func (r *PeerRef) Close() {
	r.once.Do(func() { r.manager.release(r.peerID) })
}

package auth

import (
	"crypto/ed25519"
	"sync"

	"go.uber.org/zap"

	"splinter/configs"
	"splinter/utils"
	"splinter/wire"
)

// Manager tracks the authorization state of every in-progress connection
// and owns the node's handshake material.
type Manager struct {
	logger   *zap.Logger
	identity string

	// signingKey enables challenge authorization when present.
	signingKey ed25519.PrivateKey

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	local            LocalState
	remote           RemoteState
	completeReceived bool
	remoteIdentity   Identity
	// issuedNonce is the nonce we handed out for the peer's challenge proof.
	issuedNonce []byte
	// pendingNonce is the nonce the peer handed us to sign.
	pendingNonce []byte
	failure      error
}

func NewManager(logger *zap.Logger, identity string, signingKey ed25519.PrivateKey) *Manager {
	return &Manager{
		logger:     logger,
		identity:   identity,
		signingKey: signingKey,
		records:    make(map[string]*record),
	}
}

// AcceptedTypes lists the authorization flavors this node offers responders.
func (m *Manager) AcceptedTypes() []wire.PeerAuthorizationType {
	types := []wire.PeerAuthorizationType{wire.PeerAuthTypeTrust}
	if m.signingKey != nil {
		types = append(types, wire.PeerAuthTypeChallenge)
	}
	return types
}

func (m *Manager) begin(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[connectionID] = &record{local: LocalStart, remote: RemoteStart}
}

func (m *Manager) remove(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, connectionID)
}

func (m *Manager) get(connectionID string) (*record, error) {
	rec, ok := m.records[connectionID]
	if !ok {
		return nil, utils.Errorf(utils.KindNotFound, "no authorization in progress for %s", connectionID)
	}
	return rec, nil
}

// NextLocalState applies action to the local machine of connectionID.
func (m *Manager) NextLocalState(connectionID string, action LocalAction) (LocalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.get(connectionID)
	if err != nil {
		return LocalStart, err
	}
	next, err := nextLocal(rec.local, action, rec.completeReceived)
	if err != nil {
		return rec.local, err
	}
	rec.local = next
	return next, nil
}

// NextRemoteState applies action to the remote machine of connectionID.
func (m *Manager) NextRemoteState(connectionID string, action RemoteAction) (RemoteState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.get(connectionID)
	if err != nil {
		return RemoteStart, err
	}
	next, err := nextRemote(rec.remote, action)
	if err != nil {
		return rec.remote, err
	}
	rec.remote = next
	return next, nil
}

// ReceivedComplete records the peer's AuthComplete; a local machine parked
// in WaitForComplete converges to AuthorizedAndComplete.
func (m *Manager) ReceivedComplete(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.get(connectionID)
	if err != nil {
		return err
	}
	rec.completeReceived = true
	if rec.local == LocalWaitForComplete {
		rec.local = LocalAuthorizedAndComplete
	}
	return nil
}

func (m *Manager) setRemoteIdentity(connectionID string, id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[connectionID]; ok {
		rec.remoteIdentity = id
	}
}

func (m *Manager) setFailure(connectionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[connectionID]; ok && rec.failure == nil {
		rec.failure = err
	}
}

// Status reports whether the handshake for connectionID reached both
// terminals, and surfaces any recorded failure.
func (m *Manager) Status(connectionID string) (done bool, identity Identity, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[connectionID]
	if !ok {
		return false, Identity{}, utils.Errorf(utils.KindNotFound, "no authorization in progress for %s", connectionID)
	}
	if rec.failure != nil {
		return false, Identity{}, rec.failure
	}
	return rec.local == LocalAuthorizedAndComplete && rec.remote == RemoteDone, rec.remoteIdentity, nil
}

// supportedProtocolVersion returns the version matching the peer's [min,
// max] advertisement against our own bounds, or zero when no agreement is
// possible.
func supportedProtocolVersion(logger *zap.Logger, min, max uint32) uint32 {
	if max < min {
		logger.Info("invalid authorization protocol request: min greater than max")
		return 0
	}
	if min > configs.PeerAuthorizationProtocolVersion {
		logger.Info("authorization request requires newer version than supported",
			zap.Uint32("min", min))
		return 0
	}
	if max < configs.PeerAuthorizationProtocolMin {
		logger.Info("authorization request requires older version than supported",
			zap.Uint32("max", max))
		return 0
	}
	if max >= configs.PeerAuthorizationProtocolVersion {
		return configs.PeerAuthorizationProtocolVersion
	}
	return max
}

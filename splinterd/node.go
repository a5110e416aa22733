package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"splinter/admin"
	adminstore "splinter/admin/store"
	"splinter/circuit"
	"splinter/configs"
	"splinter/network"
	"splinter/network/auth"
	"splinter/network/connection"
	"splinter/network/dispatch"
	"splinter/network/peer"
	"splinter/registry"
	"splinter/scabbard"
	scabbardstore "splinter/scabbard/store"
	"splinter/storage"
	"splinter/transport"
	"splinter/utils"
	"splinter/wire"
)

// Node assembles the full stack: transports, connection manager,
// authorization, peer manager, interconnect, dispatcher, routing table,
// admin service, and per-circuit scabbard services.
type Node struct {
	cfg    *configs.Config
	logger *zap.Logger

	transport transport.Transport
	matrix    *network.Matrix
	authMgr   *auth.Manager
	connMgr   *connection.Manager
	peerMgr   *peer.Manager
	loop      *dispatch.Loop
	intercon  *peer.Interconnect

	table    *circuit.RoutingTable
	handlers *circuit.Handlers

	adminStore adminstore.Store
	events     *admin.EventBus
	adminSvc   *admin.Service
	client     *admin.Client
	signer     *admin.Signer

	scabbardStore scabbardstore.Store
	registry      registry.Registry

	mu        sync.Mutex
	peerRefs  map[string]*peer.PeerRef
	scabbards map[circuit.ServiceID]*scabbard.Service
	listeners []transport.Listener

	connNotices chan connection.Notification
	eventSub    int
	done        chan struct{}
}

// NewNode builds an unstarted node over the given transport.
func NewNode(cfg *configs.Config, logger *zap.Logger, tp transport.Transport) (*Node, error) {
	return &Node{
		cfg:       cfg,
		logger:    logger.With(zap.String("node_id", cfg.NodeID)),
		transport: tp,
		peerRefs:  make(map[string]*peer.PeerRef),
		scabbards: make(map[circuit.ServiceID]*scabbard.Service),
		done:      make(chan struct{}),
	}, nil
}

// keyRegistry resolves admin keys from config, plus the node's own key.
type keyRegistry struct {
	own     string
	ownKey  ed25519.PublicKey
	entries map[string]string
}

func (r *keyRegistry) AdminKey(nodeID string) (ed25519.PublicKey, bool) {
	if nodeID == r.own {
		return r.ownKey, true
	}
	encoded, ok := r.entries[nodeID]
	if !ok {
		return nil, false
	}
	key, err := hex.DecodeString(encoded)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, false
	}
	return key, true
}

// Start brings the node up in dependency order.
func (n *Node) Start() error {
	signingKey, err := n.signingKey()
	if err != nil {
		return err
	}
	n.signer = admin.NewSigner(n.cfg.NodeID, signingKey)

	db, postgres, err := storage.Open(n.cfg.Storage)
	if err != nil {
		return err
	}
	adminSQL, err := adminstore.NewSQLStore(db, postgres)
	if err != nil {
		return err
	}
	n.adminStore = adminSQL
	eventStore, err := adminstore.NewSQLEventStore(db, postgres, configs.AdminEventBound)
	if err != nil {
		return err
	}
	n.events = admin.NewEventBus(n.logger, eventStore)

	scabbardDB, scabbardPostgres, err := storage.Open(n.cfg.Storage)
	if err != nil {
		return err
	}
	n.scabbardStore, err = scabbardstore.NewSQLStore(scabbardDB, scabbardPostgres)
	if err != nil {
		return err
	}

	if n.cfg.RegistryMongo != "" {
		n.registry, err = registry.NewMongoRegistry(n.cfg.RegistryMongo, "splinter")
		if err != nil {
			return err
		}
	} else if n.cfg.RegistryFile != "" {
		n.registry, err = registry.NewFileRegistry(n.cfg.RegistryFile)
		if err != nil {
			return err
		}
	}

	n.matrix = network.NewMatrix(n.logger)
	// peers must resolve to node ids for circuit routing; challenge
	// authorization (key identities) is opt-in.
	var handshakeKey ed25519.PrivateKey
	if n.cfg.ChallengeAuth {
		handshakeKey = signingKey
	}
	n.authMgr = auth.NewManager(n.logger, n.cfg.NodeID, handshakeKey)
	n.connMgr = connection.NewManager(n.logger, n.transport, n.matrix, n.authMgr)
	n.peerMgr = peer.NewManager(n.logger, n.connMgr)

	n.table = circuit.NewRoutingTable()
	n.handlers = circuit.NewHandlers(n.logger, n.cfg.NodeID, n.table)

	dispatcher := dispatch.NewDispatcher(n.logger, nil)
	n.loop = dispatch.NewLoop(n.logger, dispatcher, configs.DispatchQueue)
	n.intercon = peer.NewInterconnect(n.logger, n.peerMgr, n.matrix, n.loop)
	sender := n.intercon.Sender()
	n.handlers.Register(dispatcher, sender)
	n.registerEchoHandler(dispatcher, sender)

	keys := &keyRegistry{
		own:     n.cfg.NodeID,
		ownKey:  n.signer.PublicKey(),
		entries: n.cfg.AdminKeys,
	}
	n.adminSvc = admin.NewService(
		n.logger, n.cfg.NodeID, keys, n.adminStore, n.events,
		&routingAdapter{node: n}, sender, n,
	)
	n.handlers.SetAdminReceiver(n.adminSvc)
	n.client = admin.NewClient(n.adminSvc, n.signer)

	// boot order: matrix feeds are live once the connection manager starts.
	n.connMgr.Start()
	n.peerMgr.Start()
	go n.loop.Run()
	n.intercon.Start()

	n.connNotices = make(chan connection.Notification, 64)
	n.connMgr.Subscribe(n.connNotices)
	go n.watchConnections()

	eventCh, eventSub := n.events.Subscribe(64)
	n.eventSub = eventSub
	go n.watchAdminEvents(eventCh)

	if err := n.adminSvc.Start(); err != nil {
		return err
	}
	// reinstate scabbard services for circuits committed before a restart.
	circuits, err := n.adminStore.ListCircuits()
	if err != nil {
		return err
	}
	for _, c := range circuits {
		if c.CircuitStatus == wire.CircuitStatusActive {
			n.startScabbardServices(c)
		}
	}

	for _, endpoint := range n.cfg.Endpoints {
		listener, err := n.transport.Listen(endpoint)
		if err != nil {
			return utils.WrapError(utils.KindInternal, err, "unable to bind endpoint")
		}
		n.listeners = append(n.listeners, listener)
		n.connMgr.Listen(listener)
	}
	n.logger.Info("node started", zap.Strings("endpoints", n.cfg.Endpoints))
	return nil
}

// Shutdown stops the node in reverse boot order.
func (n *Node) Shutdown() {
	select {
	case <-n.done:
		return
	default:
		close(n.done)
	}
	for _, listener := range n.listeners {
		listener.Close()
	}
	n.mu.Lock()
	services := make([]*scabbard.Service, 0, len(n.scabbards))
	for _, svc := range n.scabbards {
		services = append(services, svc)
	}
	n.mu.Unlock()
	for _, svc := range services {
		svc.Shutdown()
	}
	n.adminSvc.Shutdown()
	n.events.Unsubscribe(n.eventSub)
	n.intercon.Shutdown()
	n.loop.Stop()
	n.peerMgr.Shutdown()
	n.connMgr.Shutdown()
	n.matrix.Shutdown()
	if n.adminStore != nil {
		n.adminStore.Close()
	}
	if n.scabbardStore != nil {
		n.scabbardStore.Close()
	}
	n.logger.Info("node stopped")
}

// AdminClient is the in-process admin surface.
func (n *Node) AdminClient() *admin.Client { return n.client }

// Signer exposes the node's payload signer.
func (n *Node) Signer() *admin.Signer { return n.signer }

// ScabbardService returns the running instance for a circuit service.
func (n *Node) ScabbardService(id circuit.ServiceID) (*scabbard.Service, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	svc, ok := n.scabbards[id]
	return svc, ok
}

func (n *Node) signingKey() (ed25519.PrivateKey, error) {
	if n.cfg.AdminPrivateKey != "" {
		seed, err := hex.DecodeString(n.cfg.AdminPrivateKey)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, utils.NewError(utils.KindInvalidState, "admin.private_key must be a hex ed25519 seed")
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternal, err, "unable to generate signing key")
	}
	return key, nil
}

// EnsurePeer implements admin.PeerConnector: one durable ref per peer.
func (n *Node) EnsurePeer(nodeID string, endpoints []string) error {
	n.mu.Lock()
	_, ok := n.peerRefs[nodeID]
	n.mu.Unlock()
	if ok {
		return nil
	}
	if len(endpoints) == 0 && n.registry != nil {
		if node, err := n.registry.FetchNode(nodeID); err == nil {
			endpoints = node.Endpoints
		}
	}
	ref, err := n.peerMgr.AddPeer(nodeID, endpoints)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if _, ok := n.peerRefs[nodeID]; ok {
		n.mu.Unlock()
		ref.Close()
		return nil
	}
	n.peerRefs[nodeID] = ref
	n.mu.Unlock()
	return nil
}

// watchConnections registers inbound peers as they authorize.
func (n *Node) watchConnections() {
	for {
		select {
		case <-n.done:
			return
		case notice := <-n.connNotices:
			if notice.Kind == connection.Connected && notice.Inbound {
				peerID := notice.Identity.String()
				ref := n.peerMgr.RegisterInbound(peerID, notice.ConnectionID)
				n.mu.Lock()
				if _, ok := n.peerRefs[peerID]; ok {
					n.mu.Unlock()
					ref.Close()
					continue
				}
				n.peerRefs[peerID] = ref
				n.mu.Unlock()
			}
		}
	}
}

// watchAdminEvents reacts to lifecycle commits.
func (n *Node) watchAdminEvents(events <-chan *adminstore.Event) {
	for {
		select {
		case <-n.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case adminstore.CircuitReady:
				circuitDef, err := n.adminStore.FetchCircuit(event.Proposal.CircuitID)
				if err != nil {
					n.logger.Error("committed circuit missing from store", zap.Error(err))
					continue
				}
				n.startScabbardServices(circuitDef)
			case adminstore.CircuitDisbanded:
				n.stopScabbardServices(event.Proposal.CircuitID)
			}
		}
	}
}

// startScabbardServices launches this node's instances for a circuit.
func (n *Node) startScabbardServices(circuitDef *wire.Circuit) {
	roster := make([]string, 0, len(circuitDef.Roster))
	for _, svc := range circuitDef.Roster {
		roster = append(roster, svc.ServiceID)
	}

	for _, svc := range circuitDef.Roster {
		if !allowedHere(svc.AllowedNodes, n.cfg.NodeID) {
			continue
		}
		id := circuit.ServiceID{CircuitID: circuitDef.CircuitID, ServiceID: svc.ServiceID}
		n.mu.Lock()
		if _, running := n.scabbards[id]; running {
			n.mu.Unlock()
			continue
		}
		n.mu.Unlock()

		commitLogPath := filepath.Join(n.cfg.StateDir, "scabbard",
			circuitDef.CircuitID+"-"+svc.ServiceID)
		commits, err := scabbardstore.OpenCommitLog(commitLogPath)
		if err != nil {
			n.logger.Error("unable to open commit log",
				zap.String("service_id", svc.ServiceID), zap.Error(err))
			continue
		}

		circuitID := circuitDef.CircuitID
		instance := scabbard.NewService(
			n.logger, circuitID, svc.ServiceID, roster,
			n.scabbardStore, commits, &serviceNetwork{node: n},
			func() wire.CircuitStatus {
				if c, ok := n.table.Circuit(circuitID); ok {
					return c.Status
				}
				return wire.CircuitStatusUnset
			},
		)
		if err := instance.Start(); err != nil {
			n.logger.Error("unable to start scabbard service",
				zap.String("service_id", svc.ServiceID), zap.Error(err))
			commits.Close()
			continue
		}
		n.handlers.RegisterLocalService(id, instance)
		n.mu.Lock()
		n.scabbards[id] = instance
		n.mu.Unlock()
		n.logger.Info("scabbard service started",
			zap.String("circuit", circuitDef.CircuitID), zap.String("service_id", svc.ServiceID))
	}
}

// stopScabbardServices retires a circuit's local instances.
func (n *Node) stopScabbardServices(circuitID string) {
	n.mu.Lock()
	var retire []circuit.ServiceID
	for id := range n.scabbards {
		if id.CircuitID == circuitID {
			retire = append(retire, id)
		}
	}
	n.mu.Unlock()
	for _, id := range retire {
		n.mu.Lock()
		svc := n.scabbards[id]
		delete(n.scabbards, id)
		n.mu.Unlock()
		n.handlers.UnregisterLocalService(id)
		svc.Shutdown()
	}
}

func (n *Node) registerEchoHandler(dispatcher *dispatch.Dispatcher, sender dispatch.MessageSender) {
	dispatcher.SetHandler(int32(wire.NetworkEchoType), dispatch.HandlerFunc(
		func(ctx *dispatch.MessageContext, payload []byte, _ dispatch.MessageSender) error {
			var echo wire.NetworkEcho
			if err := echo.UnmarshalWire(payload); err != nil {
				return err
			}
			if echo.TimeToLive <= 0 || echo.Recipient == n.cfg.NodeID {
				return nil
			}
			echo.TimeToLive--
			frame, err := wire.WrapNetworkMessage(wire.NetworkEchoType, &echo)
			if err != nil {
				return err
			}
			return sender.Send(echo.Recipient, frame)
		}))
}

func allowedHere(allowed []string, nodeID string) bool {
	for _, id := range allowed {
		if id == nodeID {
			return true
		}
	}
	return false
}

// routingAdapter translates the admin service's routing writes onto the
// routing table.
type routingAdapter struct {
	node *Node
}

func (a *routingAdapter) AddCircuit(c admin.CircuitRouting) {
	members := make([]string, 0, len(c.Circuit.Members))
	nodes := make([]circuit.Node, 0, len(c.Circuit.Members))
	for _, m := range c.Circuit.Members {
		members = append(members, m.NodeID)
		nodes = append(nodes, circuit.Node{ID: m.NodeID, Endpoints: m.Endpoints})
	}
	roster := make([]string, 0, len(c.Services))
	services := make([]circuit.Service, 0, len(c.Services))
	for _, svc := range c.Services {
		roster = append(roster, svc.ServiceID)
		serving := ""
		if len(svc.AllowedNodes) > 0 {
			serving = svc.AllowedNodes[0]
		}
		services = append(services, circuit.Service{
			ID:           circuit.ServiceID{CircuitID: c.Circuit.CircuitID, ServiceID: svc.ServiceID},
			ServiceType:  svc.ServiceType,
			AllowedNodes: svc.AllowedNodes,
			Node:         serving,
		})
	}
	a.node.table.AddCircuit(circuit.Circuit{
		ID:                c.Circuit.CircuitID,
		Members:           members,
		Roster:            roster,
		AuthorizationType: c.Circuit.AuthorizationType,
		Status:            c.Circuit.CircuitStatus,
	}, services, nodes)
}

func (a *routingAdapter) RemoveCircuit(circuitID string) {
	a.node.table.RemoveCircuit(circuitID)
}

func (a *routingAdapter) SetCircuitStatus(circuitID string, status wire.CircuitStatus) error {
	return a.node.table.SetCircuitStatus(circuitID, status)
}

// serviceNetwork routes scabbard service traffic through the circuit
// plane.
type serviceNetwork struct {
	node *Node
}

func (s *serviceNetwork) SendServiceMessage(from, to circuit.ServiceID, payload []byte) error {
	msg := &wire.CircuitDirectMessage{
		Circuit:       from.CircuitID,
		Sender:        from.ServiceID,
		Recipient:     to.ServiceID,
		Payload:       payload,
		CorrelationID: utils.NewCorrelationID(),
	}
	return s.node.handlers.RouteDirectMessage(msg, s.node.intercon.Sender(), "")
}

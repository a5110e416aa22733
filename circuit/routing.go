// Package circuit holds the in-memory routing state of a node: which
// circuits exist, which services run on them, and which node serves each
// service. Writers are admin-service commits; readers are the message
// handlers, which receive cloned snapshots.
package circuit

import (
	"splinter/locks"
	"splinter/utils"
	"splinter/wire"
)

// ServiceID addresses a service within a circuit.
type ServiceID struct {
	CircuitID string
	ServiceID string
}

// Service is the routing view of a roster entry.
type Service struct {
	ID           ServiceID
	ServiceType  string
	AllowedNodes []string
	// Node is the member currently serving the service; taken from the
	// Service given to AddCircuit, or set by RegisterService when empty.
	Node string
}

// Node is the routing view of a member.
type Node struct {
	ID        string
	Endpoints []string
}

// Circuit is the routing view of a committed circuit.
type Circuit struct {
	ID                string
	Members           []string
	Roster            []string
	AuthorizationType wire.CircuitAuthorizationType
	Status            wire.CircuitStatus
}

// RoutingTable is the copy-on-read snapshot container. A single writer (the
// admin service) takes the write lock; handlers read cloned values under
// the read lock.
type RoutingTable struct {
	lock     *locks.RWLock
	circuits map[string]Circuit
	services map[ServiceID]Service
	nodes    map[string]Node
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		lock:     locks.NewLocker(),
		circuits: make(map[string]Circuit),
		services: make(map[ServiceID]Service),
		nodes:    make(map[string]Node),
	}
}

// AddCircuit installs a committed circuit with its services and nodes.
func (t *RoutingTable) AddCircuit(c Circuit, services []Service, nodes []Node) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.circuits[c.ID] = c
	for _, svc := range services {
		t.services[svc.ID] = svc
	}
	for _, n := range nodes {
		t.nodes[n.ID] = n
	}
}

// RemoveCircuit drops a circuit and its services. Nodes shared with other
// circuits are retained.
func (t *RoutingTable) RemoveCircuit(circuitID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.circuits, circuitID)
	for id := range t.services {
		if id.CircuitID == circuitID {
			delete(t.services, id)
		}
	}
}

// SetCircuitStatus updates the lifecycle status of a circuit.
func (t *RoutingTable) SetCircuitStatus(circuitID string, status wire.CircuitStatus) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	c, ok := t.circuits[circuitID]
	if !ok {
		return utils.Errorf(utils.KindNotFound, "circuit %s not in routing table", circuitID)
	}
	c.Status = status
	t.circuits[circuitID] = c
	return nil
}

// Circuit returns a snapshot of one circuit.
func (t *RoutingTable) Circuit(circuitID string) (Circuit, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	c, ok := t.circuits[circuitID]
	if !ok {
		return Circuit{}, false
	}
	return cloneCircuit(c), true
}

// Service returns a snapshot of one service.
func (t *RoutingTable) Service(id ServiceID) (Service, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	svc, ok := t.services[id]
	if !ok {
		return Service{}, false
	}
	return cloneService(svc), true
}

// Node returns a snapshot of one node.
func (t *RoutingTable) Node(nodeID string) (Node, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	n, ok := t.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return Node{ID: n.ID, Endpoints: append([]string(nil), n.Endpoints...)}, true
}

// ListCircuits returns snapshots of every circuit.
func (t *RoutingTable) ListCircuits() []Circuit {
	t.lock.RLock()
	defer t.lock.RUnlock()
	out := make([]Circuit, 0, len(t.circuits))
	for _, c := range t.circuits {
		out = append(out, cloneCircuit(c))
	}
	return out
}

// ListNodes returns snapshots of every node.
func (t *RoutingTable) ListNodes() []Node {
	t.lock.RLock()
	defer t.lock.RUnlock()
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, Node{ID: n.ID, Endpoints: append([]string(nil), n.Endpoints...)})
	}
	return out
}

// RegisterService records node as the server of id after a service
// connect.
func (t *RoutingTable) RegisterService(id ServiceID, node string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	svc, ok := t.services[id]
	if !ok {
		return utils.Errorf(utils.KindNotFound, "service %s not in circuit %s", id.ServiceID, id.CircuitID)
	}
	if svc.Node != "" {
		return utils.Errorf(utils.KindInvalidState, "service %s already registered", id.ServiceID)
	}
	svc.Node = node
	t.services[id] = svc
	return nil
}

// UnregisterService clears the serving node for id.
func (t *RoutingTable) UnregisterService(id ServiceID) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	svc, ok := t.services[id]
	if !ok {
		return utils.Errorf(utils.KindNotFound, "service %s not in circuit %s", id.ServiceID, id.CircuitID)
	}
	if svc.Node == "" {
		return utils.Errorf(utils.KindInvalidState, "service %s not registered", id.ServiceID)
	}
	svc.Node = ""
	t.services[id] = svc
	return nil
}

func cloneCircuit(c Circuit) Circuit {
	return Circuit{
		ID:                c.ID,
		Members:           append([]string(nil), c.Members...),
		Roster:            append([]string(nil), c.Roster...),
		AuthorizationType: c.AuthorizationType,
		Status:            c.Status,
	}
}

func cloneService(s Service) Service {
	return Service{
		ID:           s.ID,
		ServiceType:  s.ServiceType,
		AllowedNodes: append([]string(nil), s.AllowedNodes...),
		Node:         s.Node,
	}
}

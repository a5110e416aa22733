package circuit

import (
	"sync"

	"go.uber.org/zap"

	"splinter/network/dispatch"
	"splinter/utils"
	"splinter/wire"
)

// ServiceReceiver accepts direct messages addressed to a locally running
// service.
type ServiceReceiver interface {
	HandleServiceMessage(from, to ServiceID, payload []byte) error
}

// AdminReceiver accepts admin direct messages from peer admin services.
type AdminReceiver interface {
	HandleAdminMessage(fromNode string, payload []byte) error
}

// Handlers owns the CIRCUIT message plane: the nested dispatcher for
// circuit message types and the registry of locally running services.
type Handlers struct {
	logger *zap.Logger
	nodeID string
	table  *RoutingTable

	mu    sync.Mutex
	local map[ServiceID]ServiceReceiver
	admin AdminReceiver

	dispatcher *dispatch.Dispatcher
}

func NewHandlers(logger *zap.Logger, nodeID string, table *RoutingTable) *Handlers {
	return &Handlers{
		logger: logger,
		nodeID: nodeID,
		table:  table,
		local:  make(map[ServiceID]ServiceReceiver),
	}
}

// SetAdminReceiver wires the admin service into the plane.
func (h *Handlers) SetAdminReceiver(r AdminReceiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.admin = r
}

// RegisterLocalService attaches a receiver for a service this node runs.
func (h *Handlers) RegisterLocalService(id ServiceID, r ServiceReceiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.local[id] = r
}

// UnregisterLocalService detaches a local service receiver.
func (h *Handlers) UnregisterLocalService(id ServiceID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.local, id)
}

func (h *Handlers) localReceiver(id ServiceID) (ServiceReceiver, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.local[id]
	return r, ok
}

// Register installs the CIRCUIT envelope handler on the network dispatcher.
// The envelope handler decodes the inner CircuitMessage and re-dispatches
// it on a nested dispatcher under a child context.
func (h *Handlers) Register(network *dispatch.Dispatcher, sender dispatch.MessageSender) {
	nested := dispatch.NewDispatcher(h.logger, sender)
	nested.SetHandler(int32(wire.ServiceConnectRequestType), dispatch.HandlerFunc(h.handleServiceConnect))
	nested.SetHandler(int32(wire.ServiceDisconnectRequestType), dispatch.HandlerFunc(h.handleServiceDisconnect))
	nested.SetHandler(int32(wire.CircuitDirectMessageType), dispatch.HandlerFunc(h.handleDirectMessage))
	nested.SetHandler(int32(wire.AdminDirectMessageType), dispatch.HandlerFunc(h.handleAdminDirect))
	nested.SetHandler(int32(wire.CircuitErrorMessageType), dispatch.HandlerFunc(h.handleCircuitError))
	h.dispatcher = nested

	network.SetHandler(int32(wire.CircuitType), dispatch.HandlerFunc(
		func(ctx *dispatch.MessageContext, payload []byte, _ dispatch.MessageSender) error {
			var msg wire.CircuitMessage
			if err := msg.UnmarshalWire(payload); err != nil {
				return utils.WrapError(utils.KindProtocol, err, "malformed circuit message")
			}
			return nested.Dispatch(ctx.Child(int32(msg.MessageType)), msg.Payload)
		}))
}

func (h *Handlers) handleServiceConnect(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	var req wire.ServiceConnectRequest
	if err := req.UnmarshalWire(payload); err != nil {
		return err
	}
	peer := string(ctx.PeerID)

	resp := wire.ServiceConnectResponse{
		Circuit:       req.Circuit,
		ServiceID:     req.ServiceID,
		CorrelationID: req.CorrelationID,
		Status:        wire.ServiceConnectOK,
	}

	id := ServiceID{CircuitID: req.Circuit, ServiceID: req.ServiceID}
	if _, ok := h.table.Circuit(req.Circuit); !ok {
		resp.Status = wire.ServiceConnectErrCircuitDoesNotExist
		resp.ErrorMessage = "circuit does not exist"
	} else if svc, ok := h.table.Service(id); !ok {
		resp.Status = wire.ServiceConnectErrServiceNotInCircuit
		resp.ErrorMessage = "service is not in the circuit registry"
	} else if !contains(svc.AllowedNodes, peer) {
		resp.Status = wire.ServiceConnectErrNotAnAllowedNode
		resp.ErrorMessage = "node is not allowed to run the service"
	} else if err := h.table.RegisterService(id, peer); err != nil {
		resp.Status = wire.ServiceConnectErrServiceAlreadyRegistered
		resp.ErrorMessage = err.Error()
	}

	frame, err := wire.WrapCircuitMessage(wire.ServiceConnectResponseType, &resp)
	if err != nil {
		return err
	}
	return sender.Send(peer, frame)
}

func (h *Handlers) handleServiceDisconnect(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	var req wire.ServiceDisconnectRequest
	if err := req.UnmarshalWire(payload); err != nil {
		return err
	}
	peer := string(ctx.PeerID)

	resp := wire.ServiceDisconnectResponse{
		Circuit:       req.Circuit,
		ServiceID:     req.ServiceID,
		CorrelationID: req.CorrelationID,
		Status:        wire.ServiceDisconnectOK,
	}

	id := ServiceID{CircuitID: req.Circuit, ServiceID: req.ServiceID}
	if _, ok := h.table.Circuit(req.Circuit); !ok {
		resp.Status = wire.ServiceDisconnectErrCircuitDoesNotExist
		resp.ErrorMessage = "circuit does not exist"
	} else if _, ok := h.table.Service(id); !ok {
		resp.Status = wire.ServiceDisconnectErrServiceNotInCircuit
		resp.ErrorMessage = "service is not in the circuit registry"
	} else if err := h.table.UnregisterService(id); err != nil {
		resp.Status = wire.ServiceDisconnectErrServiceNotRegistered
		resp.ErrorMessage = err.Error()
	}

	frame, err := wire.WrapCircuitMessage(wire.ServiceDisconnectResponseType, &resp)
	if err != nil {
		return err
	}
	return sender.Send(peer, frame)
}

func (h *Handlers) handleDirectMessage(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	var msg wire.CircuitDirectMessage
	if err := msg.UnmarshalWire(payload); err != nil {
		return err
	}
	return h.RouteDirectMessage(&msg, sender, string(ctx.PeerID))
}

// RouteDirectMessage delivers msg to its recipient: locally when this node
// serves the recipient, otherwise forwarded to the serving peer. Routing
// failures are answered with a CircuitError to replyTo when set.
func (h *Handlers) RouteDirectMessage(msg *wire.CircuitDirectMessage, sender dispatch.MessageSender, replyTo string) error {
	fail := func(code wire.CircuitErrorCode, detail string) error {
		h.logger.Debug("unable to route direct message",
			zap.String("circuit", msg.Circuit),
			zap.String("recipient", msg.Recipient),
			zap.String("detail", detail))
		if replyTo == "" {
			return utils.NewError(utils.KindNotFound, detail)
		}
		errMsg := wire.CircuitError{
			CorrelationID: msg.CorrelationID,
			ServiceID:     msg.Sender,
			CircuitName:   msg.Circuit,
			Error:         code,
			ErrorMessage:  detail,
		}
		frame, err := wire.WrapCircuitMessage(wire.CircuitErrorMessageType, &errMsg)
		if err != nil {
			return err
		}
		return sender.Send(replyTo, frame)
	}

	if _, ok := h.table.Circuit(msg.Circuit); !ok {
		return fail(wire.CircuitErrorCircuitDoesNotExist, "circuit does not exist")
	}
	if _, ok := h.table.Service(ServiceID{CircuitID: msg.Circuit, ServiceID: msg.Sender}); !ok {
		return fail(wire.CircuitErrorSenderNotInCircuit, "sender is not in the circuit")
	}
	recipient := ServiceID{CircuitID: msg.Circuit, ServiceID: msg.Recipient}
	svc, ok := h.table.Service(recipient)
	if !ok {
		return fail(wire.CircuitErrorRecipientNotInCircuit, "recipient is not in the circuit")
	}
	if svc.Node == "" {
		return fail(wire.CircuitErrorRecipientNotConnected, "recipient is not connected")
	}

	if svc.Node == h.nodeID {
		receiver, ok := h.localReceiver(recipient)
		if !ok {
			return fail(wire.CircuitErrorRecipientNotConnected, "recipient is not connected")
		}
		return receiver.HandleServiceMessage(
			ServiceID{CircuitID: msg.Circuit, ServiceID: msg.Sender}, recipient, msg.Payload)
	}

	frame, err := wire.WrapCircuitMessage(wire.CircuitDirectMessageType, msg)
	if err != nil {
		return err
	}
	return sender.Send(svc.Node, frame)
}

func (h *Handlers) handleAdminDirect(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	var msg wire.AdminDirectMessage
	if err := msg.UnmarshalWire(payload); err != nil {
		return err
	}
	h.mu.Lock()
	admin := h.admin
	h.mu.Unlock()
	if admin == nil {
		h.logger.Warn("admin direct message without admin service, dropping")
		return nil
	}
	return admin.HandleAdminMessage(string(ctx.PeerID), msg.Payload)
}

func (h *Handlers) handleCircuitError(ctx *dispatch.MessageContext, payload []byte, _ dispatch.MessageSender) error {
	var msg wire.CircuitError
	if err := msg.UnmarshalWire(payload); err != nil {
		return err
	}
	h.logger.Warn("circuit error received",
		zap.String("circuit", msg.CircuitName),
		zap.String("service_id", msg.ServiceID),
		zap.String("message", msg.ErrorMessage))
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

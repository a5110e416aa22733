package peer

import (
	"time"

	"go.uber.org/zap"

	"splinter/network"
	"splinter/network/dispatch"
	"splinter/utils"
	"splinter/wire"
)

// NetworkMessageSender converts peer-addressed sends into matrix sends.
// Handlers hold this; an unknown peer surfaces the payload back as a
// NetworkSendError.
type NetworkMessageSender struct {
	peers  *Manager
	matrix *network.Matrix
}

func (s *NetworkMessageSender) Send(peerID string, payload []byte) error {
	connectionID, ok := s.peers.ConnectionID(peerID)
	if !ok {
		return &utils.NetworkSendError{Recipient: peerID, Payload: payload}
	}
	return s.matrix.Send(connectionID, payload)
}

// Interconnect pumps the matrix into a dispatcher: inbound frames are
// resolved from connection id to peer id, the outer envelope is decoded,
// and the payload is dispatched by network message type.
type Interconnect struct {
	logger *zap.Logger
	peers  *Manager
	matrix *network.Matrix
	loop   *dispatch.Loop
	sender *dispatch.LoopSender

	frames  chan network.Envelope
	retries chan retryFrame
	done    chan struct{}
}

// retryFrame is a frame that arrived before its connection was registered
// as a peer; it is retried briefly because peer registration races the
// first frames of a fresh connection.
type retryFrame struct {
	env      network.Envelope
	attempts int
}

const (
	maxFrameRetries  = 40
	frameRetryDelay  = 50 * time.Millisecond
)

func NewInterconnect(logger *zap.Logger, peers *Manager, matrix *network.Matrix, loop *dispatch.Loop) *Interconnect {
	return &Interconnect{
		logger:  logger,
		peers:   peers,
		matrix:  matrix,
		loop:    loop,
		sender:  loop.Sender(),
		frames:  make(chan network.Envelope, 64),
		retries: make(chan retryFrame, 64),
		done:    make(chan struct{}),
	}
}

// Sender returns the peer-addressed sender handed to handlers.
func (i *Interconnect) Sender() *NetworkMessageSender {
	return &NetworkMessageSender{peers: i.peers, matrix: i.matrix}
}

// Start launches the matrix reader and the dispatch pump.
func (i *Interconnect) Start() {
	go i.readMatrix()
	go i.pump()
}

// Shutdown stops the pump; the matrix shutdown releases the blocked Recv.
func (i *Interconnect) Shutdown() {
	select {
	case <-i.done:
	default:
		close(i.done)
	}
}

func (i *Interconnect) readMatrix() {
	for {
		env, ok := i.matrix.Recv()
		if !ok {
			return
		}
		select {
		case i.frames <- env:
		case <-i.done:
			return
		}
	}
}

func (i *Interconnect) pump() {
	for {
		var env network.Envelope
		attempts := 0
		select {
		case <-i.done:
			return
		case env = <-i.frames:
		case retry := <-i.retries:
			env = retry.env
			attempts = retry.attempts
		}
		i.handleFrame(env, attempts)
	}
}

func (i *Interconnect) handleFrame(env network.Envelope, attempts int) {
	var msg wire.NetworkMessage
	if err := msg.UnmarshalWire(env.Payload); err != nil {
		i.logger.Warn("dropping malformed frame",
			zap.String("connection_id", env.ConnectionID), zap.Error(err))
		return
	}
	if msg.MessageType == wire.NetworkHeartbeatType {
		return
	}

	peerID, known := i.peers.PeerID(env.ConnectionID)
	if !known {
		if attempts >= maxFrameRetries {
			i.logger.Warn("dropping frame from unpeered connection",
				zap.String("connection_id", env.ConnectionID),
				zap.String("message_type", msg.MessageType.String()))
			return
		}
		retry := retryFrame{env: env, attempts: attempts + 1}
		time.AfterFunc(frameRetryDelay, func() {
			select {
			case i.retries <- retry:
			case <-i.done:
			}
		})
		return
	}

	ctx := dispatch.NewContext(
		dispatch.PeerID(peerID),
		dispatch.ConnectionID(env.ConnectionID),
		int32(msg.MessageType),
	)
	if err := i.sender.Send(ctx, msg.Payload); err != nil {
		i.logger.Warn("dispatch loop rejected frame", zap.Error(err))
	}
}

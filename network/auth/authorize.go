package auth

import (
	"time"

	"go.uber.org/zap"

	"splinter/configs"
	"splinter/network/dispatch"
	"splinter/transport"
	"splinter/utils"
	"splinter/wire"
)

// connSender writes frames straight to the connection under handshake; the
// recipient is always the connection itself.
type connSender struct {
	conn transport.Connection
}

func (s *connSender) Send(recipient string, payload []byte) error {
	if err := s.conn.Send(payload); err != nil {
		return &utils.NetworkSendError{Recipient: recipient, Payload: payload}
	}
	return nil
}

// Authorize runs the full handshake on conn and returns the peer's verified
// identity. Both sides initiate their own local machine, so two interleaved
// handshakes share the connection. The connection is not registered with
// the matrix until this returns nil.
func (m *Manager) Authorize(connectionID string, conn transport.Connection) (Identity, error) {
	m.begin(connectionID)
	defer m.remove(connectionID)

	sender := &connSender{conn: conn}
	dispatcher := m.NewDispatcher(sender)

	if _, err := m.NextLocalState(connectionID, ActSendAuthProtocolRequest); err != nil {
		return Identity{}, err
	}
	frame, err := wire.WrapAuthorizationMessage(wire.AuthProtocolRequestType, &wire.AuthProtocolRequest{
		AuthProtocolMin: configs.PeerAuthorizationProtocolMin,
		AuthProtocolMax: configs.PeerAuthorizationProtocolVersion,
	})
	if err != nil {
		return Identity{}, err
	}
	if err := sender.Send(connectionID, frame); err != nil {
		return Identity{}, err
	}

	deadline := time.NewTimer(configs.AuthorizationTimeout)
	defer deadline.Stop()

	// Frames are read one at a time and fully processed before the next
	// Recv is issued: once the handshake completes there is no reader left
	// behind to steal frames from the matrix.
	type recvResult struct {
		payload []byte
		err     error
	}

	for {
		done, identity, err := m.Status(connectionID)
		if err != nil {
			return Identity{}, err
		}
		if done {
			return identity, nil
		}

		result := make(chan recvResult, 1)
		go func() {
			payload, err := conn.Recv()
			result <- recvResult{payload: payload, err: err}
		}()

		select {
		case r := <-result:
			if r.err != nil {
				return Identity{}, utils.WrapError(utils.KindProtocol, r.err, "connection lost during handshake")
			}
			var env wire.NetworkMessage
			if err := env.UnmarshalWire(r.payload); err != nil {
				return Identity{}, utils.WrapError(utils.KindProtocol, err, "malformed frame during handshake")
			}
			if env.MessageType != wire.AuthorizationType {
				m.logger.Warn("dropping non-authorization frame during handshake",
					zap.String("connection_id", connectionID),
					zap.String("message_type", env.MessageType.String()))
				continue
			}
			var authMsg wire.AuthorizationMessage
			if err := authMsg.UnmarshalWire(env.Payload); err != nil {
				return Identity{}, utils.WrapError(utils.KindProtocol, err, "malformed authorization message")
			}
			ctx := dispatch.NewContext("", dispatch.ConnectionID(connectionID), int32(authMsg.MessageType))
			if err := dispatcher.Dispatch(ctx, authMsg.Payload); err != nil {
				return Identity{}, err
			}
		case <-deadline.C:
			// the abandoned Recv unblocks when the caller closes the
			// connection.
			return Identity{}, utils.NewError(utils.KindProtocol, "authorization handshake timed out")
		}
	}
}

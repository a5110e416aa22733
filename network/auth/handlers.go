package auth

import (
	"crypto/ed25519"
	"crypto/rand"

	"go.uber.org/zap"

	"splinter/network/dispatch"
	"splinter/utils"
	"splinter/wire"
)

// NewDispatcher builds the dispatcher carrying all authorization handlers,
// keyed by wire.AuthorizationMessageType. Each connection's handshake runs
// this dispatcher with a sender bound to that connection.
func (m *Manager) NewDispatcher(sender dispatch.MessageSender) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(m.logger, sender)
	d.SetHandler(int32(wire.AuthProtocolRequestType), dispatch.HandlerFunc(m.handleProtocolRequest))
	d.SetHandler(int32(wire.AuthProtocolResponseType), dispatch.HandlerFunc(m.handleProtocolResponse))
	d.SetHandler(int32(wire.AuthTrustRequestType), dispatch.HandlerFunc(m.handleTrustRequest))
	d.SetHandler(int32(wire.AuthTrustResponseType), dispatch.HandlerFunc(m.handleTrustResponse))
	d.SetHandler(int32(wire.AuthCompleteType), dispatch.HandlerFunc(m.handleComplete))
	d.SetHandler(int32(wire.AuthorizationErrorType), dispatch.HandlerFunc(m.handleError))
	d.SetHandler(int32(wire.AuthChallengeNonceRequestType), dispatch.HandlerFunc(m.handleChallengeNonceRequest))
	d.SetHandler(int32(wire.AuthChallengeNonceResponseType), dispatch.HandlerFunc(m.handleChallengeNonceResponse))
	d.SetHandler(int32(wire.AuthChallengeSubmitRequestType), dispatch.HandlerFunc(m.handleChallengeSubmitRequest))
	d.SetHandler(int32(wire.AuthChallengeSubmitResponseType), dispatch.HandlerFunc(m.handleChallengeSubmitResponse))
	return d
}

func sendAuth(sender dispatch.MessageSender, connectionID string, t wire.AuthorizationMessageType, payload wire.Message) error {
	frame, err := wire.WrapAuthorizationMessage(t, payload)
	if err != nil {
		return err
	}
	return sender.Send(connectionID, frame)
}

func (m *Manager) handleProtocolRequest(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)
	m.logger.Debug("received authorization protocol request", zap.String("connection_id", connID))

	var req wire.AuthProtocolRequest
	if err := req.UnmarshalWire(payload); err != nil {
		return err
	}

	if _, err := m.NextRemoteState(connID, ActReceiveAuthProtocolRequest); err != nil {
		m.logger.Warn("ignoring authorization protocol request",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}

	version := supportedProtocolVersion(m.logger, req.AuthProtocolMin, req.AuthProtocolMax)
	if version == 0 {
		if err := sendAuth(sender, connID, wire.AuthorizationErrorType, &wire.AuthorizationError{
			Code:    wire.AuthorizationRejected,
			Message: "Unable to agree on protocol version",
		}); err != nil {
			return err
		}
		if _, err := m.NextRemoteState(connID, ActRemoteUnauthorizing); err != nil {
			m.logger.Warn("unable to move remote state to Unauthorizing",
				zap.String("connection_id", connID))
		}
		m.setFailure(connID, utils.NewError(utils.KindUnauthorized, "unable to agree on protocol version"))
		return nil
	}

	m.logger.Debug("sending agreed protocol version", zap.Uint32("version", version))
	if err := sendAuth(sender, connID, wire.AuthProtocolResponseType, &wire.AuthProtocolResponse{
		AuthProtocol:              version,
		AcceptedAuthorizationType: m.AcceptedTypes(),
	}); err != nil {
		return err
	}
	if _, err := m.NextRemoteState(connID, ActSendAuthProtocolResponse); err != nil {
		m.logger.Error("unable to transition to SentAuthProtocolResponse",
			zap.String("connection_id", connID), zap.Error(err))
	}
	return nil
}

func (m *Manager) handleProtocolResponse(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)
	m.logger.Debug("received authorization protocol response", zap.String("connection_id", connID))

	var resp wire.AuthProtocolResponse
	if err := resp.UnmarshalWire(payload); err != nil {
		return err
	}

	if _, err := m.NextLocalState(connID, ActReceiveAuthProtocolResponse); err != nil {
		m.logger.Warn("ignoring authorization protocol response",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}

	offersChallenge := false
	offersTrust := false
	for _, t := range resp.AcceptedAuthorizationType {
		switch t {
		case wire.PeerAuthTypeChallenge:
			offersChallenge = true
		case wire.PeerAuthTypeTrust:
			offersTrust = true
		}
	}

	// Prefer challenge when both sides can do it; fall back to trust.
	if offersChallenge && m.signingKey != nil {
		if _, err := m.NextLocalState(connID, ActSendChallengeNonceRequest); err != nil {
			m.logger.Error("unable to start challenge authorization", zap.Error(err))
			return nil
		}
		return sendAuth(sender, connID, wire.AuthChallengeNonceRequestType, &wire.AuthChallengeNonceRequest{})
	}
	if offersTrust {
		if _, err := m.NextLocalState(connID, ActSendAuthTrustRequest); err != nil {
			m.logger.Error("unable to start trust authorization", zap.Error(err))
			return nil
		}
		return sendAuth(sender, connID, wire.AuthTrustRequestType, &wire.AuthTrustRequest{Identity: m.identity})
	}

	m.setFailure(connID, utils.NewError(utils.KindUnauthorized, "no usable authorization type offered"))
	return nil
}

func (m *Manager) handleTrustRequest(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	var req wire.AuthTrustRequest
	if err := req.UnmarshalWire(payload); err != nil {
		return err
	}

	if _, err := m.NextRemoteState(connID, ActReceiveAuthTrustRequest); err != nil {
		m.logger.Warn("ignoring trust request",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}
	m.setRemoteIdentity(connID, Identity{Trust: req.Identity})

	m.logger.Debug("sending trust response",
		zap.String("connection_id", connID), zap.String("identity", req.Identity))
	if err := sendAuth(sender, connID, wire.AuthTrustResponseType, &wire.AuthTrustResponse{}); err != nil {
		return err
	}
	if _, err := m.NextRemoteState(connID, ActSendAuthTrustResponse); err != nil {
		m.logger.Error("unable to transition remote state to Done",
			zap.String("connection_id", connID), zap.Error(err))
	}
	return nil
}

func (m *Manager) handleTrustResponse(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	if _, err := m.NextLocalState(connID, ActReceiveAuthTrustResponse); err != nil {
		m.logger.Warn("ignoring trust response",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}
	return m.finishLocal(connID, sender)
}

// finishLocal sends AuthComplete after the local side reached Authorized.
func (m *Manager) finishLocal(connID string, sender dispatch.MessageSender) error {
	if err := sendAuth(sender, connID, wire.AuthCompleteType, &wire.AuthComplete{}); err != nil {
		return err
	}
	if _, err := m.NextLocalState(connID, ActSendAuthComplete); err != nil {
		m.logger.Warn("cannot transition connection from Authorized",
			zap.String("connection_id", connID), zap.Error(err))
	}
	return nil
}

func (m *Manager) handleComplete(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)
	if err := m.ReceivedComplete(connID); err != nil {
		m.logger.Warn("ignoring authorization complete",
			zap.String("connection_id", connID), zap.Error(err))
	}
	return nil
}

func (m *Manager) handleError(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	var authErr wire.AuthorizationError
	if err := authErr.UnmarshalWire(payload); err != nil {
		return err
	}
	m.logger.Info("authorization rejected by peer",
		zap.String("connection_id", connID), zap.String("message", authErr.Message))
	m.setFailure(connID, utils.Errorf(utils.KindUnauthorized, "authorization rejected: %s", authErr.Message))
	return nil
}

func (m *Manager) handleChallengeNonceRequest(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	if _, err := m.NextRemoteState(connID, ActReceiveChallengeNonceRequest); err != nil {
		m.logger.Warn("ignoring challenge nonce request",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to generate nonce")
	}
	m.mu.Lock()
	if rec, ok := m.records[connID]; ok {
		rec.issuedNonce = nonce
	}
	m.mu.Unlock()

	if err := sendAuth(sender, connID, wire.AuthChallengeNonceResponseType, &wire.AuthChallengeNonceResponse{Nonce: nonce}); err != nil {
		return err
	}
	if _, err := m.NextRemoteState(connID, ActSendChallengeNonceResponse); err != nil {
		m.logger.Error("unable to transition remote state to NonceSent", zap.Error(err))
	}
	return nil
}

func (m *Manager) handleChallengeNonceResponse(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	var resp wire.AuthChallengeNonceResponse
	if err := resp.UnmarshalWire(payload); err != nil {
		return err
	}

	if _, err := m.NextLocalState(connID, ActReceiveChallengeNonceResponse); err != nil {
		m.logger.Warn("ignoring challenge nonce response",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}
	if m.signingKey == nil {
		m.setFailure(connID, utils.NewError(utils.KindUnauthorized, "challenge requested without signing key"))
		return nil
	}

	signature := ed25519.Sign(m.signingKey, resp.Nonce)
	public := m.signingKey.Public().(ed25519.PublicKey)
	return sendAuth(sender, connID, wire.AuthChallengeSubmitRequestType, &wire.AuthChallengeSubmitRequest{
		PublicKey: public,
		Signature: signature,
	})
}

func (m *Manager) handleChallengeSubmitRequest(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	var req wire.AuthChallengeSubmitRequest
	if err := req.UnmarshalWire(payload); err != nil {
		return err
	}

	if _, err := m.NextRemoteState(connID, ActReceiveChallengeSubmitRequest); err != nil {
		m.logger.Warn("ignoring challenge submit request",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}

	m.mu.Lock()
	var nonce []byte
	if rec, ok := m.records[connID]; ok {
		nonce = rec.issuedNonce
	}
	m.mu.Unlock()

	if len(req.PublicKey) != ed25519.PublicKeySize ||
		len(nonce) == 0 ||
		!ed25519.Verify(ed25519.PublicKey(req.PublicKey), nonce, req.Signature) {
		if err := sendAuth(sender, connID, wire.AuthorizationErrorType, &wire.AuthorizationError{
			Code:    wire.AuthorizationRejected,
			Message: "challenge signature verification failed",
		}); err != nil {
			return err
		}
		m.setFailure(connID, utils.NewError(utils.KindUnauthorized, "challenge signature verification failed"))
		return nil
	}

	m.setRemoteIdentity(connID, Identity{PublicKey: req.PublicKey})
	if err := sendAuth(sender, connID, wire.AuthChallengeSubmitResponseType, &wire.AuthChallengeSubmitResponse{}); err != nil {
		return err
	}
	if _, err := m.NextRemoteState(connID, ActSendChallengeSubmitResponse); err != nil {
		m.logger.Error("unable to transition remote state to Done", zap.Error(err))
	}
	return nil
}

func (m *Manager) handleChallengeSubmitResponse(ctx *dispatch.MessageContext, payload []byte, sender dispatch.MessageSender) error {
	connID := string(ctx.ConnectionID)

	if _, err := m.NextLocalState(connID, ActReceiveChallengeSubmitResponse); err != nil {
		m.logger.Warn("ignoring challenge submit response",
			zap.String("connection_id", connID), zap.Error(err))
		return nil
	}
	return m.finishLocal(connID, sender)
}

package wire

import "google.golang.org/protobuf/encoding/protowire"

// AuthorizationMessageType tags authorization payloads.
type AuthorizationMessageType int32

const (
	AuthMessageTypeUnset           AuthorizationMessageType = 0
	AuthProtocolRequestType        AuthorizationMessageType = 1
	AuthProtocolResponseType       AuthorizationMessageType = 2
	AuthTrustRequestType           AuthorizationMessageType = 3
	AuthTrustResponseType          AuthorizationMessageType = 4
	AuthorizationErrorType         AuthorizationMessageType = 5
	AuthCompleteType               AuthorizationMessageType = 7
	AuthChallengeNonceRequestType  AuthorizationMessageType = 10
	AuthChallengeNonceResponseType AuthorizationMessageType = 11
	AuthChallengeSubmitRequestType AuthorizationMessageType = 12
	AuthChallengeSubmitResponseType AuthorizationMessageType = 13
)

func (t AuthorizationMessageType) String() string {
	switch t {
	case AuthProtocolRequestType:
		return "AUTH_PROTOCOL_REQUEST"
	case AuthProtocolResponseType:
		return "AUTH_PROTOCOL_RESPONSE"
	case AuthTrustRequestType:
		return "AUTH_TRUST_REQUEST"
	case AuthTrustResponseType:
		return "AUTH_TRUST_RESPONSE"
	case AuthorizationErrorType:
		return "AUTHORIZATION_ERROR"
	case AuthCompleteType:
		return "AUTH_COMPLETE"
	case AuthChallengeNonceRequestType:
		return "AUTH_CHALLENGE_NONCE_REQUEST"
	case AuthChallengeNonceResponseType:
		return "AUTH_CHALLENGE_NONCE_RESPONSE"
	case AuthChallengeSubmitRequestType:
		return "AUTH_CHALLENGE_SUBMIT_REQUEST"
	case AuthChallengeSubmitResponseType:
		return "AUTH_CHALLENGE_SUBMIT_RESPONSE"
	default:
		return "UNSET"
	}
}

// AuthorizationMessage is the inner envelope for AUTHORIZATION frames.
type AuthorizationMessage struct {
	MessageType AuthorizationMessageType
	Payload     []byte
}

func (m *AuthorizationMessage) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.MessageType))
	b = appendBytes(b, 2, m.Payload)
	return b, nil
}

func (m *AuthorizationMessage) UnmarshalWire(b []byte) error {
	*m = AuthorizationMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.MessageType = AuthorizationMessageType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.Payload = v
			return n, err
		}
		return 0, nil
	})
}

// WrapAuthorizationMessage packs an authorization payload into a full
// NetworkMessage frame.
func WrapAuthorizationMessage(t AuthorizationMessageType, payload Message) ([]byte, error) {
	inner, err := payload.MarshalWire()
	if err != nil {
		return nil, err
	}
	auth := &AuthorizationMessage{MessageType: t, Payload: inner}
	return WrapNetworkMessage(AuthorizationType, auth)
}

// AuthProtocolRequest advertises the initiator's supported handshake
// versions.
type AuthProtocolRequest struct {
	AuthProtocolMin uint32
	AuthProtocolMax uint32
}

func (m *AuthProtocolRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.AuthProtocolMin))
	b = appendUint(b, 2, uint64(m.AuthProtocolMax))
	return b, nil
}

func (m *AuthProtocolRequest) UnmarshalWire(b []byte) error {
	*m = AuthProtocolRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.AuthProtocolMin = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeUint(rest)
			m.AuthProtocolMax = uint32(v)
			return n, err
		}
		return 0, nil
	})
}

// PeerAuthorizationType enumerates the handshake flavors a responder offers.
type PeerAuthorizationType int32

const (
	PeerAuthTypeUnset     PeerAuthorizationType = 0
	PeerAuthTypeTrust     PeerAuthorizationType = 1
	PeerAuthTypeChallenge PeerAuthorizationType = 2
)

// AuthProtocolResponse carries the agreed version and the accepted
// authorization types.
type AuthProtocolResponse struct {
	AuthProtocol              uint32
	AcceptedAuthorizationType []PeerAuthorizationType
}

func (m *AuthProtocolResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.AuthProtocol))
	for _, t := range m.AcceptedAuthorizationType {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t))
	}
	return b, nil
}

func (m *AuthProtocolResponse) UnmarshalWire(b []byte) error {
	*m = AuthProtocolResponse{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.AuthProtocol = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeUint(rest)
			m.AcceptedAuthorizationType = append(m.AcceptedAuthorizationType, PeerAuthorizationType(v))
			return n, err
		}
		return 0, nil
	})
}

// AuthTrustRequest asserts the sender's identity under trust authorization.
type AuthTrustRequest struct {
	Identity string
}

func (m *AuthTrustRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Identity), nil
}

func (m *AuthTrustRequest) UnmarshalWire(b []byte) error {
	*m = AuthTrustRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(rest)
			m.Identity = v
			return n, err
		}
		return 0, nil
	})
}

// AuthTrustResponse acknowledges a trust request.
type AuthTrustResponse struct{}

func (m *AuthTrustResponse) MarshalWire() ([]byte, error) { return nil, nil }

func (m *AuthTrustResponse) UnmarshalWire(b []byte) error { return nil }

// AuthComplete finishes the handshake from one direction.
type AuthComplete struct{}

func (m *AuthComplete) MarshalWire() ([]byte, error) { return nil, nil }

func (m *AuthComplete) UnmarshalWire(b []byte) error { return nil }

// AuthorizationErrorCode discriminates authorization failures.
type AuthorizationErrorCode int32

const (
	AuthorizationRejected AuthorizationErrorCode = 1
)

// AuthorizationError reports a failed negotiation; the connection is closed
// after it is sent.
type AuthorizationError struct {
	Code    AuthorizationErrorCode
	Message string
}

func (m *AuthorizationError) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.Code))
	b = appendString(b, 2, m.Message)
	return b, nil
}

func (m *AuthorizationError) UnmarshalWire(b []byte) error {
	*m = AuthorizationError{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.Code = AuthorizationErrorCode(v)
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.Message = v
			return n, err
		}
		return 0, nil
	})
}

// AuthChallengeNonceRequest asks the remote for a nonce to sign.
type AuthChallengeNonceRequest struct{}

func (m *AuthChallengeNonceRequest) MarshalWire() ([]byte, error) { return nil, nil }

func (m *AuthChallengeNonceRequest) UnmarshalWire(b []byte) error { return nil }

// AuthChallengeNonceResponse carries the 32-byte random nonce.
type AuthChallengeNonceResponse struct {
	Nonce []byte
}

func (m *AuthChallengeNonceResponse) MarshalWire() ([]byte, error) {
	return appendBytes(nil, 1, m.Nonce), nil
}

func (m *AuthChallengeNonceResponse) UnmarshalWire(b []byte) error {
	*m = AuthChallengeNonceResponse{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(rest)
			m.Nonce = v
			return n, err
		}
		return 0, nil
	})
}

// AuthChallengeSubmitRequest proves key possession: signature is Ed25519
// over the previously issued nonce.
type AuthChallengeSubmitRequest struct {
	PublicKey []byte
	Signature []byte
}

func (m *AuthChallengeSubmitRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.PublicKey)
	b = appendBytes(b, 2, m.Signature)
	return b, nil
}

func (m *AuthChallengeSubmitRequest) UnmarshalWire(b []byte) error {
	*m = AuthChallengeSubmitRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(rest)
			m.PublicKey = v
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.Signature = v
			return n, err
		}
		return 0, nil
	})
}

// AuthChallengeSubmitResponse acknowledges a verified challenge.
type AuthChallengeSubmitResponse struct{}

func (m *AuthChallengeSubmitResponse) MarshalWire() ([]byte, error) { return nil, nil }

func (m *AuthChallengeSubmitResponse) UnmarshalWire(b []byte) error { return nil }

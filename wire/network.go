package wire

import "google.golang.org/protobuf/encoding/protowire"

// NetworkMessageType tags the payload of the outer envelope.
type NetworkMessageType int32

const (
	NetworkMessageTypeUnset NetworkMessageType = 0
	NetworkHeartbeatType    NetworkMessageType = 1
	NetworkEchoType         NetworkMessageType = 2
	AuthorizationType       NetworkMessageType = 3
	CircuitType             NetworkMessageType = 4
)

func (t NetworkMessageType) String() string {
	switch t {
	case NetworkHeartbeatType:
		return "NETWORK_HEARTBEAT"
	case NetworkEchoType:
		return "NETWORK_ECHO"
	case AuthorizationType:
		return "AUTHORIZATION"
	case CircuitType:
		return "CIRCUIT"
	default:
		return "UNSET"
	}
}

// NetworkMessage is the outer envelope of every frame.
type NetworkMessage struct {
	MessageType NetworkMessageType
	Payload     []byte
}

func (m *NetworkMessage) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.MessageType))
	b = appendBytes(b, 2, m.Payload)
	return b, nil
}

func (m *NetworkMessage) UnmarshalWire(b []byte) error {
	*m = NetworkMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.MessageType = NetworkMessageType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.Payload = v
			return n, err
		}
		return 0, nil
	})
}

// WrapNetworkMessage packs payload under the given type.
func WrapNetworkMessage(t NetworkMessageType, payload Message) ([]byte, error) {
	inner, err := payload.MarshalWire()
	if err != nil {
		return nil, err
	}
	env := &NetworkMessage{MessageType: t, Payload: inner}
	return env.MarshalWire()
}

// NetworkHeartbeat is sent by the pacemaker on every registered connection.
type NetworkHeartbeat struct{}

func (m *NetworkHeartbeat) MarshalWire() ([]byte, error) { return nil, nil }

func (m *NetworkHeartbeat) UnmarshalWire(b []byte) error { return nil }

// NetworkEcho bounces between nodes until its TTL expires; used by
// diagnostics.
type NetworkEcho struct {
	Payload    []byte
	Recipient  string
	TimeToLive int32
}

func (m *NetworkEcho) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.Payload)
	b = appendString(b, 2, m.Recipient)
	b = appendUint(b, 3, uint64(uint32(m.TimeToLive)))
	return b, nil
}

func (m *NetworkEcho) UnmarshalWire(b []byte) error {
	*m = NetworkEcho{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(rest)
			m.Payload = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.Recipient = v
			return n, err
		case 3:
			v, n, err := consumeUint(rest)
			m.TimeToLive = int32(v)
			return n, err
		}
		return 0, nil
	})
}

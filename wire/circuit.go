package wire

import "google.golang.org/protobuf/encoding/protowire"

// CircuitMessageType tags CIRCUIT frame payloads.
type CircuitMessageType int32

const (
	CircuitMessageTypeUnset       CircuitMessageType = 0
	ServiceConnectRequestType     CircuitMessageType = 1
	ServiceConnectResponseType    CircuitMessageType = 2
	ServiceDisconnectRequestType  CircuitMessageType = 3
	ServiceDisconnectResponseType CircuitMessageType = 4
	CircuitDirectMessageType      CircuitMessageType = 5
	AdminDirectMessageType        CircuitMessageType = 6
	CircuitErrorMessageType       CircuitMessageType = 7
)

func (t CircuitMessageType) String() string {
	switch t {
	case ServiceConnectRequestType:
		return "SERVICE_CONNECT_REQUEST"
	case ServiceConnectResponseType:
		return "SERVICE_CONNECT_RESPONSE"
	case ServiceDisconnectRequestType:
		return "SERVICE_DISCONNECT_REQUEST"
	case ServiceDisconnectResponseType:
		return "SERVICE_DISCONNECT_RESPONSE"
	case CircuitDirectMessageType:
		return "CIRCUIT_DIRECT_MESSAGE"
	case AdminDirectMessageType:
		return "ADMIN_DIRECT_MESSAGE"
	case CircuitErrorMessageType:
		return "CIRCUIT_ERROR_MESSAGE"
	default:
		return "UNSET"
	}
}

// CircuitMessage is the inner envelope of CIRCUIT frames.
type CircuitMessage struct {
	MessageType CircuitMessageType
	Payload     []byte
}

func (m *CircuitMessage) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.MessageType))
	b = appendBytes(b, 2, m.Payload)
	return b, nil
}

func (m *CircuitMessage) UnmarshalWire(b []byte) error {
	*m = CircuitMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.MessageType = CircuitMessageType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.Payload = v
			return n, err
		}
		return 0, nil
	})
}

// WrapCircuitMessage packs a circuit payload into a full NetworkMessage
// frame.
func WrapCircuitMessage(t CircuitMessageType, payload Message) ([]byte, error) {
	inner, err := payload.MarshalWire()
	if err != nil {
		return nil, err
	}
	cm := &CircuitMessage{MessageType: t, Payload: inner}
	return WrapNetworkMessage(CircuitType, cm)
}

// ServiceConnectResponseStatus codes for connect responses.
type ServiceConnectResponseStatus int32

const (
	ServiceConnectOK                           ServiceConnectResponseStatus = 1
	ServiceConnectErrCircuitDoesNotExist       ServiceConnectResponseStatus = 2
	ServiceConnectErrServiceNotInCircuit       ServiceConnectResponseStatus = 3
	ServiceConnectErrServiceAlreadyRegistered  ServiceConnectResponseStatus = 4
	ServiceConnectErrNotAnAllowedNode          ServiceConnectResponseStatus = 5
	ServiceConnectErrQueueFull                 ServiceConnectResponseStatus = 6
)

// ServiceDisconnectResponseStatus codes for disconnect responses.
type ServiceDisconnectResponseStatus int32

const (
	ServiceDisconnectOK                     ServiceDisconnectResponseStatus = 1
	ServiceDisconnectErrCircuitDoesNotExist ServiceDisconnectResponseStatus = 2
	ServiceDisconnectErrServiceNotInCircuit ServiceDisconnectResponseStatus = 3
	ServiceDisconnectErrServiceNotRegistered ServiceDisconnectResponseStatus = 4
	ServiceDisconnectErrQueueFull           ServiceDisconnectResponseStatus = 5
)

// ServiceConnectRequest registers a running service instance on its circuit.
type ServiceConnectRequest struct {
	Circuit       string
	ServiceID     string
	CorrelationID string
}

func (m *ServiceConnectRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.ServiceID)
	b = appendString(b, 3, m.CorrelationID)
	return b, nil
}

func (m *ServiceConnectRequest) UnmarshalWire(b []byte) error {
	*m = ServiceConnectRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Circuit = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.ServiceID = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.CorrelationID = v
			return n, err
		}
		return 0, nil
	})
}

// ServiceConnectResponse answers a connect request.
type ServiceConnectResponse struct {
	Circuit       string
	ServiceID     string
	Status        ServiceConnectResponseStatus
	CorrelationID string
	ErrorMessage  string
}

func (m *ServiceConnectResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.ServiceID)
	b = appendUint(b, 3, uint64(m.Status))
	b = appendString(b, 4, m.CorrelationID)
	b = appendString(b, 5, m.ErrorMessage)
	return b, nil
}

func (m *ServiceConnectResponse) UnmarshalWire(b []byte) error {
	*m = ServiceConnectResponse{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Circuit = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.ServiceID = v
			return n, err
		case 3:
			v, n, err := consumeUint(rest)
			m.Status = ServiceConnectResponseStatus(v)
			return n, err
		case 4:
			v, n, err := consumeString(rest)
			m.CorrelationID = v
			return n, err
		case 5:
			v, n, err := consumeString(rest)
			m.ErrorMessage = v
			return n, err
		}
		return 0, nil
	})
}

// ServiceDisconnectRequest removes a running service registration.
type ServiceDisconnectRequest struct {
	Circuit       string
	ServiceID     string
	CorrelationID string
}

func (m *ServiceDisconnectRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.ServiceID)
	b = appendString(b, 3, m.CorrelationID)
	return b, nil
}

func (m *ServiceDisconnectRequest) UnmarshalWire(b []byte) error {
	*m = ServiceDisconnectRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Circuit = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.ServiceID = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.CorrelationID = v
			return n, err
		}
		return 0, nil
	})
}

// ServiceDisconnectResponse answers a disconnect request.
type ServiceDisconnectResponse struct {
	Circuit       string
	ServiceID     string
	Status        ServiceDisconnectResponseStatus
	CorrelationID string
	ErrorMessage  string
}

func (m *ServiceDisconnectResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.ServiceID)
	b = appendUint(b, 3, uint64(m.Status))
	b = appendString(b, 4, m.CorrelationID)
	b = appendString(b, 5, m.ErrorMessage)
	return b, nil
}

func (m *ServiceDisconnectResponse) UnmarshalWire(b []byte) error {
	*m = ServiceDisconnectResponse{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Circuit = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.ServiceID = v
			return n, err
		case 3:
			v, n, err := consumeUint(rest)
			m.Status = ServiceDisconnectResponseStatus(v)
			return n, err
		case 4:
			v, n, err := consumeString(rest)
			m.CorrelationID = v
			return n, err
		case 5:
			v, n, err := consumeString(rest)
			m.ErrorMessage = v
			return n, err
		}
		return 0, nil
	})
}

// CircuitDirectMessage is the service-to-service channel within a circuit.
type CircuitDirectMessage struct {
	Circuit       string
	Sender        string
	Recipient     string
	Payload       []byte
	CorrelationID string
}

func (m *CircuitDirectMessage) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.Sender)
	b = appendString(b, 3, m.Recipient)
	b = appendBytes(b, 4, m.Payload)
	b = appendString(b, 5, m.CorrelationID)
	return b, nil
}

func (m *CircuitDirectMessage) UnmarshalWire(b []byte) error {
	*m = CircuitDirectMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Circuit = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.Sender = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.Recipient = v
			return n, err
		case 4:
			v, n, err := consumeBytes(rest)
			m.Payload = v
			return n, err
		case 5:
			v, n, err := consumeString(rest)
			m.CorrelationID = v
			return n, err
		}
		return 0, nil
	})
}

// AdminDirectMessage carries admin service traffic on the virtual admin
// circuit.
type AdminDirectMessage struct {
	Circuit string
	Payload []byte
}

func (m *AdminDirectMessage) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendBytes(b, 2, m.Payload)
	return b, nil
}

func (m *AdminDirectMessage) UnmarshalWire(b []byte) error {
	*m = AdminDirectMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Circuit = v
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.Payload = v
			return n, err
		}
		return 0, nil
	})
}

// CircuitErrorCode classifies routing failures reported back to senders.
type CircuitErrorCode int32

const (
	CircuitErrorUnset                  CircuitErrorCode = 0
	CircuitErrorRecipientNotInCircuit  CircuitErrorCode = 1
	CircuitErrorRecipientNotConnected  CircuitErrorCode = 2
	CircuitErrorSenderNotInCircuit     CircuitErrorCode = 3
	CircuitErrorCircuitDoesNotExist    CircuitErrorCode = 4
)

// CircuitError reports a routing failure for a direct message.
type CircuitError struct {
	CorrelationID string
	ServiceID     string
	CircuitName   string
	Error         CircuitErrorCode
	ErrorMessage  string
}

func (m *CircuitError) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.CorrelationID)
	b = appendString(b, 2, m.ServiceID)
	b = appendString(b, 3, m.CircuitName)
	b = appendUint(b, 4, uint64(m.Error))
	b = appendString(b, 5, m.ErrorMessage)
	return b, nil
}

func (m *CircuitError) UnmarshalWire(b []byte) error {
	*m = CircuitError{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.CorrelationID = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.ServiceID = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.CircuitName = v
			return n, err
		case 4:
			v, n, err := consumeUint(rest)
			m.Error = CircuitErrorCode(v)
			return n, err
		case 5:
			v, n, err := consumeString(rest)
			m.ErrorMessage = v
			return n, err
		}
		return 0, nil
	})
}

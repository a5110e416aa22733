package wire

import (
	"crypto/sha512"
	"encoding/hex"

	"google.golang.org/protobuf/encoding/protowire"
)

// CircuitAuthorizationType mirrors the circuit-level authorization flavor.
type CircuitAuthorizationType int32

const (
	CircuitAuthUnset     CircuitAuthorizationType = 0
	CircuitAuthTrust     CircuitAuthorizationType = 1
	CircuitAuthChallenge CircuitAuthorizationType = 2
)

// CircuitStatus is the lifecycle status of a committed circuit.
type CircuitStatus int32

const (
	CircuitStatusUnset     CircuitStatus = 0
	CircuitStatusActive    CircuitStatus = 1
	CircuitStatusDisbanded CircuitStatus = 2
	CircuitStatusAbandoned CircuitStatus = 3
)

func (s CircuitStatus) String() string {
	switch s {
	case CircuitStatusActive:
		return "Active"
	case CircuitStatusDisbanded:
		return "Disbanded"
	case CircuitStatusAbandoned:
		return "Abandoned"
	default:
		return "Unset"
	}
}

// ServiceArgument is one key/value pair of a service definition.
type ServiceArgument struct {
	Key   string
	Value string
}

func (m *ServiceArgument) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Key)
	b = appendString(b, 2, m.Value)
	return b, nil
}

func (m *ServiceArgument) UnmarshalWire(b []byte) error {
	*m = ServiceArgument{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Key = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.Value = v
			return n, err
		}
		return 0, nil
	})
}

// SplinterService describes one service of a circuit roster.
type SplinterService struct {
	ServiceID    string
	ServiceType  string
	AllowedNodes []string
	Arguments    []ServiceArgument
}

func (m *SplinterService) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.ServiceID)
	b = appendString(b, 2, m.ServiceType)
	for _, n := range m.AllowedNodes {
		b = appendString(b, 3, n)
	}
	for i := range m.Arguments {
		var err error
		b, err = appendMessage(b, 4, &m.Arguments[i])
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *SplinterService) UnmarshalWire(b []byte) error {
	*m = SplinterService{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.ServiceID = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.ServiceType = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.AllowedNodes = append(m.AllowedNodes, v)
			return n, err
		case 4:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			var arg ServiceArgument
			if err := arg.UnmarshalWire(v); err != nil {
				return n, err
			}
			m.Arguments = append(m.Arguments, arg)
			return n, nil
		}
		return 0, nil
	})
}

// SplinterNode describes one member node of a circuit.
type SplinterNode struct {
	NodeID    string
	Endpoints []string
	PublicKey []byte
}

func (m *SplinterNode) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.NodeID)
	for _, e := range m.Endpoints {
		b = appendString(b, 2, e)
	}
	b = appendBytes(b, 3, m.PublicKey)
	return b, nil
}

func (m *SplinterNode) UnmarshalWire(b []byte) error {
	*m = SplinterNode{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.NodeID = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.Endpoints = append(m.Endpoints, v)
			return n, err
		case 3:
			v, n, err := consumeBytes(rest)
			m.PublicKey = v
			return n, err
		}
		return 0, nil
	})
}

// Circuit is the wire form of a circuit definition, used both for proposals
// and committed circuits.
type Circuit struct {
	CircuitID             string
	Roster                []SplinterService
	Members               []SplinterNode
	AuthorizationType     CircuitAuthorizationType
	Persistence           string
	Durability            string
	Routes                string
	CircuitManagementType string
	ApplicationMetadata   []byte
	Comments              string
	DisplayName           string
	CircuitVersion        int32
	CircuitStatus         CircuitStatus
}

func (m *Circuit) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	b = appendString(b, 1, m.CircuitID)
	for i := range m.Roster {
		if b, err = appendMessage(b, 2, &m.Roster[i]); err != nil {
			return nil, err
		}
	}
	for i := range m.Members {
		if b, err = appendMessage(b, 3, &m.Members[i]); err != nil {
			return nil, err
		}
	}
	b = appendUint(b, 4, uint64(m.AuthorizationType))
	b = appendString(b, 5, m.Persistence)
	b = appendString(b, 6, m.Durability)
	b = appendString(b, 7, m.Routes)
	b = appendString(b, 8, m.CircuitManagementType)
	b = appendBytes(b, 9, m.ApplicationMetadata)
	b = appendString(b, 10, m.Comments)
	b = appendString(b, 11, m.DisplayName)
	b = appendUint(b, 12, uint64(uint32(m.CircuitVersion)))
	b = appendUint(b, 13, uint64(m.CircuitStatus))
	return b, nil
}

func (m *Circuit) UnmarshalWire(b []byte) error {
	*m = Circuit{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.CircuitID = v
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			var svc SplinterService
			if err := svc.UnmarshalWire(v); err != nil {
				return n, err
			}
			m.Roster = append(m.Roster, svc)
			return n, nil
		case 3:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			var node SplinterNode
			if err := node.UnmarshalWire(v); err != nil {
				return n, err
			}
			m.Members = append(m.Members, node)
			return n, nil
		case 4:
			v, n, err := consumeUint(rest)
			m.AuthorizationType = CircuitAuthorizationType(v)
			return n, err
		case 5:
			v, n, err := consumeString(rest)
			m.Persistence = v
			return n, err
		case 6:
			v, n, err := consumeString(rest)
			m.Durability = v
			return n, err
		case 7:
			v, n, err := consumeString(rest)
			m.Routes = v
			return n, err
		case 8:
			v, n, err := consumeString(rest)
			m.CircuitManagementType = v
			return n, err
		case 9:
			v, n, err := consumeBytes(rest)
			m.ApplicationMetadata = v
			return n, err
		case 10:
			v, n, err := consumeString(rest)
			m.Comments = v
			return n, err
		case 11:
			v, n, err := consumeString(rest)
			m.DisplayName = v
			return n, err
		case 12:
			v, n, err := consumeUint(rest)
			m.CircuitVersion = int32(v)
			return n, err
		case 13:
			v, n, err := consumeUint(rest)
			m.CircuitStatus = CircuitStatus(v)
			return n, err
		}
		return 0, nil
	})
}

// Hash returns the hex SHA-512 digest over the canonical bytes of the
// circuit. Every member of a committed circuit persists the same value.
func (m *Circuit) Hash() (string, error) {
	b, err := m.MarshalWire()
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(b)
	return hex.EncodeToString(sum[:]), nil
}

// Vote is one node's decision on a proposal.
type Vote int32

const (
	VoteUnset  Vote = 0
	VoteAccept Vote = 1
	VoteReject Vote = 2
)

func (v Vote) String() string {
	switch v {
	case VoteAccept:
		return "ACCEPT"
	case VoteReject:
		return "REJECT"
	default:
		return "UNSET"
	}
}

// VoteRecord is a persisted vote with the voter's key.
type VoteRecord struct {
	PublicKey   []byte
	Vote        Vote
	VoterNodeID string
}

func (m *VoteRecord) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.PublicKey)
	b = appendUint(b, 2, uint64(m.Vote))
	b = appendString(b, 3, m.VoterNodeID)
	return b, nil
}

func (m *VoteRecord) UnmarshalWire(b []byte) error {
	*m = VoteRecord{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(rest)
			m.PublicKey = v
			return n, err
		case 2:
			v, n, err := consumeUint(rest)
			m.Vote = Vote(v)
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.VoterNodeID = v
			return n, err
		}
		return 0, nil
	})
}

// ProposalType discriminates what a proposal changes.
type ProposalType int32

const (
	ProposalTypeUnset        ProposalType = 0
	ProposalTypeCreate       ProposalType = 1
	ProposalTypeUpdateRoster ProposalType = 2
	ProposalTypeAddNode      ProposalType = 3
	ProposalTypeRemoveNode   ProposalType = 4
	ProposalTypeDisband      ProposalType = 5
)

// CircuitProposal is the wire form of a pending circuit change.
type CircuitProposal struct {
	ProposalType    ProposalType
	CircuitID       string
	CircuitHash     string
	Circuit         Circuit
	Votes           []VoteRecord
	Requester       []byte
	RequesterNodeID string
}

func (m *CircuitProposal) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	b = appendUint(b, 1, uint64(m.ProposalType))
	b = appendString(b, 2, m.CircuitID)
	b = appendString(b, 3, m.CircuitHash)
	if b, err = appendMessage(b, 4, &m.Circuit); err != nil {
		return nil, err
	}
	for i := range m.Votes {
		if b, err = appendMessage(b, 5, &m.Votes[i]); err != nil {
			return nil, err
		}
	}
	b = appendBytes(b, 6, m.Requester)
	b = appendString(b, 7, m.RequesterNodeID)
	return b, nil
}

func (m *CircuitProposal) UnmarshalWire(b []byte) error {
	*m = CircuitProposal{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.ProposalType = ProposalType(v)
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.CircuitID = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.CircuitHash = v
			return n, err
		case 4:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			if err := m.Circuit.UnmarshalWire(v); err != nil {
				return n, err
			}
			return n, nil
		case 5:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			var rec VoteRecord
			if err := rec.UnmarshalWire(v); err != nil {
				return n, err
			}
			m.Votes = append(m.Votes, rec)
			return n, nil
		case 6:
			v, n, err := consumeBytes(rest)
			m.Requester = v
			return n, err
		case 7:
			v, n, err := consumeString(rest)
			m.RequesterNodeID = v
			return n, err
		}
		return 0, nil
	})
}

// Action discriminates circuit management payloads.
type Action int32

const (
	ActionUnset         Action = 0
	CircuitCreateAction Action = 1
	VoteAction          Action = 2
	CircuitDisbandAction Action = 3
	CircuitAbandonAction Action = 4
	CircuitPurgeAction   Action = 5
	CircuitUpdateRosterAction Action = 6
)

func (a Action) String() string {
	switch a {
	case CircuitCreateAction:
		return "CIRCUIT_CREATE_REQUEST"
	case VoteAction:
		return "VOTE"
	case CircuitDisbandAction:
		return "CIRCUIT_DISBAND_REQUEST"
	case CircuitAbandonAction:
		return "CIRCUIT_ABANDON_REQUEST"
	case CircuitPurgeAction:
		return "CIRCUIT_PURGE_REQUEST"
	case CircuitUpdateRosterAction:
		return "CIRCUIT_UPDATE_ROSTER_REQUEST"
	default:
		return "UNSET"
	}
}

// Header binds a management payload to its requester and action digest.
type Header struct {
	Action             Action
	RequesterPublicKey []byte
	PayloadSHA512      string
	RequesterNodeID    string
}

func (m *Header) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.Action))
	b = appendBytes(b, 2, m.RequesterPublicKey)
	b = appendString(b, 3, m.PayloadSHA512)
	b = appendString(b, 4, m.RequesterNodeID)
	return b, nil
}

func (m *Header) UnmarshalWire(b []byte) error {
	*m = Header{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.Action = Action(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.RequesterPublicKey = v
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.PayloadSHA512 = v
			return n, err
		case 4:
			v, n, err := consumeString(rest)
			m.RequesterNodeID = v
			return n, err
		}
		return 0, nil
	})
}

// CircuitCreateRequest proposes a new circuit.
type CircuitCreateRequest struct {
	Circuit Circuit
}

func (m *CircuitCreateRequest) MarshalWire() ([]byte, error) {
	return appendMessage(nil, 1, &m.Circuit)
}

func (m *CircuitCreateRequest) UnmarshalWire(b []byte) error {
	*m = CircuitCreateRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			return n, m.Circuit.UnmarshalWire(v)
		}
		return 0, nil
	})
}

// CircuitUpdateRosterRequest proposes replacing the service roster of a
// committed circuit; membership is unchanged.
type CircuitUpdateRosterRequest struct {
	CircuitID string
	Roster    []SplinterService
}

func (m *CircuitUpdateRosterRequest) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	b = appendString(b, 1, m.CircuitID)
	for i := range m.Roster {
		if b, err = appendMessage(b, 2, &m.Roster[i]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *CircuitUpdateRosterRequest) UnmarshalWire(b []byte) error {
	*m = CircuitUpdateRosterRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.CircuitID = v
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			var svc SplinterService
			if err := svc.UnmarshalWire(v); err != nil {
				return n, err
			}
			m.Roster = append(m.Roster, svc)
			return n, nil
		}
		return 0, nil
	})
}

// CircuitVote accepts or rejects a pending proposal.
type CircuitVote struct {
	CircuitID   string
	CircuitHash string
	Vote        Vote
}

func (m *CircuitVote) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.CircuitID)
	b = appendString(b, 2, m.CircuitHash)
	b = appendUint(b, 3, uint64(m.Vote))
	return b, nil
}

func (m *CircuitVote) UnmarshalWire(b []byte) error {
	*m = CircuitVote{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.CircuitID = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.CircuitHash = v
			return n, err
		case 3:
			v, n, err := consumeUint(rest)
			m.Vote = Vote(v)
			return n, err
		}
		return 0, nil
	})
}

// CircuitRequest is the shared shape of disband/abandon/purge requests.
type CircuitRequest struct {
	CircuitID string
}

func (m *CircuitRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.CircuitID), nil
}

func (m *CircuitRequest) UnmarshalWire(b []byte) error {
	*m = CircuitRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(rest)
			m.CircuitID = v
			return n, err
		}
		return 0, nil
	})
}

// CircuitManagementPayload is the signed intent submitted to the admin
// service. Header holds the serialized Header message; Signature covers
// those bytes.
type CircuitManagementPayload struct {
	Header              []byte
	Signature           []byte
	CreateRequest       *CircuitCreateRequest
	Vote                *CircuitVote
	DisbandRequest      *CircuitRequest
	AbandonRequest      *CircuitRequest
	PurgeRequest        *CircuitRequest
	UpdateRosterRequest *CircuitUpdateRosterRequest
}

func (m *CircuitManagementPayload) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	b = appendBytes(b, 1, m.Header)
	b = appendBytes(b, 2, m.Signature)
	if m.CreateRequest != nil {
		if b, err = appendMessage(b, 3, m.CreateRequest); err != nil {
			return nil, err
		}
	}
	if m.Vote != nil {
		if b, err = appendMessage(b, 4, m.Vote); err != nil {
			return nil, err
		}
	}
	if m.DisbandRequest != nil {
		if b, err = appendMessage(b, 5, m.DisbandRequest); err != nil {
			return nil, err
		}
	}
	if m.AbandonRequest != nil {
		if b, err = appendMessage(b, 6, m.AbandonRequest); err != nil {
			return nil, err
		}
	}
	if m.PurgeRequest != nil {
		if b, err = appendMessage(b, 7, m.PurgeRequest); err != nil {
			return nil, err
		}
	}
	if m.UpdateRosterRequest != nil {
		if b, err = appendMessage(b, 8, m.UpdateRosterRequest); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *CircuitManagementPayload) UnmarshalWire(b []byte) error {
	*m = CircuitManagementPayload{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(rest)
			m.Header = v
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			m.Signature = v
			return n, err
		case 3:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.CreateRequest = &CircuitCreateRequest{}
			return n, m.CreateRequest.UnmarshalWire(v)
		case 4:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.Vote = &CircuitVote{}
			return n, m.Vote.UnmarshalWire(v)
		case 5:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.DisbandRequest = &CircuitRequest{}
			return n, m.DisbandRequest.UnmarshalWire(v)
		case 6:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.AbandonRequest = &CircuitRequest{}
			return n, m.AbandonRequest.UnmarshalWire(v)
		case 7:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.PurgeRequest = &CircuitRequest{}
			return n, m.PurgeRequest.UnmarshalWire(v)
		case 8:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.UpdateRosterRequest = &CircuitUpdateRosterRequest{}
			return n, m.UpdateRosterRequest.UnmarshalWire(v)
		}
		return 0, nil
	})
}

// AdminMessageType tags admin-to-admin traffic.
type AdminMessageType int32

const (
	AdminMessageTypeUnset AdminMessageType = 0
	ProposedCircuitType   AdminMessageType = 1
	MemberReadyType       AdminMessageType = 2
)

// ProposedCircuitMessage disseminates a validated payload to the other
// members for voting.
type ProposedCircuitMessage struct {
	Payload      CircuitManagementPayload
	ExpectedHash string
}

func (m *ProposedCircuitMessage) MarshalWire() ([]byte, error) {
	b, err := appendMessage(nil, 1, &m.Payload)
	if err != nil {
		return nil, err
	}
	b = appendString(b, 2, m.ExpectedHash)
	return b, nil
}

func (m *ProposedCircuitMessage) UnmarshalWire(b []byte) error {
	*m = ProposedCircuitMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			return n, m.Payload.UnmarshalWire(v)
		case 2:
			v, n, err := consumeString(rest)
			m.ExpectedHash = v
			return n, err
		}
		return 0, nil
	})
}

// MemberReady announces that a member has locally committed a circuit.
type MemberReady struct {
	CircuitID    string
	MemberNodeID string
}

func (m *MemberReady) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.CircuitID)
	b = appendString(b, 2, m.MemberNodeID)
	return b, nil
}

func (m *MemberReady) UnmarshalWire(b []byte) error {
	*m = MemberReady{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.CircuitID = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.MemberNodeID = v
			return n, err
		}
		return 0, nil
	})
}

// AdminMessage is the envelope for admin service traffic: either a payload
// proposal or a vote dissemination.
type AdminMessage struct {
	MessageType AdminMessageType
	Proposed    *ProposedCircuitMessage
	Payload     *CircuitManagementPayload
}

func (m *AdminMessage) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	b = appendUint(b, 1, uint64(m.MessageType))
	if m.Proposed != nil {
		if b, err = appendMessage(b, 2, m.Proposed); err != nil {
			return nil, err
		}
	}
	if m.Payload != nil {
		if b, err = appendMessage(b, 3, m.Payload); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *AdminMessage) UnmarshalWire(b []byte) error {
	*m = AdminMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.MessageType = AdminMessageType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.Proposed = &ProposedCircuitMessage{}
			return n, m.Proposed.UnmarshalWire(v)
		case 3:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.Payload = &CircuitManagementPayload{}
			return n, m.Payload.UnmarshalWire(v)
		}
		return 0, nil
	})
}

// PayloadSHA512 is the hex digest of the serialized action payload carried
// in a management header.
func PayloadSHA512(action Message) (string, error) {
	b, err := action.MarshalWire()
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(b)
	return hex.EncodeToString(sum[:]), nil
}

package wire

import "google.golang.org/protobuf/encoding/protowire"

// TwoPhaseCommitMessageType tags consensus messages between scabbard peers.
type TwoPhaseCommitMessageType int32

const (
	TwoPCMessageTypeUnset TwoPhaseCommitMessageType = 0
	TwoPCVoteRequest      TwoPhaseCommitMessageType = 1
	TwoPCVoteResponse     TwoPhaseCommitMessageType = 2
	TwoPCCommit           TwoPhaseCommitMessageType = 3
	TwoPCAbort            TwoPhaseCommitMessageType = 4
	TwoPCDecisionRequest  TwoPhaseCommitMessageType = 5
)

func (t TwoPhaseCommitMessageType) String() string {
	switch t {
	case TwoPCVoteRequest:
		return "VOTE_REQUEST"
	case TwoPCVoteResponse:
		return "VOTE_RESPONSE"
	case TwoPCCommit:
		return "COMMIT"
	case TwoPCAbort:
		return "ABORT"
	case TwoPCDecisionRequest:
		return "DECISION_REQUEST"
	default:
		return "UNSET"
	}
}

// TwoPhaseCommitMessage is one consensus message addressed by (epoch,
// sender); Value rides on VOTE_REQUEST, Response on VOTE_RESPONSE.
type TwoPhaseCommitMessage struct {
	MessageType TwoPhaseCommitMessageType
	Epoch       uint64
	Value       []byte
	Response    bool
}

func (m *TwoPhaseCommitMessage) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint(b, 1, uint64(m.MessageType))
	b = appendUint(b, 2, m.Epoch)
	b = appendBytes(b, 3, m.Value)
	b = appendBool(b, 4, m.Response)
	return b, nil
}

func (m *TwoPhaseCommitMessage) UnmarshalWire(b []byte) error {
	*m = TwoPhaseCommitMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.MessageType = TwoPhaseCommitMessageType(v)
			return n, err
		case 2:
			v, n, err := consumeUint(rest)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeBytes(rest)
			m.Value = v
			return n, err
		case 4:
			v, n, err := consumeBool(rest)
			m.Response = v
			return n, err
		}
		return 0, nil
	})
}

// ScabbardMessageType tags scabbard service-to-service traffic.
type ScabbardMessageType int32

const (
	ScabbardMessageTypeUnset ScabbardMessageType = 0
	ScabbardConsensusMessage ScabbardMessageType = 1
	ScabbardBatchSubmit      ScabbardMessageType = 2
)

// ScabbardMessage rides inside CircuitDirectMessage payloads between the
// scabbard instances of a circuit.
type ScabbardMessage struct {
	MessageType ScabbardMessageType
	Consensus   *TwoPhaseCommitMessage
	Batch       []byte
}

func (m *ScabbardMessage) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	b = appendUint(b, 1, uint64(m.MessageType))
	if m.Consensus != nil {
		if b, err = appendMessage(b, 2, m.Consensus); err != nil {
			return nil, err
		}
	}
	b = appendBytes(b, 3, m.Batch)
	return b, nil
}

func (m *ScabbardMessage) UnmarshalWire(b []byte) error {
	*m = ScabbardMessage{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint(rest)
			m.MessageType = ScabbardMessageType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			m.Consensus = &TwoPhaseCommitMessage{}
			return n, m.Consensus.UnmarshalWire(v)
		case 3:
			v, n, err := consumeBytes(rest)
			m.Batch = v
			return n, err
		}
		return 0, nil
	})
}

package wire

import "google.golang.org/protobuf/encoding/protowire"

// NodeEntry is the wire form of a registry node record.
type NodeEntry struct {
	Identity    string
	Endpoints   []string
	DisplayName string
	Keys        []string
}

func (m *NodeEntry) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Identity)
	for _, e := range m.Endpoints {
		b = appendString(b, 2, e)
	}
	b = appendString(b, 3, m.DisplayName)
	for _, k := range m.Keys {
		b = appendString(b, 4, k)
	}
	return b, nil
}

func (m *NodeEntry) UnmarshalWire(b []byte) error {
	*m = NodeEntry{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(rest)
			m.Identity = v
			return n, err
		case 2:
			v, n, err := consumeString(rest)
			m.Endpoints = append(m.Endpoints, v)
			return n, err
		case 3:
			v, n, err := consumeString(rest)
			m.DisplayName = v
			return n, err
		case 4:
			v, n, err := consumeString(rest)
			m.Keys = append(m.Keys, v)
			return n, err
		}
		return 0, nil
	})
}

// NodeRequest asks a remote registry for one node.
type NodeRequest struct {
	Identity string
}

func (m *NodeRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Identity), nil
}

func (m *NodeRequest) UnmarshalWire(b []byte) error {
	*m = NodeRequest{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(rest)
			m.Identity = v
			return n, err
		}
		return 0, nil
	})
}

// NodeList is a remote registry listing.
type NodeList struct {
	Nodes []NodeEntry
}

func (m *NodeList) MarshalWire() ([]byte, error) {
	var b []byte
	var err error
	for i := range m.Nodes {
		if b, err = appendMessage(b, 1, &m.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *NodeList) UnmarshalWire(b []byte) error {
	*m = NodeList{}
	return scan(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(rest)
			if err != nil {
				return n, err
			}
			var node NodeEntry
			if err := node.UnmarshalWire(v); err != nil {
				return n, err
			}
			m.Nodes = append(m.Nodes, node)
			return n, nil
		}
		return 0, nil
	})
}

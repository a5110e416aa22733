package registry

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"

	"splinter/utils"
	"splinter/wire"
)

// The remote mirror exposes a read-only registry over gRPC with the
// splinter wire codec; no generated stubs are involved.

const registryServiceName = "splinter.registry.Registry"

type wireCodec struct{}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(wire.Message)
	if !ok {
		return nil, utils.Errorf(utils.KindInternal, "%T is not a wire message", v)
	}
	return msg.MarshalWire()
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(wire.Message)
	if !ok {
		return utils.Errorf(utils.KindInternal, "%T is not a wire message", v)
	}
	return msg.UnmarshalWire(data)
}

func (wireCodec) Name() string { return "splinter-wire" }

// RemoteRegistry is a read-only client of a registry served elsewhere.
// Connections are dialed per call; the mirror is consulted rarely (member
// resolution on proposal arrival).
type RemoteRegistry struct {
	address string
	timeout time.Duration
}

func NewRemoteRegistry(address string) *RemoteRegistry {
	return &RemoteRegistry{address: address, timeout: 10 * time.Second}
}

func (r *RemoteRegistry) invoke(method string, req, resp wire.Message) error {
	conn, err := grpc.Dial(r.address, grpc.WithInsecure())
	if err != nil {
		return utils.WrapError(utils.KindInternal, err, "unable to reach remote registry")
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := conn.Invoke(ctx, method, req, resp, grpc.ForceCodec(wireCodec{})); err != nil {
		return utils.WrapError(utils.KindInternal, err, "remote registry call failed")
	}
	return nil
}

func (r *RemoteRegistry) ListNodes() ([]Node, error) {
	var resp wire.NodeList
	if err := r.invoke("/"+registryServiceName+"/ListNodes", &wire.NodeRequest{}, &resp); err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(resp.Nodes))
	for _, entry := range resp.Nodes {
		out = append(out, Node{
			Identity:    entry.Identity,
			Endpoints:   entry.Endpoints,
			DisplayName: entry.DisplayName,
			Keys:        entry.Keys,
		})
	}
	return out, nil
}

func (r *RemoteRegistry) FetchNode(identity string) (*Node, error) {
	var resp wire.NodeEntry
	if err := r.invoke("/"+registryServiceName+"/FetchNode", &wire.NodeRequest{Identity: identity}, &resp); err != nil {
		return nil, err
	}
	if resp.Identity == "" {
		return nil, utils.Errorf(utils.KindNotFound, "no registry entry for %s", identity)
	}
	return &Node{
		Identity:    resp.Identity,
		Endpoints:   resp.Endpoints,
		DisplayName: resp.DisplayName,
		Keys:        resp.Keys,
	}, nil
}

// InsertNode is rejected: the mirror is read-only.
func (r *RemoteRegistry) InsertNode(Node) error {
	return utils.NewError(utils.KindInvalidState, "remote registry mirrors are read-only")
}

// DeleteNode is rejected: the mirror is read-only.
func (r *RemoteRegistry) DeleteNode(string) error {
	return utils.NewError(utils.KindInvalidState, "remote registry mirrors are read-only")
}

// Server serves a local registry to remote mirrors.
type Server struct {
	registry Registry
	grpc     *grpc.Server
}

func NewServer(registry Registry) *Server {
	s := &Server{registry: registry}
	s.grpc = grpc.NewServer(grpc.ForceServerCodec(wireCodec{}))
	s.grpc.RegisterService(&grpc.ServiceDesc{
		ServiceName: registryServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "FetchNode", Handler: s.fetchNodeHandler},
			{MethodName: "ListNodes", Handler: s.listNodesHandler},
		},
	}, s)
	return s
}

// Serve blocks serving on listener.
func (s *Server) Serve(listener net.Listener) error {
	return s.grpc.Serve(listener)
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) fetchNodeHandler(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req wire.NodeRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	node, err := s.registry.FetchNode(req.Identity)
	if err != nil {
		if utils.IsNotFound(err) {
			return &wire.NodeEntry{}, nil
		}
		return nil, err
	}
	return &wire.NodeEntry{
		Identity:    node.Identity,
		Endpoints:   node.Endpoints,
		DisplayName: node.DisplayName,
		Keys:        node.Keys,
	}, nil
}

func (s *Server) listNodesHandler(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req wire.NodeRequest
	if err := dec(&req); err != nil {
		return nil, err
	}
	nodes, err := s.registry.ListNodes()
	if err != nil {
		return nil, err
	}
	resp := &wire.NodeList{}
	for _, node := range nodes {
		resp.Nodes = append(resp.Nodes, wire.NodeEntry{
			Identity:    node.Identity,
			Endpoints:   node.Endpoints,
			DisplayName: node.DisplayName,
			Keys:        node.Keys,
		})
	}
	return resp, nil
}

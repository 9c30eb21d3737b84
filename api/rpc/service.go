package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "haste.Agent"

	methodDeploy   = "/" + serviceName + "/Deploy"
	methodDoAction = "/" + serviceName + "/DoAction"
	methodGetPorts = "/" + serviceName + "/GetPorts"
)

// AgentServer is the Agent RPC contract an agent daemon implements.
type AgentServer interface {
	Deploy(ctx context.Context, req *CacheInfo) (*CacheState, error)
	DoAction(ctx context.Context, req *Action) (*CacheState, error)
	GetPorts(ctx context.Context, req *PortAcquire) (*Ports, error)
}

// ServiceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// _ServiceDesc: it binds AgentServer's methods to grpc's wire dispatch
// without a .proto file, since protoc is not available in this build.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deploy", Handler: deployHandler},
		{MethodName: "DoAction", Handler: doActionHandler},
		{MethodName: "GetPorts", Handler: getPortsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/rpc/service.go",
}

// RegisterAgentServer registers srv with s under the JSON content
// subtype; callers must also pass grpc.ForceServerCodec(jsonCodec{})
// when constructing s (NewServer in dial.go does this).
func RegisterAgentServer(s *grpc.Server, srv AgentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func deployHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CacheInfo)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).Deploy(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDeploy}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).Deploy(ctx, req.(*CacheInfo))
	}
	return interceptor(ctx, in, info, handler)
}

func doActionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Action)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).DoAction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDoAction}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).DoAction(ctx, req.(*Action))
	}
	return interceptor(ctx, in, info, handler)
}

func getPortsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PortAcquire)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).GetPorts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetPorts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).GetPorts(ctx, req.(*PortAcquire))
	}
	return interceptor(ctx, in, info, handler)
}

// AgentClient is the caller-side stub for the Agent RPC contract.
type AgentClient interface {
	Deploy(ctx context.Context, req *CacheInfo, opts ...grpc.CallOption) (*CacheState, error)
	DoAction(ctx context.Context, req *Action, opts ...grpc.CallOption) (*CacheState, error)
	GetPorts(ctx context.Context, req *PortAcquire, opts ...grpc.CallOption) (*Ports, error)
}

type agentClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentClient wraps cc, which must have been dialed with
// grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())).
func NewAgentClient(cc grpc.ClientConnInterface) AgentClient {
	return &agentClient{cc: cc}
}

func (c *agentClient) Deploy(ctx context.Context, req *CacheInfo, opts ...grpc.CallOption) (*CacheState, error) {
	out := new(CacheState)
	if err := c.cc.Invoke(ctx, methodDeploy, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) DoAction(ctx context.Context, req *Action, opts ...grpc.CallOption) (*CacheState, error) {
	out := new(CacheState)
	if err := c.cc.Invoke(ctx, methodDoAction, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) GetPorts(ctx context.Context, req *PortAcquire, opts ...grpc.CallOption) (*Ports, error) {
	out := new(Ports)
	if err := c.cc.Invoke(ctx, methodGetPorts, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CallOption forces the JSON codec on a single Dial/Invoke call.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(jsonCodec{}.Name())
}

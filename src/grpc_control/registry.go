package grpc_control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "votespin.Control"

// ControlServer is the server API for the votespin.Control service.
type ControlServer interface {
	Next(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Enqueue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Snapshot(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Reset(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// Control_ServiceDesc is registered by hand; requests and responses are
// protobuf well-known types so no generated stubs are needed.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Next", Handler: unaryHandler("Next", newStruct, ControlServer.Next)},
		{MethodName: "Enqueue", Handler: unaryHandler("Enqueue", newStruct, ControlServer.Enqueue)},
		{MethodName: "Snapshot", Handler: unaryHandler("Snapshot", newEmpty, ControlServer.Snapshot)},
		{MethodName: "Reset", Handler: unaryHandler("Reset", newEmpty, ControlServer.Reset)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "votespin/control.proto",
}

// RegisterControlServer attaches srv to a gRPC server.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

// -----------------------------------------------------------------------------

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[T proto.Message](
	method string,
	newReq func() T,
	call func(ControlServer, context.Context, T) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ControlServer), ctx, req.(T))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// ControlClient calls votespin.Control over an existing connection.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) Next(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Next"), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Enqueue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Enqueue"), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Snapshot(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Snapshot"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Reset(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Reset"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

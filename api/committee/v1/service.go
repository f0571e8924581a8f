// Hand-written gRPC service definition for the committee channel,
// laid out the way protoc-gen-go-grpc would emit it.
package committeev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "assetd.committee.v1.CommitteeService"

// CommitteeServiceClient is the client API for the committee channel.
type CommitteeServiceClient interface {
	// Broadcast delivers a protocol message to the peer's engine.
	Broadcast(ctx context.Context, in *BroadcastRequest, opts ...grpc.CallOption) (*BroadcastResponse, error)
	// Deliver delivers a message addressed to one node.
	Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error)
	// Status reports the peer's transport status.
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type committeeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCommitteeServiceClient creates a client over an established
// connection.
func NewCommitteeServiceClient(cc grpc.ClientConnInterface) CommitteeServiceClient {
	return &committeeServiceClient{cc}
}

func (c *committeeServiceClient) Broadcast(ctx context.Context, in *BroadcastRequest, opts ...grpc.CallOption) (*BroadcastResponse, error) {
	out := new(BroadcastResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Broadcast", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *committeeServiceClient) Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Deliver", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *committeeServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Status", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CommitteeServiceServer is the server API for the committee channel.
type CommitteeServiceServer interface {
	Broadcast(ctx context.Context, in *BroadcastRequest) (*BroadcastResponse, error)
	Deliver(ctx context.Context, in *DeliverRequest) (*DeliverResponse, error)
	Status(ctx context.Context, in *StatusRequest) (*StatusResponse, error)
}

// UnimplementedCommitteeServiceServer provides forward-compatible
// default implementations.
type UnimplementedCommitteeServiceServer struct{}

func (UnimplementedCommitteeServiceServer) Broadcast(context.Context, *BroadcastRequest) (*BroadcastResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Broadcast not implemented")
}

func (UnimplementedCommitteeServiceServer) Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Deliver not implemented")
}

func (UnimplementedCommitteeServiceServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Status not implemented")
}

// RegisterCommitteeServiceServer registers the service implementation
// with a gRPC server.
func RegisterCommitteeServiceServer(s grpc.ServiceRegistrar, srv CommitteeServiceServer) {
	s.RegisterService(&CommitteeService_ServiceDesc, srv)
}

func _CommitteeService_Broadcast_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BroadcastRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommitteeServiceServer).Broadcast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Broadcast",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommitteeServiceServer).Broadcast(ctx, req.(*BroadcastRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CommitteeService_Deliver_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommitteeServiceServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Deliver",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommitteeServiceServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CommitteeService_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommitteeServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Status",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommitteeServiceServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CommitteeService_ServiceDesc is the grpc.ServiceDesc for the committee
// channel service.
var CommitteeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommitteeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Broadcast",
			Handler:    _CommitteeService_Broadcast_Handler,
		},
		{
			MethodName: "Deliver",
			Handler:    _CommitteeService_Deliver_Handler,
		},
		{
			MethodName: "Status",
			Handler:    _CommitteeService_Status_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "assetd/committee/v1/committee.proto",
}

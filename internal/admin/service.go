package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "spire.admin.v1.AdminService"

const (
	broadcastMethod = "/" + ServiceName + "/Broadcast"
	statsMethod     = "/" + ServiceName + "/Stats"
)

// AdminServiceServer is the server API for the admin service. Messages are
// protobuf well-known types, so no generated code is needed.
type AdminServiceServer interface {
	// Broadcast sends a notice event to every player in every room.
	Broadcast(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// Stats reports the dispatcher registries.
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterAdminServiceServer registers srv on s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Broadcast", Handler: broadcastHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spire/admin/v1/admin.proto",
}

func broadcastHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).Broadcast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: broadcastMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).Broadcast(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServiceServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the admin service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Broadcast calls AdminService.Broadcast.
func (c *Client) Broadcast(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, broadcastMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats calls AdminService.Stats.
func (c *Client) Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

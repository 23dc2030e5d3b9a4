// Package adminrpc defines the local administration gRPC service of the
// valve node. Messages are protobuf well-known types, so no generated code is
// needed on either side.
package adminrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "valvenode.admin.v1.Admin"

const (
	Admin_GetStatus_FullMethodName = "/" + ServiceName + "/GetStatus"
	Admin_SetClock_FullMethodName  = "/" + ServiceName + "/SetClock"
	Admin_SyncClock_FullMethodName = "/" + ServiceName + "/SyncClock"
)

// AdminServer is the server API for the Admin service.
type AdminServer interface {
	// GetStatus returns the valve session, the config and the clock state.
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// SetClock sets the RTC from a "DD/MM/YYYY HH:MM" string.
	SetClock(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// SyncClock forces a network time sync.
	SyncClock(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterAdminServer attaches srv to s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&Admin_ServiceDesc, srv)
}

func _Admin_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Admin_GetStatus_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_SetClock_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).SetClock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Admin_SetClock_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).SetClock(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Admin_SyncClock_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).SyncClock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Admin_SyncClock_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).SyncClock(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Admin_ServiceDesc is the grpc.ServiceDesc for the Admin service.
var Admin_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _Admin_GetStatus_Handler},
		{MethodName: "SetClock", Handler: _Admin_SetClock_Handler},
		{MethodName: "SyncClock", Handler: _Admin_SyncClock_Handler},
	},
	Streams: []grpc.StreamDesc{},
}

// Client is the client API for the Admin service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a plaintext connection to a node's admin listener.
func Dial(target string) (*grpc.ClientConn, error) {
	return grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Admin_GetStatus_FullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetClock(ctx context.Context, value string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Admin_SetClock_FullMethodName, wrapperspb.String(value), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SyncClock(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Admin_SyncClock_FullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

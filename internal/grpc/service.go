package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the cache administration service.
const ServiceName = "dhis.cache.v1.CacheAdmin"

// CacheAdminServer is the server API for the CacheAdmin service. Messages are protobuf well-known
// types; snapshots are encoded as Structs with the same field names as the HTTP JSON bodies.
type CacheAdminServer interface {
	// GetInfo returns the cache snapshot, condensed when the request is true.
	GetInfo(context.Context, *wrapperspb.BoolValue) (*structpb.Struct, error)
	// ListRegions returns the sorted region names.
	ListRegions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// GetRegion returns the snapshot of one region.
	GetRegion(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// GetCap returns the cap percentages.
	GetCap(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// UpdateCap applies any of the "heap", "hard" and "soft" fields.
	UpdateCap(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Invalidate clears the whole cache.
	Invalidate(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// InvalidateRegion clears one region.
	InvalidateRegion(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// unaryHandler adapts a typed CacheAdminServer method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](method string, call func(CacheAdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CacheAdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CacheAdminServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CacheAdminServiceDesc is the grpc.ServiceDesc for the CacheAdmin service.
var CacheAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CacheAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInfo", Handler: unaryHandler("GetInfo", CacheAdminServer.GetInfo)},
		{MethodName: "ListRegions", Handler: unaryHandler("ListRegions", CacheAdminServer.ListRegions)},
		{MethodName: "GetRegion", Handler: unaryHandler("GetRegion", CacheAdminServer.GetRegion)},
		{MethodName: "GetCap", Handler: unaryHandler("GetCap", CacheAdminServer.GetCap)},
		{MethodName: "UpdateCap", Handler: unaryHandler("UpdateCap", CacheAdminServer.UpdateCap)},
		{MethodName: "Invalidate", Handler: unaryHandler("Invalidate", CacheAdminServer.Invalidate)},
		{MethodName: "InvalidateRegion", Handler: unaryHandler("InvalidateRegion", CacheAdminServer.InvalidateRegion)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterCacheAdminServer registers srv on s.
func RegisterCacheAdminServer(s grpc.ServiceRegistrar, srv CacheAdminServer) {
	s.RegisterService(&CacheAdminServiceDesc, srv)
}

// CacheAdminClient is the client API for the CacheAdmin service.
type CacheAdminClient struct {
	cc grpc.ClientConnInterface
}

// NewCacheAdminClient returns a client using cc.
func NewCacheAdminClient(cc grpc.ClientConnInterface) *CacheAdminClient {
	return &CacheAdminClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CacheAdminClient) GetInfo(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "GetInfo", in, opts...)
}

func (c *CacheAdminClient) ListRegions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "ListRegions", in, opts...)
}

func (c *CacheAdminClient) GetRegion(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "GetRegion", in, opts...)
}

func (c *CacheAdminClient) GetCap(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "GetCap", in, opts...)
}

func (c *CacheAdminClient) UpdateCap(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "UpdateCap", in, opts...)
}

func (c *CacheAdminClient) Invalidate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Invalidate", in, opts...)
}

func (c *CacheAdminClient) InvalidateRegion(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "InvalidateRegion", in, opts...)
}

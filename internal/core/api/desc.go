package api

import (
	"context"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "mtgjson.v1.Booster"

// BoosterServer is the server side of ServiceName. Every method takes and
// returns a google.protobuf.Struct.
type BoosterServer interface {
	Meta(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AvailableTypes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenPack(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SQL(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(BoosterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BoosterServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BoosterServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes ServiceName for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BoosterServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Meta", BoosterServer.Meta),
		unary("AvailableTypes", BoosterServer.AvailableTypes),
		unary("OpenPack", BoosterServer.OpenPack),
		unary("SQL", BoosterServer.SQL),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mtgjson/v1/booster.proto",
}

// Register adds srv to s. The SQL method is only served when allowSQL is
// set; without it SQL calls fail with Unimplemented.
func Register(s grpc.ServiceRegistrar, srv BoosterServer, allowSQL bool) {
	desc := ServiceDesc
	if !allowSQL {
		desc.Methods = slices.DeleteFunc(slices.Clone(ServiceDesc.Methods), func(m grpc.MethodDesc) bool {
			return m.MethodName == "SQL"
		})
	}
	s.RegisterService(&desc, srv)
}

// Client calls ServiceName over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in and returns the response struct.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

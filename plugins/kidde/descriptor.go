package kidde

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "homesafe.kidde.v1.KiddeService"
	protoFile   = "homesafe/kidde/v1/kidde.proto"
)

// KiddeServiceServer is the server API for KiddeService.
type KiddeServiceServer interface {
	GetData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDevices(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListMembers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeviceCommand(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var kiddeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KiddeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetData",
			Handler: unaryHandler("GetData", newStruct, func(s KiddeServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetData(ctx, in)
			}),
		},
		{
			MethodName: "ListDevices",
			Handler: unaryHandler("ListDevices", newEmpty, func(s KiddeServiceServer, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
				return s.ListDevices(ctx, in)
			}),
		},
		{
			MethodName: "ListMembers",
			Handler: unaryHandler("ListMembers", newStruct, func(s KiddeServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ListMembers(ctx, in)
			}),
		},
		{
			MethodName: "DeviceCommand",
			Handler: unaryHandler("DeviceCommand", newStruct, func(s KiddeServiceServer, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
				return s.DeviceCommand(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

func unaryHandler[Req proto.Message, Resp proto.Message](
	method string,
	newReq func() Req,
	call func(KiddeServiceServer, context.Context, Req) (Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(KiddeServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(KiddeServiceServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterKiddeServiceServer registers srv and publishes the service
// descriptor for server reflection.
func RegisterKiddeServiceServer(s grpc.ServiceRegistrar, srv KiddeServiceServer) error {
	if err := registerDescriptor(); err != nil {
		return err
	}
	s.RegisterService(&kiddeServiceDesc, srv)
	return nil
}

// KiddeServiceClient is the client API for KiddeService.
type KiddeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewKiddeServiceClient(cc grpc.ClientConnInterface) *KiddeServiceClient {
	return &KiddeServiceClient{cc: cc}
}

func (c *KiddeServiceClient) GetData(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetData", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KiddeServiceClient) ListDevices(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListDevices", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KiddeServiceClient) ListMembers(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ListMembers", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KiddeServiceClient) DeviceCommand(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/DeviceCommand", in, &emptypb.Empty{}, opts...)
}

var (
	descriptorOnce sync.Once
	descriptorErr  error
)

func registerDescriptor() error {
	descriptorOnce.Do(func() {
		if _, err := protoregistry.GlobalFiles.FindFileByPath(protoFile); err == nil {
			return
		}
		fd, err := protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
		if err != nil {
			descriptorErr = err
			return
		}
		descriptorErr = protoregistry.GlobalFiles.RegisterFile(fd)
	})
	return descriptorErr
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	method := func(name, in, out string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(in),
			OutputType: proto.String(out),
		}
	}
	const (
		structType = ".google.protobuf.Struct"
		emptyType  = ".google.protobuf.Empty"
	)
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String("homesafe.kidde.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			structpb.File_google_protobuf_struct_proto.Path(),
			emptypb.File_google_protobuf_empty_proto.Path(),
		},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/joshp123/homesafe/plugins/kidde"),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("KiddeService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("GetData", structType, structType),
				method("ListDevices", emptyType, structType),
				method("ListMembers", structType, structType),
				method("DeviceCommand", structType, emptyType),
			},
		}},
	}
}

// Package scenestream serves scenes and playback control over gRPC.
//
// The service is tagtrack.v1.SceneService. Its messages are
// google.protobuf.Struct values so clients in any language can use the
// well-known types without generated stubs:
//
//	rpc StreamScenes(Struct) returns (stream Struct)
//	rpc Play(Struct) returns (Struct)
//	rpc Pause(Struct) returns (Struct)
//	rpc Seek(Struct) returns (Struct)          // {"t_ms": number}
//	rpc SetRate(Struct) returns (Struct)       // {"rate": number}
//	rpc SetMode(Struct) returns (Struct)       // {"mode": "live"|"history"}
//	rpc LoadRange(Struct) returns (Struct)     // {"start_ms": number, "end_ms": number}
//	rpc GetCapabilities(Struct) returns (Struct)
package scenestream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tagtrack.v1.SceneService"

// SceneServiceServer is implemented by Server.
type SceneServiceServer interface {
	StreamScenes(req *structpb.Struct, stream grpc.ServerStream) error
	Play(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Pause(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Seek(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetRate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	LoadRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCapabilities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(SceneServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SceneServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(SceneServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamScenesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SceneServiceServer).StreamScenes(in, stream)
}

// ServiceDesc describes SceneService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SceneServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Play", SceneServiceServer.Play),
		unary("Pause", SceneServiceServer.Pause),
		unary("Seek", SceneServiceServer.Seek),
		unary("SetRate", SceneServiceServer.SetRate),
		unary("SetMode", SceneServiceServer.SetMode),
		unary("LoadRange", SceneServiceServer.LoadRange),
		unary("GetCapabilities", SceneServiceServer.GetCapabilities),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamScenes",
			Handler:       streamScenesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "tagtrack/v1/scene.proto",
}

// RegisterService registers srv with a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv SceneServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

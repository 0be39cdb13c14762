package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "manipulator.visualiser.v1.Visualiser"

// FrameStreamServer is the server side of a StreamFrames call.
type FrameStreamServer = grpc.ServerStreamingServer[structpb.Struct]

// FrameStreamClient is the client side of a StreamFrames call.
type FrameStreamClient = grpc.ServerStreamingClient[structpb.Struct]

// VisualiserServer is the service implemented by Server.
type VisualiserServer interface {
	StreamFrames(*structpb.Struct, FrameStreamServer) error
}

// ServiceDesc describes the Visualiser service. Requests and frames are
// google.protobuf.Struct messages.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*VisualiserServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "visualiser.proto",
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(VisualiserServer).StreamFrames(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RegisterService registers the Visualiser service with the server.
func RegisterService(grpcServer grpc.ServiceRegistrar, server VisualiserServer) {
	grpcServer.RegisterService(&ServiceDesc, server)
}

// Ensure Server implements the gRPC interface.
var _ VisualiserServer = (*Server)(nil)

// Server implements the Visualiser service on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC service.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamFrames streams frames to one client until it disconnects.
func (s *Server) StreamFrames(in *structpb.Struct, stream FrameStreamServer) error {
	req := streamRequestFromProto(in)
	client, err := s.publisher.addClient(req)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	every := uint64(max(req.Every, 1))
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-client.frameCh:
			n++
			if (n-1)%every != 0 {
				continue
			}
			msg, err := frameToProto(frame, req)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Client is a StreamFrames client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// StreamFrames opens a frame stream.
func (c *Client) StreamFrames(ctx context.Context, req StreamRequest, opts ...grpc.CallOption) (FrameStreamClient, error) {
	in, err := req.toProto()
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/StreamFrames", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

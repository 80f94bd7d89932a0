package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "subtitles.v1.FragmentIngest"

	// StreamFragmentsMethod is the full method name of the fragment stream.
	StreamFragmentsMethod = "/" + ServiceName + "/StreamFragments"

	// ChannelMetadataKey is the metadata key carrying the channel name.
	ChannelMetadataKey = "channel"
)

// FragmentIngestServer is the server API of the fragment ingest service.
//
// StreamFragments receives encoded transcript fragments, one per
// BytesValue, and answers with the session ID once the client closes the
// stream.
type FragmentIngestServer interface {
	StreamFragments(grpc.ClientStreamingServer[wrapperspb.BytesValue, wrapperspb.StringValue]) error
}

// FragmentIngestClient is the client API of the fragment ingest service.
type FragmentIngestClient interface {
	StreamFragments(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, wrapperspb.StringValue], error)
}

type fragmentIngestClient struct {
	cc grpc.ClientConnInterface
}

// NewFragmentIngestClient creates a client on cc.
func NewFragmentIngestClient(cc grpc.ClientConnInterface) FragmentIngestClient {
	return &fragmentIngestClient{cc: cc}
}

func (c *fragmentIngestClient) StreamFragments(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, wrapperspb.StringValue], error) {
	stream, err := c.cc.NewStream(ctx, &FragmentIngestServiceDesc.Streams[0], StreamFragmentsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.StringValue]{ClientStream: stream}, nil
}

// WithChannel returns a context whose outgoing metadata names channel.
func WithChannel(ctx context.Context, channel string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ChannelMetadataKey, channel)
}

// RegisterFragmentIngestServer registers srv on s.
func RegisterFragmentIngestServer(s grpc.ServiceRegistrar, srv FragmentIngestServer) {
	s.RegisterService(&FragmentIngestServiceDesc, srv)
}

func streamFragmentsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(FragmentIngestServer).StreamFragments(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.StringValue]{ServerStream: stream})
}

// FragmentIngestServiceDesc is the grpc.ServiceDesc of the fragment ingest service.
var FragmentIngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FragmentIngestServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFragments",
			Handler:       streamFragmentsHandler,
			ClientStreams: true,
		},
	},
	Metadata: "subtitles/v1/ingest.proto",
}

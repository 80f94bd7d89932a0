// Package grpcapi exposes the gRPC fragment ingest service.
package grpcapi

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"live-subtitles-service/internal/observability/logging"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/session"
	"live-subtitles-service/internal/transcript"
)

// TransportGRPC labels fragments received over gRPC in metrics.
const TransportGRPC = "grpc"

// Server implements FragmentIngestServer on top of the session registry.
type Server struct {
	registry         *session.Registry
	maxFragmentBytes int
	metrics          *metrics.Metrics
}

// Config configures the ingest server.
type Config struct {
	Registry *session.Registry

	// MaxFragmentBytes drops frames larger than this. Zero disables the limit.
	MaxFragmentBytes int

	Metrics *metrics.Metrics
}

// NewServer creates the ingest server.
func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Server{
		registry:         cfg.Registry,
		maxFragmentBytes: cfg.MaxFragmentBytes,
		metrics:          m,
	}
}

// Register creates the ingest server and registers it on g.
func Register(g *grpc.Server, cfg Config) *Server {
	s := NewServer(cfg)
	RegisterFragmentIngestServer(g, s)
	return s
}

// StreamFragments delivers every received fragment to the channel's session,
// opening one if needed. Undecodable or oversized fragments are dropped and
// the stream continues.
func (s *Server) StreamFragments(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, wrapperspb.StringValue]) error {
	ctx := stream.Context()

	channel, err := channelFromContext(ctx)
	if err != nil {
		return err
	}

	sess, created := s.registry.Open(channel)
	logger := logging.WithSession("grpcapi.StreamFragments", channel, sess.ID())
	logger.Info().Bool("created", created).Msg("Fragment stream opened")

	start := time.Now()
	var received, rejected int
	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			logger.Info().
				Int("fragments", received).
				Int("rejected", rejected).
				Dur("duration", time.Since(start)).
				Msg("Fragment stream closed by client")
			return stream.SendAndClose(wrapperspb.String(sess.ID()))
		}
		if err != nil {
			logger.Warn().
				Err(err).
				Int("fragments", received).
				Msg("Fragment stream receive failed")
			return err
		}

		raw := frame.GetValue()
		received++
		s.metrics.RecordFragmentReceived(TransportGRPC, len(raw))

		if s.maxFragmentBytes > 0 && len(raw) > s.maxFragmentBytes {
			rejected++
			s.metrics.RecordFragmentDropped(metrics.DropReasonOversize)
			logger.Warn().
				Int("bytes", len(raw)).
				Int("maxBytes", s.maxFragmentBytes).
				Msg("Dropping oversized fragment")
			continue
		}

		if err := sess.Deliver(raw); err != nil {
			rejected++
			s.logDeliverError(logger, err)
		}
	}
}

func (s *Server) logDeliverError(logger zerolog.Logger, err error) {
	if errors.Is(err, transcript.ErrMalformed) {
		// Already counted and logged by the assembler.
		return
	}
	logger.Warn().Err(err).Msg("Fragment delivery failed")
}

// channelFromContext reads the channel name from incoming metadata.
func channelFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.InvalidArgument, "missing metadata")
	}
	for _, v := range md.Get(ChannelMetadataKey) {
		if v != "" {
			return v, nil
		}
	}
	return "", status.Errorf(codes.InvalidArgument, "missing %q metadata", ChannelMetadataKey)
}

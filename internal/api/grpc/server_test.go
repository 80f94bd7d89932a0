package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/session"
	"live-subtitles-service/internal/transcript"
)

func startTestServer(t *testing.T, maxBytes int) (FragmentIngestClient, *session.Registry, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	registry := session.NewRegistry(session.RegistryConfig{AgentUID: 101, Metrics: m})

	lis := bufconn.Listen(1024 * 1024)
	g := grpc.NewServer()
	Register(g, Config{Registry: registry, MaxFragmentBytes: maxBytes, Metrics: m})
	go g.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		g.Stop()
	})
	return NewFragmentIngestClient(conn), registry, m
}

func frame(text string) *wrapperspb.BytesValue {
	return wrapperspb.Bytes(transcript.Encode(&transcript.Fragment{
		Words: []transcript.Word{{Text: text}},
	}))
}

func TestStreamFragments_UpdatesSubtitle(t *testing.T) {
	client, registry, m := startTestServer(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamFragments(WithChannel(ctx, "room"))
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}

	frames := []*wrapperspb.BytesValue{
		frame("the"),
		wrapperspb.Bytes([]byte{0x0a, 0x05, 'a'}), // truncated, dropped
		frame("the quick"),
	}
	for _, f := range frames {
		if err := stream.Send(f); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	ack, err := stream.CloseAndRecv()
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	sess, err := registry.Get("room")
	if err != nil {
		t.Fatalf("expected session for channel: %v", err)
	}
	if ack.GetValue() != sess.ID() {
		t.Errorf("expected ack %q, got %q", sess.ID(), ack.GetValue())
	}
	if got := sess.Subtitle().Current(); got != "the quick" {
		t.Errorf("expected 'the quick', got %q", got)
	}
	if got := testutil.ToFloat64(m.FragmentsReceived.WithLabelValues(TransportGRPC)); got != 3 {
		t.Errorf("expected 3 received fragments, got %v", got)
	}
	if got := testutil.ToFloat64(m.FragmentsDropped.WithLabelValues(metrics.DropReasonDecode)); got != 1 {
		t.Errorf("expected 1 decode drop, got %v", got)
	}
}

func TestStreamFragments_ReusesOpenSession(t *testing.T) {
	client, registry, _ := startTestServer(t, 0)
	existing, _ := registry.Open("room")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamFragments(WithChannel(ctx, "room"))
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	stream.Send(frame("hello"))
	ack, err := stream.CloseAndRecv()
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if ack.GetValue() != existing.ID() {
		t.Errorf("expected existing session %q, got %q", existing.ID(), ack.GetValue())
	}
	if got := existing.Subtitle().Current(); got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
}

func TestStreamFragments_MissingChannel(t *testing.T) {
	client, _, _ := startTestServer(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamFragments(ctx)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	_, err = stream.CloseAndRecv()
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestStreamFragments_OversizedDropped(t *testing.T) {
	client, registry, m := startTestServer(t, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamFragments(WithChannel(ctx, "room"))
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	stream.Send(frame("ok"))
	stream.Send(frame("this text is far too long for the limit"))
	if _, err := stream.CloseAndRecv(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	sess, _ := registry.Get("room")
	if got := sess.Subtitle().Current(); got != "ok" {
		t.Errorf("expected 'ok', got %q", got)
	}
	if got := testutil.ToFloat64(m.FragmentsDropped.WithLabelValues(metrics.DropReasonOversize)); got != 1 {
		t.Errorf("expected 1 oversize drop, got %v", got)
	}
}

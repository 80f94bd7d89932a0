package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"live-subtitles-service/internal/observability/metrics"
)

// testServerStream implements grpc.ServerStream for testing
type testServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *testServerStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor_RecordsMetrics(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		wantSuccess float64
		wantFailed  float64
	}{
		{"success", nil, 1, 0},
		{"failure", errors.New("boom"), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewMetrics(prometheus.NewRegistry())
			interceptor := StreamServerInterceptor(m)

			ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("channel", "room"))
			ss := &testServerStream{ctx: ctx}
			info := &grpc.StreamServerInfo{FullMethod: "/test/Stream", IsClientStream: true}

			err := interceptor(nil, ss, info, func(srv interface{}, stream grpc.ServerStream) error {
				if got := testutil.ToFloat64(m.StreamsActive); got != 1 {
					t.Errorf("expected 1 active stream during handler, got %v", got)
				}
				return tt.handlerErr
			})

			if !errors.Is(err, tt.handlerErr) {
				t.Errorf("expected handler error to pass through, got %v", err)
			}
			if got := testutil.ToFloat64(m.StreamsActive); got != 0 {
				t.Errorf("expected 0 active streams, got %v", got)
			}
			if got := testutil.ToFloat64(m.StreamsSuccess); got != tt.wantSuccess {
				t.Errorf("expected %v successful streams, got %v", tt.wantSuccess, got)
			}
			if got := testutil.ToFloat64(m.StreamsFailed); got != tt.wantFailed {
				t.Errorf("expected %v failed streams, got %v", tt.wantFailed, got)
			}
		})
	}
}

func TestUnaryServerInterceptor_PassesThrough(t *testing.T) {
	interceptor := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Unary"}

	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "resp", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "resp" {
		t.Errorf("expected 'resp', got %v", resp)
	}
}

func TestFirstMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("channel", "a", "channel", "b"))

	if got := firstMetadata(ctx, "channel"); got != "a" {
		t.Errorf("expected 'a', got %q", got)
	}
	if got := firstMetadata(ctx, "missing"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := firstMetadata(context.Background(), "channel"); got != "" {
		t.Errorf("expected empty without metadata, got %q", got)
	}
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordSessionOpened()

	srv := NewServerWithGatherer(":0", reg)
	srv.SetReady(true)

	tests := []struct {
		path     string
		contains string
	}{
		{"/healthz", "ok"},
		{"/readyz", "ready"},
		{"/metrics", "live_subtitles_sessions_opened_total 1"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", rec.Code)
			}
			body, _ := io.ReadAll(rec.Body)
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("expected body to contain %q, got %s", tt.contains, body)
			}
		})
	}
}

func TestServer_Readiness(t *testing.T) {
	srv := NewServerWithGatherer(":0", prometheus.NewRegistry())

	probe := func() int {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if code := probe(); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", code)
	}
	srv.SetReady(true)
	if code := probe(); code != http.StatusOK {
		t.Errorf("expected 200 when ready, got %d", code)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if srv.Ready() {
		t.Error("expected not ready after shutdown")
	}
	if code := probe(); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", code)
	}
}

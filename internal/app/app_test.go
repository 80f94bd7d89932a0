package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"live-subtitles-service/internal/config"
	"live-subtitles-service/internal/transcript"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Principal:   "test-svc",
			GRPCPort:    "0",
			HTTPPort:    "0",
			MetricsPort: "0",
		},
		Subtitles: config.SubtitlesConfig{
			BotUID:           101,
			MaxFragmentBytes: 1024,
			DemoInterval:     time.Millisecond,
		},
		Kafka: config.KafkaConfig{
			TopicPartial: "test.partial",
			TopicFinal:   "test.final",
		},
		Observability: config.ObservabilityConfig{
			LogLevel: "error",
		},
	}
}

func newTestApp(cfg *config.Config) *Application {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(cfg, reg, reg)
}

func TestNew_WiresComponents(t *testing.T) {
	a := newTestApp(testConfig())

	if a.Registry == nil || a.Publisher == nil || a.Hub == nil {
		t.Fatal("expected registry, publisher and hub to be created")
	}
	if a.Consumer != nil {
		t.Error("expected no Kafka consumer without an ingest topic")
	}
}

func TestNew_SessionChangesReachPublisher(t *testing.T) {
	a := newTestApp(testConfig())

	a.Registry.Open("room")
	err := a.Registry.Deliver("room", transcript.Encode(&transcript.Fragment{
		Words: []transcript.Word{{Text: "the quick"}},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := testutil.ToFloat64(a.Metrics.KafkaPublishTotal.WithLabelValues("test.partial", "partial")); got != 1 {
		t.Errorf("expected 1 partial event published, got %v", got)
	}
	if got := testutil.ToFloat64(a.Metrics.ViewerBroadcast); got != 1 {
		t.Errorf("expected 1 viewer broadcast, got %v", got)
	}
}

func TestApplication_StartShutdown(t *testing.T) {
	a := newTestApp(testConfig())

	if err := a.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if a.StartupTime.IsZero() {
		t.Error("expected startup time to be set")
	}
	if !a.obsServer.Ready() {
		t.Error("expected ready after start")
	}
	a.Registry.Open("room")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Shutdown(ctx)

	if a.obsServer.Ready() {
		t.Error("expected not ready after shutdown")
	}

	if len(a.Registry.Channels()) != 0 {
		t.Errorf("expected all sessions closed on shutdown, got %v", a.Registry.Channels())
	}
}

func TestApplication_DemoChannel(t *testing.T) {
	cfg := testConfig()
	cfg.Subtitles.DemoChannel = "demo"
	a := newTestApp(cfg)

	if err := a.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, err := a.Registry.Get("demo"); err == nil && sess.Subtitle().Current() != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected simulated subtitles on the demo channel")
}

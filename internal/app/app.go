package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "live-subtitles-service/internal/api/grpc"
	"live-subtitles-service/internal/config"
	"live-subtitles-service/internal/display"
	"live-subtitles-service/internal/events"
	httpapi "live-subtitles-service/internal/http"
	"live-subtitles-service/internal/ingest"
	"live-subtitles-service/internal/observability"
	"live-subtitles-service/internal/observability/logging"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/backend"
	"live-subtitles-service/internal/service/session"
	"live-subtitles-service/internal/service/source/mock"
	"live-subtitles-service/internal/service/subtitle"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics   *metrics.Metrics
	Registry  *session.Registry
	Publisher *events.Publisher
	Hub       *display.Hub
	Consumer  *ingest.Consumer // nil without an ingest topic

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	obsServer    *observability.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	return NewWithRegistry(cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry constructs an Application whose metrics are registered
// with reg and served from g.
func NewWithRegistry(cfg *config.Config, reg prometheus.Registerer, g prometheus.Gatherer) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	if reg == prometheus.DefaultRegisterer {
		a.Metrics = metrics.DefaultMetrics
	} else {
		a.Metrics = metrics.NewMetrics(reg)
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
		Metrics:      a.Metrics,
	})
	a.Hub = display.NewHub(a.Metrics)

	var controller backend.Controller
	if cfg.Backend.URL != "" {
		controller = backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	} else {
		appLogger.Warn().Msg("No transcription backend configured, sessions cannot start transcription")
	}

	a.Registry = session.NewRegistry(session.RegistryConfig{
		Controller: controller,
		AgentUID:   cfg.Subtitles.BotUID,
		Metrics:    a.Metrics,
		Listeners: func(channel, sessionId string) subtitle.Listener {
			return subtitle.Listeners{
				a.Publisher.Listener(channel, sessionId),
				a.Hub.Listener(channel, sessionId),
			}
		},
	})

	if cfg.Kafka.Enabled && cfg.Kafka.IngestTopic != "" && len(cfg.Kafka.Brokers) > 0 {
		a.Consumer = ingest.NewConsumer(ingest.Config{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.IngestTopic,
			GroupID:          cfg.Kafka.GroupID,
			MaxFragmentBytes: cfg.Subtitles.MaxFragmentBytes,
			Metrics:          a.Metrics,
		}, a.Registry)
	}

	// gRPC ingest with health and reflection
	a.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(a.Metrics)),
	)
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	grpcapi.Register(a.grpcServer, grpcapi.Config{
		Registry:         a.Registry,
		MaxFragmentBytes: cfg.Subtitles.MaxFragmentBytes,
		Metrics:          a.Metrics,
	})
	reflection.Register(a.grpcServer)

	a.httpServer = &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Registry: a.Registry,
			Viewers:  a.Hub,
			Logger:   logging.WithComponent("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.obsServer = observability.NewServerWithGatherer(":"+cfg.Service.MetricsPort, g)

	appLogger.Info().Msg("Live subtitles service application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	if a.Cfg.Observability.LogLevel != "" {
		lc.Level = a.Cfg.Observability.LogLevel
	}
	if a.Cfg.Observability.LogFormat != "" {
		lc.Format = a.Cfg.Observability.LogFormat
	}
	if os.Getenv("ENV") == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = logging.WithComponent("application")
	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", lc.Format).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start opens the listeners and starts background workers.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	grpcLis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		grpcLis.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.StartupTime = time.Now().UTC()

	a.obsServer.Start()
	a.goRun(func() { a.Hub.Run(ctx) })

	if a.Consumer != nil {
		a.goRun(func() { a.Consumer.Run(ctx) })
	}
	if ch := a.Cfg.Subtitles.DemoChannel; ch != "" {
		a.goRun(func() { a.runDemo(ctx, ch) })
	}

	a.goRun(func() {
		startLogger.Info().Str("addr", grpcLis.Addr().String()).Msg("gRPC fragment ingest listening")
		if err := a.grpcServer.Serve(grpcLis); err != nil {
			startLogger.Error().Err(err).Msg("gRPC serve failed")
		}
	})
	a.goRun(func() {
		startLogger.Info().Str("addr", httpLis.Addr().String()).Msg("HTTP API listening")
		if err := a.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startLogger.Error().Err(err).Msg("HTTP serve failed")
		}
	})

	a.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	a.obsServer.SetReady(true)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Live subtitles service started")
	return nil
}

// runDemo feeds simulated fragments into a session of channel.
func (a *Application) runDemo(ctx context.Context, channel string) {
	sess, _ := a.Registry.Open(channel)
	logger := logging.WithSession("demo", channel, sess.ID())
	logger.Info().Dur("interval", a.Cfg.Subtitles.DemoInterval).Msg("Streaming simulated fragments")

	src := mock.New(a.Cfg.Subtitles.BotUID + 1)
	if err := src.Stream(ctx, sess, a.Cfg.Subtitles.DemoInterval); err != nil {
		logger.Error().Err(err).Msg("Simulated stream stopped")
	}
}

func (a *Application) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Shutdown stops accepting traffic, closes every session and flushes
// pending events.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Live subtitles service shutting down")
	a.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	a.obsServer.SetReady(false)

	if err := a.httpServer.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}

	if err := a.Registry.CloseAll(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Some transcription jobs failed to stop")
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.Consumer != nil {
		if err := a.Consumer.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Kafka consumer close failed")
		}
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Kafka publisher close failed")
	}
	if err := a.obsServer.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Observability shutdown incomplete")
	}

	log.Info().Msg("Shutdown complete")
}

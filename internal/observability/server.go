package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server serves metrics and probes on the metrics port.
//
// /readyz answers 503 until SetReady(true) and again once the service
// starts draining, so orchestrators stop routing fragment streams to it.
type Server struct {
	server *http.Server
	addr   string
	ready  atomic.Bool
}

// NewServer creates an observability server exposing the default
// Prometheus registry.
func NewServer(addr string) *Server {
	return NewServerWithGatherer(addr, prometheus.DefaultGatherer)
}

// NewServerWithGatherer creates an observability server exposing g.
func NewServerWithGatherer(addr string, g prometheus.Gatherer) *Server {
	s := &Server{addr: addr}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.readiness)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// SetReady marks whether the service accepts fragment streams and API calls.
func (s *Server) SetReady(ready bool) {
	if s.ready.Swap(ready) != ready {
		log.Info().Bool("ready", ready).Msg("Readiness changed")
	}
}

// Ready reports the current readiness.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("Observability server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Observability server failed")
		}
	}()
}

// Shutdown marks the server not ready and stops it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	log.Info().Msg("Shutting down observability server")
	return s.server.Shutdown(ctx)
}

package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"live-subtitles-service/internal/observability/logging"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/backend"
	"live-subtitles-service/internal/service/subtitle"
)

// ListenerFactory builds the subtitle listener of a new session.
type ListenerFactory func(channel, sessionId string) subtitle.Listener

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Controller backend.Controller
	AgentUID   int64
	Listeners  ListenerFactory // may be nil
	Metrics    *metrics.Metrics
}

// Registry holds the open session of each channel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ids      *Generator
	cfg      RegistryConfig
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ids:      NewGenerator(),
		cfg:      cfg,
		log:      logging.WithComponent("session.Registry"),
	}
}

// Open returns the open session of channel, creating one if there is none
// or the previous one has stopped. created reports whether a new session
// was made.
func (r *Registry) Open(channel string) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[channel]; ok {
		if !existing.lifecycle.IsStopped() {
			return existing, false
		}
		r.cfg.Metrics.RecordSessionClosed()
	}

	id := r.ids.Next(channel)
	var listener subtitle.Listener
	if r.cfg.Listeners != nil {
		listener = r.cfg.Listeners(channel, id)
	}
	s = New(Options{
		ID:         id,
		Channel:    channel,
		Controller: r.cfg.Controller,
		AgentUID:   r.cfg.AgentUID,
		Listener:   listener,
		Metrics:    r.cfg.Metrics,
	})
	r.sessions[channel] = s
	r.cfg.Metrics.RecordSessionOpened()

	r.log.Info().
		Str("channel", channel).
		Str("sessionId", id).
		Msg("Session opened")
	return s, true
}

// Get returns the open session of channel or ErrNotFound.
func (r *Registry) Get(channel string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[channel]
	if !ok || s.lifecycle.IsStopped() {
		return nil, ErrNotFound
	}
	return s, nil
}

// Deliver hands a raw fragment to the open session of channel. Fragments
// for channels without an open session are dropped and ErrNotFound is
// returned.
func (r *Registry) Deliver(channel string, raw []byte) error {
	s, err := r.Get(channel)
	if err != nil {
		r.cfg.Metrics.RecordFragmentDropped(metrics.DropReasonNoSession)
		return err
	}
	return s.Deliver(raw)
}

// Close stops the session of channel and removes it. The session is removed
// even if stopping the remote job fails; that error is returned.
func (r *Registry) Close(ctx context.Context, channel string) error {
	r.mu.Lock()
	s, ok := r.sessions[channel]
	if ok {
		delete(r.sessions, channel)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	r.cfg.Metrics.RecordSessionClosed()

	err := s.Stop(ctx)
	r.log.Info().
		Str("channel", channel).
		Str("sessionId", s.ID()).
		Bool("stopFailed", err != nil).
		Msg("Session closed")
	return err
}

// CloseAll closes every session.
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for _, channel := range r.Channels() {
		if err := r.Close(ctx, channel); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channels returns the channels with a session, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for channel := range r.sessions {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

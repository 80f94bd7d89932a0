package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"live-subtitles-service/internal/observability/logging"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/backend"
	"live-subtitles-service/internal/service/participants"
	"live-subtitles-service/internal/service/subtitle"
)

// ErrNoController is returned by Start when no backend is configured.
var ErrNoController = errors.New("no transcription backend configured")

// Options configures a Session.
type Options struct {
	ID         string
	Channel    string
	Controller backend.Controller
	AgentUID   int64
	Listener   subtitle.Listener // may be nil
	Metrics    *metrics.Metrics
}

// Session is the subtitle state of one call on one channel.
//
// Failures of the transcription backend never end the session: a failed
// start leaves it running without subtitles and a failed stop is reported
// but the session still stops.
type Session struct {
	id         string
	channel    string
	controller backend.Controller
	lifecycle  *Lifecycle
	tracker    *subtitle.Tracker
	assembler  *subtitle.Assembler
	roster     *participants.Roster
	metrics    *metrics.Metrics
	log        zerolog.Logger
	createdAt  time.Time

	// deliverMu orders deliveries against the stop-and-reset in Stop.
	deliverMu sync.RWMutex

	mu      sync.Mutex
	task    backend.Task
	hasTask bool
}

// New creates a session in NOT_STARTED state.
func New(opts Options) *Session {
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	logger := logging.WithSession("session", opts.Channel, opts.ID)
	tracker := subtitle.NewTracker(opts.Listener)

	return &Session{
		id:         opts.ID,
		channel:    opts.Channel,
		controller: opts.Controller,
		lifecycle:  NewLifecycle(),
		tracker:    tracker,
		assembler:  subtitle.NewAssembler(tracker, m, logger),
		roster:     participants.NewRoster(opts.AgentUID),
		metrics:    m,
		log:        logger,
		createdAt:  time.Now().UTC(),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Channel returns the channel name.
func (s *Session) Channel() string { return s.channel }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Subtitle returns the current subtitle tracker.
func (s *Session) Subtitle() *subtitle.Tracker { return s.tracker }

// Roster returns the participant roster.
func (s *Session) Roster() *participants.Roster { return s.roster }

// Task returns the credentials of the running transcription job, if any.
func (s *Session) Task() (backend.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task, s.hasTask
}

// Start asks the backend to start transcribing the channel.
//
// Repeated calls are passed through to the backend, which decides whether a
// second job may run. On failure the session keeps working without
// subtitles and the error is returned for reporting.
func (s *Session) Start(ctx context.Context) (backend.Task, error) {
	if err := s.lifecycle.CanStart(); err != nil {
		return backend.Task{}, err
	}
	if s.controller == nil {
		return backend.Task{}, ErrNoController
	}

	start := time.Now()
	task, err := s.controller.StartTranscribing(ctx, s.channel)
	s.metrics.RecordSessionControl(backend.OpStart, err, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn().
			Err(err).
			Msg("Transcription start failed, continuing without subtitles")
		return backend.Task{}, err
	}

	s.mu.Lock()
	if s.hasTask {
		s.log.Warn().
			Str("previousTaskId", s.task.TaskID).
			Str("taskId", task.TaskID).
			Msg("Transcription started again, replacing task credentials")
	}
	s.task = task
	s.hasTask = true
	s.mu.Unlock()

	if err := s.lifecycle.MarkStarted(); err != nil {
		// Stop raced with start; release the job we just got.
		s.log.Warn().Str("taskId", task.TaskID).Msg("Session stopped during start, releasing task")
		s.releaseTask(context.WithoutCancel(ctx))
		return backend.Task{}, err
	}

	s.log.Info().
		Str("taskId", task.TaskID).
		Dur("latency", time.Since(start)).
		Msg("Transcription started")
	return task, nil
}

// Deliver hands one raw fragment to the subtitle assembler. It does no I/O.
//
// Fragments arriving after Stop are ignored without error. The only error
// returned is a decode failure, for reporting; the subtitle is unchanged.
func (s *Session) Deliver(raw []byte) error {
	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()

	if s.lifecycle.IsStopped() {
		s.metrics.RecordFragmentDropped(metrics.DropReasonSessionStopped)
		s.log.Debug().Int("bytes", len(raw)).Msg("Fragment after stop ignored")
		return nil
	}
	return s.assembler.Handle(raw)
}

// Stop ends the session: the current subtitle is cleared and, if a job is
// running, the backend is asked to stop it. A stop failure is returned but
// the session is stopped regardless. Stop is idempotent.
func (s *Session) Stop(ctx context.Context) error {
	s.deliverMu.Lock()
	prev := s.lifecycle.MarkStopped()
	if prev == StateStopped {
		s.deliverMu.Unlock()
		return nil
	}
	s.tracker.Reset()
	s.deliverMu.Unlock()
	s.metrics.RecordSubtitleReset()

	err := s.releaseTask(ctx)
	s.log.Info().
		Str("previousState", prev.String()).
		Bool("stopFailed", err != nil).
		Msg("Session stopped")
	return err
}

func (s *Session) releaseTask(ctx context.Context) error {
	s.mu.Lock()
	task, ok := s.task, s.hasTask
	s.task = backend.Task{}
	s.hasTask = false
	s.mu.Unlock()

	if !ok || s.controller == nil {
		return nil
	}

	start := time.Now()
	err := s.controller.StopTranscribing(ctx, task)
	s.metrics.RecordSessionControl(backend.OpStop, err, time.Since(start).Seconds())
	if err != nil {
		s.log.Error().
			Err(err).
			Str("taskId", task.TaskID).
			Msg("Transcription stop failed, remote job may leak")
		return err
	}
	return nil
}

// Package http exposes session control, subtitle reads and the viewer
// socket over HTTP.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"live-subtitles-service/internal/service/session"
)

// WarningHeader carries non-fatal failures of an otherwise successful request.
const WarningHeader = "X-Subtitles-Warning"

// ViewerServer serves viewer WebSocket connections for a channel.
type ViewerServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, channel string)
}

// Deps holds what the router serves.
type Deps struct {
	Registry *session.Registry
	Viewers  ViewerServer // may be nil
	Logger   zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{registry: deps.Registry, viewers: deps.Viewers}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(deps.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1/channels/{channel}", func(r chi.Router) {
		r.Post("/transcription", h.startTranscription)
		r.Delete("/transcription", h.stopTranscription)
		r.Get("/subtitle", h.getSubtitle)
		r.Get("/subtitle/ws", h.watchSubtitle)
		r.Get("/participants", h.listParticipants)
		r.Put("/participants/{uid}", h.joinParticipant)
		r.Delete("/participants/{uid}", h.leaveParticipant)
	})

	return r
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("requestId", middleware.GetReqID(r.Context())).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Msg("HTTP request")
		})
		return hlog.NewHandler(logger)(access(next))
	}
}

type handlers struct {
	registry *session.Registry
	viewers  ViewerServer
}

type startResponse struct {
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId,omitempty"`
}

type subtitleResponse struct {
	Channel    string    `json:"channel"`
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	UID        int64     `json:"uid"`
	Seqnum     int32     `json:"seqnum"`
	IsFinal    bool      `json:"isFinal"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type participantsResponse struct {
	Channel      string  `json:"channel"`
	Participants []int64 `json:"participants"`
	AgentPresent bool    `json:"agentPresent"`
}

type joinResponse struct {
	UID     int64 `json:"uid"`
	Visible bool  `json:"visible"`
}

type errorResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

// startTranscription opens the channel's session and asks the backend to
// start transcribing. A backend failure leaves the session open.
func (h *handlers) startTranscription(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	sess, _ := h.registry.Open(channel)

	task, err := sess.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, startResponse{Channel: channel, SessionID: sess.ID(), TaskID: task.TaskID})
	case errors.Is(err, session.ErrNoController):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), SessionID: sess.ID()})
	case errors.Is(err, session.ErrSessionStopped):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), SessionID: sess.ID()})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), SessionID: sess.ID()})
	}
}

// stopTranscription closes the channel's session. A backend stop failure is
// reported in WarningHeader; the session is closed regardless.
func (h *handlers) stopTranscription(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	err := h.registry.Close(r.Context(), channel)
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		w.Header().Set(WarningHeader, "transcription stop failed: "+err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getSubtitle(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	s := sess.Subtitle().Snapshot()
	writeJSON(w, http.StatusOK, subtitleResponse{
		Channel:    sess.Channel(),
		SessionID:  sess.ID(),
		Text:       s.Text,
		UID:        s.UID,
		Seqnum:     s.Seqnum,
		IsFinal:    s.IsFinal,
		Confidence: s.Confidence,
		UpdatedAt:  s.UpdatedAt,
	})
}

func (h *handlers) watchSubtitle(w http.ResponseWriter, r *http.Request) {
	if h.viewers == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "viewer socket disabled"})
		return
	}
	h.viewers.ServeWS(w, r, chi.URLParam(r, "channel"))
}

func (h *handlers) listParticipants(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	roster := sess.Roster()
	writeJSON(w, http.StatusOK, participantsResponse{
		Channel:      sess.Channel(),
		Participants: roster.List(),
		AgentPresent: roster.AgentPresent(),
	})
}

func (h *handlers) joinParticipant(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	uid, ok := parseUID(w, r)
	if !ok {
		return
	}
	visible := sess.Roster().Join(uid)
	writeJSON(w, http.StatusOK, joinResponse{UID: uid, Visible: visible})
}

func (h *handlers) leaveParticipant(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	uid, ok := parseUID(w, r)
	if !ok {
		return
	}
	sess.Roster().Leave(uid)
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the channel's open session or writes 404.
func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.registry.Get(chi.URLParam(r, "channel"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return nil, false
	}
	return sess, true
}

func parseUID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "uid")
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid uid " + strconv.Quote(raw)})
		return 0, false
	}
	return uid, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

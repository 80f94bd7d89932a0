package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/backend"
	"live-subtitles-service/internal/service/session"
	"live-subtitles-service/internal/transcript"
)

// testController implements backend.Controller for testing
type testController struct {
	startErr error
	stopErr  error
	stops    int
}

func (c *testController) StartTranscribing(ctx context.Context, channel string) (backend.Task, error) {
	if c.startErr != nil {
		return backend.Task{}, c.startErr
	}
	return backend.Task{TaskID: "task-" + channel, BuilderToken: "secret"}, nil
}

func (c *testController) StopTranscribing(ctx context.Context, task backend.Task) error {
	c.stops++
	return c.stopErr
}

// testViewers records viewer requests
type testViewers struct {
	channels []string
}

func (v *testViewers) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	v.channels = append(v.channels, channel)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func newTestRouter(ctrl *testController) (http.Handler, *session.Registry, *testViewers) {
	var controller backend.Controller
	if ctrl != nil {
		controller = ctrl
	}
	registry := session.NewRegistry(session.RegistryConfig{
		Controller: controller,
		AgentUID:   101,
		Metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	})
	viewers := &testViewers{}
	return NewRouter(Deps{Registry: registry, Viewers: viewers, Logger: zerolog.Nop()}), registry, viewers
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	h, _, _ := newTestRouter(nil)

	tests := []struct {
		path string
		body string
	}{
		{"/v1/liveness", "ok"},
		{"/v1/readiness", "ready"},
	}
	for _, tt := range tests {
		rec := do(h, http.MethodGet, tt.path)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.path, rec.Code)
		}
		if rec.Body.String() != tt.body {
			t.Errorf("%s: expected %q, got %q", tt.path, tt.body, rec.Body.String())
		}
	}
}

func TestRouter_StartTranscription(t *testing.T) {
	h, registry, _ := newTestRouter(&testController{})

	rec := do(h, http.MethodPost, "/v1/channels/room/transcription")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.TaskID != "task-room" {
		t.Errorf("expected task 'task-room', got %s", resp.TaskID)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("builder token must not be exposed")
	}

	sess, err := registry.Get("room")
	if err != nil {
		t.Fatalf("expected open session: %v", err)
	}
	if resp.SessionID != sess.ID() {
		t.Errorf("expected session %s, got %s", sess.ID(), resp.SessionID)
	}
	if sess.State() != session.StateStarted {
		t.Errorf("expected StateStarted, got %v", sess.State())
	}
}

func TestRouter_StartTranscription_BackendFailure(t *testing.T) {
	h, registry, _ := newTestRouter(&testController{startErr: errors.New("backend down")})

	rec := do(h, http.MethodPost, "/v1/channels/room/transcription")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	// The session stays open without subtitles
	if _, err := registry.Get("room"); err != nil {
		t.Errorf("expected session to remain open, got %v", err)
	}
}

func TestRouter_StartTranscription_NoBackend(t *testing.T) {
	h, _, _ := newTestRouter(nil)

	rec := do(h, http.MethodPost, "/v1/channels/room/transcription")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestRouter_StopTranscription(t *testing.T) {
	tests := []struct {
		name        string
		stopErr     error
		wantWarning bool
	}{
		{"success", nil, false},
		{"stop failure is non-fatal", errors.New("stop failed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &testController{stopErr: tt.stopErr}
			h, registry, _ := newTestRouter(ctrl)
			do(h, http.MethodPost, "/v1/channels/room/transcription")

			rec := do(h, http.MethodDelete, "/v1/channels/room/transcription")
			if rec.Code != http.StatusNoContent {
				t.Fatalf("expected 204, got %d", rec.Code)
			}
			if got := rec.Header().Get(WarningHeader) != ""; got != tt.wantWarning {
				t.Errorf("expected warning=%v, got header %q", tt.wantWarning, rec.Header().Get(WarningHeader))
			}
			if ctrl.stops != 1 {
				t.Errorf("expected 1 backend stop, got %d", ctrl.stops)
			}
			if _, err := registry.Get("room"); !errors.Is(err, session.ErrNotFound) {
				t.Errorf("expected session closed, got %v", err)
			}
		})
	}
}

func TestRouter_StopTranscription_Unknown(t *testing.T) {
	h, _, _ := newTestRouter(&testController{})

	rec := do(h, http.MethodDelete, "/v1/channels/nope/transcription")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRouter_GetSubtitle(t *testing.T) {
	h, registry, _ := newTestRouter(&testController{})

	if rec := do(h, http.MethodGet, "/v1/channels/room/subtitle"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before session, got %d", rec.Code)
	}

	registry.Open("room")
	registry.Deliver("room", transcript.Encode(&transcript.Fragment{
		UID:    7,
		Seqnum: 2,
		Words:  []transcript.Word{{Text: "the quick", IsFinal: true}},
	}))

	rec := do(h, http.MethodGet, "/v1/channels/room/subtitle")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp subtitleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Text != "the quick" || resp.UID != 7 || resp.Seqnum != 2 || !resp.IsFinal {
		t.Errorf("unexpected subtitle: %+v", resp)
	}
}

func TestRouter_Participants(t *testing.T) {
	h, registry, _ := newTestRouter(&testController{})
	registry.Open("room")

	if rec := do(h, http.MethodPut, "/v1/channels/room/participants/5"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec := do(h, http.MethodPut, "/v1/channels/room/participants/101")
	var join joinResponse
	json.Unmarshal(rec.Body.Bytes(), &join)
	if join.Visible {
		t.Error("expected the agent to be hidden")
	}

	rec = do(h, http.MethodGet, "/v1/channels/room/participants")
	var list participantsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(list.Participants) != 1 || list.Participants[0] != 5 {
		t.Errorf("expected [5], got %v", list.Participants)
	}
	if !list.AgentPresent {
		t.Error("expected agent to be present")
	}

	if rec := do(h, http.MethodDelete, "/v1/channels/room/participants/5"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPut, "/v1/channels/room/participants/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad uid, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/channels/other/participants"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown channel, got %d", rec.Code)
	}
}

func TestRouter_WatchSubtitle(t *testing.T) {
	h, _, viewers := newTestRouter(nil)

	do(h, http.MethodGet, "/v1/channels/room/subtitle/ws")

	if len(viewers.channels) != 1 || viewers.channels[0] != "room" {
		t.Errorf("expected viewer for room, got %v", viewers.channels)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/audiolibrelab/disconium/internal/controller"
	"github.com/audiolibrelab/disconium/internal/protocol"
	"github.com/audiolibrelab/disconium/internal/recognition"
	"github.com/audiolibrelab/disconium/internal/result"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeListener struct {
	mu       sync.Mutex
	snap     controller.Snapshot
	startErr error
	stopTo   controller.Snapshot
	stopCtx  context.Context
}

func (f *fakeListener) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.snap = controller.Snapshot{State: controller.StateRecording, SessionID: "s1"}
	return nil
}

func (f *fakeListener) Stop(ctx context.Context) controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCtx = ctx
	f.snap = f.stopTo
	return f.snap
}

func (f *fakeListener) Snapshot() controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeListener) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.Busy() {
		return controller.ErrBusy
	}
	f.snap = controller.Snapshot{State: controller.StateIdle}
	return nil
}

type fakeHistory struct {
	discoveries []protocol.Discovery
	limit       int
}

func (h *fakeHistory) Discoveries(ctx context.Context, limit int) ([]protocol.Discovery, error) {
	h.limit = limit
	return h.discoveries, nil
}

func (h *fakeHistory) Attempts(ctx context.Context, limit int) ([]protocol.AttemptSettled, error) {
	return nil, nil
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func spotify(id string) *string {
	u := "https://open.spotify.com/track/" + id
	return &u
}

func TestServer_StartStopResult(t *testing.T) {
	track := &result.NormalizedTrack{Title: "Midnight Echoes", Artists: "Luna Wave", Score: 92}
	track.Links.Spotify = spotify("abc123")
	track.AvailableOn.Spotify = true
	l := &fakeListener{
		snap:   controller.Snapshot{State: controller.StateIdle},
		stopTo: controller.Snapshot{State: controller.StateResult, Track: track, Message: "Found"},
	}
	s := New(l, Options{Logger: newLogger()})

	rec := do(t, s, http.MethodPost, "/listen/start")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d", rec.Code)
	}
	if body := decode(t, rec); body["state"] != "RECORDING" || body["success"] != true {
		t.Errorf("start: unexpected body %v", body)
	}

	rec = do(t, s, http.MethodPost, "/listen/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	if l.stopCtx == nil || l.stopCtx.Done() != nil {
		t.Error("stop must run on a context detached from the request")
	}

	rec = do(t, s, http.MethodGet, "/result")
	body := decode(t, rec)
	if body["match"] != true {
		t.Fatalf("result: expected match, got %v", body)
	}
	got := body["track"].(map[string]any)
	if got["title"] != "Midnight Echoes" {
		t.Errorf("result: unexpected track %v", got)
	}
	links := got["links"].(map[string]any)
	if links["spotify"] != "https://open.spotify.com/track/abc123" || links["youtube"] != nil {
		t.Errorf("result: unexpected links %v", links)
	}
}

func TestServer_StartErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"busy", controller.ErrBusy, http.StatusConflict},
		{"configuration", &recognition.ConfigurationError{Reason: "missing access key"}, http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := New(&fakeListener{startErr: test.err}, Options{Logger: newLogger()})
			rec := do(t, s, http.MethodPost, "/listen/start")
			if rec.Code != test.status {
				t.Errorf("expected %d, got %d", test.status, rec.Code)
			}
			body := decode(t, rec)
			if body["success"] != false || body["error"] == "" {
				t.Errorf("unexpected body %v", body)
			}
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := New(&fakeListener{}, Options{Logger: newLogger()})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/listen/start"},
		{http.MethodGet, "/listen/stop"},
		{http.MethodPost, "/status"},
		{http.MethodDelete, "/history"},
	} {
		if rec := do(t, s, tc.method, tc.path); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServer_ResultStates(t *testing.T) {
	l := &fakeListener{snap: controller.Snapshot{State: controller.StateIdle}}
	s := New(l, Options{Logger: newLogger()})

	if rec := do(t, s, http.MethodGet, "/result"); rec.Code != http.StatusNotFound {
		t.Errorf("idle: expected 404, got %d", rec.Code)
	}

	l.snap = controller.Snapshot{State: controller.StateError, Message: "Could not fingerprint the audio."}
	body := decode(t, do(t, s, http.MethodGet, "/result"))
	if body["success"] != false || body["message"] != "Could not fingerprint the audio." {
		t.Errorf("error: unexpected body %v", body)
	}

	l.snap = controller.Snapshot{State: controller.StateError, ErrorKind: controller.KindNoMatch, Code: 1001, Message: "No music match found."}
	body = decode(t, do(t, s, http.MethodGet, "/result"))
	if body["match"] != false || body["success"] != false || body["error_kind"] != "no_match" {
		t.Errorf("no match: unexpected body %v", body)
	}
}

func TestServer_Reset(t *testing.T) {
	l := &fakeListener{snap: controller.Snapshot{State: controller.StateRecording}}
	s := New(l, Options{Logger: newLogger()})

	if rec := do(t, s, http.MethodPost, "/listen/reset"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while recording, got %d", rec.Code)
	}
	l.snap = controller.Snapshot{State: controller.StateResult}
	if rec := do(t, s, http.MethodPost, "/listen/reset"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServer_History(t *testing.T) {
	h := &fakeHistory{discoveries: []protocol.Discovery{{Title: "Midnight Echoes"}}}
	s := New(&fakeListener{}, Options{History: h, Logger: newLogger()})

	body := decode(t, do(t, s, http.MethodGet, "/history?limit=5000"))
	if h.limit != maxHistoryLimit {
		t.Errorf("expected limit capped at %d, got %d", maxHistoryLimit, h.limit)
	}
	if d := body["discoveries"].([]any); len(d) != 1 {
		t.Errorf("unexpected discoveries %v", d)
	}
	if a, ok := body["attempts"].([]any); !ok || len(a) != 0 {
		t.Errorf("expected empty attempts array, got %v", body["attempts"])
	}

	if rec := do(t, s, http.MethodGet, "/history?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}

	disabled := New(&fakeListener{}, Options{Logger: newLogger()})
	if rec := do(t, disabled, http.MethodGet, "/history"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without history, got %d", rec.Code)
	}
}

func TestServer_HealthAndReady(t *testing.T) {
	ready := errors.New("bus down")
	s := New(&fakeListener{}, Options{
		Logger:  newLogger(),
		Ready:   func() error { return ready },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "metric 1") }),
	})

	if rec := do(t, s, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz: expected 503, got %d", rec.Code)
	}
	ready = nil
	if rec := do(t, s, http.MethodGet, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/metrics"); !strings.Contains(rec.Body.String(), "metric 1") {
		t.Errorf("metrics: unexpected body %q", rec.Body.String())
	}
	if rec := do(t, s, http.MethodGet, "/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown: expected 404, got %d", rec.Code)
	}
}

type panicListener struct{ fakeListener }

func (p *panicListener) Snapshot() controller.Snapshot { panic("snapshot exploded") }

func TestServer_RecoversFromPanic(t *testing.T) {
	s := New(&panicListener{}, Options{Logger: newLogger()})
	if rec := do(t, s, http.MethodGet, "/status"); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 after panic, got %d", rec.Code)
	}
}

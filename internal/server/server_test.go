package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/gostt-replay/internal/orchestrator"
	"github.com/chaz8081/gostt-replay/internal/stream"
	"github.com/chaz8081/gostt-replay/internal/transcript"
)

type fakeController struct {
	states *stream.Subject[orchestrator.State]

	mu    sync.Mutex
	calls []string
}

func newFakeController() *fakeController {
	return &fakeController{states: stream.NewSubject(orchestrator.Idle())}
}

func (f *fakeController) State() orchestrator.State { return f.states.Value() }

func (f *fakeController) Subscribe() *stream.Subscription[orchestrator.State] {
	return f.states.Subscribe()
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) StartRecording() { f.record("start_recording") }
func (f *fakeController) StopRecording()  { f.record("stop_recording") }
func (f *fakeController) StartPlayback()  { f.record("start_playback") }
func (f *fakeController) StopPlayback()   { f.record("stop_playback") }
func (f *fakeController) Reset()          { f.record("reset") }

func TestCommands(t *testing.T) {
	t.Parallel()

	ctl := newFakeController()
	srv := httptest.NewServer(New(ctl, nil).Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		path string
		want string
	}{
		{"/recording/start", "start_recording"},
		{"/recording/stop", "stop_recording"},
		{"/playback/start", "start_playback"},
		{"/playback/stop", "stop_playback"},
		{"/reset", "reset"},
	}

	var want []string
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+tt.path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("POST %s status = %d, want 202", tt.path, resp.StatusCode)
		}
		want = append(want, tt.want)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if !reflect.DeepEqual(ctl.calls, want) {
		t.Errorf("calls = %v, want %v", ctl.calls, want)
	}
}

func TestCommandsRejectGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(newFakeController(), nil).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/reset")
	if err != nil {
		t.Fatalf("GET /reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestGetState(t *testing.T) {
	t.Parallel()

	ctl := newFakeController()
	result := transcript.NewResult([]transcript.Word{{Text: "hello", End: 0.4, Confidence: 1}}, "")
	ctl.states.Send(orchestrator.Playing(result, 0))

	srv := httptest.NewServer(New(ctl, nil).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	defer resp.Body.Close()

	var got orchestrator.State
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != orchestrator.PhasePlaying || got.Highlight != 0 || got.Result.Len() != 1 || got.Result.Words[0].Text != "hello" {
		t.Errorf("state = %+v", got)
	}
}

func TestStateStream(t *testing.T) {
	t.Parallel()

	ctl := newFakeController()
	srv := httptest.NewServer(New(ctl, nil).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/state/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() orchestrator.State {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var s orchestrator.State
		if err := conn.ReadJSON(&s); err != nil {
			t.Fatalf("read: %v", err)
		}
		return s
	}

	if s := read(); s.Phase != orchestrator.PhaseIdle {
		t.Fatalf("first message = %+v, want idle", s)
	}

	ctl.states.Send(orchestrator.Recording(nil))
	ctl.states.Send(orchestrator.Failed("speech recognizer is not available"))
	ctl.states.Send(orchestrator.Idle())

	want := []orchestrator.Phase{orchestrator.PhaseRecording, orchestrator.PhaseError, orchestrator.PhaseIdle}
	for _, phase := range want {
		s := read()
		if s.Phase != phase {
			t.Fatalf("phase = %s, want %s", s.Phase, phase)
		}
		if phase == orchestrator.PhaseError && s.Message != "speech recognizer is not available" {
			t.Errorf("message = %q", s.Message)
		}
	}

	ctl.states.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("err = %v, want going-away close", err)
	}
}

package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/chaz8081/gostt-replay/internal/recording"
	"github.com/chaz8081/gostt-replay/internal/stream"
	"github.com/chaz8081/gostt-replay/internal/transcript"
)

// Status is the manager's lifecycle position.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusTranscribing Status = "transcribing"
	StatusError        Status = "error"
)

// State is one value of the manager's state stream. Batch marks results
// produced by TranscribeFile.
type State struct {
	Status  Status
	Session uuid.UUID
	Result  *transcript.Result
	Batch   bool
	Err     error
}

// Config controls the manager.
type Config struct {
	// OnDevice asks batch requests to stay on the local machine.
	OnDevice bool
	Logger   *slog.Logger
}

// Manager owns the recognition task, the live request and the input tap.
type Manager struct {
	engine AudioEngine
	rec    Recognizer
	cfg    Config
	states *stream.Subject[State]
	perms  singleflight.Group

	mu      sync.Mutex
	gen     uint64
	session uuid.UUID
	request BufferRequest
	task    Task
}

// NewManager creates a Manager in the idle state.
func NewManager(engine AudioEngine, rec Recognizer, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		engine: engine,
		rec:    rec,
		cfg:    cfg,
		states: stream.NewSubject(State{Status: StatusIdle}),
	}
}

// Subscribe returns the state stream, starting with the current state.
func (m *Manager) Subscribe() *stream.Subscription[State] {
	return m.states.Subscribe()
}

// RequestPermission asks the recognizer for authorization. Concurrent
// callers share one underlying request.
func (m *Manager) RequestPermission(ctx context.Context) bool {
	v, _, _ := m.perms.Do("authorize", func() (any, error) {
		return m.rec.Authorize(ctx), nil
	})
	granted, _ := v.(bool)
	if !granted {
		m.cfg.Logger.Warn("recognition not authorized", "error", ErrPermissionDenied)
	}
	return granted
}

// Start begins streaming recognition of the live input for session id.
// Any task already running is torn down first.
func (m *Manager) Start(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardown()
	m.session = id

	if !m.rec.Available() {
		m.fail(id, ErrRecognizerUnavailable)
		return
	}

	req, err := m.rec.NewBufferRequest()
	if err != nil {
		m.fail(id, fmt.Errorf("%w: %w", ErrRequestCreationFailed, err))
		return
	}
	m.request = req
	m.engine.InstallTap(req.Append)

	if err := m.engine.Start(); err != nil {
		m.teardown()
		m.fail(id, &EngineStartError{Err: err})
		return
	}

	gen := m.gen
	task, err := m.rec.StreamTask(req, func(r Result, err error) {
		m.onStream(gen, id, r, err)
	})
	if err != nil {
		m.teardown()
		m.fail(id, fmt.Errorf("%w: %w", ErrRequestCreationFailed, err))
		return
	}
	m.task = task

	m.cfg.Logger.Debug("streaming recognition started", "session", id)
}

// Stop tears down whatever is running and publishes idle. Late callbacks
// from the stopped task are discarded.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardown()
	m.states.Send(State{Status: StatusIdle, Session: m.session})
}

// TranscribeFile runs a single batch recognition over the recording for
// session id. Only the final result is published.
func (m *Manager) TranscribeFile(id uuid.UUID, handle recording.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardown()
	m.session = id

	if !m.rec.Available() {
		m.fail(id, ErrRecognizerUnavailable)
		return
	}

	gen := m.gen
	opts := FileOptions{OnDevice: m.cfg.OnDevice, ReportPartial: false}
	task, err := m.rec.FileTask(handle.Path(), opts, func(r Result, err error) {
		m.onFile(gen, id, r, err)
	})
	if err != nil {
		m.fail(id, &TranscriptionError{Err: err})
		return
	}
	m.task = task

	m.cfg.Logger.Debug("file recognition started", "session", id, "path", handle.Path())
}

// Close ends every subscription.
func (m *Manager) Close() {
	m.states.Close()
}

func (m *Manager) onStream(gen uint64, id uuid.UUID, r Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	if err != nil {
		m.teardown()
		m.fail(id, &TranscriptionError{Err: err})
		return
	}
	if r.Transcript != nil {
		m.states.Send(State{Status: StatusTranscribing, Session: id, Result: r.Transcript})
	}
	if r.Final {
		m.teardown()
		m.states.Send(State{Status: StatusIdle, Session: id})
	}
}

func (m *Manager) onFile(gen uint64, id uuid.UUID, r Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	if err != nil {
		m.teardown()
		m.fail(id, &TranscriptionError{Err: err})
		return
	}
	if !r.Final {
		return
	}

	result := r.Transcript
	if result == nil {
		result = transcript.NewResult(nil, "")
	}
	m.task = nil
	m.gen++
	m.cfg.Logger.Info("file recognition complete", "session", id, "words", result.Len())
	m.states.Send(State{Status: StatusTranscribing, Session: id, Result: result, Batch: true})
}

// teardown stops the engine, removes the tap, ends the request and cancels
// the task, in that order. Missing pieces are skipped. It must be called
// with m.mu held.
func (m *Manager) teardown() {
	if m.engine.IsRunning() {
		m.engine.Stop()
	}
	m.engine.RemoveTap()
	if m.request != nil {
		m.request.EndAudio()
	}
	if m.task != nil {
		m.task.Cancel()
	}
	m.request = nil
	m.task = nil
	m.gen++
}

func (m *Manager) fail(id uuid.UUID, err error) {
	m.cfg.Logger.Error("recognition error", "session", id, "error", err)
	m.states.Send(State{Status: StatusError, Session: id, Err: err})
}

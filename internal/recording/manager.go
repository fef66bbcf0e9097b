// Package recording owns the microphone capture lifecycle: one artifact per
// session, finalized asynchronously by the device.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/chaz8081/gostt-replay/internal/stream"
)

// DefaultSettleDelay is the wait between the device confirming finalize and
// the artifact being announced as complete.
const DefaultSettleDelay = 200 * time.Millisecond

// ErrRecordingFailed wraps device allocation, write-start and finalize
// failures.
var ErrRecordingFailed = errors.New("recording failed")

var errStoppedBeforeStart = errors.New("stopped before capture began")

// Status is the manager's lifecycle position.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusError     Status = "error"
)

// Handle refers to one recording artifact.
type Handle struct {
	path string
}

// NewHandle wraps an artifact path.
func NewHandle(path string) Handle {
	return Handle{path: path}
}

// Path returns the artifact location.
func (h Handle) Path() string { return h.path }

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool { return h.path == "" }

// State is one value of the manager's state stream. Session is the identity
// passed to the Start call the value belongs to.
type State struct {
	Status  Status
	Session uuid.UUID
	Handle  Handle
	Err     error
}

// Device is the capture hardware.
type Device interface {
	// Record starts writing captured audio to path. onFinish must be called
	// exactly once, after Stop, once the file is fully written.
	Record(path string, onFinish func(error)) error
	// Stop requests a graceful finalize and returns without waiting for it.
	Stop()
	// RequestPermission reports whether capture is allowed.
	RequestPermission(ctx context.Context) bool
}

// Config controls the manager.
type Config struct {
	Dir         string
	SettleDelay time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Manager drives a Device and publishes its State stream.
type Manager struct {
	device Device
	cfg    Config
	states *stream.Subject[State]
	perms  singleflight.Group

	mu       sync.Mutex
	active   *session
	lastName int64
}

type session struct {
	id        uuid.UUID
	handle    Handle
	opened    bool
	stopping  bool
	finalized chan struct{}
}

// NewManager creates a Manager in the idle state.
func NewManager(device Device, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		device: device,
		cfg:    cfg,
		states: stream.NewSubject(State{Status: StatusIdle}),
	}
}

// Subscribe returns the state stream, starting with the current state.
func (m *Manager) Subscribe() *stream.Subscription[State] {
	return m.states.Subscribe()
}

// RequestPermission asks the device for capture permission. Concurrent
// callers share one underlying request.
func (m *Manager) RequestPermission(ctx context.Context) bool {
	v, _, _ := m.perms.Do("capture", func() (any, error) {
		return m.device.RequestPermission(ctx), nil
	})
	granted, _ := v.(bool)
	return granted
}

// Start begins capture for session id and returns without waiting for the
// device. A session already in progress is stopped, and the new one is
// opened once the previous artifact is finalized.
func (m *Manager) Start(id uuid.UUID) {
	s := &session{id: id, finalized: make(chan struct{})}

	m.mu.Lock()
	prev := m.active
	m.active = s
	m.mu.Unlock()

	if prev == nil {
		m.open(s)
		return
	}
	m.cfg.Logger.Info("replacing active recording", "previous", prev.id, "session", id)
	m.stop(prev)
	go func() {
		<-prev.finalized
		m.open(s)
	}()
}

// Stop asks the device to finalize the current artifact. The idle state is
// published later, once the device confirms and the settle delay passes.
// Calling Stop with nothing to stop has no effect.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s != nil {
		m.stop(s)
	}
}

func (m *Manager) stop(s *session) {
	m.mu.Lock()
	if s.stopping {
		m.mu.Unlock()
		return
	}
	s.stopping = true
	opened := s.opened
	m.mu.Unlock()

	m.cfg.Logger.Debug("recording stop requested", "session", s.id)
	if opened {
		m.device.Stop()
	}
}

// open starts the device for s. A session stopped while it waited for the
// device is abandoned.
func (m *Manager) open(s *session) {
	m.mu.Lock()
	if s.stopping {
		current := m.active == s
		if current {
			m.active = nil
		}
		m.mu.Unlock()
		close(s.finalized)
		if current {
			m.fail(s.id, errStoppedBeforeStart)
		}
		return
	}
	m.mu.Unlock()

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		m.abandon(s, fmt.Errorf("creating recordings dir: %w", err))
		return
	}

	s.handle = NewHandle(m.nextPath())
	if err := m.device.Record(s.handle.Path(), func(err error) { m.finished(s, err) }); err != nil {
		m.abandon(s, err)
		return
	}

	m.mu.Lock()
	s.opened = true
	stopNow := s.stopping
	m.mu.Unlock()

	m.cfg.Logger.Info("recording started", "session", s.id, "path", s.handle.Path())
	m.states.Send(State{Status: StatusRecording, Session: s.id, Handle: s.handle})
	if stopNow {
		m.device.Stop()
	}
}

func (m *Manager) abandon(s *session, err error) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	close(s.finalized)
	m.fail(s.id, err)
}

// Close ends every subscription.
func (m *Manager) Close() {
	m.states.Close()
}

func (m *Manager) finished(s *session, err error) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	close(s.finalized)

	go func() {
		if m.cfg.SettleDelay > 0 {
			timer := time.NewTimer(m.cfg.SettleDelay)
			<-timer.C
		}
		if err != nil {
			m.fail(s.id, err)
			return
		}
		m.cfg.Logger.Info("recording finalized", "session", s.id, "path", s.handle.Path())
		m.states.Send(State{Status: StatusIdle, Session: s.id, Handle: s.handle})
	}()
}

func (m *Manager) fail(id uuid.UUID, err error) {
	err = fmt.Errorf("%w: %w", ErrRecordingFailed, err)
	m.cfg.Logger.Error("recording error", "session", id, "error", err)
	m.states.Send(State{Status: StatusError, Session: id, Err: err})
}

// nextPath names the artifact after the current time, bumping the stamp
// when the clock has not advanced since the previous name.
func (m *Manager) nextPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp := m.cfg.Now().UnixNano()
	if stamp <= m.lastName {
		stamp = m.lastName + 1
	}
	m.lastName = stamp
	return filepath.Join(m.cfg.Dir, fmt.Sprintf("recording_%d.wav", stamp))
}

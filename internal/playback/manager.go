// Package playback owns the single live player and its position clock.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-replay/internal/recording"
	"github.com/chaz8081/gostt-replay/internal/stream"
)

// DefaultTickInterval is the position clock period.
const DefaultTickInterval = 100 * time.Millisecond

// ErrPlaybackFailed wraps open and device start failures.
var ErrPlaybackFailed = errors.New("playback failed")

// Status is the manager's lifecycle position.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPlaying Status = "playing"
	StatusError   Status = "error"
)

// State is one value of the manager's state stream. Position is in seconds.
type State struct {
	Status   Status
	Session  uuid.UUID
	Position float64
	Err      error
}

// Player is one opened recording bound to an output device.
type Player interface {
	// Play starts output; onFinish is called once when playback reaches the
	// end on its own.
	Play(onFinish func()) error
	// Stop halts output and releases the device.
	Stop()
	// CurrentTime returns the position in seconds.
	CurrentTime() float64
}

// OpenFunc opens the artifact at path for playback.
type OpenFunc func(path string) (Player, error)

// TickerFunc starts a periodic clock and returns its channel and a stop
// function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// NewTicker is the wall-clock TickerFunc.
func NewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Config controls the manager.
type Config struct {
	TickInterval time.Duration
	NewTicker    TickerFunc
	Logger       *slog.Logger
}

// Manager plays recordings one at a time and publishes its State stream.
type Manager struct {
	open   OpenFunc
	cfg    Config
	states *stream.Subject[State]

	mu      sync.Mutex
	gen     uint64
	player  Player
	session uuid.UUID
	clock   *clock
}

type clock struct {
	stop   chan struct{}
	exited chan struct{}
}

// NewManager creates a Manager in the idle state.
func NewManager(open OpenFunc, cfg Config) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTicker
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		open:   open,
		cfg:    cfg,
		states: stream.NewSubject(State{Status: StatusIdle}),
	}
}

// Subscribe returns the state stream, starting with the current state.
func (m *Manager) Subscribe() *stream.Subscription[State] {
	return m.states.Subscribe()
}

// Play opens handle and starts playback for session id, replacing any
// player already running.
func (m *Manager) Play(id uuid.UUID, handle recording.Handle) {
	m.Stop()

	player, err := m.open(handle.Path())
	if err != nil {
		m.fail(id, err)
		return
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.player = player
	m.session = id
	m.states.Send(State{Status: StatusPlaying, Session: id})
	m.mu.Unlock()

	if err := player.Play(func() { m.finished(gen) }); err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.gen++
			m.player = nil
		}
		m.mu.Unlock()
		player.Stop()
		m.fail(id, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	c := &clock{stop: make(chan struct{}), exited: make(chan struct{})}
	m.clock = c
	go m.runClock(gen, id, player, c)

	m.cfg.Logger.Debug("playback started", "session", id, "path", handle.Path())
}

// Stop halts playback and the clock and releases the player. No state is
// published, and no tick is published after Stop returns. Stop is
// idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.gen++
	player, c := m.player, m.clock
	m.player, m.clock = nil, nil
	m.mu.Unlock()

	c.halt()
	if player != nil {
		player.Stop()
	}
}

// Close ends every subscription.
func (m *Manager) Close() {
	m.states.Close()
}

func (m *Manager) runClock(gen uint64, id uuid.UUID, player Player, c *clock) {
	defer close(c.exited)
	ticks, stop := m.cfg.NewTicker(m.cfg.TickInterval)
	defer stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticks:
			m.mu.Lock()
			if m.gen != gen {
				m.mu.Unlock()
				return
			}
			m.states.Send(State{Status: StatusPlaying, Session: id, Position: player.CurrentTime()})
			m.mu.Unlock()
		}
	}
}

// finished handles the device's natural end of playback.
func (m *Manager) finished(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	player, c, id := m.player, m.clock, m.session
	m.player, m.clock = nil, nil
	m.states.Send(State{Status: StatusIdle, Session: id})
	m.mu.Unlock()

	m.cfg.Logger.Debug("playback finished", "session", id)
	c.halt()
	if player != nil {
		player.Stop()
	}
}

func (m *Manager) fail(id uuid.UUID, err error) {
	err = fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
	m.cfg.Logger.Error("playback error", "session", id, "error", err)
	m.states.Send(State{Status: StatusError, Session: id, Err: err})
}

func (c *clock) halt() {
	if c == nil {
		return
	}
	close(c.stop)
	<-c.exited
}

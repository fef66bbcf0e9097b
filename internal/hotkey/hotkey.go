// Package hotkey provides global hotkeys using gohook. Each configured key
// combo maps to one action; record and play toggle based on the current
// application state.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/gostt-replay/internal/orchestrator"
)

// Action identifies what a hotkey does.
type Action int

const (
	// ActionRecord starts recording, or stops it while recording.
	ActionRecord Action = iota
	// ActionPlay starts playback, or stops it while playing.
	ActionPlay
	// ActionReset discards the current session.
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionRecord:
		return "record"
	case ActionPlay:
		return "play"
	case ActionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Binding ties a key combo to an action.
// Keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
type Binding struct {
	Action Action
	Keys   []string
}

// Controller is the command surface hotkeys drive.
type Controller interface {
	State() orchestrator.State
	StartRecording()
	StopRecording()
	StartPlayback()
	StopPlayback()
	Reset()
}

// Apply runs the command for action against ctl.
func Apply(action Action, ctl Controller) {
	switch action {
	case ActionRecord:
		if ctl.State().Phase == orchestrator.PhaseRecording {
			ctl.StopRecording()
		} else {
			ctl.StartRecording()
		}
	case ActionPlay:
		if ctl.State().Phase == orchestrator.PhasePlaying {
			ctl.StopPlayback()
		} else {
			ctl.StartPlayback()
		}
	case ActionReset:
		ctl.Reset()
	}
}

// Listener watches the global keyboard and emits an Action per combo press.
type Listener struct {
	bindings []Binding
	ch       chan Action
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener. Bindings with no keys are ignored.
func NewListener(bindings []Binding) *Listener {
	active := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if len(b.Keys) > 0 {
			active = append(active, b)
		}
	}
	return &Listener{
		bindings: active,
		ch:       make(chan Action, 16),
		done:     make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey actions.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Action {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		action := b.Action
		hook.Register(hook.KeyDown, b.Keys, func(e hook.Event) {
			select {
			case l.ch <- action:
			default: // don't block if channel is full
			}
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

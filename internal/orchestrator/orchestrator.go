// Package orchestrator merges the recording, recognition and playback
// state streams into the single application state and exposes the user
// commands that drive them.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-replay/internal/playback"
	"github.com/chaz8081/gostt-replay/internal/recognition"
	"github.com/chaz8081/gostt-replay/internal/recording"
	"github.com/chaz8081/gostt-replay/internal/stream"
	"github.com/chaz8081/gostt-replay/internal/transcript"
)

// Recorder is the capture side, satisfied by *recording.Manager.
type Recorder interface {
	RequestPermission(ctx context.Context) bool
	Start(id uuid.UUID)
	Stop()
	Subscribe() *stream.Subscription[recording.State]
}

// Recognizer is the recognition side, satisfied by *recognition.Manager.
type Recognizer interface {
	RequestPermission(ctx context.Context) bool
	Start(id uuid.UUID)
	Stop()
	TranscribeFile(id uuid.UUID, handle recording.Handle)
	Subscribe() *stream.Subscription[recognition.State]
}

// Player is the playback side, satisfied by *playback.Manager.
type Player interface {
	Play(id uuid.UUID, handle recording.Handle)
	Stop()
	Subscribe() *stream.Subscription[playback.State]
}

type command int

const (
	cmdStartRecording command = iota
	cmdStopRecording
	cmdStartPlayback
	cmdStopPlayback
	cmdReset
)

func (c command) String() string {
	switch c {
	case cmdStartRecording:
		return "start_recording"
	case cmdStopRecording:
		return "stop_recording"
	case cmdStartPlayback:
		return "start_playback"
	case cmdStopPlayback:
		return "stop_playback"
	case cmdReset:
		return "reset"
	default:
		return "unknown"
	}
}

// permissions carries the outcome of a StartRecording permission check
// back into the loop.
type permissions struct {
	epoch   uint64
	granted bool
}

var errDenied = errors.New("permission denied")

// Orchestrator owns the composite state. All of its fields below the
// divider are touched only by the Run goroutine.
type Orchestrator struct {
	rec    Recorder
	asr    Recognizer
	player Player
	logger *slog.Logger

	inbox  *stream.Queue[any]
	states *stream.Subject[State]

	// loop state
	phase      Phase
	message    string
	session    uuid.UUID
	playID     uuid.UUID
	handle     recording.Handle
	result     *transcript.Result
	live       *transcript.Result
	highlight  int
	epoch      uint64
	pending    bool
	stopping   bool
	transcribe bool
}

// Options configures an Orchestrator.
type Options struct {
	Logger *slog.Logger
}

// New creates an Orchestrator in the Idle state. Call Run to start it.
func New(rec Recorder, asr Recognizer, player Player, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		rec:       rec,
		asr:       asr,
		player:    player,
		logger:    logger,
		inbox:     stream.NewQueue[any](),
		states:    stream.NewSubject(Idle()),
		phase:     PhaseIdle,
		highlight: transcript.NoHighlight,
	}
}

// Subscribe returns the composite state stream, starting with the current
// state. Every transition is delivered, in order.
func (o *Orchestrator) Subscribe() *stream.Subscription[State] {
	return o.states.Subscribe()
}

// State returns the current composite state.
func (o *Orchestrator) State() State {
	return o.states.Value()
}

func (o *Orchestrator) StartRecording() { o.inbox.Push(cmdStartRecording) }
func (o *Orchestrator) StopRecording()  { o.inbox.Push(cmdStopRecording) }
func (o *Orchestrator) StartPlayback()  { o.inbox.Push(cmdStartPlayback) }
func (o *Orchestrator) StopPlayback()   { o.inbox.Push(cmdStopPlayback) }
func (o *Orchestrator) Reset()          { o.inbox.Push(cmdReset) }

// Run merges the manager streams and commands until ctx is cancelled.
// State changes are computed and published from this goroutine only.
func (o *Orchestrator) Run(ctx context.Context) error {
	recSub := o.rec.Subscribe()
	defer recSub.Close()
	asrSub := o.asr.Subscribe()
	defer asrSub.Close()
	playSub := o.player.Subscribe()
	defer playSub.Close()

	inbox := make(chan any)
	go func() {
		for {
			v, ok := o.inbox.Pop(ctx)
			if !ok {
				return
			}
			select {
			case inbox <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	recC, asrC, playC := recSub.C(), asrSub.C(), playSub.C()

	o.logger.Debug("orchestrator running")
	for {
		select {
		case <-ctx.Done():
			o.inbox.Close()
			o.states.Close()
			return ctx.Err()
		case s, ok := <-recC:
			if !ok {
				recC = nil
				continue
			}
			o.onRecording(s)
		case s, ok := <-asrC:
			if !ok {
				asrC = nil
				continue
			}
			o.onRecognition(s)
		case s, ok := <-playC:
			if !ok {
				playC = nil
				continue
			}
			o.onPlayback(s)
		case v := <-inbox:
			switch ev := v.(type) {
			case command:
				o.onCommand(ctx, ev)
			case permissions:
				o.onPermissions(ev)
			}
		}
		o.publish()
	}
}

func (o *Orchestrator) publish() {
	next := compose(o.phase, o.result, o.highlight, o.message)
	prev := o.states.Value()
	if next == prev {
		return
	}
	o.logger.Debug("state changed", "from", prev.Phase, "to", next.Phase, "highlight", next.Highlight)
	o.states.Send(next)
}

func (o *Orchestrator) onCommand(ctx context.Context, cmd command) {
	o.logger.Debug("command", "command", cmd, "phase", o.phase)

	switch cmd {
	case cmdStartRecording:
		if o.pending || (o.phase != PhaseIdle && o.phase != PhaseReadyToPlay) {
			return
		}
		o.pending = true
		go o.requestPermissions(ctx, o.epoch)

	case cmdStopRecording:
		if o.phase != PhaseRecording || o.stopping {
			return
		}
		o.stopping = true
		o.asr.Stop()
		o.rec.Stop()

	case cmdStartPlayback:
		if o.phase != PhaseReadyToPlay || o.handle.IsZero() || o.result == nil {
			return
		}
		o.playID = uuid.New()
		o.player.Play(o.playID, o.handle)
		o.phase = PhasePlaying
		o.highlight = transcript.NoHighlight

	case cmdStopPlayback:
		if o.phase != PhasePlaying {
			return
		}
		o.player.Stop()
		o.playID = uuid.Nil
		o.phase = PhaseReadyToPlay
		o.highlight = transcript.NoHighlight

	case cmdReset:
		o.epoch++
		o.pending = false
		o.asr.Stop()
		o.rec.Stop()
		o.player.Stop()
		o.clearSession()
		o.phase = PhaseIdle
		o.message = ""
	}
}

// requestPermissions asks for capture and recognition permission
// concurrently. A denial from either cancels the other request.
func (o *Orchestrator) requestPermissions(ctx context.Context, epoch uint64) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !o.rec.RequestPermission(gctx) {
			return errDenied
		}
		return nil
	})
	g.Go(func() error {
		if !o.asr.RequestPermission(gctx) {
			return errDenied
		}
		return nil
	})
	err := g.Wait()
	o.inbox.Push(permissions{epoch: epoch, granted: err == nil})
}

func (o *Orchestrator) onPermissions(p permissions) {
	if p.epoch != o.epoch {
		return
	}
	o.pending = false
	if !p.granted {
		o.logger.Warn("recording not started: permission denied")
		return
	}
	if o.phase != PhaseIdle && o.phase != PhaseReadyToPlay {
		return
	}

	o.player.Stop()
	o.clearSession()
	o.session = uuid.New()
	o.phase = PhaseRecording
	o.logger.Info("recording session started", "session", o.session)

	id := o.session
	var g errgroup.Group
	g.Go(func() error { o.rec.Start(id); return nil })
	g.Go(func() error { o.asr.Start(id); return nil })
	_ = g.Wait()
}

func (o *Orchestrator) onRecording(s recording.State) {
	if s.Session != o.session || o.session == uuid.Nil {
		return
	}

	switch s.Status {
	case recording.StatusRecording:
		o.handle = s.Handle
	case recording.StatusIdle:
		if o.phase != PhaseRecording || s.Handle.IsZero() || o.transcribe {
			return
		}
		o.handle = s.Handle
		o.transcribe = true
		o.logger.Info("recording complete, transcribing file", "session", o.session, "path", s.Handle.Path())
		o.asr.TranscribeFile(o.session, s.Handle)
	case recording.StatusError:
		o.fail(s.Err)
	}
}

func (o *Orchestrator) onRecognition(s recognition.State) {
	if s.Session != o.session || o.session == uuid.Nil {
		return
	}

	switch s.Status {
	case recognition.StatusTranscribing:
		if o.phase != PhaseRecording || s.Result == nil {
			return
		}
		if !s.Batch {
			if o.transcribe {
				return
			}
			o.live = s.Result
			o.result = s.Result
			return
		}
		if !o.transcribe {
			return
		}
		o.transcribe = false
		o.result = s.Result
		o.phase = PhaseReadyToPlay
		o.logDivergence()
	case recognition.StatusError:
		o.fail(s.Err)
	}
}

func (o *Orchestrator) onPlayback(s playback.State) {
	if s.Session != o.playID || o.playID == uuid.Nil {
		return
	}

	switch s.Status {
	case playback.StatusPlaying:
		if o.phase != PhasePlaying || o.result == nil {
			return
		}
		o.highlight = transcript.Highlight(s.Position, o.result.Words)
	case playback.StatusIdle:
		if o.phase != PhasePlaying || o.handle.IsZero() {
			return
		}
		o.playID = uuid.Nil
		o.phase = PhaseReadyToPlay
		o.highlight = transcript.NoHighlight
	case playback.StatusError:
		o.fail(s.Err)
	}
}

// fail moves to Error. Error is left only through Reset.
func (o *Orchestrator) fail(err error) {
	if o.phase == PhaseError || o.phase == PhaseIdle {
		return
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	o.logger.Error("session failed", "session", o.session, "phase", o.phase, "error", msg)
	o.phase = PhaseError
	o.message = msg
}

func (o *Orchestrator) clearSession() {
	o.session = uuid.Nil
	o.playID = uuid.Nil
	o.handle = recording.Handle{}
	o.result = nil
	o.live = nil
	o.highlight = transcript.NoHighlight
	o.stopping = false
	o.transcribe = false
}

func (o *Orchestrator) logDivergence() {
	if o.live == nil {
		return
	}
	d := transcript.ComputeWER(o.result, o.live)
	o.logger.Info("live transcript divergence",
		"session", o.session,
		"wer", d.Rate,
		"substitutions", d.Substitutions,
		"insertions", d.Insertions,
		"deletions", d.Deletions,
		"words", d.RefWords,
	)
}

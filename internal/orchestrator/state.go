package orchestrator

import "github.com/chaz8081/gostt-replay/internal/transcript"

// Phase tags the composite application state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseRecording   Phase = "recording"
	PhaseReadyToPlay Phase = "ready_to_play"
	PhasePlaying     Phase = "playing"
	PhaseError       Phase = "error"
)

// State is the composite application state. Result is set in Recording
// (once a partial exists), ReadyToPlay and Playing. Highlight is only
// meaningful in Playing and is transcript.NoHighlight otherwise. Message is
// only set in Error.
type State struct {
	Phase     Phase              `json:"phase"`
	Result    *transcript.Result `json:"result,omitempty"`
	Highlight int                `json:"highlight"`
	Message   string             `json:"message,omitempty"`
}

func Idle() State {
	return State{Phase: PhaseIdle, Highlight: transcript.NoHighlight}
}

func Recording(result *transcript.Result) State {
	return State{Phase: PhaseRecording, Result: result, Highlight: transcript.NoHighlight}
}

func ReadyToPlay(result *transcript.Result) State {
	return State{Phase: PhaseReadyToPlay, Result: result, Highlight: transcript.NoHighlight}
}

func Playing(result *transcript.Result, highlight int) State {
	return State{Phase: PhasePlaying, Result: result, Highlight: highlight}
}

func Failed(message string) State {
	return State{Phase: PhaseError, Highlight: transcript.NoHighlight, Message: message}
}

// compose derives the composite state from the loop's fields. ReadyToPlay
// and Playing without a transcript collapse to Idle.
func compose(phase Phase, result *transcript.Result, highlight int, message string) State {
	switch phase {
	case PhaseRecording:
		return Recording(result)
	case PhaseReadyToPlay:
		if result == nil {
			return Idle()
		}
		return ReadyToPlay(result)
	case PhasePlaying:
		if result == nil {
			return Idle()
		}
		return Playing(result, highlight)
	case PhaseError:
		return Failed(message)
	default:
		return Idle()
	}
}

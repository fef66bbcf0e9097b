// Package recognition runs speech recognition in one of two exclusive
// modes: streaming from the live input, or batch over a finished recording.
package recognition

import (
	"context"
	"errors"

	"github.com/chaz8081/gostt-replay/internal/transcript"
)

var (
	// ErrRecognizerUnavailable means the recognizer cannot currently serve
	// requests.
	ErrRecognizerUnavailable = errors.New("speech recognizer is not available")
	// ErrRequestCreationFailed means a recognition request could not be built.
	ErrRequestCreationFailed = errors.New("failed to create recognition request")
	// ErrPermissionDenied is reported by callers when authorization is refused.
	ErrPermissionDenied = errors.New("speech recognition permission denied")
)

// EngineStartError wraps a failure to start the audio input.
type EngineStartError struct {
	Err error
}

func (e *EngineStartError) Error() string { return "audio engine error: " + e.Err.Error() }
func (e *EngineStartError) Unwrap() error { return e.Err }

// TranscriptionError wraps a failure reported by a running task.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription failed: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// AudioEngine is the live input the streaming mode taps.
type AudioEngine interface {
	IsRunning() bool
	Start() error
	Stop()
	// InstallTap sets the function receiving captured buffers. The tap is
	// called on the audio thread and must not block.
	InstallTap(tap func(samples []float32))
	// RemoveTap detaches the tap; no buffer is delivered after it returns.
	RemoveTap()
}

// Result is one recognition callback payload. Final marks the last result
// a task will produce.
type Result struct {
	Transcript *transcript.Result
	Final      bool
}

// Handler receives task callbacks, possibly from another goroutine.
type Handler func(Result, error)

// BufferRequest is an open-ended request fed with live audio.
type BufferRequest interface {
	// Append queues samples for recognition, preserving order.
	Append(samples []float32)
	// EndAudio marks the end of the input.
	EndAudio()
}

// Task is a running recognition.
type Task interface {
	// Cancel stops the task. It must not wait for handler calls in flight.
	Cancel()
}

// FileOptions controls a batch request.
type FileOptions struct {
	OnDevice      bool
	ReportPartial bool
}

// Recognizer turns audio into transcripts.
type Recognizer interface {
	Available() bool
	// Authorize reports whether recognition is permitted.
	Authorize(ctx context.Context) bool
	NewBufferRequest() (BufferRequest, error)
	StreamTask(req BufferRequest, handler Handler) (Task, error)
	FileTask(path string, opts FileOptions, handler Handler) (Task, error)
}

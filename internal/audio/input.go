package audio

import (
	"errors"
	"sync"
)

// ErrNoCaptureDevice is returned when no microphone is available.
var ErrNoCaptureDevice = errors.New("audio: no capture device available")

// InputNode is the live-input side of a Recorder: while running, every
// captured buffer is delivered to the installed tap in capture order.
type InputNode struct {
	rec *Recorder

	mu      sync.Mutex
	running bool
	tap     func([]float32)
}

// NewInputNode attaches an input node to rec.
func NewInputNode(rec *Recorder) *InputNode {
	n := &InputNode{rec: rec}
	rec.setTap(n.deliver)
	return n
}

// InstallTap sets the function receiving live buffers, replacing any
// previous tap.
func (n *InputNode) InstallTap(tap func(samples []float32)) {
	n.mu.Lock()
	n.tap = tap
	n.mu.Unlock()
}

// RemoveTap detaches the tap. No buffer is delivered after it returns.
func (n *InputNode) RemoveTap() {
	n.mu.Lock()
	n.tap = nil
	n.mu.Unlock()
}

// Start begins delivering buffers to the tap.
func (n *InputNode) Start() error {
	if !n.rec.ctx.HasCaptureDevice() {
		return ErrNoCaptureDevice
	}
	n.mu.Lock()
	n.running = true
	n.mu.Unlock()
	return nil
}

// Stop halts delivery. It is safe to call when not running.
func (n *InputNode) Stop() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

// IsRunning reports whether buffers are being delivered.
func (n *InputNode) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// deliver holds the lock for the tap call so RemoveTap cannot return while
// a buffer is still being handed over.
func (n *InputNode) deliver(samples []float32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running && n.tap != nil {
		n.tap(samples)
	}
}

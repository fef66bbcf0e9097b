package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// Context owns the miniaudio context shared by every device. Failing to
// create it is unrecoverable for the application.
type Context struct {
	mctx *malgo.AllocatedContext
}

// NewContext initializes the platform audio backend. Call Close when done.
func NewContext() (*Context, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Context{mctx: mctx}, nil
}

// HasCaptureDevice reports whether at least one microphone is visible.
func (c *Context) HasCaptureDevice() bool {
	devices, err := c.mctx.Devices(malgo.Capture)
	return err == nil && len(devices) > 0
}

// Close releases the audio backend.
func (c *Context) Close() error {
	if c.mctx == nil {
		return nil
	}
	if err := c.mctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	c.mctx.Free()
	c.mctx = nil
	return nil
}

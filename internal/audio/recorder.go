package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chaz8081/gostt-replay/internal/stream"
)

// Recorder captures the default microphone into WAV files. While capturing
// it also hands every buffer to the installed tap, on the device thread.
type Recorder struct {
	ctx    *Context
	format Format
	logger *slog.Logger

	mu     sync.Mutex
	active *capture

	tapMu sync.RWMutex
	tap   func([]float32)
}

type capture struct {
	device   *malgo.Device
	sink     *wavSink
	pending  *stream.Queue[[]float32]
	onFinish func(error)
}

// NewRecorder creates a recorder on ctx.
func NewRecorder(ctx *Context, format Format, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{ctx: ctx, format: format, logger: logger}
}

// Format returns the capture profile.
func (r *Recorder) Format() Format {
	return r.format
}

// RequestPermission reports whether a microphone can be opened.
func (r *Recorder) RequestPermission(_ context.Context) bool {
	return r.ctx.HasCaptureDevice()
}

// Record starts capturing into a new WAV file at path. onFinish is called
// once, from another goroutine, after Stop and after the file has been
// fully written and closed.
func (r *Recorder) Record(path string, onFinish func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("already recording")
	}

	sink, err := createWAV(path, r.format)
	if err != nil {
		return err
	}

	c := &capture{
		sink:     sink,
		pending:  stream.NewQueue[[]float32](),
		onFinish: onFinish,
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = r.format.Channels
	deviceCfg.SampleRate = r.format.SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			r.onData(c, pSample, frameCount)
		},
	}

	device, err := malgo.InitDevice(r.ctx.mctx.Context, deviceCfg, callbacks)
	if err != nil {
		_ = sink.Close()
		_ = os.Remove(path)
		return fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = sink.Close()
		_ = os.Remove(path)
		return fmt.Errorf("starting capture device: %w", err)
	}

	c.device = device
	r.active = c
	go r.writeLoop(c)

	r.logger.Debug("capture started", "path", path, "sampleRate", r.format.SampleRate)
	return nil
}

// Stop ends the capture. It returns once the device has stopped delivering
// buffers; the file is finalized asynchronously and reported via onFinish.
func (r *Recorder) Stop() {
	r.mu.Lock()
	c := r.active
	r.active = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	c.device.Uninit()
	c.pending.Close()
}

// IsRecording returns whether the recorder is currently capturing audio.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) setTap(fn func([]float32)) {
	r.tapMu.Lock()
	r.tap = fn
	r.tapMu.Unlock()
}

// onData runs on the audio thread and must not block.
func (r *Recorder) onData(c *capture, pSample []byte, frameCount uint32) {
	samples := bytesToFloat32(pSample, frameCount*r.format.Channels)

	r.tapMu.RLock()
	tap := r.tap
	r.tapMu.RUnlock()
	if tap != nil {
		tap(samples)
	}

	c.pending.Push(samples)
}

func (r *Recorder) writeLoop(c *capture) {
	var writeErr error
	for {
		samples, ok := c.pending.Pop(context.Background())
		if !ok {
			break
		}
		if writeErr != nil {
			continue
		}
		writeErr = c.sink.Write(samples)
	}

	err := c.sink.Close()
	if writeErr != nil {
		err = writeErr
	}
	if err != nil {
		r.logger.Error("capture finalize failed", "error", err)
	}
	if c.onFinish != nil {
		c.onFinish(err)
	}
}

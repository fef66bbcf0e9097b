package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// Player plays one decoded recording through the default output device.
type Player struct {
	ctx  *Context
	clip Clip

	mu       sync.Mutex
	device   *malgo.Device
	onFinish func()

	frame    atomic.Int64
	finished atomic.Bool
}

// OpenPlayer decodes the WAV file at path and prepares it for playback.
func OpenPlayer(ctx *Context, path string) (*Player, error) {
	clip, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	if clip.Format.Channels == 0 || clip.Format.SampleRate == 0 {
		return nil, fmt.Errorf("audio: %s has no playable format", path)
	}
	return &Player{ctx: ctx, clip: clip}, nil
}

// Play starts output. onFinish is called once, from another goroutine, when
// the last sample has been handed to the device. It is not called if Stop
// runs first.
func (p *Player) Play(onFinish func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return fmt.Errorf("already playing")
	}
	p.onFinish = onFinish

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = p.clip.Format.Channels
	deviceCfg.SampleRate = p.clip.Format.SampleRate

	device, err := malgo.InitDevice(p.ctx.mctx.Context, deviceCfg, malgo.DeviceCallbacks{Data: p.onData})
	if err != nil {
		return fmt.Errorf("initializing playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting playback device: %w", err)
	}
	p.device = device
	return nil
}

// Stop halts output and releases the device. It is idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	device := p.device
	p.device = nil
	p.onFinish = nil
	p.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
}

// CurrentTime returns the playback position in seconds.
func (p *Player) CurrentTime() float64 {
	return float64(p.frame.Load()) / float64(p.clip.Format.SampleRate)
}

// Duration returns the clip length in seconds.
func (p *Player) Duration() float64 {
	return p.clip.Duration()
}

// onData runs on the audio thread.
func (p *Player) onData(pOutput, _ []byte, frameCount uint32) {
	channels := int64(p.clip.Format.Channels)
	total := int64(len(p.clip.Samples)) / channels
	start := p.frame.Load()

	frames := min(int64(frameCount), max(total-start, 0))
	written := putFloat32(pOutput, p.clip.Samples[start*channels:(start+frames)*channels])
	clear(pOutput[written*4:])
	p.frame.Add(frames)

	if start+frames >= total && p.finished.CompareAndSwap(false, true) {
		go p.finish()
	}
}

func (p *Player) finish() {
	p.mu.Lock()
	cb := p.onFinish
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

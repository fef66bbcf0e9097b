// Package vosk implements recognition.Recognizer against a Vosk websocket
// server (alphacep/vosk-server).
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/gostt-replay/internal/audio"
	"github.com/chaz8081/gostt-replay/internal/recognition"
	"github.com/chaz8081/gostt-replay/internal/stream"
)

// ErrOnDeviceUnsupported is returned for on-device file requests when the
// server is not on this machine.
var ErrOnDeviceUnsupported = errors.New("vosk: on-device recognition requires a loopback server")

const defaultDialTimeout = 5 * time.Second

// eofMessage ends a stream. vosk-server matches it byte for byte.
const eofMessage = `{"eof" : 1}`

// Config controls the Vosk connection.
type Config struct {
	URL         string
	SampleRate  uint32
	Channels    uint32 // live input channels; audio is sent mono
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Recognizer talks to one Vosk server. Every task uses its own connection.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New creates a Recognizer.
func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultFormat.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = audio.DefaultFormat.Channels
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

// Available reports whether a server is configured.
func (r *Recognizer) Available() bool {
	return strings.TrimSpace(r.cfg.URL) != ""
}

// Authorize reports whether the server accepts a connection.
func (r *Recognizer) Authorize(ctx context.Context) bool {
	conn, err := r.dial(ctx)
	if err != nil {
		r.cfg.Logger.Warn("vosk server unreachable", "url", r.cfg.URL, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// NewBufferRequest returns a request that queues live samples until a
// stream task consumes them.
func (r *Recognizer) NewBufferRequest() (recognition.BufferRequest, error) {
	if !r.Available() {
		return nil, errors.New("vosk: no server url configured")
	}
	return &bufferRequest{
		sampleRate: r.cfg.SampleRate,
		channels:   r.cfg.Channels,
		pending:    stream.NewQueue[[]float32](),
	}, nil
}

// StreamTask recognizes req, reporting every partial result to handler.
func (r *Recognizer) StreamTask(req recognition.BufferRequest, handler recognition.Handler) (recognition.Task, error) {
	br, ok := req.(*bufferRequest)
	if !ok {
		return nil, fmt.Errorf("vosk: unsupported request type %T", req)
	}
	return r.start(br.sampleRate, br.pending, true, handler)
}

// FileTask recognizes the WAV file at path.
func (r *Recognizer) FileTask(path string, opts recognition.FileOptions, handler recognition.Handler) (recognition.Task, error) {
	if opts.OnDevice && !r.isLoopback() {
		return nil, ErrOnDeviceUnsupported
	}

	clip, err := audio.ReadWAV(path)
	if err != nil {
		return nil, err
	}
	samples := downmix(clip.Samples, clip.Format.Channels)

	pending := stream.NewQueue[[]float32]()
	chunk := max(int(clip.Format.SampleRate)/4, 1)
	for off := 0; off < len(samples); off += chunk {
		pending.Push(samples[off:min(off+chunk, len(samples))])
	}
	pending.Close()

	return r.start(clip.Format.SampleRate, pending, opts.ReportPartial, handler)
}

func (r *Recognizer) start(sampleRate uint32, pending *stream.Queue[[]float32], partials bool, handler recognition.Handler) (recognition.Task, error) {
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := r.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	cfgMsg := configMessage{}
	cfgMsg.Config.SampleRate = sampleRate
	cfgMsg.Config.Words = 1
	if err := conn.WriteJSON(cfgMsg); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("vosk: sending config: %w", err)
	}

	t := &task{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		pending:  pending,
		partials: partials,
		handler:  handler,
		logger:   r.cfg.Logger,
	}
	go t.writeLoop()
	go t.readLoop()
	return t, nil
}

func (r *Recognizer) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("vosk: connecting to %s: %w", r.cfg.URL, err)
	}
	return conn, nil
}

func (r *Recognizer) isLoopback() bool {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type bufferRequest struct {
	sampleRate uint32
	channels   uint32
	pending    *stream.Queue[[]float32]
}

// Append is called on the audio thread; the queue never blocks.
func (b *bufferRequest) Append(samples []float32) {
	b.pending.Push(downmix(append([]float32(nil), samples...), b.channels))
}

func (b *bufferRequest) EndAudio() {
	b.pending.Close()
}

type task struct {
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	pending  *stream.Queue[[]float32]
	partials bool
	handler  recognition.Handler
	logger   *slog.Logger

	eofSent   atomic.Bool
	closeOnce sync.Once
}

// Cancel abandons the task and closes the connection without waiting for
// the read loop.
func (t *task) Cancel() {
	t.cancel()
	t.closeOnce.Do(func() { _ = t.conn.Close() })
}

func (t *task) writeLoop() {
	for {
		samples, ok := t.pending.Pop(t.ctx)
		if !ok {
			break
		}
		if err := t.conn.WriteMessage(websocket.BinaryMessage, audio.PCM16(samples)); err != nil {
			t.logger.Debug("vosk audio write failed", "error", err)
			return
		}
	}
	if t.ctx.Err() != nil {
		return
	}
	t.eofSent.Store(true)
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(eofMessage)); err != nil {
		t.logger.Debug("vosk eof write failed", "error", err)
	}
}

func (t *task) readLoop() {
	defer t.closeOnce.Do(func() { _ = t.conn.Close() })

	var (
		acc      accumulator
		gotFinal bool // final utterance received after eof
	)
	for {
		_, payload, err := t.conn.ReadMessage()
		if t.ctx.Err() != nil {
			return
		}
		if err != nil {
			if gotFinal && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.handler(recognition.Result{Transcript: acc.snapshot(), Final: true}, nil)
				return
			}
			if !gotFinal && t.eofSent.Load() && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = fmt.Errorf("%w: closed before final result", err)
			}
			t.handler(recognition.Result{}, fmt.Errorf("vosk: reading result: %w", err))
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.logger.Debug("vosk: skipping malformed message", "error", err)
			continue
		}
		if msg.Text != nil && t.eofSent.Load() {
			gotFinal = true
		}
		if acc.apply(msg) && t.partials {
			t.handler(recognition.Result{Transcript: acc.snapshot()}, nil)
		}
	}
}

func downmix(samples []float32, channels uint32) []float32 {
	if channels <= 1 {
		return samples
	}
	n := int(channels)
	out := make([]float32, len(samples)/n)
	for i := range out {
		var sum float32
		for c := 0; c < n; c++ {
			sum += samples[i*n+c]
		}
		out[i] = sum / float32(n)
	}
	return out
}

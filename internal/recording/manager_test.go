package recording

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-replay/internal/stream"
)

func nextState(t *testing.T, sub *stream.Subscription[State]) State {
	t.Helper()
	select {
	case s := <-sub.C():
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recording state")
	}
	return State{}
}

func expectNoState(t *testing.T, sub *stream.Subscription[State], wait time.Duration) {
	t.Helper()
	select {
	case s := <-sub.C():
		t.Fatalf("unexpected state %+v", s)
	case <-time.After(wait):
	}
}

func newTestManager(t *testing.T, device *fakeDevice, settle time.Duration) (*Manager, *stream.Subscription[State]) {
	t.Helper()
	m := NewManager(device, Config{Dir: t.TempDir(), SettleDelay: settle})
	sub := m.Subscribe()
	t.Cleanup(sub.Close)
	if s := nextState(t, sub); s.Status != StatusIdle {
		t.Fatalf("initial status = %s, want idle", s.Status)
	}
	return m, sub
}

func TestManagerStartStop(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	m, sub := newTestManager(t, device, 0)
	id := uuid.New()

	m.Start(id)
	rec := nextState(t, sub)
	if rec.Status != StatusRecording || rec.Session != id {
		t.Fatalf("got %+v, want recording for session %s", rec, id)
	}
	if filepath.Dir(rec.Handle.Path()) != m.cfg.Dir {
		t.Errorf("artifact %q not in %q", rec.Handle.Path(), m.cfg.Dir)
	}
	if !regexp.MustCompile(`^recording_\d+\.wav$`).MatchString(filepath.Base(rec.Handle.Path())) {
		t.Errorf("unexpected artifact name %q", filepath.Base(rec.Handle.Path()))
	}

	m.Stop()
	idle := nextState(t, sub)
	if idle.Status != StatusIdle || idle.Session != id || idle.Handle != rec.Handle {
		t.Fatalf("got %+v, want idle with the recorded handle", idle)
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	m, sub := newTestManager(t, device, 0)

	m.Stop()
	m.Start(uuid.New())
	nextState(t, sub)

	m.Stop()
	m.Stop()
	nextState(t, sub)
	m.Stop()
	expectNoState(t, sub, 50*time.Millisecond)

	if got := device.stops(); got != 1 {
		t.Errorf("device Stop calls = %d, want 1", got)
	}
}

func TestManagerIdleWaitsForSettleDelay(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	m, sub := newTestManager(t, device, 80*time.Millisecond)

	m.Start(uuid.New())
	nextState(t, sub)

	start := time.Now()
	m.Stop()
	if s := nextState(t, sub); s.Status != StatusIdle {
		t.Fatalf("status = %s, want idle", s.Status)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("idle published after %s, want at least the settle delay", elapsed)
	}
}

func TestManagerRecordError(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{recordErr: errors.New("no device")}
	m, sub := newTestManager(t, device, 0)
	id := uuid.New()

	m.Start(id)
	s := nextState(t, sub)
	if s.Status != StatusError || s.Session != id {
		t.Fatalf("got %+v, want error state", s)
	}
	if !errors.Is(s.Err, ErrRecordingFailed) {
		t.Errorf("error %v does not wrap ErrRecordingFailed", s.Err)
	}

	m.Stop()
	if got := device.stops(); got != 0 {
		t.Errorf("device Stop calls = %d, want 0 after failed start", got)
	}
}

func TestManagerFinalizeError(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{finishErr: errors.New("disk full")}
	m, sub := newTestManager(t, device, 0)

	m.Start(uuid.New())
	nextState(t, sub)
	m.Stop()

	s := nextState(t, sub)
	if s.Status != StatusError || !errors.Is(s.Err, ErrRecordingFailed) {
		t.Fatalf("got %+v, want wrapped finalize error", s)
	}
}

func TestManagerNamesAreUniqueWithFrozenClock(t *testing.T) {
	t.Parallel()

	frozen := time.Unix(1700000000, 0)
	m := NewManager(&fakeDevice{}, Config{Dir: t.TempDir(), Now: func() time.Time { return frozen }})

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p := m.nextPath()
		if seen[p] {
			t.Fatalf("duplicate artifact path %q", p)
		}
		seen[p] = true
	}
}

func TestManagerRestartReplacesPreviousSession(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	m, sub := newTestManager(t, device, 0)
	first, second := uuid.New(), uuid.New()

	m.Start(first)
	firstRec := nextState(t, sub)

	m.Start(second)

	var sawFirstIdle, sawSecondRec bool
	for i := 0; i < 2; i++ {
		s := nextState(t, sub)
		switch {
		case s.Status == StatusIdle && s.Session == first:
			sawFirstIdle = true
			if s.Handle != firstRec.Handle {
				t.Errorf("first idle handle = %q, want %q", s.Handle.Path(), firstRec.Handle.Path())
			}
		case s.Status == StatusRecording && s.Session == second:
			sawSecondRec = true
			if s.Handle == firstRec.Handle {
				t.Error("second session reused the first artifact")
			}
		default:
			t.Fatalf("unexpected state %+v", s)
		}
	}
	if !sawFirstIdle || !sawSecondRec {
		t.Fatalf("first idle = %v, second recording = %v", sawFirstIdle, sawSecondRec)
	}

	paths := device.recorded()
	if len(paths) != 2 || paths[0] == paths[1] {
		t.Errorf("recorded paths = %v, want two distinct", paths)
	}
	if device.overlapped.Load() {
		t.Error("second capture started before the first was finalized")
	}
}

func TestManagerStartDoesNotWaitForFinalize(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	device := &fakeDevice{finishGate: gate}
	m, sub := newTestManager(t, device, 0)
	first, second := uuid.New(), uuid.New()

	m.Start(first)
	nextState(t, sub)

	returned := make(chan struct{})
	go func() {
		m.Start(second)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Start blocked on the previous finalize")
	}
	expectNoState(t, sub, 50*time.Millisecond)

	close(gate)
	var sawFirstIdle, sawSecondRec bool
	for i := 0; i < 2; i++ {
		s := nextState(t, sub)
		switch {
		case s.Status == StatusIdle && s.Session == first:
			sawFirstIdle = true
		case s.Status == StatusRecording && s.Session == second:
			sawSecondRec = true
		default:
			t.Fatalf("unexpected state %+v", s)
		}
	}
	if !sawFirstIdle || !sawSecondRec {
		t.Fatalf("first idle = %v, second recording = %v", sawFirstIdle, sawSecondRec)
	}
}

func TestManagerStopBeforeDeviceFree(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	device := &fakeDevice{finishGate: gate}
	m, sub := newTestManager(t, device, 0)
	first, second := uuid.New(), uuid.New()

	m.Start(first)
	nextState(t, sub)
	m.Start(second)
	m.Stop()
	close(gate)

	var sawFirstIdle, sawSecondErr bool
	for i := 0; i < 2; i++ {
		s := nextState(t, sub)
		switch {
		case s.Status == StatusIdle && s.Session == first:
			sawFirstIdle = true
		case s.Status == StatusError && s.Session == second:
			sawSecondErr = true
			if !errors.Is(s.Err, ErrRecordingFailed) {
				t.Errorf("error %v does not wrap ErrRecordingFailed", s.Err)
			}
		default:
			t.Fatalf("unexpected state %+v", s)
		}
	}
	if !sawFirstIdle || !sawSecondErr {
		t.Fatalf("first idle = %v, second error = %v", sawFirstIdle, sawSecondErr)
	}
	if paths := device.recorded(); len(paths) != 1 {
		t.Errorf("recorded paths = %v, want only the first", paths)
	}

	// The manager is usable again.
	third := uuid.New()
	m.Start(third)
	if s := nextState(t, sub); s.Status != StatusRecording || s.Session != third {
		t.Fatalf("got %+v, want recording for the next session", s)
	}
}

func TestManagerRequestPermissionCoalesces(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	device := &fakeDevice{permission: true, permGate: gate}
	m := NewManager(device, Config{Dir: t.TempDir()})

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.RequestPermission(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Errorf("caller %d denied", i)
		}
	}
	if got := device.permCalls.Load(); got != 1 {
		t.Errorf("device permission requests = %d, want 1", got)
	}

	if !m.RequestPermission(context.Background()) {
		t.Error("repeated request should still be granted")
	}
}

type fakeDevice struct {
	recordErr  error
	finishErr  error
	finishGate chan struct{}
	permission bool
	permGate   chan struct{}
	permCalls  atomic.Int32
	overlapped atomic.Bool

	mu        sync.Mutex
	paths     []string
	onFinish  func(error)
	stopCalls int
}

func (f *fakeDevice) Record(path string, onFinish func(error)) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFinish != nil {
		f.overlapped.Store(true)
	}
	f.paths = append(f.paths, path)
	f.onFinish = onFinish
	return nil
}

func (f *fakeDevice) Stop() {
	f.mu.Lock()
	f.stopCalls++
	cb := f.onFinish
	f.onFinish = nil
	f.mu.Unlock()
	if cb != nil {
		go func() {
			if f.finishGate != nil {
				<-f.finishGate
			}
			cb(f.finishErr)
		}()
	}
}

func (f *fakeDevice) RequestPermission(_ context.Context) bool {
	f.permCalls.Add(1)
	if f.permGate != nil {
		<-f.permGate
	}
	return f.permission
}

func (f *fakeDevice) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeDevice) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

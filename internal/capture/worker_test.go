package capture

import (
	"image"
	"sync"
	"testing"
	"time"

	apperrors "github.com/wintrack/wintrack/internal/errors"
	"github.com/wintrack/wintrack/internal/platform"
)

type fakeSession struct {
	mu       sync.Mutex
	captures int
	closes   int
	fail     bool
	seq      uint64
}

func (s *fakeSession) Capture() (*RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if s.fail {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "injected failure")
	}
	s.seq++
	return &RawFrame{
		Image:      image.NewRGBA(image.Rect(0, 0, 4, 4)),
		Seq:        s.seq,
		CapturedAt: time.Now(),
	}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

type fakeBackend struct {
	mu       sync.Mutex
	sessions []*fakeSession
	openErr  error
	slow     time.Duration
}

func (b *fakeBackend) OpenWindow(platform.Handle, time.Duration) (Session, error) {
	return b.openSession()
}

func (b *fakeBackend) OpenMonitor(int, time.Duration) (Session, error) {
	return b.openSession()
}

func (b *fakeBackend) openSession() (Session, error) {
	if b.slow > 0 {
		time.Sleep(b.slow)
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSession{}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func waitEvent(t *testing.T, w *Worker, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestWorkerStartSessionSuccess(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, nil, time.Second)
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)

	ev := waitEvent(t, w, EventStarted)
	if !ev.OK {
		t.Errorf("Started.OK = false, want true: %+v", ev)
	}
	if backend.openCount() != 1 {
		t.Errorf("open count = %d, want 1", backend.openCount())
	}
}

func TestWorkerStartSessionFailure(t *testing.T) {
	backend := &fakeBackend{openErr: apperrors.New(apperrors.CodeSessionOpen, "refused")}
	w := NewWorker(backend, nil, time.Second)
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)

	ev := waitEvent(t, w, EventStarted)
	if ev.OK {
		t.Error("Started.OK = true for failed open")
	}
}

func TestWorkerRestartClosesPreviousSession(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, nil, time.Second)
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)
	waitEvent(t, w, EventStarted)

	w.StartSession(WindowTarget(platform.Handle(2)), true)
	waitEvent(t, w, EventStarted)

	if backend.openCount() != 2 {
		t.Fatalf("open count = %d, want 2", backend.openCount())
	}
	if !backend.sessions[0].closed() {
		t.Error("first session should be closed before the second opens")
	}
	if backend.sessions[1].closed() {
		t.Error("second session should remain open")
	}
}

func TestWorkerCaptureRateLimited(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, nil, time.Second)
	w.SetFPS(1) // min interval 1s
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)
	waitEvent(t, w, EventStarted)

	for i := 0; i < 5; i++ {
		w.RequestCapture()
	}

	select {
	case <-w.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	// A burst of requests inside 1/fps collapses to a single capture.
	time.Sleep(100 * time.Millisecond)
	backend.sessions[0].mu.Lock()
	captures := backend.sessions[0].captures
	backend.sessions[0].mu.Unlock()
	if captures > 1 {
		t.Errorf("captures = %d, want 1 (rate limited)", captures)
	}
}

func TestWorkerCaptureErrorEmitsEvent(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, nil, time.Second)
	w.SetFPS(60)
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)
	waitEvent(t, w, EventStarted)

	backend.sessions[0].mu.Lock()
	backend.sessions[0].fail = true
	backend.sessions[0].mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	w.RequestCapture()

	ev := waitEvent(t, w, EventError)
	if ev.Op != "capture_frame" {
		t.Errorf("error op = %q, want capture_frame", ev.Op)
	}
}

func TestWorkerStopSessionIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, nil, time.Second)
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)
	waitEvent(t, w, EventStarted)

	w.StopSession()
	waitEvent(t, w, EventStopped)
	w.StopSession() // second stop is a no-op

	time.Sleep(50 * time.Millisecond)
	backend.sessions[0].mu.Lock()
	closes := backend.sessions[0].closes
	backend.sessions[0].mu.Unlock()
	if closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
}

func TestWorkerPatternTargetUsesResolver(t *testing.T) {
	backend := &fakeBackend{}
	resolver := func(pattern string, partial bool) (platform.Handle, bool) {
		if pattern == "notepad.exe" {
			return platform.Handle(77), true
		}
		return 0, false
	}
	w := NewWorker(backend, resolver, time.Second)
	w.Start()
	defer w.Shutdown()

	w.StartSession(PatternTarget("notepad.exe"), true)
	ev := waitEvent(t, w, EventStarted)
	if !ev.OK {
		t.Fatalf("pattern target open failed: %+v", ev)
	}

	w.StartSession(PatternTarget("missing.exe"), true)
	ev = waitEvent(t, w, EventStarted)
	if ev.OK {
		t.Error("unresolvable pattern should fail the open")
	}
}

func TestWorkerShutdownBounded(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, nil, time.Second)
	w.Start()

	start := time.Now()
	if err := w.Shutdown(); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if elapsed := time.Since(start); elapsed > ShutdownWait+time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
}

// stallSession parks Capture until released, like a hung display server.
type stallSession struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closes  int
}

func newStallSession() *stallSession {
	return &stallSession{
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
}

func (s *stallSession) Capture() (*RawFrame, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil, apperrors.New(apperrors.CodeCaptureFailed, "stalled")
}

func (s *stallSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *stallSession) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

type stallBackend struct{ session *stallSession }

func (b stallBackend) OpenWindow(platform.Handle, time.Duration) (Session, error) {
	return b.session, nil
}

func (b stallBackend) OpenMonitor(int, time.Duration) (Session, error) {
	return b.session, nil
}

func TestWorkerStopSurvivesCaptureBacklog(t *testing.T) {
	session := newStallSession()
	w := NewWorker(stallBackend{session}, nil, time.Second)
	w.Start()
	defer w.Shutdown()

	w.StartSession(WindowTarget(platform.Handle(1)), true)
	waitEvent(t, w, EventStarted)

	// The first request parks the loop in Capture; the rest flood the
	// capture inbox past its buffer.
	w.RequestCapture()
	<-session.entered
	for i := 0; i < CommandBuffer+1; i++ {
		w.RequestCapture()
	}
	w.StopSession()
	close(session.release)

	deadline := time.After(2 * time.Second)
	for !session.closed() {
		select {
		case <-deadline:
			t.Fatal("session still open after stop: stop lost to the capture backlog")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerShutdownTimeoutReported(t *testing.T) {
	session := newStallSession()
	w := NewWorker(stallBackend{session}, nil, time.Second)
	w.Start()

	w.StartSession(WindowTarget(platform.Handle(1)), true)
	waitEvent(t, w, EventStarted)
	w.RequestCapture()
	<-session.entered

	// The loop cannot leave Capture, so the join times out and the
	// session is force-closed.
	err := w.Shutdown()
	if !apperrors.IsCode(err, apperrors.CodeWorkerTimeout) {
		t.Errorf("Shutdown() = %v, want a worker timeout", err)
	}
	if !session.closed() {
		t.Error("stalled session was not force-closed")
	}
	close(session.release)
}

func TestProbeOpenTimeout(t *testing.T) {
	slow := &slowSession{}
	start := time.Now()
	_, err := probeOpen(slow, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !apperrors.IsCode(err, apperrors.CodeSessionOpen) {
		t.Errorf("error code = %v, want session_open", apperrors.CodeOf(err))
	}
	if time.Since(start) > time.Second {
		t.Error("probe did not respect timeout")
	}
}

type slowSession struct{}

func (s *slowSession) Capture() (*RawFrame, error) {
	time.Sleep(5 * time.Second)
	return nil, nil
}

func (s *slowSession) Close() error { return nil }

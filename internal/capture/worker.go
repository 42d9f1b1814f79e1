package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/wintrack/wintrack/internal/errors"
	"github.com/wintrack/wintrack/internal/platform"
)

// EventKind tags a worker lifecycle event.
type EventKind uint8

const (
	EventStarted EventKind = iota
	EventStopped
	EventError
)

// Event reports a session lifecycle change or a capture error.
type Event struct {
	Kind    EventKind
	Target  string
	OK      bool
	Op      string
	Message string
}

// Resolver turns a search pattern into a window handle. Injected by the
// owner, typically backed by the locator.
type Resolver func(pattern string, partial bool) (platform.Handle, bool)

type cmdKind uint8

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdCapture
	cmdSetFPS
)

type command struct {
	kind    cmdKind
	target  Target
	partial bool
	fps     int
}

// Worker owns at most one open capture session and executes every backend
// call on its own goroutine. Callers communicate only through commands; no
// call blocks beyond enqueueing.
type Worker struct {
	backend Backend
	resolve Resolver
	timeout time.Duration

	// ctrl carries lifecycle commands (start, stop, fps) with guaranteed
	// delivery; cmds carries capture requests, which may be shed under
	// load. A stop must never be lost to a backlog of capture requests.
	ctrl     chan command
	cmds     chan command
	frames   chan *RawFrame
	events   chan Event
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// Session state transitions are serialized by the command loop; mu
	// additionally guards them against the forced-shutdown path.
	mu        sync.Mutex
	session   Session
	sessionID string
	target    Target
	running   bool

	fps         int
	minInterval time.Duration
	lastCapture time.Time
}

// NewWorker creates a stopped worker; call Start to launch its goroutine.
func NewWorker(backend Backend, resolve Resolver, openTimeout time.Duration) *Worker {
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	w := &Worker{
		backend: backend,
		resolve: resolve,
		timeout: openTimeout,
		ctrl:    make(chan command, ControlBuffer),
		cmds:    make(chan command, CommandBuffer),
		frames:  make(chan *RawFrame, FrameBuffer),
		events:  make(chan Event, EventBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.applyFPS(DefaultFPS)
	return w
}

// Start launches the worker goroutine. Idempotent per worker lifetime.
func (w *Worker) Start() {
	go w.run()
}

// Frames returns captured frames.
func (w *Worker) Frames() <-chan *RawFrame { return w.frames }

// Events returns lifecycle and error events.
func (w *Worker) Events() <-chan Event { return w.events }

// StartSession asks the worker to open a session. Outcome arrives as an
// EventStarted event.
func (w *Worker) StartSession(t Target, partial bool) {
	w.enqueueCtrl(command{kind: cmdStart, target: t, partial: partial})
}

// StopSession asks the worker to close the current session. Idempotent, and
// delivered even when the capture inbox is backed up.
func (w *Worker) StopSession() {
	w.enqueueCtrl(command{kind: cmdStop})
}

// RequestCapture asks for one frame. Requests inside the minimum inter-frame
// interval are absorbed as no-ops.
func (w *Worker) RequestCapture() {
	w.enqueue(command{kind: cmdCapture})
}

// SetFPS clamps fps to [MinFPS, MaxFPS] and applies it on the worker loop.
func (w *Worker) SetFPS(fps int) {
	w.enqueueCtrl(command{kind: cmdSetFPS, fps: fps})
}

// Shutdown stops the loop and closes any open session, waiting at most
// ShutdownWait for the goroutine to finish. A wedged loop is reported as a
// worker timeout after its session is forced closed.
func (w *Worker) Shutdown() error {
	w.quitOnce.Do(func() { close(w.quit) })
	select {
	case <-w.done:
		return nil
	case <-time.After(ShutdownWait):
		slog.Warn("capture worker did not stop in time, forcing session close")
		w.forceClose()
		return apperrors.New(apperrors.CodeWorkerTimeout, "capture worker did not stop in time")
	}
}

func (w *Worker) enqueue(c command) {
	select {
	case w.cmds <- c:
	default:
		slog.Debug("capture request dropped, inbox full")
	}
}

// enqueueCtrl blocks until the command is accepted or the worker quits.
// Lifecycle commands are rare and the loop drains fast, so the wait is
// short; what matters is that the command cannot be shed.
func (w *Worker) enqueueCtrl(c command) {
	select {
	case w.ctrl <- c:
	case <-w.quit:
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			w.closeSession()
			return
		case c := <-w.ctrl:
			switch c.kind {
			case cmdStart:
				w.openSession(c.target, c.partial)
			case cmdStop:
				w.closeSession()
			case cmdSetFPS:
				w.applyFPS(c.fps)
			}
		case c := <-w.cmds:
			if c.kind == cmdCapture {
				w.captureFrame()
			}
		}
	}
}

func (w *Worker) openSession(t Target, partial bool) {
	// A lingering session never survives a new open.
	w.closeSession()

	session, err := w.open(t, partial)

	w.mu.Lock()
	if err != nil {
		w.running = false
		w.mu.Unlock()
		slog.Warn("capture session open failed", "target", t.String(), "error", err)
		w.emit(Event{Kind: EventError, Op: "start_session", Message: err.Error()})
		w.emit(Event{Kind: EventStarted, Target: t.String(), OK: false})
		return
	}
	w.session = session
	w.sessionID = uuid.NewString()
	w.target = t
	w.running = true
	id := w.sessionID
	w.mu.Unlock()

	slog.Info("capture session opened", "target", t.String(), "session", id)
	w.emit(Event{Kind: EventStarted, Target: t.String(), OK: true})
}

func (w *Worker) open(t Target, partial bool) (Session, error) {
	switch t.kind {
	case targetMonitor:
		return w.backend.OpenMonitor(t.monitor, w.timeout)
	case targetPattern:
		if w.resolve == nil {
			return nil, apperrors.New(apperrors.CodeNotConfigured, "no resolver for pattern targets")
		}
		h, ok := w.resolve(t.pattern, partial)
		if !ok {
			return nil, apperrors.New(apperrors.CodeSearchFailed, "no window matches target").
				WithMetadata("pattern", t.pattern)
		}
		return w.backend.OpenWindow(h, w.timeout)
	default:
		return w.backend.OpenWindow(t.window, w.timeout)
	}
}

func (w *Worker) closeSession() {
	w.mu.Lock()
	session := w.session
	id := w.sessionID
	w.session = nil
	w.sessionID = ""
	w.running = false
	w.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		slog.Error("capture session close failed", "session", id, "error", err)
		w.emit(Event{Kind: EventError, Op: "stop_session", Message: err.Error()})
		return
	}
	slog.Info("capture session closed", "session", id)
	w.emit(Event{Kind: EventStopped})
}

func (w *Worker) captureFrame() {
	w.mu.Lock()
	session := w.session
	running := w.running
	w.mu.Unlock()
	if !running || session == nil {
		return
	}

	now := time.Now()
	if now.Sub(w.lastCapture) < w.minInterval {
		return
	}

	frame, err := session.Capture()
	w.lastCapture = now
	if err != nil {
		if apperrors.IsRetryable(err) {
			slog.Debug("capture attempt failed", "error", err)
		} else {
			slog.Warn("capture attempt failed", "error", err)
		}
		w.emit(Event{Kind: EventError, Op: "capture_frame", Message: err.Error()})
		return
	}
	if frame == nil {
		return
	}

	select {
	case w.frames <- frame:
	default:
		// Pipeline is behind; the frame slot policy downstream makes this
		// frame superseded anyway.
	}
}

func (w *Worker) applyFPS(fps int) {
	if fps < MinFPS {
		fps = MinFPS
	}
	if fps > MaxFPS {
		fps = MaxFPS
	}
	w.fps = fps
	w.minInterval = time.Second / time.Duration(fps)
	slog.Debug("capture fps applied", "fps", fps)
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		slog.Debug("capture worker event dropped, channel full")
	}
}

func (w *Worker) forceClose() {
	w.mu.Lock()
	session := w.session
	w.session = nil
	w.running = false
	w.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
}

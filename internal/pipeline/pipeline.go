// Package pipeline connects the capture worker to frame consumers. A single
// goroutine paces capture requests, feeds raw frames to the processor, fans
// processed frames out to leases and reports stats about once a second while
// a session is live.
package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wintrack/wintrack/internal/capture"
	"github.com/wintrack/wintrack/internal/frameproc"
	"github.com/wintrack/wintrack/internal/syncx"
)

// Capturer is the slice of the capture worker the pipeline drives.
type Capturer interface {
	StartSession(t capture.Target, partial bool)
	StopSession()
	RequestCapture()
	SetFPS(fps int)
	Frames() <-chan *capture.RawFrame
	Events() <-chan capture.Event
}

// Processor consumes raw frames and yields display-ready ones.
type Processor interface {
	// SubmitRawFrame hands over a capture; false means an unconsumed frame
	// was superseded.
	SubmitRawFrame(f *capture.RawFrame) bool
	Ready() <-chan *frameproc.Frame
	Stats() frameproc.Stats
	Close()
}

// CaptureStats counts pipeline throughput for the active session.
type CaptureStats struct {
	Captured  uint64
	Displayed uint64
	Dropped   uint64
	LastError string
}

// EventKind tags pipeline event payloads.
type EventKind uint8

const (
	EventStarted EventKind = iota
	EventStopped
	EventError
	EventStats
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "capture_started"
	case EventStopped:
		return "capture_stopped"
	case EventError:
		return "capture_error"
	case EventStats:
		return "capture_stats"
	default:
		return "unknown"
	}
}

// Event is one pipeline notification. Stats is set for EventStats.
type Event struct {
	Kind    EventKind
	Target  string
	OK      bool
	Op      string
	Message string
	Stats   StatsSnapshot
}

// StatsSnapshot combines pipeline counters with processor timing.
type StatsSnapshot struct {
	CaptureStats
	AvgProcessMillis float64
	FPS              int
}

type cmdKind uint8

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdSetFPS
)

type command struct {
	kind    cmdKind
	target  capture.Target
	partial bool
	fps     int
	reply   chan bool
}

// Pipeline owns the capture loop. Construct with New, then Start; all public
// methods are safe for concurrent use.
type Pipeline struct {
	worker Capturer
	proc   Processor
	stats  *syncx.RWGuard[CaptureStats]

	cmds   chan command
	events chan Event
	quit   chan struct{}
	once   sync.Once
	done   chan struct{}

	leaseMu sync.Mutex
	leases  map[string]*Lease

	fps atomic.Int32

	// Loop-owned state, touched only on the run goroutine.
	capturing    bool
	target       string
	failStreak   int
	pendingStart chan bool
	// startsInFlight counts session opens the worker has not answered yet.
	// A started event with more opens behind it belongs to a session that
	// was replaced before it came up and must not settle the current start.
	startsInFlight int
}

// New builds a pipeline over the given worker and processor.
func New(worker Capturer, proc Processor, fps int) *Pipeline {
	p := &Pipeline{
		worker: worker,
		proc:   proc,
		stats:  syncx.NewGuard(CaptureStats{}),
		cmds:   make(chan command, CommandBuffer),
		events: make(chan Event, EventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		leases: make(map[string]*Lease),
	}
	p.fps.Store(int32(clampFPS(fps)))
	return p
}

// Start launches the pipeline goroutine.
func (p *Pipeline) Start() {
	go p.run()
}

// Close stops the loop, the session and every lease. The join is bounded.
func (p *Pipeline) Close() {
	p.once.Do(func() { close(p.quit) })
	select {
	case <-p.done:
	case <-time.After(StopWait):
		slog.Warn("pipeline loop did not stop in time")
	}

	p.leaseMu.Lock()
	leases := make([]*Lease, 0, len(p.leases))
	for _, l := range p.leases {
		leases = append(leases, l)
	}
	p.leaseMu.Unlock()
	for _, l := range leases {
		l.Release()
	}
}

// Events exposes pipeline notifications. Slow consumers lose events.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// StartWindowCapture opens a capture session for the window matching
// pattern. An active session is stopped first and the stats reset. The
// return reports whether the session opened.
func (p *Pipeline) StartWindowCapture(pattern string, partial bool) bool {
	return p.start(capture.PatternTarget(pattern), partial)
}

// StartHandleCapture opens a session on an already-resolved window handle.
func (p *Pipeline) StartHandleCapture(t capture.Target) bool {
	return p.start(t, false)
}

// StartMonitorCapture opens a session on a whole monitor.
func (p *Pipeline) StartMonitorCapture(index int) bool {
	return p.start(capture.MonitorTarget(index), false)
}

func (p *Pipeline) start(t capture.Target, partial bool) bool {
	reply := make(chan bool, 1)
	if !p.send(command{kind: cmdStart, target: t, partial: partial, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-time.After(StartTimeout):
		slog.Warn("capture start timed out", "target", t.String())
		return false
	case <-p.done:
		return false
	}
}

// StopCapture closes the active session. A no-op when nothing is capturing.
func (p *Pipeline) StopCapture() {
	p.send(command{kind: cmdStop})
}

// SetFPS changes the capture rate; the value is clamped to the worker's
// supported range.
func (p *Pipeline) SetFPS(fps int) {
	p.send(command{kind: cmdSetFPS, fps: fps})
}

// Stats snapshots the pipeline counters and processor timing. Frames the
// processor replaced on its output before anyone read them never reached a
// lease, so they count toward Dropped.
func (p *Pipeline) Stats() StatsSnapshot {
	proc := p.proc.Stats()
	snap := StatsSnapshot{
		CaptureStats:     p.stats.Get(),
		AvgProcessMillis: proc.AvgProcessMillis,
		FPS:              p.currentFPS(),
	}
	snap.Dropped += proc.Stale
	return snap
}

// Lease registers a named frame mailbox. An empty name gets a generated one;
// a name already in use replaces the previous lease, releasing it.
func (p *Pipeline) Lease(name string) *Lease {
	if name == "" {
		name = uuid.NewString()
	}
	l := newLease(name, p.dropLease)

	p.leaseMu.Lock()
	old := p.leases[name]
	p.leases[name] = l
	p.leaseMu.Unlock()

	if old != nil {
		old.Release()
	}
	slog.Debug("frame lease opened", "lease", name)
	return l
}

// dropLease detaches l from the registry. A lease replaced under the same
// name must not evict its replacement, hence the identity check.
func (p *Pipeline) dropLease(l *Lease) {
	p.leaseMu.Lock()
	if p.leases[l.name] == l {
		delete(p.leases, l.name)
	}
	p.leaseMu.Unlock()
	slog.Debug("frame lease released", "lease", l.name)
}

// send blocks until the loop accepts the command or the pipeline quits.
// Control traffic is rare; a stop or rate change must not be shed.
func (p *Pipeline) send(c command) bool {
	select {
	case p.cmds <- c:
		return true
	case <-p.quit:
		return false
	}
}

func (p *Pipeline) run() {
	defer close(p.done)

	request := time.NewTicker(requestPeriod(p.currentFPS()))
	defer request.Stop()
	stats := time.NewTicker(StatsInterval)
	defer stats.Stop()

	ready := p.proc.Ready()
	for {
		select {
		case <-p.quit:
			p.worker.StopSession()
			p.settleStart(false)
			return

		case c := <-p.cmds:
			switch c.kind {
			case cmdStart:
				p.handleStart(c)
			case cmdStop:
				p.worker.StopSession()
				p.capturing = false
				p.settleStart(false)
			case cmdSetFPS:
				fps := clampFPS(c.fps)
				p.fps.Store(int32(fps))
				p.worker.SetFPS(fps)
				request.Reset(requestPeriod(fps))
				slog.Info("capture fps set", "fps", fps)
			}

		case <-request.C:
			if p.capturing {
				p.worker.RequestCapture()
			}

		case <-stats.C:
			if p.capturing {
				p.emit(Event{Kind: EventStats, Target: p.target, Stats: p.Stats()})
			}

		case f := <-p.worker.Frames():
			p.failStreak = 0
			p.stats.Write(func(s *CaptureStats) {
				s.Captured++
				if !p.proc.SubmitRawFrame(f) {
					s.Dropped++
				}
			})

		case ev := <-p.worker.Events():
			p.handleWorkerEvent(ev)

		case pf, ok := <-ready:
			if !ok {
				ready = nil
				continue
			}
			p.deliver(pf)
		}
	}
}

func (p *Pipeline) handleStart(c command) {
	if p.capturing {
		p.worker.StopSession()
		p.capturing = false
	}
	p.stats.Set(CaptureStats{})
	p.failStreak = 0
	p.settleStart(false)
	p.pendingStart = c.reply
	p.target = c.target.String()
	p.startsInFlight++
	p.worker.StartSession(c.target, c.partial)
}

func (p *Pipeline) handleWorkerEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventStarted:
		if p.startsInFlight > 0 {
			p.startsInFlight--
		}
		if p.startsInFlight > 0 {
			// Outcome of a session replaced before it came up.
			return
		}
		p.capturing = ev.OK
		if p.pendingStart != nil {
			p.pendingStart <- ev.OK
			p.pendingStart = nil
		}
		p.emit(Event{Kind: EventStarted, Target: ev.Target, OK: ev.OK})

	case capture.EventStopped:
		p.capturing = false
		p.emit(Event{Kind: EventStopped, Target: p.target})

	case capture.EventError:
		p.stats.Write(func(s *CaptureStats) { s.LastError = ev.Message })
		if ev.Op == "capture_frame" {
			p.failStreak++
			if p.failStreak == FailureWarnThreshold {
				// Keep capturing; the window may come back. Only StopCapture
				// or a failed open ends a session.
				slog.Warn("repeated capture failures", "streak", p.failStreak,
					"target", p.target, "error", ev.Message)
				p.emit(Event{Kind: EventError, Op: ev.Op, Target: p.target,
					Message: "repeated capture failures: " + ev.Message})
			}
			return
		}
		p.emit(Event{Kind: EventError, Op: ev.Op, Target: p.target, Message: ev.Message})
	}
}

// deliver fans a processed frame out to every lease; superseding an
// unconsumed leased frame counts as a drop.
func (p *Pipeline) deliver(f *frameproc.Frame) {
	p.leaseMu.Lock()
	leases := make([]*Lease, 0, len(p.leases))
	for _, l := range p.leases {
		leases = append(leases, l)
	}
	p.leaseMu.Unlock()

	var displayed, dropped uint64
	for _, l := range leases {
		if l.offer(f) {
			displayed++
		} else {
			dropped++
		}
	}
	p.stats.Write(func(s *CaptureStats) {
		s.Displayed += displayed
		s.Dropped += dropped
	})
}

// settleStart fails a waiting start call, if any.
func (p *Pipeline) settleStart(ok bool) {
	if p.pendingStart != nil {
		p.pendingStart <- ok
		p.pendingStart = nil
	}
}

func (p *Pipeline) emit(e Event) {
	select {
	case p.events <- e:
	default:
		slog.Debug("pipeline event dropped, channel full", "kind", e.Kind.String())
	}
}

func (p *Pipeline) currentFPS() int {
	return int(p.fps.Load())
}

// requestPeriod is the capture request cadence for fps, floored so a high
// rate cannot melt the command channel.
func requestPeriod(fps int) time.Duration {
	period := time.Second / time.Duration(clampFPS(fps))
	if period < MinRequestPeriod {
		period = MinRequestPeriod
	}
	return period
}

func clampFPS(fps int) int {
	if fps < capture.MinFPS {
		return capture.MinFPS
	}
	if fps > capture.MaxFPS {
		return capture.MaxFPS
	}
	return fps
}

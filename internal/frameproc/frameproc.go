// Package frameproc turns raw captures into display-ready frames. Intake is
// a single slot: a frame submitted while another is still waiting replaces
// it, so the processor always works on the freshest capture and never makes
// the producer wait.
package frameproc

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/wintrack/wintrack/internal/capture"
)

// Frame is one processed capture ready for consumers.
type Frame struct {
	Image       image.Image
	Seq         uint64
	CapturedAt  time.Time
	ProcessedAt time.Time
}

// Stats is a snapshot of the processor's counters. Superseded counts intake
// replacements, which the producer already observes; Stale counts processed
// frames replaced on the output channel before any consumer read them.
type Stats struct {
	Processed        uint64
	Skipped          uint64
	Superseded       uint64
	Stale            uint64
	AvgProcessMillis float64
}

// Manager is the default frame processor: it drops near-duplicate frames by
// perceptual hash and downscales anything wider than maxWidth.
type Manager struct {
	maxWidth     int
	hashDistance int

	mu      sync.Mutex
	cond    *sync.Cond
	pending *capture.RawFrame
	closed  bool

	processed   uint64
	skipped     uint64
	superseded  uint64
	stale       uint64
	processTime time.Duration
	lastHash    *goimagehash.ImageHash

	ready chan *Frame
	done  chan struct{}
}

// New builds a manager and starts its processing goroutine. A negative
// hashDistance disables duplicate detection; a non-positive maxWidth
// disables downscaling.
func New(maxWidth, hashDistance int) *Manager {
	m := newManager(maxWidth, hashDistance)
	go m.run()
	return m
}

func newManager(maxWidth, hashDistance int) *Manager {
	m := &Manager{
		maxWidth:     maxWidth,
		hashDistance: hashDistance,
		ready:        make(chan *Frame, 1),
		done:         make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SubmitRawFrame hands a capture to the processor without blocking. The
// return is false when an unconsumed frame was superseded, so callers can
// count the drop.
func (m *Manager) SubmitRawFrame(f *capture.RawFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return true
	}
	superseded := m.pending != nil
	if superseded {
		m.superseded++
	}
	m.pending = f
	m.cond.Signal()
	return !superseded
}

// Ready delivers processed frames. The channel closes when the manager does.
func (m *Manager) Ready() <-chan *Frame {
	return m.ready
}

// Stats snapshots the processing counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Processed:  m.processed,
		Skipped:    m.skipped,
		Superseded: m.superseded,
		Stale:      m.stale,
	}
	if m.processed > 0 {
		s.AvgProcessMillis = float64(m.processTime.Milliseconds()) / float64(m.processed)
	}
	return s
}

// Close stops the processor. Pending work is abandoned; the ready channel
// closes once the goroutine exits.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.pending = nil
	m.cond.Broadcast()
	m.mu.Unlock()
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	defer close(m.ready)
	for {
		m.mu.Lock()
		for m.pending == nil && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		raw := m.pending
		m.pending = nil
		m.mu.Unlock()

		if out := m.process(raw); out != nil {
			m.publish(out)
		}
	}
}

// process runs dedup and downscale on one capture. A nil return means the
// frame was skipped as a near duplicate.
func (m *Manager) process(raw *capture.RawFrame) *Frame {
	started := time.Now()

	if m.hashDistance >= 0 {
		if skip := m.duplicate(raw.Image); skip {
			m.mu.Lock()
			m.skipped++
			m.mu.Unlock()
			return nil
		}
	}

	var img image.Image = raw.Image
	if m.maxWidth > 0 && img.Bounds().Dx() > m.maxWidth {
		img = resize.Resize(uint(m.maxWidth), 0, img, resize.Bilinear)
	}

	elapsed := time.Since(started)
	m.mu.Lock()
	m.processed++
	m.processTime += elapsed
	m.mu.Unlock()

	return &Frame{
		Image:       img,
		Seq:         raw.Seq,
		CapturedAt:  raw.CapturedAt,
		ProcessedAt: time.Now(),
	}
}

// duplicate reports whether img hashes within the configured distance of the
// previous published frame. Hash failures pass the frame through.
func (m *Manager) duplicate(img image.Image) bool {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		slog.Debug("frame hash failed", "error", err)
		return false
	}

	m.mu.Lock()
	last := m.lastHash
	m.mu.Unlock()

	if last != nil {
		if dist, err := h.Distance(last); err == nil && dist <= m.hashDistance {
			return true
		}
	}

	m.mu.Lock()
	m.lastHash = h
	m.mu.Unlock()
	return false
}

// publish places the frame in the ready channel, replacing a stale one that
// no consumer picked up.
func (m *Manager) publish(f *Frame) {
	select {
	case m.ready <- f:
		return
	default:
	}
	select {
	case <-m.ready:
		m.mu.Lock()
		m.stale++
		m.mu.Unlock()
	default:
	}
	select {
	case m.ready <- f:
	default:
	}
}

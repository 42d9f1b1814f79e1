package capture

import (
	"sync/atomic"
	"time"

	"github.com/vova616/screenshot"

	apperrors "github.com/wintrack/wintrack/internal/errors"
	"github.com/wintrack/wintrack/internal/platform"
)

// ScreenshotBackend captures frames by grabbing screen regions. Window
// sessions re-resolve the window rectangle on every capture so a moving
// window stays tracked.
type ScreenshotBackend struct {
	dir platform.Directory
}

// NewScreenshotBackend creates a backend over the given window directory.
func NewScreenshotBackend(dir platform.Directory) *ScreenshotBackend {
	return &ScreenshotBackend{dir: dir}
}

// OpenWindow opens a session on one window. A probe capture runs inside the
// timeout; a window that cannot produce a frame fails the open.
func (b *ScreenshotBackend) OpenWindow(h platform.Handle, timeout time.Duration) (Session, error) {
	s := &windowSession{dir: b.dir, handle: h}
	return probeOpen(s, timeout)
}

// OpenMonitor opens a session on the primary screen. The monitor index is
// kept for stats; region selection per monitor is handled by the platform
// screenshot library.
func (b *ScreenshotBackend) OpenMonitor(index int, timeout time.Duration) (Session, error) {
	s := &monitorSession{index: index}
	return probeOpen(s, timeout)
}

// probeOpen validates a session by capturing one frame within the timeout.
func probeOpen(s Session, timeout time.Duration) (Session, error) {
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	probeCh := make(chan error, 1)
	go func() {
		_, err := s.Capture()
		probeCh <- err
	}()

	select {
	case err := <-probeCh:
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeSessionOpen, "probe capture failed")
		}
		return s, nil
	case <-time.After(timeout):
		return nil, apperrors.Newf(apperrors.CodeSessionOpen, "session open timed out after %v", timeout)
	}
}

type windowSession struct {
	dir    platform.Directory
	handle platform.Handle
	seq    atomic.Uint64
	closed atomic.Bool
}

func (s *windowSession) Capture() (*RawFrame, error) {
	if s.closed.Load() {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "session closed")
	}
	if !s.dir.IsValid(s.handle) {
		return nil, apperrors.Newf(apperrors.CodeCaptureFailed, "window %#x no longer valid", uintptr(s.handle))
	}
	rect, err := s.dir.Rect(s.handle)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "resolve window rect")
	}
	if rect.Empty() {
		return nil, nil
	}
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "capture window region")
	}
	return &RawFrame{Image: img, Seq: s.seq.Add(1), CapturedAt: time.Now()}, nil
}

func (s *windowSession) Close() error {
	s.closed.Store(true)
	return nil
}

type monitorSession struct {
	index  int
	seq    atomic.Uint64
	closed atomic.Bool
}

func (s *monitorSession) Capture() (*RawFrame, error) {
	if s.closed.Load() {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "session closed")
	}
	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "capture screen")
	}
	return &RawFrame{Image: img, Seq: s.seq.Add(1), CapturedAt: time.Now()}, nil
}

func (s *monitorSession) Close() error {
	s.closed.Store(true)
	return nil
}

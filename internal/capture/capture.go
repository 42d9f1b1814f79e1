// Package capture opens frame capture sessions against a window or monitor
// and runs them on a dedicated worker goroutine.
package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/wintrack/wintrack/internal/platform"
)

// RawFrame is one captured frame as produced by a backend.
type RawFrame struct {
	Image      *image.RGBA
	Seq        uint64
	CapturedAt time.Time
}

// Target names what a session captures: a window, a monitor, or a pattern
// resolved at session open.
type Target struct {
	kind    targetKind
	window  platform.Handle
	monitor int
	pattern string
}

type targetKind uint8

const (
	targetWindow targetKind = iota
	targetMonitor
	targetPattern
)

// WindowTarget captures one specific window.
func WindowTarget(h platform.Handle) Target {
	return Target{kind: targetWindow, window: h}
}

// MonitorTarget captures a whole monitor.
func MonitorTarget(index int) Target {
	return Target{kind: targetMonitor, monitor: index}
}

// PatternTarget captures the window matching a search pattern; the worker
// resolves it through its injected resolver when the session opens.
func PatternTarget(pattern string) Target {
	return Target{kind: targetPattern, pattern: pattern}
}

func (t Target) String() string {
	switch t.kind {
	case targetMonitor:
		return fmt.Sprintf("monitor:%d", t.monitor)
	case targetPattern:
		return t.pattern
	default:
		return fmt.Sprintf("window:%#x", uintptr(t.window))
	}
}

// Session is one open capture stream. Capture may return (nil, nil) when no
// frame is currently available.
type Session interface {
	Capture() (*RawFrame, error)
	Close() error
}

// Backend opens capture sessions. Open calls are bounded by timeout and
// return a session failure instead of hanging.
type Backend interface {
	OpenWindow(h platform.Handle, timeout time.Duration) (Session, error)
	OpenMonitor(index int, timeout time.Duration) (Session, error)
}

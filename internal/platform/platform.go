// Package platform enumerates top-level windows and resolves their owning
// processes. One implementation exists per display system; NewDirectory
// returns the one for the current platform.
package platform

import (
	"image"
)

// Handle is an opaque platform identifier for one window instance.
type Handle uintptr

// WindowInfo is one entry of a window enumeration.
type WindowInfo struct {
	Handle Handle
	Title  string
}

// ProcessInfo identifies the process owning a window.
type ProcessInfo struct {
	Name string
	Path string
}

// Directory provides read access to the platform's visible top-level windows.
//
// Implementations must be safe for concurrent use; callers treat every error
// as "window not found" rather than a fault.
type Directory interface {
	// Enumerate returns the visible top-level windows in platform order.
	Enumerate() ([]WindowInfo, error)
	// IsValid reports whether the handle still names a live, visible window.
	IsValid(h Handle) bool
	// ResolveProcess returns the executable name and path owning the window.
	ResolveProcess(h Handle) (ProcessInfo, error)
	// Title returns the window's current title.
	Title(h Handle) (string, error)
	// ClassName returns the window's class name.
	ClassName(h Handle) (string, error)
	// Rect returns the window's bounding rectangle in screen coordinates.
	Rect(h Handle) (image.Rectangle, error)
	// Close releases any display connection held by the directory.
	Close() error
}

// NewDirectory returns the directory for the current platform. The returned
// directory may be unavailable (every call failing with
// CodeDirectoryUnavailable); consumers degrade to "not found" in that case.
func NewDirectory() Directory {
	return newPlatformDirectory()
}

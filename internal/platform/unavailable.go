package platform

import (
	"image"

	apperrors "github.com/wintrack/wintrack/internal/errors"
)

// unavailableDirectory is returned when no display system can be reached.
// Every call fails with CodeDirectoryUnavailable so searches degrade to
// "not found" instead of crashing.
type unavailableDirectory struct {
	reason string
}

func (u unavailableDirectory) err() error {
	return apperrors.New(apperrors.CodeDirectoryUnavailable, u.reason)
}

func (u unavailableDirectory) Enumerate() ([]WindowInfo, error) { return nil, u.err() }

func (u unavailableDirectory) IsValid(Handle) bool { return false }

func (u unavailableDirectory) ResolveProcess(Handle) (ProcessInfo, error) {
	return ProcessInfo{}, u.err()
}

func (u unavailableDirectory) Title(Handle) (string, error) { return "", u.err() }

func (u unavailableDirectory) ClassName(Handle) (string, error) { return "", u.err() }

func (u unavailableDirectory) Rect(Handle) (image.Rectangle, error) {
	return image.Rectangle{}, u.err()
}

func (u unavailableDirectory) Close() error { return nil }

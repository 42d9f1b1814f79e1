package platform

import (
	"testing"

	apperrors "github.com/wintrack/wintrack/internal/errors"
)

func TestUnavailableDirectoryDegrades(t *testing.T) {
	d := unavailableDirectory{reason: "no display"}

	if _, err := d.Enumerate(); !apperrors.IsCode(err, apperrors.CodeDirectoryUnavailable) {
		t.Errorf("Enumerate error = %v, want directory_unavailable", err)
	}
	if d.IsValid(Handle(42)) {
		t.Error("IsValid should be false when no display is reachable")
	}
	if _, err := d.ResolveProcess(Handle(42)); err == nil {
		t.Error("ResolveProcess should fail")
	}
	if _, err := d.Title(Handle(42)); err == nil {
		t.Error("Title should fail")
	}
	if _, err := d.ClassName(Handle(42)); err == nil {
		t.Error("ClassName should fail")
	}
	if _, err := d.Rect(Handle(42)); err == nil {
		t.Error("Rect should fail")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

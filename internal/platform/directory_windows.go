//go:build windows

package platform

import (
	"image"
	"path/filepath"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows          = user32.NewProc("EnumWindows")
	procIsWindow             = user32.NewProc("IsWindow")
	procIsWindowVisible      = user32.NewProc("IsWindowVisible")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetClassNameW        = user32.NewProc("GetClassNameW")
	procGetWindowRect        = user32.NewProc("GetWindowRect")
	procGetWindowThreadPID   = user32.NewProc("GetWindowThreadProcessId")
)

type winRect struct {
	Left, Top, Right, Bottom int32
}

// win32Directory implements Directory on top of user32 window enumeration.
type win32Directory struct{}

func newPlatformDirectory() Directory {
	return &win32Directory{}
}

func (d *win32Directory) Enumerate() ([]WindowInfo, error) {
	var windowsOut []WindowInfo

	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(hwnd)
		if visible == 0 {
			return 1 // continue
		}
		title := windowText(hwnd)
		if title == "" {
			return 1
		}
		windowsOut = append(windowsOut, WindowInfo{Handle: Handle(hwnd), Title: title})
		return 1
	})

	ret, _, callErr := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, errors.Wrap(callErr, "EnumWindows")
	}
	return windowsOut, nil
}

func (d *win32Directory) IsValid(h Handle) bool {
	live, _, _ := procIsWindow.Call(uintptr(h))
	if live == 0 {
		return false
	}
	visible, _, _ := procIsWindowVisible.Call(uintptr(h))
	return visible != 0
}

func (d *win32Directory) ResolveProcess(h Handle) (ProcessInfo, error) {
	var pid uint32
	procGetWindowThreadPID.Call(uintptr(h), uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return ProcessInfo{}, errors.Errorf("no process for window %#x", uintptr(h))
	}

	hProc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ProcessInfo{}, errors.Wrapf(err, "open process %d", pid)
	}
	defer windows.CloseHandle(hProc)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(hProc, 0, &buf[0], &size); err != nil {
		return ProcessInfo{}, errors.Wrapf(err, "query image name for pid %d", pid)
	}

	path := windows.UTF16ToString(buf[:size])
	return ProcessInfo{Name: filepath.Base(path), Path: path}, nil
}

func (d *win32Directory) Title(h Handle) (string, error) {
	title := windowText(uintptr(h))
	if title == "" {
		return "", errors.Errorf("window %#x has no title", uintptr(h))
	}
	return title, nil
}

func (d *win32Directory) ClassName(h Handle) (string, error) {
	buf := make([]uint16, 256)
	n, _, callErr := procGetClassNameW.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return "", errors.Wrap(callErr, "GetClassNameW")
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func (d *win32Directory) Rect(h Handle) (image.Rectangle, error) {
	var r winRect
	ret, _, callErr := procGetWindowRect.Call(uintptr(h), uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return image.Rectangle{}, errors.Wrap(callErr, "GetWindowRect")
	}
	return image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom)), nil
}

func (d *win32Directory) Close() error { return nil }

func windowText(hwnd uintptr) string {
	length, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), length+1)
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

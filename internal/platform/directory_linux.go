//go:build linux

package platform

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"
)

// x11Directory implements Directory over an X connection using EWMH
// properties. If the connection cannot be established the unavailable
// directory is returned instead.
type x11Directory struct {
	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

var x11Atoms = []string{
	"_NET_CLIENT_LIST",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

func newPlatformDirectory() Directory {
	conn, err := xgb.NewConn()
	if err != nil {
		return unavailableDirectory{reason: err.Error()}
	}

	setup := xproto.Setup(conn)
	d := &x11Directory{
		conn:  conn,
		root:  setup.DefaultScreen(conn).Root,
		atoms: make(map[string]xproto.Atom),
	}

	for _, name := range x11Atoms {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return unavailableDirectory{reason: err.Error()}
		}
		d.atoms[name] = reply.Atom
	}
	return d
}

func (d *x11Directory) getProperty(w xproto.Window, atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(d.conn, false, w, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (d *x11Directory) windowTitle(w xproto.Window) string {
	data, err := d.getProperty(w, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	data, err = d.getProperty(w, d.atoms["WM_NAME"], xproto.AtomString, 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return ""
}

func (d *x11Directory) windowPID(w xproto.Window) uint32 {
	data, err := d.getProperty(w, d.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

func (d *x11Directory) Enumerate() ([]WindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := d.getProperty(d.root, d.atoms["_NET_CLIENT_LIST"], xproto.AtomWindow, 1024)
	if err != nil {
		return nil, errors.Wrap(err, "read _NET_CLIENT_LIST")
	}

	var windows []WindowInfo
	for i := 0; i+4 <= len(data); i += 4 {
		w := xproto.Window(binary.LittleEndian.Uint32(data[i:]))
		if !d.viewable(w) {
			continue
		}
		title := d.windowTitle(w)
		if title == "" {
			continue
		}
		windows = append(windows, WindowInfo{Handle: Handle(w), Title: title})
	}
	return windows, nil
}

func (d *x11Directory) viewable(w xproto.Window) bool {
	attr, err := xproto.GetWindowAttributes(d.conn, w).Reply()
	return err == nil && attr.MapState == xproto.MapStateViewable
}

func (d *x11Directory) IsValid(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewable(xproto.Window(h))
}

func (d *x11Directory) ResolveProcess(h Handle) (ProcessInfo, error) {
	d.mu.Lock()
	pid := d.windowPID(xproto.Window(h))
	d.mu.Unlock()
	if pid == 0 {
		return ProcessInfo{}, errors.Errorf("no _NET_WM_PID on window %#x", uintptr(h))
	}

	// /proc/<pid>/exe may be unreadable for sandboxed apps; fall back to comm.
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err == nil {
		return ProcessInfo{Name: filepath.Base(path), Path: path}, nil
	}

	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ProcessInfo{}, errors.Wrapf(err, "resolve pid %d", pid)
	}
	return ProcessInfo{Name: strings.TrimSpace(string(comm))}, nil
}

func (d *x11Directory) Title(h Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	title := d.windowTitle(xproto.Window(h))
	if title == "" {
		return "", errors.Errorf("window %#x has no title", uintptr(h))
	}
	return title, nil
}

func (d *x11Directory) ClassName(h Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := d.getProperty(xproto.Window(h), d.atoms["WM_CLASS"], xproto.AtomString, 256)
	if err != nil || len(data) == 0 {
		return "", errors.Wrap(err, "read WM_CLASS")
	}
	// WM_CLASS stores instance\0class\0; the class segment is the stable name.
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 2 {
		return parts[1], nil
	}
	return parts[0], nil
}

func (d *x11Directory) Rect(h Handle) (image.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := xproto.Window(h)
	geom, err := xproto.GetGeometry(d.conn, xproto.Drawable(w)).Reply()
	if err != nil {
		return image.Rectangle{}, errors.Wrap(err, "GetGeometry")
	}
	trans, err := xproto.TranslateCoordinates(d.conn, w, d.root, 0, 0).Reply()
	if err != nil {
		return image.Rectangle{}, errors.Wrap(err, "TranslateCoordinates")
	}
	x, y := int(trans.DstX), int(trans.DstY)
	return image.Rect(x, y, x+int(geom.Width), y+int(geom.Height)), nil
}

func (d *x11Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}

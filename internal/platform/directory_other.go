//go:build !windows && !linux

package platform

import "runtime"

func newPlatformDirectory() Directory {
	return unavailableDirectory{reason: "window enumeration not supported on " + runtime.GOOS}
}

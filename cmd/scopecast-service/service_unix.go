//go:build !windows

package main

import "fmt"

// isWindowsService always returns false on non-Windows platforms.
func isWindowsService() bool { return false }

// runAsService is a no-op stub on non-Windows platforms, where run always
// executes in the foreground (under systemd, launchd, or a terminal).
func runAsService(_ func() (*daemon, error)) error {
	return fmt.Errorf("scopecast-service: Windows service mode is not available on this platform")
}

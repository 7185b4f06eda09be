//go:build linux

package peerauth

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// GetPeerInfo resolves PID and UID via SO_PEERCRED and the executable path
// via /proc/<pid>/exe.
func GetPeerInfo(conn net.Conn) (*PeerInfo, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, ErrUnsupportedConn
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("peerauth: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("peerauth: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("peerauth: getsockopt SO_PEERCRED: %w", credErr)
	}

	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", cred.Pid))
	if err != nil {
		return nil, fmt.Errorf("peerauth: readlink /proc/%d/exe: %w", cred.Pid, err)
	}

	return &PeerInfo{
		PID:        int(cred.Pid),
		UID:        cred.Uid,
		Executable: exe,
	}, nil
}

// runtimeDir resolves XDG_RUNTIME_DIR with the Linux-specific
// /run/user/<uid> fallback.
func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return fmt.Sprintf("/run/user/%d", os.Getuid())
}

// DefaultControlSocketPath returns the default control endpoint socket path.
func DefaultControlSocketPath() string {
	return runtimeDir() + "/scopecast/service.sock"
}

// DefaultSelectionSocketPath returns the default selection endpoint socket
// path. Unlike the control endpoint, its fallback is /tmp rather than
// /run/user/<uid>, matching where the portal expects to find it.
func DefaultSelectionSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return dir + "/scopecast/picker.sock"
}

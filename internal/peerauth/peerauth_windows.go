//go:build windows

package peerauth

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procGetNamedPipeClientProcessId = modkernel32.NewProc("GetNamedPipeClientProcessId")
)

type fdConn interface {
	Fd() uintptr
}

// GetPeerInfo resolves the client PID via GetNamedPipeClientProcessId, then
// opens the process token to read its executable path and SID. conn must be
// a named pipe connection whose underlying handle is reachable via Fd().
func GetPeerInfo(conn net.Conn) (*PeerInfo, error) {
	hc, ok := conn.(fdConn)
	if !ok {
		return nil, ErrUnsupportedConn
	}
	handle := hc.Fd()

	var clientPID uint32
	r1, _, err := procGetNamedPipeClientProcessId.Call(handle, uintptr(unsafe.Pointer(&clientPID)))
	if r1 == 0 {
		return nil, fmt.Errorf("peerauth: GetNamedPipeClientProcessId: %w", err)
	}

	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, clientPID)
	if err != nil {
		return nil, fmt.Errorf("peerauth: OpenProcess(%d): %w", clientPID, err)
	}
	defer windows.CloseHandle(proc)

	var pathBuf [windows.MAX_PATH]uint16
	pathLen := uint32(len(pathBuf))
	if err := windows.QueryFullProcessImageName(proc, 0, &pathBuf[0], &pathLen); err != nil {
		return nil, fmt.Errorf("peerauth: QueryFullProcessImageName: %w", err)
	}
	binaryPath := syscall.UTF16ToString(pathBuf[:pathLen])

	var token windows.Token
	if err := windows.OpenProcessToken(proc, windows.TOKEN_QUERY, &token); err != nil {
		return nil, fmt.Errorf("peerauth: OpenProcessToken: %w", err)
	}
	defer token.Close()

	tokenUser, err := token.GetTokenUser()
	if err != nil {
		return nil, fmt.Errorf("peerauth: GetTokenUser: %w", err)
	}

	return &PeerInfo{
		PID:        int(clientPID),
		Executable: binaryPath,
		SID:        tokenUser.User.Sid.String(),
	}, nil
}

// DefaultControlSocketPath returns the default named pipe path for the
// control endpoint.
func DefaultControlSocketPath() string {
	return `\\.\pipe\scopecast-service`
}

// DefaultSelectionSocketPath returns the default named pipe path for the
// selection endpoint. The service listens on it and the picker dials it on
// Windows as on every other OS; only the approval-token side channel is
// inert on Windows.
func DefaultSelectionSocketPath() string {
	return `\\.\pipe\scopecast-picker`
}

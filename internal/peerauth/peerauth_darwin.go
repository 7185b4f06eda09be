//go:build darwin && cgo

package peerauth

/*
#include <libproc.h>
*/
import "C"

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GetPeerInfo resolves PID via LOCAL_PEERPID, UID via LOCAL_PEERCRED, and the
// executable path via proc_pidpath.
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

	buf := make([]byte, C.PROC_PIDPATHINFO_MAXSIZE)
	ret := C.proc_pidpath(C.int(pid), unsafe.Pointer(&buf[0]), C.uint32_t(len(buf)))
	if ret <= 0 {
		return nil, fmt.Errorf("peerauth: proc_pidpath failed for pid %d", pid)
	}

	return &PeerInfo{
		PID:        pid,
		UID:        uid,
		Executable: string(buf[:ret]),
	}, nil
}

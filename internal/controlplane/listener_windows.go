//go:build windows

package controlplane

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// currentUserSDDL grants full control to the owner/creator and the local
// system account only, matching "ACL = current user only". OWNER
// RIGHTS (OW) picks up whichever account creates the pipe, so this SDDL is
// correct regardless of which user account the service runs under.
const currentUserSDDL = "D:P(A;;GA;;;OW)(A;;GA;;;SY)"

// listen creates a named pipe at path with an ACL restricted to the
// current user and the local system account. Windows named
// pipes have no directory-mode or chmod equivalent, so there is nothing
// else to verify after creation.
func listen(path string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: currentUserSDDL,
		MessageMode:        false,
		InputBufferSize:    framingBufferSize,
		OutputBufferSize:   framingBufferSize,
	}
	ln, err := winio.ListenPipe(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("controlplane: listen pipe %s: %w", path, err)
	}
	return ln, nil
}

func removeSocketFile(string) {
	// Named pipes have no filesystem entry to remove.
}

const framingBufferSize = 65536

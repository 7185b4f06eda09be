//go:build windows

package controlplane

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// Dial connects to a control or selection named pipe at path.
func Dial(path string) (net.Conn, error) {
	timeout := 5 * time.Second
	return winio.DialPipe(path, &timeout)
}

package controlplane

import "net"

// ListenSocket binds a length-prefixed-JSON-capable endpoint at path,
// applying the platform-appropriate permissions (Unix socket file mode on
// POSIX, pipe ACL on Windows). Exported so cmd/scopecast-service can reuse
// it for the selection endpoint, which needs the identical access
// restriction even though its own wire format is newline-delimited JSON.
func ListenSocket(path string) (net.Listener, error) {
	return listen(path)
}

// RemoveSocketFile removes the filesystem artifact left by ListenSocket,
// a no-op on platforms (Windows) where the endpoint has none.
func RemoveSocketFile(path string) {
	removeSocketFile(path)
}

//go:build !windows

package controlplane

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// listen binds a Unix domain socket at path: stale socket removed
// first, parent directory created (or chmod'd, if it already exists) to
// 0700, socket file chmod'd to 0600
// immediately after bind, and both permissions verified afterward;
// startup fails loudly if either does not come out exactly as intended.
func listen(path string) (net.Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("controlplane: create socket dir %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("controlplane: chmod socket dir %s: %w", dir, err)
	}
	if err := verifyMode(dir, 0700); err != nil {
		return nil, err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("controlplane: remove stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("controlplane: listen unix %s: %w", path, err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("controlplane: chmod socket %s: %w", path, err)
	}
	if err := verifyMode(path, 0600); err != nil {
		ln.Close()
		return nil, err
	}

	return ln, nil
}

func verifyMode(path string, want os.FileMode) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("controlplane: stat %s: %w", path, err)
	}
	if fi.Mode().Perm() != want {
		return fmt.Errorf("controlplane: %s has mode %o, want %o", path, fi.Mode().Perm(), want)
	}
	return nil
}

func removeSocketFile(path string) {
	_ = os.Remove(path)
}

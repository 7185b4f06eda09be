// Package peerauth verifies the identity of the process on the other end of
// a control or selection endpoint connection before any request is read
// from it. Every platform resolves a PID, a UID where one exists, and an
// absolute executable path; the caller then checks that path against the
// configured trust policy.
package peerauth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PeerInfo is the kernel-verified identity of the socket peer.
type PeerInfo struct {
	PID        int
	UID        uint32
	Executable string
	SID        string // populated on Windows only; empty elsewhere
}

var (
	ErrUnsupportedConn    = errors.New("peerauth: connection type does not support peer credential lookup")
	ErrUntrustedBinary    = errors.New("peerauth: peer executable is not in the trusted set")
	ErrUntrustedDir       = errors.New("peerauth: peer executable is outside every trusted directory")
	ErrUIDMismatch        = errors.New("peerauth: peer uid does not match the service uid")
	ErrBinaryHashMismatch = errors.New("peerauth: peer executable content hash does not match the pinned hash")
)

// Policy is the trust rule set a resolved PeerInfo is checked against.
// A peer is accepted when its executable's filename stem is in TrustedNames
// AND its containing directory is one of TrustedDirs, the directory of the
// running service binary itself, or a recognizable development build-output
// directory. An empty TrustedNames list rejects every peer (fails closed).
type Policy struct {
	// TrustedNames lists the executable filename stems allowed to connect
	// (the client, service, and picker binaries). Compared exactly on
	// POSIX; case-insensitively and with an optional ".exe" suffix on
	// Windows.
	TrustedNames []string
	// TrustedDirs lists the directories peers may run from, typically the
	// per-OS installation prefixes plus any configured extras.
	TrustedDirs []string
	// RequireUIDMatch requires the peer's UID to equal the service's own
	// UID. Set on Linux; macOS relies on per-user socket directories and
	// Windows on the pipe ACL plus SID logging.
	RequireUIDMatch bool
	// PinnedHashes maps a trusted name to the expected sha256 hex digest
	// of its file contents, for deployments that want to detect a trusted
	// path being replaced by a different binary.
	PinnedHashes map[string]string
}

// Verify resolves the peer's identity from conn and checks it against
// policy. A non-nil error means the connection must be closed without
// reading any request from it.
func Verify(conn net.Conn, policy Policy) (*PeerInfo, error) {
	info, err := GetPeerInfo(conn)
	if err != nil {
		return nil, err
	}

	if policy.RequireUIDMatch {
		selfUID := uint32(os.Getuid())
		if info.UID != selfUID {
			return nil, fmt.Errorf("%w: peer uid %d, service uid %d", ErrUIDMismatch, info.UID, selfUID)
		}
	}

	if err := policy.CheckExecutable(info.Executable); err != nil {
		return nil, err
	}

	return info, nil
}

// CheckExecutable applies the trust rules to an absolute executable path:
// the filename stem must be a trusted name, and the containing directory
// must be a trusted directory, the running binary's own directory, or a
// development build-output directory.
func (p Policy) CheckExecutable(path string) error {
	exe := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		exe = resolved
	}
	exe = filepath.Clean(exe)

	name, ok := p.matchTrustedName(filepath.Base(exe))
	if !ok {
		return ErrUntrustedBinary
	}

	dir := filepath.Dir(exe)
	if !p.dirTrusted(dir) {
		return fmt.Errorf("%w: %s", ErrUntrustedDir, dir)
	}

	return p.checkPinnedHash(name, exe)
}

// matchTrustedName returns the canonical trusted name the filename matched,
// tolerating a ".exe" suffix and ignoring case on Windows.
func (p Policy) matchTrustedName(filename string) (string, bool) {
	for _, trusted := range p.TrustedNames {
		if runtime.GOOS == "windows" {
			if strings.EqualFold(filename, trusted) || strings.EqualFold(filename, trusted+".exe") {
				return trusted, true
			}
		} else if filename == trusted {
			return trusted, true
		}
	}
	return "", false
}

func (p Policy) dirTrusted(dir string) bool {
	for _, trusted := range p.TrustedDirs {
		if sameDir(dir, trusted) {
			return true
		}
	}

	if self, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(self); err == nil {
			self = resolved
		}
		if sameDir(dir, filepath.Dir(self)) {
			return true
		}
	}

	return isDevBuildDir(dir)
}

func sameDir(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// isDevBuildDir recognizes uninstalled development binaries by their build
// output path: a "target" path element alongside a "debug" or "release"
// one. Anything less explicit is rejected.
func isDevBuildDir(dir string) bool {
	elems := strings.Split(filepath.ToSlash(dir), "/")
	hasTarget := false
	hasProfile := false
	for _, e := range elems {
		switch e {
		case "target":
			hasTarget = true
		case "debug", "release":
			hasProfile = true
		}
	}
	return hasTarget && hasProfile
}

func (p Policy) checkPinnedHash(name, exe string) error {
	expected, ok := p.PinnedHashes[name]
	if !ok {
		return nil
	}
	actual, err := hashFile(exe)
	if err != nil {
		return fmt.Errorf("peerauth: hash peer executable: %w", err)
	}
	if actual != expected {
		return ErrBinaryHashMismatch
	}
	return nil
}

// PolicyFromConfig combines the configured trusted executable stems with
// the built-in per-OS installation prefixes and any extra configured
// directories. UID matching is enabled on Linux, where SO_PEERCRED makes
// the peer's UID available without a separate handshake.
func PolicyFromConfig(trustedNames, extraDirs []string) (Policy, error) {
	if len(trustedNames) == 0 {
		return Policy{}, errors.New("peerauth: trusted executable list is empty")
	}

	dirs := append(installPrefixes(), extraDirs...)

	return Policy{
		TrustedNames:    trustedNames,
		TrustedDirs:     dirs,
		RequireUIDMatch: runtime.GOOS == "linux",
	}, nil
}

func installPrefixes() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Scopecast`,
			`C:\Program Files (x86)\Scopecast`,
		}
	case "darwin":
		return []string{
			"/Applications/Scopecast.app/Contents/MacOS",
			"/usr/local/bin",
			"/opt/homebrew/bin",
		}
	default:
		return []string{"/usr/bin", "/usr/local/bin", "/opt/scopecast/bin"}
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

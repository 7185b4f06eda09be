package peerauth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func testPolicy(dirs ...string) Policy {
	return Policy{
		TrustedNames: []string{"scopecast", "scopecast-service", "scopecast-picker"},
		TrustedDirs:  dirs,
	}
}

func TestCheckExecutableTrusted(t *testing.T) {
	p := testPolicy("/usr/bin", "/opt/scopecast/bin")

	if err := p.CheckExecutable("/usr/bin/scopecast"); err != nil {
		t.Errorf("trusted name in trusted dir rejected: %v", err)
	}
	if err := p.CheckExecutable("/opt/scopecast/bin/scopecast-picker"); err != nil {
		t.Errorf("picker in trusted dir rejected: %v", err)
	}
}

func TestCheckExecutableUntrustedName(t *testing.T) {
	p := testPolicy("/usr/bin")

	err := p.CheckExecutable("/usr/bin/evil")
	if !errors.Is(err, ErrUntrustedBinary) {
		t.Errorf("expected ErrUntrustedBinary, got %v", err)
	}
}

func TestCheckExecutableUntrustedDir(t *testing.T) {
	p := testPolicy("/usr/bin")

	err := p.CheckExecutable("/home/mallory/scopecast")
	if !errors.Is(err, ErrUntrustedDir) {
		t.Errorf("expected ErrUntrustedDir, got %v", err)
	}
}

func TestCheckExecutableDevBuildDir(t *testing.T) {
	p := testPolicy() // no trusted dirs at all

	if err := p.CheckExecutable("/home/dev/scopecast/target/debug/scopecast-service"); err != nil {
		t.Errorf("debug build dir rejected: %v", err)
	}
	if err := p.CheckExecutable("/home/dev/scopecast/target/release/scopecast"); err != nil {
		t.Errorf("release build dir rejected: %v", err)
	}

	// "target" without a profile element is not a build dir.
	err := p.CheckExecutable("/home/dev/target/scopecast")
	if !errors.Is(err, ErrUntrustedDir) {
		t.Errorf("bare target dir accepted: %v", err)
	}
}

func TestCheckExecutableSameDirAsSelf(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Skipf("cannot resolve own executable: %v", err)
	}
	p := testPolicy()

	exe := filepath.Join(filepath.Dir(self), "scopecast")
	if err := p.CheckExecutable(exe); err != nil {
		t.Errorf("peer alongside own binary rejected: %v", err)
	}
}

func TestCheckExecutablePinnedHash(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "scopecast")
	content := []byte("#!/bin/true\n")
	if err := os.WriteFile(exe, content, 0755); err != nil {
		t.Fatal(err)
	}

	good := fmt.Sprintf("%x", sha256.Sum256(content))

	p := testPolicy(dir)
	p.PinnedHashes = map[string]string{"scopecast": good}
	if err := p.CheckExecutable(exe); err != nil {
		t.Errorf("matching pinned hash rejected: %v", err)
	}

	p.PinnedHashes["scopecast"] = "deadbeef"
	err := p.CheckExecutable(exe)
	if !errors.Is(err, ErrBinaryHashMismatch) {
		t.Errorf("expected ErrBinaryHashMismatch, got %v", err)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	if _, err := PolicyFromConfig(nil, nil); err == nil {
		t.Error("empty trusted name list accepted")
	}

	p, err := PolicyFromConfig([]string{"scopecast"}, []string{"/custom/dir"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.RequireUIDMatch, runtime.GOOS == "linux"; got != want {
		t.Errorf("RequireUIDMatch = %v, want %v on %s", got, want, runtime.GOOS)
	}

	found := false
	for _, d := range p.TrustedDirs {
		if d == "/custom/dir" {
			found = true
		}
	}
	if !found {
		t.Error("extra configured directory missing from policy")
	}
}

func TestIsDevBuildDir(t *testing.T) {
	cases := []struct {
		dir  string
		want bool
	}{
		{"/home/dev/proj/target/debug", true},
		{"/home/dev/proj/target/release", true},
		{"/home/dev/proj/target/debug/deps", true},
		{"/home/dev/proj/target", false},
		{"/home/dev/debug", false},
		{"/usr/bin", false},
	}
	for _, c := range cases {
		if got := isDevBuildDir(c.dir); got != c.want {
			t.Errorf("isDevBuildDir(%q) = %v, want %v", c.dir, got, c.want)
		}
	}
}

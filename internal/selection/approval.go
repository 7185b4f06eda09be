package selection

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/scopecast/service/internal/secmem"
)

// tokenLength is 64 lowercase hex characters (32 random bytes).
const tokenLength = 64

// ApprovalStore persists the picker-consent bypass token at
// ${XDG_STATE_HOME or $HOME/.local/state}/<appname>/approval-token, mode
// 0600, POSIX only. On Windows it is present-but-inert: Store always
// fails and Validate always reports invalid, matching "POSIX only" without
// needing a second code path in the dispatcher.
type ApprovalStore struct {
	mu   sync.Mutex
	path string
}

func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{path: tokenPath()}
}

func tokenPath() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(os.Getenv("HOME"), ".local", "state")
	}
	return filepath.Join(stateHome, "scopecast", "approval-token")
}

// HasToken reports whether an approval token file currently exists,
// without reading its contents, used for selection.has_approval_token.
func (a *ApprovalStore) HasToken() bool {
	if a.path == "" {
		return false
	}
	_, err := os.Stat(a.path)
	return err == nil
}

// Store writes a freshly-generated 32-byte random token, hex-encoded, at
// mode 0600. Returns the stored token's hex form; the value itself never
// crosses the control endpoint.
func (a *ApprovalStore) Store() (string, error) {
	if a.path == "" {
		return "", fmt.Errorf("selection: approval tokens are POSIX only")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	raw := make([]byte, tokenLength/2)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("selection: generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(a.path), 0700); err != nil {
		return "", fmt.Errorf("selection: create state dir: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(token), 0600); err != nil {
		return "", fmt.Errorf("selection: write token file: %w", err)
	}
	if err := os.Chmod(a.path, 0600); err != nil {
		return "", fmt.Errorf("selection: chmod token file: %w", err)
	}
	return token, nil
}

// StoreValue persists a caller-supplied token verbatim (the store_token
// request carries the token the client already generated, rather than
// asking the service to mint one).
func (a *ApprovalStore) StoreValue(token string) error {
	if a.path == "" {
		return fmt.Errorf("selection: approval tokens are POSIX only")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0700); err != nil {
		return fmt.Errorf("selection: create state dir: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("selection: write token file: %w", err)
	}
	return os.Chmod(a.path, 0600)
}

// Validate compares candidate against the stored token in constant time
// (see secmem.Secret.ConstantTimeEquals: length mismatch is the one
// permitted timing leak). The loaded token is wiped before returning.
func (a *ApprovalStore) Validate(candidate string) bool {
	if a.path == "" {
		return false
	}

	a.mu.Lock()
	raw, err := os.ReadFile(a.path)
	a.mu.Unlock()
	if err != nil {
		return false
	}

	stored := secmem.FromBytes(raw)
	defer stored.Wipe()

	return stored.ConstantTimeEquals(candidate)
}

package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scopecast/service/internal/protocol"
)

// RecordingManager owns the single recording state machine
// (idle -> recording -> saving -> idle) and the one active
// CaptureBackend, guarded by one exclusive-writer lock.
type RecordingManager struct {
	mu      sync.Mutex
	state   protocol.RecordingState
	backend CaptureBackend
	started time.Time
	frozen  time.Duration // elapsed time latched when entering "saving"

	onStateChange func(protocol.RecordingState)
}

func newRecordingManager(onStateChange func(protocol.RecordingState)) *RecordingManager {
	return &RecordingManager{
		state:         protocol.StateIdle,
		onStateChange: onStateChange,
	}
}

func (m *RecordingManager) State() protocol.RecordingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start transitions idle -> recording. Only valid from idle; the backend is
// started synchronously before the state flips, so a backend error leaves
// the state machine untouched.
func (m *RecordingManager) Start(ctx context.Context, backend CaptureBackend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != protocol.StateIdle {
		return fmt.Errorf("controlplane: cannot start recording from state %q", m.state)
	}

	if err := backend.Start(ctx); err != nil {
		return fmt.Errorf("controlplane: start capture: %w", err)
	}

	m.backend = backend
	m.started = time.Now()
	m.setStateLocked(protocol.StateRecording)
	return nil
}

// Stop transitions recording -> saving, awaits finalization, then saving ->
// idle. file_path/source_path come from the backend's Stop.
func (m *RecordingManager) Stop(ctx context.Context) (filePath, sourcePath string, err error) {
	m.mu.Lock()
	if m.state != protocol.StateRecording {
		m.mu.Unlock()
		return "", "", fmt.Errorf("controlplane: cannot stop recording from state %q", m.state)
	}
	m.frozen = time.Since(m.started)
	backend := m.backend
	m.setStateLocked(protocol.StateSaving)
	m.mu.Unlock()

	filePath, sourcePath, err = backend.Stop(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend = nil
	if err != nil {
		// Fatal capture failure: * -> idle.
		m.setStateLocked(protocol.StateIdle)
		return "", "", err
	}
	m.setStateLocked(protocol.StateIdle)
	return filePath, sourcePath, nil
}

// FailToIdle forces idle on a fatal, out-of-band capture failure (backend
// crash detected outside of a Stop call). Safe to call from any state.
func (m *RecordingManager) FailToIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend = nil
	m.setStateLocked(protocol.StateIdle)
}

// ElapsedTime returns zero when idle, the running duration while recording,
// and the frozen duration while saving.
func (m *RecordingManager) ElapsedTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case protocol.StateRecording:
		return time.Since(m.started)
	case protocol.StateSaving:
		return m.frozen
	default:
		return 0
	}
}

func (m *RecordingManager) setStateLocked(s protocol.RecordingState) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onStateChange != nil {
		// Called synchronously (under m.mu) so that state_changed events
		// reach the broadcaster in the same order transitions happen in;
		// the broadcaster takes its own lock and never calls back here.
		m.onStateChange(s)
	}
}

package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scopecast/service/internal/protocol"
)

type gateBackend struct {
	startErr error
	stopErr  error
	gate     chan struct{}
}

func (b *gateBackend) Start(context.Context) error { return b.startErr }

func (b *gateBackend) Stop(context.Context) (string, string, error) {
	if b.gate != nil {
		<-b.gate
	}
	if b.stopErr != nil {
		return "", "", b.stopErr
	}
	return "/tmp/rec.mp4", "/tmp/rec.mkv", nil
}

func TestRecordingManagerTransitions(t *testing.T) {
	var states []protocol.RecordingState
	m := newRecordingManager(func(s protocol.RecordingState) { states = append(states, s) })

	if m.State() != protocol.StateIdle {
		t.Fatalf("initial state = %q", m.State())
	}

	if err := m.Start(context.Background(), &gateBackend{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != protocol.StateRecording {
		t.Fatalf("state after start = %q", m.State())
	}

	filePath, sourcePath, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if filePath != "/tmp/rec.mp4" || sourcePath != "/tmp/rec.mkv" {
		t.Fatalf("paths = %q/%q", filePath, sourcePath)
	}
	if m.State() != protocol.StateIdle {
		t.Fatalf("state after stop = %q", m.State())
	}

	want := []protocol.RecordingState{protocol.StateRecording, protocol.StateSaving, protocol.StateIdle}
	if len(states) != len(want) {
		t.Fatalf("state changes = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state change %d = %q, want %q", i, states[i], want[i])
		}
	}
}

func TestRecordingManagerStartOnlyFromIdle(t *testing.T) {
	m := newRecordingManager(nil)
	if err := m.Start(context.Background(), &gateBackend{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background(), &gateBackend{}); err == nil {
		t.Fatal("second start succeeded while recording")
	}
}

func TestRecordingManagerStartFailureStaysIdle(t *testing.T) {
	m := newRecordingManager(nil)
	err := m.Start(context.Background(), &gateBackend{startErr: errors.New("boom")})
	if err == nil {
		t.Fatal("start with failing backend succeeded")
	}
	if m.State() != protocol.StateIdle {
		t.Fatalf("state = %q, want idle", m.State())
	}
}

func TestRecordingManagerStopOnlyWhileRecording(t *testing.T) {
	m := newRecordingManager(nil)
	if _, _, err := m.Stop(context.Background()); err == nil {
		t.Fatal("stop from idle succeeded")
	}
}

func TestRecordingManagerStopFailureEndsIdle(t *testing.T) {
	m := newRecordingManager(nil)
	m.Start(context.Background(), &gateBackend{stopErr: errors.New("finalize failed")})
	if _, _, err := m.Stop(context.Background()); err == nil {
		t.Fatal("stop with failing backend succeeded")
	}
	if m.State() != protocol.StateIdle {
		t.Fatalf("state = %q, want idle after failed finalize", m.State())
	}
}

func TestElapsedTimeFrozenWhileSaving(t *testing.T) {
	gate := make(chan struct{})
	backend := &gateBackend{gate: gate}
	m := newRecordingManager(nil)
	m.Start(context.Background(), backend)

	time.Sleep(20 * time.Millisecond)
	if m.ElapsedTime() <= 0 {
		t.Fatal("elapsed not advancing while recording")
	}

	stopDone := make(chan struct{})
	go func() {
		m.Stop(context.Background())
		close(stopDone)
	}()

	// Wait for saving.
	deadline := time.Now().Add(time.Second)
	for m.State() != protocol.StateSaving {
		if time.Now().After(deadline) {
			t.Fatal("never entered saving")
		}
		time.Sleep(time.Millisecond)
	}

	frozen := m.ElapsedTime()
	time.Sleep(20 * time.Millisecond)
	if got := m.ElapsedTime(); got != frozen {
		t.Fatalf("elapsed advanced during saving: %v -> %v", frozen, got)
	}

	close(gate)
	<-stopDone
	if m.ElapsedTime() != 0 {
		t.Fatal("elapsed not zero after returning to idle")
	}
}

func TestFailToIdleFromAnyState(t *testing.T) {
	m := newRecordingManager(nil)
	m.Start(context.Background(), &gateBackend{})
	m.FailToIdle()
	if m.State() != protocol.StateIdle {
		t.Fatalf("state = %q, want idle", m.State())
	}
}

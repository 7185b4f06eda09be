//go:build !windows

package controlplane

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scopecast/service/internal/config"
	"github.com/scopecast/service/internal/framing"
	"github.com/scopecast/service/internal/peerauth"
	"github.com/scopecast/service/internal/protocol"
)

// fakeBackend records Start/Stop calls and lets tests control what Stop
// returns.
type fakeBackend struct {
	startErr error
	filePath string
	srcPath  string
	stopGate chan struct{} // when non-nil, Stop blocks until closed
}

func (b *fakeBackend) Start(context.Context) error { return b.startErr }

func (b *fakeBackend) Stop(context.Context) (string, string, error) {
	if b.stopGate != nil {
		<-b.stopGate
	}
	return b.filePath, b.srcPath, nil
}

// selfPolicy trusts the test binary itself, so connections made by the
// test process pass peer verification like a real client would.
func selfPolicy(t *testing.T) peerauth.Policy {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	return peerauth.Policy{
		TrustedNames:    []string{filepath.Base(self)},
		TrustedDirs:     []string{filepath.Dir(self)},
		RequireUIDMatch: true,
	}
}

type testHarness struct {
	svc     *Service
	path    string
	display *fakeBackend
}

func startTestEndpoint(t *testing.T) *testHarness {
	t.Helper()

	display := &fakeBackend{filePath: "/tmp/out.mp4", srcPath: "/tmp/out.mp4"}
	cfg := config.Default()
	svc := New(cfg, Backends{DisplayCapture: display})

	path := filepath.Join(t.TempDir(), "svc.sock")
	ep := NewControlEndpoint(svc, selfPolicy(t), path)

	done := make(chan error, 1)
	go func() { done <- ep.Serve() }()

	// Wait for the socket to exist before letting the test dial it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		if !svc.ShuttingDown() {
			svc.RequestShutdown(context.Background())
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("accept loop did not exit after shutdown")
		}
	})

	return &testHarness{svc: svc, path: path, display: display}
}

func (h *testHarness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", h.path)
	if err != nil {
		t.Fatalf("dial control socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req protocol.Request) protocol.Response {
	t.Helper()
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode %T: %v", req, err)
	}
	if err := framing.WriteFrame(conn, data); err != nil {
		t.Fatalf("write %T: %v", req, err)
	}
	respData, err := framing.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read response to %T: %v", req, err)
	}
	resp, err := protocol.DecodeResponse(respData)
	if err != nil {
		t.Fatalf("decode response to %T: %v", req, err)
	}
	return resp
}

func TestPingRoundTrip(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.PingRequest{})
	if _, ok := resp.(protocol.PongResponse); !ok {
		t.Fatalf("response = %T, want PongResponse", resp)
	}
}

func TestOversizedFrameClosesConnectionWithoutReply(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	// Declare a 65537-byte payload; send none of it.
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], framing.MaxMessageSize+1)
	if _, err := conn.Write(prefix[:]); err != nil {
		t.Fatalf("write length prefix: %v", err)
	}

	// The server must close without writing anything.
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 {
		t.Fatalf("server wrote %d bytes after oversized prefix", n)
	}
	if err == nil {
		t.Fatal("connection still open after oversized prefix")
	}
}

func TestStartStopCycle(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.StartDisplayCaptureRequest{MonitorID: "DP-1", Width: 1920, Height: 1080})
	if _, ok := resp.(protocol.RecordingStartedResponse); !ok {
		t.Fatalf("start response = %#v, want RecordingStartedResponse", resp)
	}

	resp = roundTrip(t, conn, protocol.GetRecordingStateRequest{})
	if st := resp.(protocol.RecordingStateResponse).State; st != protocol.StateRecording {
		t.Fatalf("state = %q, want recording", st)
	}

	resp = roundTrip(t, conn, protocol.StopRecordingRequest{})
	stopped, ok := resp.(protocol.RecordingStoppedResponse)
	if !ok {
		t.Fatalf("stop response = %#v, want RecordingStoppedResponse", resp)
	}
	if stopped.FilePath != "/tmp/out.mp4" || stopped.SourcePath != "/tmp/out.mp4" {
		t.Fatalf("stop paths = %q/%q", stopped.FilePath, stopped.SourcePath)
	}

	resp = roundTrip(t, conn, protocol.GetRecordingStateRequest{})
	if st := resp.(protocol.RecordingStateResponse).State; st != protocol.StateIdle {
		t.Fatalf("state after stop = %q, want idle", st)
	}
}

func TestStartRejectedWhileRecording(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	roundTrip(t, conn, protocol.StartDisplayCaptureRequest{MonitorID: "DP-1", Width: 1920, Height: 1080})

	resp := roundTrip(t, conn, protocol.StartDisplayCaptureRequest{MonitorID: "DP-1", Width: 1920, Height: 1080})
	if _, ok := resp.(protocol.ErrorResponse); !ok {
		t.Fatalf("second start response = %#v, want ErrorResponse", resp)
	}

	resp = roundTrip(t, conn, protocol.GetRecordingStateRequest{})
	if st := resp.(protocol.RecordingStateResponse).State; st != protocol.StateRecording {
		t.Fatalf("state = %q, want recording after rejected restart", st)
	}
}

func TestBackendStartFailureLeavesStateIdle(t *testing.T) {
	h := startTestEndpoint(t)
	h.display.startErr = errors.New("no such display")
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.StartDisplayCaptureRequest{MonitorID: "DP-1", Width: 1920, Height: 1080})
	if _, ok := resp.(protocol.ErrorResponse); !ok {
		t.Fatalf("start response = %#v, want ErrorResponse", resp)
	}

	resp = roundTrip(t, conn, protocol.GetRecordingStateRequest{})
	if st := resp.(protocol.RecordingStateResponse).State; st != protocol.StateIdle {
		t.Fatalf("state = %q, want idle after failed start", st)
	}
}

func TestValidationFailureKeepsConnectionOpen(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.StartDisplayCaptureRequest{MonitorID: "bad id", Width: 1920, Height: 1080})
	errResp, ok := resp.(protocol.ErrorResponse)
	if !ok {
		t.Fatalf("response = %#v, want ErrorResponse", resp)
	}
	if errResp.Code != protocol.ErrInvalidMonitorID {
		t.Fatalf("error code = %q, want invalid_monitor_id", errResp.Code)
	}

	// Same connection must still answer.
	resp = roundTrip(t, conn, protocol.PingRequest{})
	if _, ok := resp.(protocol.PongResponse); !ok {
		t.Fatalf("ping after validation failure = %T, want PongResponse", resp)
	}
}

func TestUnknownRequestTypeKeepsConnectionOpen(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	if err := framing.WriteFrame(conn, []byte(`{"type":"fire_missiles"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	respData, err := framing.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	resp, err := protocol.DecodeResponse(respData)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp.(protocol.ErrorResponse); !ok {
		t.Fatalf("response = %T, want ErrorResponse", resp)
	}

	if got := roundTrip(t, conn, protocol.PingRequest{}); got.ResponseType() != protocol.RespPong {
		t.Fatalf("ping after unknown type = %q, want pong", got.ResponseType())
	}
}

func readEvent(t *testing.T, conn net.Conn) protocol.Event {
	t.Helper()
	frame, err := framing.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read event frame: %v", err)
	}
	event, err := protocol.DecodeEventResponse(frame)
	if err != nil {
		t.Fatalf("decode event frame: %v", err)
	}
	return event
}

func TestSubscriberSeesStateChangesAndShutdown(t *testing.T) {
	h := startTestEndpoint(t)

	subConn := h.dial(t)
	resp := roundTrip(t, subConn, protocol.SubscribeEventsRequest{})
	if _, ok := resp.(protocol.SubscribedResponse); !ok {
		t.Fatalf("subscribe response = %T, want SubscribedResponse", resp)
	}

	ctrlConn := h.dial(t)
	roundTrip(t, ctrlConn, protocol.StartDisplayCaptureRequest{MonitorID: "DP-1", Width: 1920, Height: 1080})

	event := readEvent(t, subConn)
	sc, ok := event.(protocol.StateChangedEvent)
	if !ok || sc.State != protocol.StateRecording {
		t.Fatalf("first event = %#v, want state_changed recording", event)
	}

	h.svc.RequestShutdown(context.Background())

	// The recording is stopped during shutdown (saving -> idle), then the
	// terminal shutdown event arrives, then end-of-stream.
	sawShutdown := false
	for !sawShutdown {
		subConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		frame, err := framing.ReadFrame(subConn)
		if err != nil {
			t.Fatalf("stream ended before shutdown event: %v", err)
		}
		event, err := protocol.DecodeEventResponse(frame)
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if _, ok := event.(protocol.ShutdownEvent); ok {
			sawShutdown = true
		}
	}

	subConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := framing.ReadFrame(subConn); !errors.Is(err, framing.ErrConnectionClosed) {
		t.Fatalf("after shutdown event: err = %v, want connection closed", err)
	}
}

func TestSocketFileRemovedAfterShutdown(t *testing.T) {
	h := startTestEndpoint(t)

	h.svc.RequestShutdown(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(h.path); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket file %s still exists after shutdown", h.path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownRequestAnswersOKFirst(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.ShutdownRequest{})
	if _, ok := resp.(protocol.OKResponse); !ok {
		t.Fatalf("shutdown response = %T, want OKResponse", resp)
	}
	if !h.svc.ShuttingDown() {
		t.Fatal("shutdown flag not raised after ok response")
	}
}

func TestElapsedTimeZeroWhenIdle(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.GetElapsedTimeRequest{})
	if secs := resp.(protocol.ElapsedTimeResponse).Seconds; secs != 0 {
		t.Fatalf("elapsed while idle = %v, want 0", secs)
	}
}

func TestTranscriptionSegmentsPastEndYieldsEmptyPlusTotal(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.GetTranscriptionSegmentsRequest{SinceIndex: 9999})
	segs := resp.(protocol.TranscriptionSegmentsResponse)
	if len(segs.Segments) != 0 || segs.TotalCount != 0 {
		t.Fatalf("segments = %d/%d, want 0/0", len(segs.Segments), segs.TotalCount)
	}
}

func TestStartCapturePublishesSelection(t *testing.T) {
	h := startTestEndpoint(t)
	conn := h.dial(t)

	resp := roundTrip(t, conn, protocol.QuerySelectionRequest{})
	if _, ok := resp.(protocol.NoSelectionResponse); !ok {
		t.Fatalf("initial selection = %T, want NoSelectionResponse", resp)
	}

	roundTrip(t, conn, protocol.StartDisplayCaptureRequest{MonitorID: "DP-1", Width: 1920, Height: 1080})

	resp = roundTrip(t, conn, protocol.QuerySelectionRequest{})
	sel, ok := resp.(protocol.SelectionResponse)
	if !ok {
		t.Fatalf("selection after start = %T, want SelectionResponse", resp)
	}
	if sel.SourceType != "monitor" || sel.SourceID != "DP-1" {
		t.Fatalf("selection = %#v", sel)
	}

	// The picker endpoint reads the same cell.
	if got, ok := h.svc.SelectionCell().Get(); !ok || got.SourceID != "DP-1" {
		t.Fatalf("cell = %#v, %v", got, ok)
	}
}

func TestUntrustedPeerIsDroppedSilently(t *testing.T) {
	display := &fakeBackend{}
	cfg := config.Default()
	svc := New(cfg, Backends{DisplayCapture: display})

	// A policy that trusts nobody: every connection must be dropped before
	// any response is written.
	policy := peerauth.Policy{TrustedNames: []string{"nonexistent-binary"}}

	path := filepath.Join(t.TempDir(), "svc.sock")
	ep := NewControlEndpoint(svc, policy, path)
	done := make(chan error, 1)
	go func() { done <- ep.Serve() }()
	defer func() {
		svc.RequestShutdown(context.Background())
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, _ := protocol.EncodeRequest(protocol.PingRequest{})
	if err := framing.WriteFrame(conn, data); err == nil {
		// The write may succeed into the socket buffer; the read must not.
		if _, err := framing.ReadFrame(conn); err == nil {
			t.Fatal("untrusted peer received a response")
		}
	}
}

func TestSocketFileModeIs0600(t *testing.T) {
	h := startTestEndpoint(t)

	fi, err := os.Stat(h.path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0600 {
		t.Fatalf("socket mode = %o, want 0600", perm)
	}

	dir := filepath.Dir(h.path)
	fi, err = os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0700 {
		t.Fatalf("socket dir mode = %o, want 0700", perm)
	}
}

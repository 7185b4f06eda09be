package previewsrv

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scopecast/service/internal/controlplane"
)

func TestNewRejectsNonLoopback(t *testing.T) {
	if _, err := New("0.0.0.0:7823", nil); err == nil {
		t.Error("wildcard bind accepted")
	}
	if _, err := New("192.168.1.5:7823", nil); err == nil {
		t.Error("LAN bind accepted")
	}
	if _, err := New("127.0.0.1:7823", nil); err != nil {
		t.Errorf("loopback bind rejected: %v", err)
	}
}

func TestEventsRelayedToWebSocketClient(t *testing.T) {
	frames := make(chan controlplane.FrameWriter, 1)
	subscribe := func(id string, w controlplane.FrameWriter) func() {
		frames <- w
		return func() {}
	}

	srv, err := New("127.0.0.1:0", subscribe)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(http.HandlerFunc(srv.handleEvents))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var sink controlplane.FrameWriter
	select {
	case sink = <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe was never called")
	}

	payload := []byte(`{"type":"event","event":{"event":"state_changed","state":"recording"}}`)
	if err := sink.WriteFrame(payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("relayed frame = %s, want %s", got, payload)
	}
}

// Package previewsrv is a development-only WebSocket bridge: it relays the
// service's event stream to browser-based GUI shells that cannot open the
// control socket directly. It binds to loopback only and is disabled
// unless a listen address is configured; production clients always use the
// control socket.
package previewsrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scopecast/service/internal/controlplane"
	"github.com/scopecast/service/internal/logging"
)

var log = logging.L("previewsrv")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Subscribe registers an event sink and returns its unsubscribe function;
// controlplane.Service.SubscribeEventFrames is the production value.
type Subscribe func(id string, w controlplane.FrameWriter) (unsubscribe func())

// Server relays broadcast event frames to WebSocket clients on a loopback
// listener.
type Server struct {
	addr      string
	subscribe Subscribe
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
}

func New(addr string, subscribe Subscribe) (*Server, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("previewsrv: invalid listen address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("previewsrv: refusing non-loopback listen address %q", addr)
	}

	s := &Server{
		addr:      addr,
		subscribe: subscribe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: maxMessageSize,
			// Loopback bind plus same-machine origins only; a hostile page
			// can still hit loopback, so reject anything cross-origin.
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				ip := net.ParseIP(u.Hostname())
				return u.Hostname() == "localhost" || (ip != nil && ip.IsLoopback())
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s, nil
}

// Serve blocks until the listener is closed via Shutdown.
func (s *Server) Serve() error {
	log.Info("preview bridge listening", "addr", s.addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := "preview-" + uuid.NewString()
	sink := &wsSink{conn: conn}
	unsubscribe := s.subscribe(id, sink)
	defer unsubscribe()

	log.Info("preview client connected", "id", id, "remote", r.RemoteAddr)

	// The relay is one-directional; reads only serve to notice the client
	// going away.
	conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Info("preview client disconnected", "id", id)
			return
		}
	}
}

// wsSink adapts a WebSocket connection to the broadcaster's frame-writer
// surface. The broadcaster serializes writes per subscriber, but the mutex
// also covers the close path racing a final write.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) WriteFrame(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

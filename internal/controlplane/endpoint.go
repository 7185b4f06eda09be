package controlplane

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/scopecast/service/internal/framing"
	"github.com/scopecast/service/internal/peerauth"
)

// shutdownPollInterval is the accept loop's tick against the process-wide
// shutdown flag.
const shutdownPollInterval = 100 * time.Millisecond

// ControlEndpoint owns the control socket's listener and accept loop.
type ControlEndpoint struct {
	svc    *Service
	policy peerauth.Policy
	path   string
}

func NewControlEndpoint(svc *Service, policy peerauth.Policy, path string) *ControlEndpoint {
	return &ControlEndpoint{svc: svc, policy: policy, path: path}
}

// Serve binds the control socket and runs the accept loop until the
// service's shutdown flag is raised, at which point it closes the
// listener, removes the socket file (POSIX), and returns.
func (e *ControlEndpoint) Serve() error {
	ln, err := listen(e.path)
	if err != nil {
		return err
	}

	stopWatcher := make(chan struct{})
	go func() {
		ticker := time.NewTicker(shutdownPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if e.svc.ShuttingDown() {
					ln.Close()
					return
				}
			case <-stopWatcher:
				return
			}
		}
	}()
	defer close(stopWatcher)
	defer removeSocketFile(e.path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if e.svc.ShuttingDown() {
				return nil
			}
			return err
		}
		go e.handleConnection(conn)
	}
}

// handleConnection runs peer verification once, then the per-connection
// request loop. On a framing error the connection is torn down; on a
// validation or handler error the loop continues.
func (e *ControlEndpoint) handleConnection(conn net.Conn) {
	defer conn.Close()

	info, err := peerauth.Verify(conn, e.policy)
	if err != nil {
		log.Warn("control peer rejected", "error", err)
		return
	}

	identity := peerIdentity(info)
	if !e.svc.rateLimiter.Allow(identity) {
		log.Warn("control connection rate limited", "identity", identity)
		return
	}

	connID := uuid.NewString()
	clog := log.With("connId", connID, "peerPid", info.PID)
	clog.Info("control connection accepted")

	h := &connHandler{
		conn:   conn,
		svc:    e.svc,
		connID: connID,
	}
	h.run()

	clog.Info("control connection closed")
}

func peerIdentity(info *peerauth.PeerInfo) string {
	if info.SID != "" {
		return info.SID
	}
	return strconv.FormatUint(uint64(info.UID), 10)
}

// frameConn adapts a net.Conn to the FrameWriter interface the broadcaster
// uses. Close lets the broadcaster's pump end the stream when the
// subscriber is dropped or the service shuts down.
type frameConn struct {
	conn net.Conn
}

func (f frameConn) WriteFrame(payload []byte) error {
	return framing.WriteFrame(f.conn, payload)
}

func (f frameConn) Close() error {
	return f.conn.Close()
}

package controlplane

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/scopecast/service/internal/framing"
	"github.com/scopecast/service/internal/protocol"
)

// connHandler runs the per-connection loop: read one framed request,
// validate it, dispatch it, write one framed response, until a successful
// subscribe_events switches it into write-only subscription mode.
type connHandler struct {
	conn   net.Conn
	svc    *Service
	connID string
}

func (h *connHandler) run() {
	for {
		// A connection that never sends another request (and never
		// subscribes) is reclaimed after the configured idle window;
		// subscribed connections switch to runSubscribed below and are
		// intentionally exempt, since sitting idle waiting for events is
		// their entire purpose.
		if timeout := h.svc.cfg.IdleSubscriberTimeoutS; timeout > 0 {
			h.conn.SetReadDeadline(time.Now().Add(time.Duration(timeout) * time.Second))
		}

		payload, err := framing.ReadFrame(h.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Info("control connection idle timeout", "connId", h.connID)
			} else if !errors.Is(err, framing.ErrConnectionClosed) {
				log.Warn("control read failed", "connId", h.connID, "error", err)
			}
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			h.sendError(err)
			continue
		}

		if err := req.Validate(); err != nil {
			h.sendError(err)
			continue
		}

		switch req.RequestType() {
		case protocol.TypeSubscribeEvents:
			if !h.writeResponse(protocol.SubscribedResponse{}) {
				return
			}
			h.conn.SetReadDeadline(time.Time{})
			h.runSubscribed()
			return
		case protocol.TypeShutdown:
			// The ok response must reach the client before the shutdown flag
			// is raised and recording is torn down.
			if !h.writeResponse(protocol.OKResponse{}) {
				return
			}
			h.svc.RequestShutdown(context.Background())
			continue
		}

		resp := h.dispatch(req)
		if !h.writeResponse(resp) {
			return
		}
	}
}

// runSubscribed hands the connection over to the broadcaster: from this
// point the service only ever writes to it, never reads requests off it
// again.
func (h *connHandler) runSubscribed() {
	sub := h.svc.broadcaster.Register(h.connID, frameConn{h.conn})
	defer h.svc.broadcaster.Unregister(sub)

	// Block until the peer closes the connection (or a framing-level read
	// error occurs) so the connection's goroutine, and its net.Conn, stay
	// alive for as long as the pump goroutine needs to write to it.
	buf := make([]byte, 1)
	for {
		if _, err := h.conn.Read(buf); err != nil {
			return
		}
	}
}

func (h *connHandler) sendError(err error) {
	h.writeResponse(protocol.NewErrorResponse(err))
}

// writeResponse encodes and frames resp, returning false if the write
// failed; callers must terminate the connection on a framing write error.
func (h *connHandler) writeResponse(resp protocol.Response) bool {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		log.Error("encode response", "connId", h.connID, "error", err)
		return false
	}
	if err := framing.WriteFrame(h.conn, data); err != nil {
		log.Warn("control write failed", "connId", h.connID, "error", err)
		return false
	}
	return true
}

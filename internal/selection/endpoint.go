package selection

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/scopecast/service/internal/logging"
	"github.com/scopecast/service/internal/peerauth"
)

var log = logging.L("selection")

// requestEnvelope is the only request shape the selection endpoint
// accepts: {"type":"query_selection"}.
type requestEnvelope struct {
	Type string `json:"type"`
}

const typeQuerySelection = "query_selection"

// Response is written back as the single exchange's reply line.
type Response struct {
	Type       string    `json:"type"`
	SourceType string    `json:"source_type,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	Geometry   *Geometry `json:"geometry,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Endpoint serves the selection socket: one accepted connection handles
// exactly one request/response exchange (ndjson, no length prefix) and
// closes.
type Endpoint struct {
	cell   *Cell
	policy peerauth.Policy
}

func NewEndpoint(cell *Cell, policy peerauth.Policy) *Endpoint {
	return &Endpoint{cell: cell, policy: policy}
}

// Serve accepts connections on ln until it is closed (typically by the
// caller closing ln when the process-wide shutdown flag is observed).
func (e *Endpoint) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go e.handle(conn)
	}
}

func (e *Endpoint) handle(conn net.Conn) {
	defer conn.Close()

	if _, err := peerauth.Verify(conn, e.policy); err != nil {
		log.Warn("selection peer rejected", "error", err)
		return
	}

	conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		log.Warn("selection read failed", "error", err)
		return
	}

	var req requestEnvelope
	resp := e.respond(line, &req)

	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("encode selection response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		log.Warn("selection write failed", "error", err)
	}
}

func (e *Endpoint) respond(line string, req *requestEnvelope) Response {
	if err := json.Unmarshal([]byte(line), req); err != nil {
		return Response{Type: "error", Message: "malformed request"}
	}
	if req.Type != typeQuerySelection {
		return Response{Type: "error", Message: fmt.Sprintf("unknown request type %q", req.Type)}
	}

	sel, ok := e.cell.Get()
	if !ok {
		return Response{Type: "no_selection"}
	}
	return Response{
		Type:       "selection",
		SourceType: sel.SourceType,
		SourceID:   sel.SourceID,
		Geometry:   sel.Geometry,
	}
}

// Command scopecast is the CLI client for the scopecast-service daemon. It
// speaks the control socket's length-prefixed JSON protocol directly: one
// subcommand per request variant, translating the response (or the
// connection failure) into the exit codes GUI shells and scripts key off.
package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scopecast/service/internal/config"
	"github.com/scopecast/service/internal/controlplane"
	"github.com/scopecast/service/internal/framing"
	"github.com/scopecast/service/internal/peerauth"
	"github.com/scopecast/service/internal/protocol"
)

// Exit codes consumers depend on; keep stable across releases.
const (
	ExitOK                = 0
	ExitGeneral           = 1
	ExitInvalidArgs       = 2
	ExitServiceConnection = 3
	ExitRecordingStart    = 4
	ExitRecordingCapture  = 5
	ExitTranscoding       = 6
	ExitPortalRequired    = 7
	ExitUserCancelled     = 8
)

var (
	version string = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "scopecast",
	Short:         "Scopecast control-plane client",
	Long:          `scopecast talks to the scopecast-service daemon over its local control socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is platform config dir/scopecast.yaml)")
	registerCommands(rootCmd)
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ce, ok := err.(*cliError); ok {
			return ce.code
		}
		return ExitGeneral
	}
	return ExitOK
}

// cliError pairs a message with the exit code it should produce, so command
// RunE functions can return a typed failure instead of calling os.Exit
// directly (keeping them testable and cobra's error printing in control).
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func failf(code int, format string, args ...any) error {
	return &cliError{code: code, err: fmt.Errorf(format, args...)}
}

// controlSocketPath resolves the control endpoint path the same way the
// daemon does: config override, else the platform default.
func controlSocketPath() (string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", failf(ExitGeneral, "load config: %w", err)
	}
	if cfg.ControlSocketPath != "" {
		return cfg.ControlSocketPath, nil
	}
	return peerauth.DefaultControlSocketPath(), nil
}

// roundTrip dials the control socket, sends req, and returns the decoded
// response. A dial failure maps to ExitServiceConnection since every other
// failure path assumes the daemon is reachable.
func roundTrip(req protocol.Request) (protocol.Response, error) {
	path, err := controlSocketPath()
	if err != nil {
		return nil, err
	}

	conn, err := controlplane.Dial(path)
	if err != nil {
		return nil, failf(ExitServiceConnection, "connect to %s: %w", path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reqData, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, failf(ExitGeneral, "encode request: %w", err)
	}
	if err := framing.WriteFrame(conn, reqData); err != nil {
		return nil, failf(ExitServiceConnection, "write request: %w", err)
	}

	respData, err := framing.ReadFrame(conn)
	if err != nil {
		return nil, failf(ExitServiceConnection, "read response: %w", err)
	}

	resp, err := protocol.DecodeResponse(respData)
	if err != nil {
		return nil, failf(ExitGeneral, "decode response: %w", err)
	}
	if errResp, ok := resp.(protocol.ErrorResponse); ok {
		return nil, failf(exitCodeForError(errResp), "%s", errResp.Message)
	}
	return resp, nil
}

// exitCodeForError maps a validation/handler failure to the closest exit
// code. Anything not covered by a specific code falls back to general.
func exitCodeForError(e protocol.ErrorResponse) int {
	switch e.Code {
	case protocol.ErrInvalidMonitorID, protocol.ErrInvalidSourceID, protocol.ErrInvalidWindowHandle,
		protocol.ErrDimensionOutOfRange, protocol.ErrCoordinateOutOfRange, protocol.ErrStringTooLong:
		return ExitInvalidArgs
	default:
		return ExitGeneral
	}
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

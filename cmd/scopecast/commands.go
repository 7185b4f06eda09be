package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/scopecast/service/internal/controlplane"
	"github.com/scopecast/service/internal/framing"
	"github.com/scopecast/service/internal/protocol"
)

func registerCommands(root *cobra.Command) {
	root.AddCommand(
		listWindowsCmd(),
		listMonitorsCmd(),
		listAudioSourcesCmd(),
		recordWindowCmd(),
		recordDisplayCmd(),
		recordRegionCmd(),
		recordPortalCmd(),
		stopCmd(),
		stateCmd(),
		elapsedCmd(),
		subscribeCmd(),
		getFormatCmd(),
		setFormatCmd(),
		getAudioCmd(),
		setAudioCmd(),
		thumbnailWindowCmd(),
		thumbnailDisplayCmd(),
		previewRegionCmd(),
		highlightDisplayCmd(),
		highlightWindowCmd(),
		clearHighlightCmd(),
		selectionCmd(),
		validateTokenCmd(),
		storeTokenCmd(),
		getTranscriptionCmd(),
		setTranscriptionCmd(),
		transcriptionStatusCmd(),
		transcriptionSegmentsCmd(),
		shutdownCmd(),
		pingCmd(),
		versionCmd(),
	)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scopecast v%s\n", version)
		},
	}
}

func listWindowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-windows",
		Short: "List capturable windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.ListWindowsRequest{})
			if err != nil {
				return err
			}
			for _, w := range resp.(protocol.WindowsResponse).Windows {
				fmt.Printf("%d\t%s\t%s\n", w.Handle, w.AppName, w.Title)
			}
			return nil
		},
	}
}

func listMonitorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-monitors",
		Short: "List capturable monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.ListMonitorsRequest{})
			if err != nil {
				return err
			}
			for _, m := range resp.(protocol.MonitorsResponse).Monitors {
				primary := ""
				if m.Primary {
					primary = "\t(primary)"
				}
				fmt.Printf("%s\t%s\t%dx%d%s\n", m.ID, m.Name, m.Width, m.Height, primary)
			}
			return nil
		},
	}
}

func listAudioSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-audio-sources",
		Short: "List capturable audio sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.ListAudioSourcesRequest{})
			if err != nil {
				return err
			}
			for _, s := range resp.(protocol.AudioSourcesResponse).Sources {
				fmt.Printf("%s\t%s\n", s.ID, s.Name)
			}
			return nil
		},
	}
}

func parseHandle(arg string) (int64, error) {
	handle, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, failf(ExitInvalidArgs, "invalid window handle %q", arg)
	}
	return handle, nil
}

// startFailure promotes an error from a record-* command to the
// recording-failed-to-start exit code, leaving failures from roundTrip that
// already carry a specific exit code (validation, service connection)
// untouched.
func startFailure(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cliError); ok && ce.code != ExitGeneral {
		return err
	}
	return &cliError{code: ExitRecordingStart, err: err}
}

func recordWindowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record-window <handle>",
		Short: "Start capturing a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			if _, err := roundTrip(protocol.StartWindowCaptureRequest{WindowHandle: handle}); err != nil {
				return startFailure(err)
			}
			fmt.Println("recording started")
			return nil
		},
	}
}

func recordDisplayCmd() *cobra.Command {
	var width, height uint32
	cmd := &cobra.Command{
		Use:   "record-display <monitor-id>",
		Short: "Start capturing a full display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.StartDisplayCaptureRequest{MonitorID: args[0], Width: width, Height: height}
			if _, err := roundTrip(req); err != nil {
				return startFailure(err)
			}
			fmt.Println("recording started")
			return nil
		},
	}
	cmd.Flags().Uint32Var(&width, "width", 1920, "capture width in pixels")
	cmd.Flags().Uint32Var(&height, "height", 1080, "capture height in pixels")
	return cmd
}

func recordRegionCmd() *cobra.Command {
	var x, y int32
	var width, height uint32
	cmd := &cobra.Command{
		Use:   "record-region <monitor-id>",
		Short: "Start capturing a region of a display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.StartRegionCaptureRequest{MonitorID: args[0], X: x, Y: y, Width: width, Height: height}
			if _, err := roundTrip(req); err != nil {
				return startFailure(err)
			}
			fmt.Println("recording started")
			return nil
		},
	}
	cmd.Flags().Int32Var(&x, "x", 0, "region left edge")
	cmd.Flags().Int32Var(&y, "y", 0, "region top edge")
	cmd.Flags().Uint32Var(&width, "width", 800, "region width")
	cmd.Flags().Uint32Var(&height, "height", 600, "region height")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}

func recordPortalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record-portal",
		Short: "Start capturing via the desktop portal's own picker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := roundTrip(protocol.StartPortalCaptureRequest{}); err != nil {
				if _, ok := err.(*cliError); !ok {
					return &cliError{code: ExitPortalRequired, err: err}
				}
				return err
			}
			fmt.Println("recording started")
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.StopRecordingRequest{})
			if err != nil {
				if _, ok := err.(*cliError); !ok {
					return &cliError{code: ExitRecordingCapture, err: err}
				}
				return err
			}
			stopped := resp.(protocol.RecordingStoppedResponse)
			fmt.Printf("saved %s\n", stopped.FilePath)
			if stopped.SourcePath != stopped.FilePath {
				fmt.Printf("source %s\n", stopped.SourcePath)
			}
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the current recording state",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetRecordingStateRequest{})
			if err != nil {
				return err
			}
			fmt.Println(string(resp.(protocol.RecordingStateResponse).State))
			return nil
		},
	}
}

func elapsedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "elapsed",
		Short: "Show the elapsed recording time in seconds",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetElapsedTimeRequest{})
			if err != nil {
				return err
			}
			fmt.Printf("%.1f\n", resp.(protocol.ElapsedTimeResponse).Seconds)
			return nil
		},
	}
}

// subscribeCmd keeps the connection open after the subscribed response and
// prints each event frame as it arrives, until the service closes the
// stream (its shutdown event is the last frame sent).
func subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Stream service events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := controlSocketPath()
			if err != nil {
				return err
			}
			conn, err := controlplane.Dial(path)
			if err != nil {
				return failf(ExitServiceConnection, "connect to %s: %w", path, err)
			}
			defer conn.Close()

			conn.SetDeadline(time.Now().Add(10 * time.Second))
			reqData, err := protocol.EncodeRequest(protocol.SubscribeEventsRequest{})
			if err != nil {
				return failf(ExitGeneral, "encode request: %w", err)
			}
			if err := framing.WriteFrame(conn, reqData); err != nil {
				return failf(ExitServiceConnection, "write request: %w", err)
			}
			ack, err := framing.ReadFrame(conn)
			if err != nil {
				return failf(ExitServiceConnection, "read response: %w", err)
			}
			resp, err := protocol.DecodeResponse(ack)
			if err != nil {
				return failf(ExitGeneral, "decode response: %w", err)
			}
			if _, ok := resp.(protocol.SubscribedResponse); !ok {
				return failf(ExitGeneral, "unexpected response %q", resp.ResponseType())
			}

			// Event frames arrive at the service's pace from here on.
			conn.SetDeadline(time.Time{})
			for {
				frame, err := framing.ReadFrame(conn)
				if err != nil {
					return nil
				}
				event, err := protocol.DecodeEventResponse(frame)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skipping undecodable event: %v\n", err)
					continue
				}
				printEvent(event)
				if _, ok := event.(protocol.ShutdownEvent); ok {
					return nil
				}
			}
		},
	}
}

func printEvent(event protocol.Event) {
	switch e := event.(type) {
	case protocol.StateChangedEvent:
		fmt.Printf("state_changed\t%s\n", e.State)
	case protocol.ElapsedTimeEvent:
		fmt.Printf("elapsed_time\t%.1f\n", e.Seconds)
	case protocol.TranscodingStartedEvent:
		fmt.Printf("transcoding_started\t%s\n", e.Format)
	case protocol.TranscodingCompleteEvent:
		fmt.Printf("transcoding_complete\tsuccess=%v\t%s\n", e.Success, e.Path)
	case protocol.TranscriptionSegmentEvent:
		fmt.Printf("transcription_segment\t%.2f\t%s\n", e.TimestampSecs, e.Text)
	case protocol.ShutdownEvent:
		fmt.Println("shutdown")
	default:
		fmt.Printf("%s\n", event.EventType())
	}
}

func getFormatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-format",
		Short: "Show the output container format",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetOutputFormatRequest{})
			if err != nil {
				return err
			}
			fmt.Println(resp.(protocol.OutputFormatResponse).Format)
			return nil
		},
	}
}

func setFormatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-format <format>",
		Short: "Set the output container format (e.g. mp4, mkv, webm)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := roundTrip(protocol.SetOutputFormatRequest{Format: args[0]}); err != nil {
				return err
			}
			return nil
		},
	}
}

func getAudioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-audio",
		Short: "Show the audio capture configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetAudioConfigRequest{})
			if err != nil {
				return err
			}
			cfg := resp.(protocol.AudioConfigResponse).AudioConfig
			fmt.Printf("enabled=%v source=%s microphone=%s echo_cancellation=%v\n",
				cfg.Enabled, cfg.SourceID, cfg.MicrophoneID, cfg.EchoCancellation)
			return nil
		},
	}
}

func setAudioCmd() *cobra.Command {
	var enabled, echoCancel bool
	var sourceID, micID string
	cmd := &cobra.Command{
		Use:   "set-audio",
		Short: "Set the audio capture configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.SetAudioConfigRequest{Enabled: enabled, EchoCancellation: echoCancel}
			if sourceID != "" {
				req.SourceID = &sourceID
			}
			if micID != "" {
				req.MicrophoneID = &micID
			}
			if _, err := roundTrip(req); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "capture audio")
	cmd.Flags().StringVar(&sourceID, "source", "", "system audio source id")
	cmd.Flags().StringVar(&micID, "microphone", "", "microphone device id")
	cmd.Flags().BoolVar(&echoCancel, "echo-cancellation", false, "enable echo cancellation")
	return cmd
}

// writeThumbnail saves JPEG bytes to outPath, or prints them base64-encoded
// when no path was given (the form a GUI shell consumes directly).
func writeThumbnail(resp protocol.ThumbnailResponse, outPath string) error {
	if outPath == "" {
		fmt.Println(encodeBase64(resp.Data))
		return nil
	}
	if err := os.WriteFile(outPath, resp.Data, 0644); err != nil {
		return failf(ExitGeneral, "write %s: %w", outPath, err)
	}
	fmt.Printf("wrote %s (%dx%d)\n", outPath, resp.Width, resp.Height)
	return nil
}

func thumbnailWindowCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "thumbnail-window <handle>",
		Short: "Fetch a JPEG thumbnail of a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			resp, err := roundTrip(protocol.GetWindowThumbnailRequest{WindowHandle: handle})
			if err != nil {
				return err
			}
			return writeThumbnail(resp.(protocol.ThumbnailResponse), out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write JPEG to file instead of printing base64")
	return cmd
}

func thumbnailDisplayCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "thumbnail-display <monitor-id>",
		Short: "Fetch a JPEG thumbnail of a display",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetDisplayThumbnailRequest{MonitorID: args[0]})
			if err != nil {
				return err
			}
			return writeThumbnail(resp.(protocol.ThumbnailResponse), out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write JPEG to file instead of printing base64")
	return cmd
}

func previewRegionCmd() *cobra.Command {
	var x, y int32
	var width, height uint32
	var out string
	cmd := &cobra.Command{
		Use:   "preview-region <monitor-id>",
		Short: "Fetch a JPEG preview of a display region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.GetRegionPreviewRequest{MonitorID: args[0], X: x, Y: y, Width: width, Height: height}
			resp, err := roundTrip(req)
			if err != nil {
				return err
			}
			return writeThumbnail(resp.(protocol.ThumbnailResponse), out)
		},
	}
	cmd.Flags().Int32Var(&x, "x", 0, "region left edge")
	cmd.Flags().Int32Var(&y, "y", 0, "region top edge")
	cmd.Flags().Uint32Var(&width, "width", 800, "region width")
	cmd.Flags().Uint32Var(&height, "height", 600, "region height")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write JPEG to file instead of printing base64")
	return cmd
}

func highlightDisplayCmd() *cobra.Command {
	var x, y, width, height int32
	cmd := &cobra.Command{
		Use:   "highlight-display",
		Short: "Show a highlight rectangle on screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.ShowDisplayHighlightRequest{X: x, Y: y, Width: width, Height: height}
			if _, err := roundTrip(req); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&x, "x", 0, "highlight left edge")
	cmd.Flags().Int32Var(&y, "y", 0, "highlight top edge")
	cmd.Flags().Int32Var(&width, "width", 800, "highlight width")
	cmd.Flags().Int32Var(&height, "height", 600, "highlight height")
	return cmd
}

func highlightWindowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "highlight-window <handle>",
		Short: "Highlight a window on screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[0])
			if err != nil {
				return err
			}
			if _, err := roundTrip(protocol.ShowWindowHighlightRequest{WindowHandle: handle}); err != nil {
				return err
			}
			return nil
		},
	}
}

func clearHighlightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-highlight",
		Short: "Clear any on-screen highlight",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := roundTrip(protocol.ClearHighlightRequest{})
			return err
		},
	}
}

func selectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selection",
		Short: "Show the current capture selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.QuerySelectionRequest{})
			if err != nil {
				return err
			}
			switch r := resp.(type) {
			case protocol.SelectionResponse:
				fmt.Printf("%s\t%s\ttoken=%v", r.SourceType, r.SourceID, r.HasApprovalToken)
				if r.Geometry != nil {
					fmt.Printf("\t%d,%d %dx%d", r.Geometry.X, r.Geometry.Y, r.Geometry.Width, r.Geometry.Height)
				}
				fmt.Println()
			case protocol.NoSelectionResponse:
				fmt.Println("no selection")
			}
			return nil
		},
	}
}

func validateTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-token <token>",
		Short: "Check an approval token against the stored one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.ValidateTokenRequest{Token: args[0]})
			if err != nil {
				return err
			}
			if _, ok := resp.(protocol.TokenValidResponse); ok {
				fmt.Println("valid")
				return nil
			}
			fmt.Println("invalid")
			return failf(ExitGeneral, "token rejected")
		},
	}
}

func storeTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store-token <token>",
		Short: "Persist an approval token for the picker consent flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := roundTrip(protocol.StoreTokenRequest{Token: args[0]}); err != nil {
				return err
			}
			fmt.Println("stored")
			return nil
		},
	}
}

func getTranscriptionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-transcription",
		Short: "Show the transcription configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetTranscriptionConfigRequest{})
			if err != nil {
				return err
			}
			cfg := resp.(protocol.TranscriptionConfigResponse).TranscriptionConfig
			fmt.Printf("enabled=%v model=%s\n", cfg.Enabled, cfg.ModelPath)
			return nil
		},
	}
}

func setTranscriptionCmd() *cobra.Command {
	var enabled bool
	var modelPath string
	cmd := &cobra.Command{
		Use:   "set-transcription",
		Short: "Set the transcription configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.SetTranscriptionConfigRequest{Enabled: enabled}
			if modelPath != "" {
				req.ModelPath = &modelPath
			}
			if _, err := roundTrip(req); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable transcription")
	cmd.Flags().StringVar(&modelPath, "model", "", "path to the whisper model file")
	return cmd
}

func transcriptionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcription-status",
		Short: "Show the transcription worker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetTranscriptionStatusRequest{})
			if err != nil {
				return err
			}
			st := resp.(protocol.TranscriptionStatusResponse).TranscriptionStatus
			fmt.Printf("running=%v segments=%d\n", st.Running, st.SegmentsProcessed)
			return nil
		},
	}
}

func transcriptionSegmentsCmd() *cobra.Command {
	var since uint32
	cmd := &cobra.Command{
		Use:   "transcription-segments",
		Short: "Fetch transcribed segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := roundTrip(protocol.GetTranscriptionSegmentsRequest{SinceIndex: since})
			if err != nil {
				return err
			}
			r := resp.(protocol.TranscriptionSegmentsResponse)
			for _, seg := range r.Segments {
				fmt.Printf("%d\t%.2f\t%s\n", seg.Index, seg.TimestampSecs, seg.Text)
			}
			fmt.Printf("total %d\n", r.TotalCount)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&since, "since", 0, "first segment index to fetch")
	return cmd
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the service to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := roundTrip(protocol.ShutdownRequest{}); err != nil {
				return err
			}
			fmt.Println("service shutting down")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the service is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := roundTrip(protocol.PingRequest{}); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

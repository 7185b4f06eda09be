package controlplane

import (
	"context"
	"fmt"
	"strconv"

	"github.com/scopecast/service/internal/protocol"
	"github.com/scopecast/service/internal/selection"
)

// dispatch routes a validated request to its handler and returns the
// response to frame back to the client. subscribe_events and shutdown are
// intercepted in run() before reaching here because both need to act
// *around* the normal request/response exchange.
func (h *connHandler) dispatch(req protocol.Request) protocol.Response {
	ctx := context.Background()
	svc := h.svc

	switch r := req.(type) {
	case protocol.ListWindowsRequest:
		windows, err := svc.backends.Windows.ListWindows(ctx)
		if err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.WindowsResponse{Windows: windows}

	case protocol.ListMonitorsRequest:
		monitors, err := svc.backends.Monitors.ListMonitors(ctx)
		if err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.MonitorsResponse{Monitors: monitors}

	case protocol.ListAudioSourcesRequest:
		sources, err := svc.backends.AudioSources.ListAudioSources(ctx)
		if err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.AudioSourcesResponse{Sources: sources}

	// The selection cell is published before the backend starts so the
	// portal's out-of-process picker can read the capture target while the
	// portal brokers consent. start_portal_capture clears it instead: that
	// path deliberately defers to the portal's own native picker.
	case protocol.StartWindowCaptureRequest:
		svc.selection.Set(selection.Selection{
			SourceType: "window",
			SourceID:   strconv.FormatInt(r.WindowHandle, 10),
		})
		return h.startCapture(ctx, svc.backends.WindowCapture)

	case protocol.StartDisplayCaptureRequest:
		svc.selection.Set(selection.Selection{
			SourceType: "monitor",
			SourceID:   r.MonitorID,
		})
		return h.startCapture(ctx, svc.backends.DisplayCapture)

	case protocol.StartRegionCaptureRequest:
		svc.selection.Set(selection.Selection{
			SourceType: "region",
			SourceID:   r.MonitorID,
			Geometry: &selection.Geometry{
				X: r.X, Y: r.Y,
				Width: r.Width, Height: r.Height,
			},
		})
		return h.startCapture(ctx, svc.backends.RegionCapture)

	case protocol.StartPortalCaptureRequest:
		svc.selection.Clear()
		return h.startCapture(ctx, svc.backends.PortalCapture)

	case protocol.StopRecordingRequest:
		return h.stopRecording(ctx)

	case protocol.GetRecordingStateRequest:
		return protocol.RecordingStateResponse{State: svc.recording.State()}

	case protocol.GetElapsedTimeRequest:
		return protocol.ElapsedTimeResponse{Seconds: svc.recording.ElapsedTime().Seconds()}

	case protocol.GetOutputFormatRequest:
		return protocol.OutputFormatResponse{Format: svc.OutputFormat()}

	case protocol.SetOutputFormatRequest:
		svc.SetOutputFormat(r.Format)
		return protocol.OKResponse{}

	case protocol.GetAudioConfigRequest:
		return protocol.AudioConfigResponse{AudioConfig: svc.AudioConfig()}

	case protocol.SetAudioConfigRequest:
		cfg := protocol.AudioConfig{
			Enabled:          r.Enabled,
			EchoCancellation: r.EchoCancellation,
		}
		if r.SourceID != nil {
			cfg.SourceID = *r.SourceID
		}
		if r.MicrophoneID != nil {
			cfg.MicrophoneID = *r.MicrophoneID
		}
		svc.SetAudioConfig(cfg)
		return protocol.OKResponse{}

	case protocol.GetWindowThumbnailRequest:
		return h.thumbnail(ctx, fmt.Sprintf("window:%d", r.WindowHandle), func(ctx context.Context) ([]byte, int, int, error) {
			return svc.backends.Thumbnails.CaptureWindowFrame(ctx, r.WindowHandle)
		})

	case protocol.GetDisplayThumbnailRequest:
		return h.thumbnail(ctx, fmt.Sprintf("display:%s", r.MonitorID), func(ctx context.Context) ([]byte, int, int, error) {
			return svc.backends.Thumbnails.CaptureDisplayFrame(ctx, r.MonitorID)
		})

	case protocol.GetRegionPreviewRequest:
		key := fmt.Sprintf("region:%s@%d,%d,%d,%d", r.MonitorID, r.X, r.Y, r.Width, r.Height)
		return h.thumbnail(ctx, key, func(ctx context.Context) ([]byte, int, int, error) {
			return svc.backends.Thumbnails.CaptureRegionFrame(ctx, r.MonitorID, r.X, r.Y, r.Width, r.Height)
		})

	case protocol.ShowDisplayHighlightRequest:
		if err := svc.backends.Highlights.ShowDisplayHighlight(ctx, r.X, r.Y, r.Width, r.Height); err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.OKResponse{}

	case protocol.ShowWindowHighlightRequest:
		if err := svc.backends.Highlights.ShowWindowHighlight(ctx, r.WindowHandle); err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.OKResponse{}

	case protocol.ClearHighlightRequest:
		if err := svc.backends.Highlights.ClearHighlight(ctx); err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.OKResponse{}

	case protocol.QuerySelectionRequest:
		sel, ok := svc.selection.Get()
		if !ok {
			return protocol.NoSelectionResponse{}
		}
		resp := protocol.SelectionResponse{
			SourceType:       sel.SourceType,
			SourceID:         sel.SourceID,
			HasApprovalToken: svc.approval.HasToken(),
		}
		if sel.Geometry != nil {
			resp.Geometry = &protocol.Geometry{
				X: sel.Geometry.X, Y: sel.Geometry.Y,
				Width: sel.Geometry.Width, Height: sel.Geometry.Height,
			}
		}
		return resp

	case protocol.ValidateTokenRequest:
		if svc.approval.Validate(r.Token) {
			return protocol.TokenValidResponse{}
		}
		return protocol.TokenInvalidResponse{}

	case protocol.StoreTokenRequest:
		if err := svc.approval.StoreValue(r.Token); err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.TokenStoredResponse{}

	case protocol.GetTranscriptionConfigRequest:
		return protocol.TranscriptionConfigResponse{TranscriptionConfig: svc.transcription.Config()}

	case protocol.SetTranscriptionConfigRequest:
		svc.transcription.SetConfig(r.Enabled, r.ModelPath)
		return protocol.OKResponse{}

	case protocol.GetTranscriptionStatusRequest:
		return protocol.TranscriptionStatusResponse{TranscriptionStatus: svc.transcription.Status()}

	case protocol.GetTranscriptionSegmentsRequest:
		segments, total := svc.transcription.Segments(r.SinceIndex)
		return protocol.TranscriptionSegmentsResponse{Segments: segments, TotalCount: total}

	case protocol.PingRequest:
		return protocol.PongResponse{}

	default:
		return protocol.NewErrorResponse(fmt.Errorf("controlplane: no handler for %q", req.RequestType()))
	}
}

func (h *connHandler) startCapture(ctx context.Context, backend CaptureBackend) protocol.Response {
	if err := h.svc.recording.Start(ctx, backend); err != nil {
		return protocol.NewErrorResponse(err)
	}
	return protocol.RecordingStartedResponse{}
}

// stopRecording brackets the backend's Stop call with the transcoding
// events, so subscribers see transcoding_started/transcoding_complete
// around the saving -> idle transition even though the recording state
// machine itself only exposes idle/recording/saving.
func (h *connHandler) stopRecording(ctx context.Context) protocol.Response {
	svc := h.svc
	svc.broadcaster.Publish(protocol.TranscodingStartedEvent{Format: svc.OutputFormat()})

	filePath, sourcePath, err := svc.recording.Stop(ctx)
	if err != nil {
		svc.broadcaster.Publish(protocol.TranscodingCompleteEvent{Success: false})
		return protocol.NewErrorResponse(err)
	}

	svc.broadcaster.Publish(protocol.TranscodingCompleteEvent{Success: true, Path: filePath})
	return protocol.RecordingStoppedResponse{FilePath: filePath, SourcePath: sourcePath}
}

func (h *connHandler) thumbnail(ctx context.Context, key string, render func(ctx context.Context) ([]byte, int, int, error)) protocol.Response {
	resp, err := h.svc.thumbnails.Get(ctx, key, render)
	if err != nil {
		return protocol.NewErrorResponse(err)
	}
	return resp
}

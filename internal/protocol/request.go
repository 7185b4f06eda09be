package protocol

import (
	"encoding/json"
	"fmt"
)

// Request type discriminators, lower_snake_case.
const (
	TypeListWindows              = "list_windows"
	TypeListMonitors             = "list_monitors"
	TypeListAudioSources         = "list_audio_sources"
	TypeStartWindowCapture       = "start_window_capture"
	TypeStartDisplayCapture      = "start_display_capture"
	TypeStartRegionCapture       = "start_region_capture"
	TypeStartPortalCapture       = "start_portal_capture"
	TypeStopRecording            = "stop_recording"
	TypeGetRecordingState        = "get_recording_state"
	TypeGetElapsedTime           = "get_elapsed_time"
	TypeSubscribeEvents          = "subscribe_events"
	TypeGetOutputFormat          = "get_output_format"
	TypeSetOutputFormat          = "set_output_format"
	TypeGetAudioConfig           = "get_audio_config"
	TypeSetAudioConfig           = "set_audio_config"
	TypeGetWindowThumbnail       = "get_window_thumbnail"
	TypeGetDisplayThumbnail      = "get_display_thumbnail"
	TypeGetRegionPreview         = "get_region_preview"
	TypeShowDisplayHighlight     = "show_display_highlight"
	TypeShowWindowHighlight      = "show_window_highlight"
	TypeClearHighlight           = "clear_highlight"
	TypeQuerySelection           = "query_selection"
	TypeValidateToken            = "validate_token"
	TypeStoreToken               = "store_token"
	TypeGetTranscriptionConfig   = "get_transcription_config"
	TypeSetTranscriptionConfig   = "set_transcription_config"
	TypeGetTranscriptionStatus   = "get_transcription_status"
	TypeGetTranscriptionSegments = "get_transcription_segments"
	TypeShutdown                 = "shutdown"
	TypePing                     = "ping"
)

// Request is implemented by every concrete request payload. Validate
// applies the field-level checks; the dispatcher calls it before
// running any handler.
type Request interface {
	RequestType() string
	Validate() error
}

type ListWindowsRequest struct{}

func (ListWindowsRequest) RequestType() string { return TypeListWindows }
func (ListWindowsRequest) Validate() error     { return nil }

type ListMonitorsRequest struct{}

func (ListMonitorsRequest) RequestType() string { return TypeListMonitors }
func (ListMonitorsRequest) Validate() error     { return nil }

type ListAudioSourcesRequest struct{}

func (ListAudioSourcesRequest) RequestType() string { return TypeListAudioSources }
func (ListAudioSourcesRequest) Validate() error     { return nil }

type StartWindowCaptureRequest struct {
	WindowHandle int64 `json:"window_handle"`
}

func (StartWindowCaptureRequest) RequestType() string { return TypeStartWindowCapture }
func (r StartWindowCaptureRequest) Validate() error   { return ValidateWindowHandle(r.WindowHandle) }

type StartDisplayCaptureRequest struct {
	MonitorID string `json:"monitor_id"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
}

func (StartDisplayCaptureRequest) RequestType() string { return TypeStartDisplayCapture }
func (r StartDisplayCaptureRequest) Validate() error {
	if err := ValidateMonitorID(r.MonitorID); err != nil {
		return err
	}
	if err := ValidateDimension(r.Width); err != nil {
		return err
	}
	return ValidateDimension(r.Height)
}

type StartRegionCaptureRequest struct {
	MonitorID string `json:"monitor_id"`
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
}

func (StartRegionCaptureRequest) RequestType() string { return TypeStartRegionCapture }
func (r StartRegionCaptureRequest) Validate() error {
	if err := ValidateMonitorID(r.MonitorID); err != nil {
		return err
	}
	if err := ValidateCoordinate(r.X); err != nil {
		return err
	}
	if err := ValidateCoordinate(r.Y); err != nil {
		return err
	}
	if err := ValidateDimension(r.Width); err != nil {
		return err
	}
	return ValidateDimension(r.Height)
}

type StartPortalCaptureRequest struct{}

func (StartPortalCaptureRequest) RequestType() string { return TypeStartPortalCapture }
func (StartPortalCaptureRequest) Validate() error     { return nil }

type StopRecordingRequest struct{}

func (StopRecordingRequest) RequestType() string { return TypeStopRecording }
func (StopRecordingRequest) Validate() error     { return nil }

type GetRecordingStateRequest struct{}

func (GetRecordingStateRequest) RequestType() string { return TypeGetRecordingState }
func (GetRecordingStateRequest) Validate() error     { return nil }

type GetElapsedTimeRequest struct{}

func (GetElapsedTimeRequest) RequestType() string { return TypeGetElapsedTime }
func (GetElapsedTimeRequest) Validate() error     { return nil }

type SubscribeEventsRequest struct{}

func (SubscribeEventsRequest) RequestType() string { return TypeSubscribeEvents }
func (SubscribeEventsRequest) Validate() error     { return nil }

type GetOutputFormatRequest struct{}

func (GetOutputFormatRequest) RequestType() string { return TypeGetOutputFormat }
func (GetOutputFormatRequest) Validate() error     { return nil }

type SetOutputFormatRequest struct {
	Format string `json:"format"`
}

func (SetOutputFormatRequest) RequestType() string { return TypeSetOutputFormat }
func (r SetOutputFormatRequest) Validate() error    { return ValidateStringLen("format", r.Format) }

type GetAudioConfigRequest struct{}

func (GetAudioConfigRequest) RequestType() string { return TypeGetAudioConfig }
func (GetAudioConfigRequest) Validate() error     { return nil }

type SetAudioConfigRequest struct {
	Enabled          bool    `json:"enabled"`
	SourceID         *string `json:"source_id,omitempty"`
	MicrophoneID     *string `json:"microphone_id,omitempty"`
	EchoCancellation bool    `json:"echo_cancellation"`
}

func (SetAudioConfigRequest) RequestType() string { return TypeSetAudioConfig }
func (r SetAudioConfigRequest) Validate() error {
	if r.SourceID != nil && *r.SourceID != "" {
		if err := ValidateSourceID(*r.SourceID); err != nil {
			return err
		}
	}
	if r.MicrophoneID != nil && *r.MicrophoneID != "" {
		if err := ValidateSourceID(*r.MicrophoneID); err != nil {
			return err
		}
	}
	return nil
}

type GetWindowThumbnailRequest struct {
	WindowHandle int64 `json:"window_handle"`
}

func (GetWindowThumbnailRequest) RequestType() string { return TypeGetWindowThumbnail }
func (r GetWindowThumbnailRequest) Validate() error   { return ValidateWindowHandle(r.WindowHandle) }

type GetDisplayThumbnailRequest struct {
	MonitorID string `json:"monitor_id"`
}

func (GetDisplayThumbnailRequest) RequestType() string { return TypeGetDisplayThumbnail }
func (r GetDisplayThumbnailRequest) Validate() error    { return ValidateMonitorID(r.MonitorID) }

type GetRegionPreviewRequest struct {
	MonitorID string `json:"monitor_id"`
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
}

func (GetRegionPreviewRequest) RequestType() string { return TypeGetRegionPreview }
func (r GetRegionPreviewRequest) Validate() error {
	if err := ValidateMonitorID(r.MonitorID); err != nil {
		return err
	}
	if err := ValidateCoordinate(r.X); err != nil {
		return err
	}
	if err := ValidateCoordinate(r.Y); err != nil {
		return err
	}
	if err := ValidateDimension(r.Width); err != nil {
		return err
	}
	return ValidateDimension(r.Height)
}

type ShowDisplayHighlightRequest struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

func (ShowDisplayHighlightRequest) RequestType() string { return TypeShowDisplayHighlight }
func (r ShowDisplayHighlightRequest) Validate() error {
	if err := ValidateCoordinate(r.X); err != nil {
		return err
	}
	if err := ValidateCoordinate(r.Y); err != nil {
		return err
	}
	if err := ValidateDimension(uint32(r.Width)); err != nil {
		return err
	}
	return ValidateDimension(uint32(r.Height))
}

type ShowWindowHighlightRequest struct {
	WindowHandle int64 `json:"window_handle"`
}

func (ShowWindowHighlightRequest) RequestType() string { return TypeShowWindowHighlight }
func (r ShowWindowHighlightRequest) Validate() error    { return ValidateWindowHandle(r.WindowHandle) }

type ClearHighlightRequest struct{}

func (ClearHighlightRequest) RequestType() string { return TypeClearHighlight }
func (ClearHighlightRequest) Validate() error     { return nil }

type QuerySelectionRequest struct{}

func (QuerySelectionRequest) RequestType() string { return TypeQuerySelection }
func (QuerySelectionRequest) Validate() error     { return nil }

type ValidateTokenRequest struct {
	Token string `json:"token"`
}

func (ValidateTokenRequest) RequestType() string { return TypeValidateToken }
func (r ValidateTokenRequest) Validate() error    { return ValidateStringLen("token", r.Token) }

type StoreTokenRequest struct {
	Token string `json:"token"`
}

func (StoreTokenRequest) RequestType() string { return TypeStoreToken }
func (r StoreTokenRequest) Validate() error    { return ValidateStringLen("token", r.Token) }

type GetTranscriptionConfigRequest struct{}

func (GetTranscriptionConfigRequest) RequestType() string { return TypeGetTranscriptionConfig }
func (GetTranscriptionConfigRequest) Validate() error     { return nil }

type SetTranscriptionConfigRequest struct {
	Enabled   bool    `json:"enabled"`
	ModelPath *string `json:"model_path,omitempty"`
}

func (SetTranscriptionConfigRequest) RequestType() string { return TypeSetTranscriptionConfig }
func (r SetTranscriptionConfigRequest) Validate() error {
	if r.ModelPath != nil {
		return ValidateStringLen("model_path", *r.ModelPath)
	}
	return nil
}

type GetTranscriptionStatusRequest struct{}

func (GetTranscriptionStatusRequest) RequestType() string { return TypeGetTranscriptionStatus }
func (GetTranscriptionStatusRequest) Validate() error     { return nil }

type GetTranscriptionSegmentsRequest struct {
	SinceIndex uint32 `json:"since_index"`
}

func (GetTranscriptionSegmentsRequest) RequestType() string { return TypeGetTranscriptionSegments }
func (GetTranscriptionSegmentsRequest) Validate() error     { return nil }

type ShutdownRequest struct{}

func (ShutdownRequest) RequestType() string { return TypeShutdown }
func (ShutdownRequest) Validate() error     { return nil }

type PingRequest struct{}

func (PingRequest) RequestType() string { return TypePing }
func (PingRequest) Validate() error     { return nil }

// discriminator peeks the "type" field without decoding the rest of the
// payload, so an oversized or malformed body never gets fully unmarshalled
// into the wrong shape.
type discriminator struct {
	Type string `json:"type"`
}

// DecodeRequest parses a framed JSON payload into the matching concrete
// Request. Unknown discriminators are rejected at parse time, before any
// handler dispatch.
func DecodeRequest(data []byte) (Request, error) {
	var d discriminator
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("protocol: decode request: %w", err)
	}

	factory, ok := requestFactories[d.Type]
	if !ok {
		return nil, newValidationError(ErrUnknownRequestType, "unknown request type %q", d.Type)
	}
	return factory(data)
}

type requestFactory func([]byte) (Request, error)

func decodeInto[T Request](data []byte) (Request, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("protocol: decode %T: %w", v, err)
	}
	return v, nil
}

var requestFactories = map[string]requestFactory{
	TypeListWindows:              decodeInto[ListWindowsRequest],
	TypeListMonitors:             decodeInto[ListMonitorsRequest],
	TypeListAudioSources:         decodeInto[ListAudioSourcesRequest],
	TypeStartWindowCapture:       decodeInto[StartWindowCaptureRequest],
	TypeStartDisplayCapture:      decodeInto[StartDisplayCaptureRequest],
	TypeStartRegionCapture:       decodeInto[StartRegionCaptureRequest],
	TypeStartPortalCapture:       decodeInto[StartPortalCaptureRequest],
	TypeStopRecording:            decodeInto[StopRecordingRequest],
	TypeGetRecordingState:        decodeInto[GetRecordingStateRequest],
	TypeGetElapsedTime:           decodeInto[GetElapsedTimeRequest],
	TypeSubscribeEvents:          decodeInto[SubscribeEventsRequest],
	TypeGetOutputFormat:          decodeInto[GetOutputFormatRequest],
	TypeSetOutputFormat:          decodeInto[SetOutputFormatRequest],
	TypeGetAudioConfig:           decodeInto[GetAudioConfigRequest],
	TypeSetAudioConfig:           decodeInto[SetAudioConfigRequest],
	TypeGetWindowThumbnail:       decodeInto[GetWindowThumbnailRequest],
	TypeGetDisplayThumbnail:      decodeInto[GetDisplayThumbnailRequest],
	TypeGetRegionPreview:         decodeInto[GetRegionPreviewRequest],
	TypeShowDisplayHighlight:     decodeInto[ShowDisplayHighlightRequest],
	TypeShowWindowHighlight:      decodeInto[ShowWindowHighlightRequest],
	TypeClearHighlight:           decodeInto[ClearHighlightRequest],
	TypeQuerySelection:           decodeInto[QuerySelectionRequest],
	TypeValidateToken:            decodeInto[ValidateTokenRequest],
	TypeStoreToken:               decodeInto[StoreTokenRequest],
	TypeGetTranscriptionConfig:   decodeInto[GetTranscriptionConfigRequest],
	TypeSetTranscriptionConfig:   decodeInto[SetTranscriptionConfigRequest],
	TypeGetTranscriptionStatus:   decodeInto[GetTranscriptionStatusRequest],
	TypeGetTranscriptionSegments: decodeInto[GetTranscriptionSegmentsRequest],
	TypeShutdown:                 decodeInto[ShutdownRequest],
	TypePing:                     decodeInto[PingRequest],
}

// EncodeRequest marshals a Request back to its wire form, injecting the
// "type" discriminator alongside its fields. Used by clients (CLI/GUI) and
// by tests that round-trip requests through the framing layer.
func EncodeRequest(r Request) ([]byte, error) {
	return encodeTagged(r.RequestType(), r)
}

func encodeTagged(typ string, v any) ([]byte, error) {
	fields, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	m["type"] = json.RawMessage(fmt.Sprintf("%q", typ))
	return json.Marshal(m)
}

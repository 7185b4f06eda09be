// Package controlplane implements the control endpoint: the primary local
// socket carrying length-prefixed JSON request/response traffic and, after
// a successful subscribe_events, server-initiated event frames. It owns
// the recording state machine, the transcription pipeline, and the event
// broadcaster, modeled as fields of one Service value rather than package
// globals.
package controlplane

import (
	"context"
	"sync"
	"time"

	"github.com/scopecast/service/internal/config"
	"github.com/scopecast/service/internal/logging"
	"github.com/scopecast/service/internal/protocol"
	"github.com/scopecast/service/internal/ratelimit"
	"github.com/scopecast/service/internal/segment"
	"github.com/scopecast/service/internal/selection"
	"github.com/scopecast/service/internal/workerpool"
)

var log = logging.L("controlplane")

// Backends groups the external collaborators a Service is constructed
// with. A caller that has no real platform backend for a given capture
// kind may pass nil; Service substitutes a backend that always fails
// start_* cleanly rather than silently pretending to record.
type Backends struct {
	WindowCapture  CaptureBackend
	DisplayCapture CaptureBackend
	RegionCapture  CaptureBackend
	PortalCapture  CaptureBackend

	Windows      WindowLister
	Monitors     MonitorLister
	AudioSources AudioSourceLister
	Thumbnails   ThumbnailSource
	Highlights   HighlightPresenter
	Transcriber  Transcriber
}

// Service is the single owner of all mutable control-plane state: the
// recording manager, the output/audio/transcription configuration, the
// segment ring buffer, the current capture selection, and the event
// broadcaster.
type Service struct {
	cfg *config.Config

	shutdown shutdownFlag

	recording     *RecordingManager
	broadcaster   *Broadcaster
	transcription *TranscriptionManager
	thumbnails    *ThumbnailCache
	rateLimiter   *ratelimit.Limiter

	selection *selection.Cell
	approval  *selection.ApprovalStore

	backends Backends

	fieldsMu     sync.RWMutex
	outputFormat string
	audioConfig  protocol.AudioConfig
}

// New builds a Service. It does not open any socket; serve it with
// NewControlEndpoint(...).Serve for the control socket and
// selection.NewEndpoint(s.SelectionCell(), ...).Serve for the selection
// socket.
func New(cfg *config.Config, backends Backends) *Service {
	s := &Service{
		cfg:          cfg,
		broadcaster:  newBroadcaster(),
		selection:    selection.NewCell(),
		approval:     selection.NewApprovalStore(),
		backends:     fillDefaults(backends),
		outputFormat: "mp4",
		audioConfig:  protocol.AudioConfig{Enabled: false},
	}

	s.rateLimiter = ratelimit.New(cfg.ConnRateLimitAttempts, time.Duration(cfg.ConnRateLimitWindowMs)*time.Millisecond)

	ring := segment.New(cfg.SegmentBufferSeconds * cfg.SegmentSampleRateHz)
	s.transcription = newTranscriptionManager(ring, s.backends.Transcriber, s.onTranscriptSegment)
	s.transcription.SetConfig(cfg.TranscriptionEnabled, stringPtrOrNil(cfg.TranscriptionModelPath))

	pool := workerpool.New(4)
	s.thumbnails = newThumbnailCache(cfg.ThumbnailJPEGQuality, time.Duration(cfg.ThumbnailCacheTTLMs)*time.Millisecond, pool)

	s.recording = newRecordingManager(s.onStateChanged)

	return s
}

func fillDefaults(b Backends) Backends {
	if b.WindowCapture == nil {
		b.WindowCapture = noopCaptureBackend{kind: "window"}
	}
	if b.DisplayCapture == nil {
		b.DisplayCapture = noopCaptureBackend{kind: "display"}
	}
	if b.RegionCapture == nil {
		b.RegionCapture = noopCaptureBackend{kind: "region"}
	}
	if b.PortalCapture == nil {
		b.PortalCapture = noopCaptureBackend{kind: "portal"}
	}
	if b.Windows == nil {
		b.Windows = processWindowLister{}
	}
	if b.Monitors == nil {
		b.Monitors = noopMonitorLister{}
	}
	if b.AudioSources == nil {
		b.AudioSources = noopAudioSourceLister{}
	}
	if b.Thumbnails == nil {
		b.Thumbnails = noopThumbnailSource{}
	}
	if b.Highlights == nil {
		b.Highlights = noopHighlightPresenter{}
	}
	return b
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Service) onStateChanged(state protocol.RecordingState) {
	s.broadcaster.Publish(protocol.StateChangedEvent{State: state})
	if state == protocol.StateRecording {
		go s.tickElapsed()
	}
}

// tickElapsed publishes elapsed_time events once per second for the
// duration of a recording, so subscribed GUIs can run a timer without
// polling get_elapsed_time.
func (s *Service) tickElapsed() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if s.recording.State() != protocol.StateRecording {
			return
		}
		s.broadcaster.Publish(protocol.ElapsedTimeEvent{Seconds: s.recording.ElapsedTime().Seconds()})
	}
}

func (s *Service) onTranscriptSegment(seg protocol.TranscriptSegment) {
	s.broadcaster.Publish(protocol.TranscriptionSegmentEvent{
		TimestampSecs: seg.TimestampSecs,
		Text:          seg.Text,
	})
}

// WriteAudioSamples feeds freshly-resampled 16kHz mono audio into the
// segmentation ring buffer. Called by the (out-of-scope) audio capture
// thread, never by the IPC layer.
func (s *Service) WriteAudioSamples(samples []float32) {
	s.transcription.WriteSamples(samples)
}

// RequestShutdown raises the shutdown flag, broadcasts the terminal
// shutdown event to subscribers, and stops any in-progress recording. Only
// the shutdown handler and the cmd entrypoint's signal handler call this.
func (s *Service) RequestShutdown(ctx context.Context) {
	if s.recording.State() == protocol.StateRecording {
		if _, _, err := s.recording.Stop(ctx); err != nil {
			log.Warn("stop recording during shutdown", "error", err)
		}
	}
	s.broadcaster.Shutdown()
	s.shutdown.Raise()
}

// ShuttingDown reports whether the process-wide shutdown flag is set.
func (s *Service) ShuttingDown() bool {
	return s.shutdown.IsSet()
}

// SelectionCell exposes the capture-selection cell so the selection
// endpoint (served from cmd/scopecast-service, outside this package) can
// be wired to the same Service without re-implementing selection state.
func (s *Service) SelectionCell() *selection.Cell {
	return s.selection
}

// SubscribeEventFrames registers an out-of-band event sink (the
// development preview bridge) with the broadcaster and returns its
// unsubscribe function. Control-socket subscribers do not go through here;
// their connection handler registers them directly.
func (s *Service) SubscribeEventFrames(id string, w FrameWriter) func() {
	sub := s.broadcaster.Register(id, w)
	return func() { s.broadcaster.Unregister(sub) }
}

// Approval exposes the approval-token store to the CLI entrypoint for
// wiring validate_token/store_token support outside the control socket
// (e.g. a setup command that pre-provisions a token).
func (s *Service) Approval() *selection.ApprovalStore {
	return s.approval
}

// OutputFormat returns the container format new recordings are saved in.
func (s *Service) OutputFormat() string {
	s.fieldsMu.RLock()
	defer s.fieldsMu.RUnlock()
	return s.outputFormat
}

// SetOutputFormat changes the container format used by subsequent
// recordings; it has no effect on one already in progress.
func (s *Service) SetOutputFormat(format string) {
	s.fieldsMu.Lock()
	defer s.fieldsMu.Unlock()
	s.outputFormat = format
}

// AudioConfig returns the current audio capture configuration.
func (s *Service) AudioConfig() protocol.AudioConfig {
	s.fieldsMu.RLock()
	defer s.fieldsMu.RUnlock()
	return s.audioConfig
}

// SetAudioConfig replaces the audio capture configuration.
func (s *Service) SetAudioConfig(cfg protocol.AudioConfig) {
	s.fieldsMu.Lock()
	defer s.fieldsMu.Unlock()
	s.audioConfig = cfg
}

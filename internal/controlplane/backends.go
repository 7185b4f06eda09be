package controlplane

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/scopecast/service/internal/protocol"
)

// The actual frame-capture drivers, encoders/muxers, and audio back-ends are
// out of scope for this repository; the service talks to them only
// through these narrow interfaces. Handlers never type-switch on which
// backend is active; they hold one of each and call through the interface.

// CaptureBackend starts and stops a single recording. One concrete
// implementation exists per capture kind (window/display/region/portal);
// the recording manager holds whichever one a start_* request selected.
type CaptureBackend interface {
	// Start begins capturing and returns once the backend has committed to
	// recording (or failed). It must not block for the duration of the
	// recording.
	Start(ctx context.Context) error
	// Stop finalizes the recording and returns the output file path and,
	// when a transcode step produced a second file, the original source
	// path (equal to the output path when no transcode was needed).
	Stop(ctx context.Context) (filePath, sourcePath string, err error)
}

// WindowLister, MonitorLister and AudioSourceLister back the three
// enumeration requests. Default implementations are best-effort stand-ins;
// a full desktop build substitutes platform-accurate listers without
// touching the control-plane dispatch code.
type WindowLister interface {
	ListWindows(ctx context.Context) ([]protocol.WindowInfo, error)
}

type MonitorLister interface {
	ListMonitors(ctx context.Context) ([]protocol.MonitorInfo, error)
}

type AudioSourceLister interface {
	ListAudioSources(ctx context.Context) ([]protocol.AudioSourceInfo, error)
}

// ThumbnailSource renders a preview frame for a window, display or region.
// The returned image is raw RGBA; thumbnails.go handles JPEG encoding.
type ThumbnailSource interface {
	CaptureWindowFrame(ctx context.Context, windowHandle int64) (pixels []byte, w, h int, err error)
	CaptureDisplayFrame(ctx context.Context, monitorID string) (pixels []byte, w, h int, err error)
	CaptureRegionFrame(ctx context.Context, monitorID string, x, y int32, w, h uint32) (pixels []byte, width, height int, err error)
}

// HighlightPresenter draws and clears the on-screen highlight overlay used
// to confirm a selection before recording starts.
type HighlightPresenter interface {
	ShowDisplayHighlight(ctx context.Context, x, y, w, h int32) error
	ShowWindowHighlight(ctx context.Context, windowHandle int64) error
	ClearHighlight(ctx context.Context) error
}

// noopCaptureBackend satisfies CaptureBackend for capture kinds that have no
// platform driver wired into this build; Start always fails so the
// recording manager reports a clean `error` response instead of silently
// pretending to record.
type noopCaptureBackend struct{ kind string }

func (b noopCaptureBackend) Start(context.Context) error {
	return fmt.Errorf("controlplane: %s capture backend not available in this build", b.kind)
}

func (b noopCaptureBackend) Stop(context.Context) (string, string, error) {
	return "", "", fmt.Errorf("controlplane: %s capture backend not available in this build", b.kind)
}

// processWindowLister stands in for real window enumeration (a platform GUI
// API, out of scope here) by listing running processes via gopsutil and
// presenting each as a single pseudo-window. It gives list_windows a real,
// non-empty, cross-platform answer without a windowing toolkit dependency.
type processWindowLister struct{}

func (processWindowLister) ListWindows(ctx context.Context) ([]protocol.WindowInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("controlplane: enumerate processes: %w", err)
	}

	windows := make([]protocol.WindowInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		windows = append(windows, protocol.WindowInfo{
			Handle:  int64(p.Pid),
			Title:   name,
			AppName: exe,
		})
	}
	return windows, nil
}

// noopMonitorLister and noopAudioSourceLister return empty enumerations:
// there is no portable stand-in the way gopsutil gives us for processes.
type noopMonitorLister struct{}

func (noopMonitorLister) ListMonitors(context.Context) ([]protocol.MonitorInfo, error) {
	return []protocol.MonitorInfo{}, nil
}

type noopAudioSourceLister struct{}

func (noopAudioSourceLister) ListAudioSources(context.Context) ([]protocol.AudioSourceInfo, error) {
	return []protocol.AudioSourceInfo{}, nil
}

type noopThumbnailSource struct{}

func (noopThumbnailSource) CaptureWindowFrame(context.Context, int64) ([]byte, int, int, error) {
	return nil, 0, 0, fmt.Errorf("controlplane: no thumbnail source wired")
}

func (noopThumbnailSource) CaptureDisplayFrame(context.Context, string) ([]byte, int, int, error) {
	return nil, 0, 0, fmt.Errorf("controlplane: no thumbnail source wired")
}

func (noopThumbnailSource) CaptureRegionFrame(context.Context, string, int32, int32, uint32, uint32) ([]byte, int, int, error) {
	return nil, 0, 0, fmt.Errorf("controlplane: no thumbnail source wired")
}

type noopHighlightPresenter struct{}

func (noopHighlightPresenter) ShowDisplayHighlight(context.Context, int32, int32, int32, int32) error {
	return nil
}
func (noopHighlightPresenter) ShowWindowHighlight(context.Context, int64) error { return nil }
func (noopHighlightPresenter) ClearHighlight(context.Context) error            { return nil }

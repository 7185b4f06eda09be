package controlplane

import (
	"sync"
	"time"

	"github.com/scopecast/service/internal/logging"
	"github.com/scopecast/service/internal/protocol"
	"github.com/scopecast/service/internal/segment"
)

// segmentPollInterval bounds how often the segmenter checks the ring
// buffer's overflow threshold. Real builds would instead wake on a
// condition variable signaled by the audio capture thread; since that
// thread is out of scope here, a short poll is the simplest correct
// stand-in that never busy-spins.
const segmentPollInterval = 200 * time.Millisecond

var transcriptionLog = logging.L("transcription")

// Transcriber is the external whisper inference collaborator: given a
// span of 16kHz mono f32 samples it returns the text spoken in it. The
// segmenter calls it once per extracted segment.
type Transcriber interface {
	Transcribe(samples []float32) (text string, err error)
}

type noopTranscriber struct{}

func (noopTranscriber) Transcribe([]float32) (string, error) { return "", nil }

// TranscriptionManager holds the transcription on/off configuration, the
// append-only segment log consumed via get_transcription_segments, and the
// ring buffer + segmenter that feeds it. The ring buffer is never touched
// by the IPC layer directly; only WriteSamples (called by the audio
// capture thread) and the segmenter goroutine touch it.
type TranscriptionManager struct {
	ring   *segment.RingBuffer
	worker Transcriber

	mu      sync.Mutex
	enabled bool
	model   string
	running bool
	log     []protocol.TranscriptSegment

	onSegment func(protocol.TranscriptSegment)

	segStart  int
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func newTranscriptionManager(ring *segment.RingBuffer, worker Transcriber, onSegment func(protocol.TranscriptSegment)) *TranscriptionManager {
	if worker == nil {
		worker = noopTranscriber{}
	}
	return &TranscriptionManager{
		ring:      ring,
		worker:    worker,
		onSegment: onSegment,
	}
}

func (t *TranscriptionManager) Config() protocol.TranscriptionConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return protocol.TranscriptionConfig{Enabled: t.enabled, ModelPath: t.model}
}

// SetConfig toggles transcription. Turning it on starts the segmenter
// goroutine consuming the ring buffer; turning it off stops it. The ring
// buffer itself is untouched either way; it belongs to the audio capture
// thread, not to this manager's lifecycle.
func (t *TranscriptionManager) SetConfig(enabled bool, modelPath *string) {
	t.mu.Lock()
	t.enabled = enabled
	if modelPath != nil {
		t.model = *modelPath
	}
	running := t.running
	t.mu.Unlock()

	if enabled && !running {
		t.start()
	} else if !enabled && running {
		t.stop()
	}
}

func (t *TranscriptionManager) Status() protocol.TranscriptionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return protocol.TranscriptionStatus{Running: t.running, SegmentsProcessed: len(t.log)}
}

// Segments returns the suffix of the segment log starting at sinceIndex,
// plus the true total count. sinceIndex beyond the log yields an empty
// slice and the real total, never an error.
func (t *TranscriptionManager) Segments(sinceIndex uint32) ([]protocol.TranscriptSegment, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.log)
	if int(sinceIndex) >= total {
		return []protocol.TranscriptSegment{}, total
	}
	out := make([]protocol.TranscriptSegment, total-int(sinceIndex))
	copy(out, t.log[sinceIndex:])
	return out, total
}

func (t *TranscriptionManager) start() {
	t.mu.Lock()
	t.running = true
	t.segStart = t.ring.WritePos()
	t.stopCh = make(chan struct{})
	t.stoppedCh = make(chan struct{})
	stopCh := t.stopCh
	stoppedCh := t.stoppedCh
	t.mu.Unlock()

	go t.segmentLoop(stopCh, stoppedCh)
}

func (t *TranscriptionManager) stop() {
	t.mu.Lock()
	stopCh := t.stopCh
	stoppedCh := t.stoppedCh
	t.running = false
	t.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// segmentLoop is the consumer contract: it watches the
// ring buffer and extracts a segment on overflow pressure, enqueuing it for
// transcription and resetting segStart. Real end-of-utterance silence
// detection lives in the (out-of-scope) audio pipeline; this loop only
// implements the overflow guard the ring buffer itself exposes.
func (t *TranscriptionManager) segmentLoop(stopCh, stoppedCh chan struct{}) {
	defer close(stoppedCh)
	ticker := time.NewTicker(segmentPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			start := t.segStart
			t.mu.Unlock()

			if t.ring.IsApproachingOverflow(start) {
				t.extractAndTranscribe(start)
			}
		}
	}
}

func (t *TranscriptionManager) extractAndTranscribe(start int) {
	samples := t.ring.ExtractSegment(start)

	t.mu.Lock()
	t.segStart = t.ring.WritePos()
	t.mu.Unlock()

	if len(samples) == 0 {
		return
	}

	text, err := t.worker.Transcribe(samples)
	if err != nil {
		transcriptionLog.Warn("transcription failed", "error", err)
		return
	}
	if text == "" {
		return
	}

	seg := protocol.TranscriptSegment{
		TimestampSecs: float64(t.ring.TotalWritten()) / float64(segment.DefaultSampleRateHz),
		Text:          text,
	}

	t.mu.Lock()
	seg.Index = uint32(len(t.log))
	t.log = append(t.log, seg)
	t.mu.Unlock()

	if t.onSegment != nil {
		t.onSegment(seg)
	}
}

// WriteSamples is the entry point the (external) audio capture thread calls
// with freshly resampled 16kHz mono f32 samples. It is the only writer of
// the ring buffer, matching the single-writer invariant.
func (t *TranscriptionManager) WriteSamples(samples []float32) {
	t.ring.Write(samples)
}

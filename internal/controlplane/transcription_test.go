package controlplane

import (
	"sync"
	"testing"
	"time"

	"github.com/scopecast/service/internal/protocol"
	"github.com/scopecast/service/internal/segment"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls [][]float32
	text  string
}

func (f *fakeTranscriber) Transcribe(samples []float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, samples)
	return f.text, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSegmentsSuffixAndTotal(t *testing.T) {
	tm := newTranscriptionManager(segment.New(1000), &fakeTranscriber{}, nil)
	tm.log = []protocol.TranscriptSegment{
		{Index: 0, Text: "one"},
		{Index: 1, Text: "two"},
		{Index: 2, Text: "three"},
	}

	segs, total := tm.Segments(1)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(segs) != 2 || segs[0].Text != "two" || segs[1].Text != "three" {
		t.Fatalf("suffix = %#v", segs)
	}

	// Past-the-end index yields empty plus the true total, never an error.
	segs, total = tm.Segments(50)
	if len(segs) != 0 || total != 3 {
		t.Fatalf("past-end = %d segments, total %d", len(segs), total)
	}
}

func TestOverflowPressureExtractsAndTranscribes(t *testing.T) {
	ring := segment.New(1000)
	worker := &fakeTranscriber{text: "hello"}

	var published []protocol.TranscriptSegment
	var pubMu sync.Mutex
	tm := newTranscriptionManager(ring, worker, func(s protocol.TranscriptSegment) {
		pubMu.Lock()
		published = append(published, s)
		pubMu.Unlock()
	})

	tm.SetConfig(true, nil)
	defer tm.SetConfig(false, nil)

	// Fill past the 90% threshold so the segmenter must extract.
	samples := make([]float32, 950)
	for i := range samples {
		samples[i] = float32(i)
	}
	tm.WriteSamples(samples)

	deadline := time.Now().Add(3 * time.Second)
	for worker.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("segmenter never extracted under overflow pressure")
		}
		time.Sleep(10 * time.Millisecond)
	}

	worker.mu.Lock()
	got := worker.calls[0]
	worker.mu.Unlock()
	if len(got) != 950 {
		t.Fatalf("extracted %d samples, want 950", len(got))
	}
	if got[0] != 0 || got[949] != 949 {
		t.Fatalf("extracted samples out of order: first=%v last=%v", got[0], got[949])
	}

	deadline = time.Now().Add(time.Second)
	for {
		pubMu.Lock()
		n := len(published)
		pubMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transcript segment never published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, total := tm.Segments(0)
	if total != 1 {
		t.Fatalf("segment log total = %d, want 1", total)
	}

	status := tm.Status()
	if !status.Running || status.SegmentsProcessed != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestDisablingStopsSegmenter(t *testing.T) {
	tm := newTranscriptionManager(segment.New(1000), &fakeTranscriber{}, nil)

	tm.SetConfig(true, nil)
	if !tm.Status().Running {
		t.Fatal("segmenter not running after enable")
	}

	tm.SetConfig(false, nil)
	if tm.Status().Running {
		t.Fatal("segmenter still running after disable")
	}
}

func TestModelPathPreservedWhenNil(t *testing.T) {
	tm := newTranscriptionManager(segment.New(1000), &fakeTranscriber{}, nil)

	model := "/models/ggml-base.bin"
	tm.SetConfig(false, &model)
	tm.SetConfig(false, nil)

	if got := tm.Config().ModelPath; got != model {
		t.Fatalf("model path = %q, want %q", got, model)
	}
}

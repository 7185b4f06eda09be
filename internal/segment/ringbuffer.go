// Package segment implements the fixed-capacity circular buffer that the
// voice-capture thread writes 16 kHz mono f32 samples into and that the
// segmentation logic reads spans out of before handing them to the
// transcription worker. The buffer itself carries no notion of speech; it
// only knows positions.
package segment

// DefaultSampleRateHz is the mono sample rate the buffer is sized for.
const DefaultSampleRateHz = 16000

// DefaultCapacity is 35 seconds at DefaultSampleRateHz: long enough that a
// maximum permissible segment plus overflow headroom never needs to wrap.
const DefaultCapacity = 35 * DefaultSampleRateHz

// overflowNumerator/overflowDenominator express the 90% overflow threshold
// as an integer fraction so capacity*9/10 never needs floating point.
const (
	overflowNumerator   = 9
	overflowDenominator = 10
)

// RingBuffer is a single-writer/single-reader circular buffer over f32
// samples. Write is called only from the voice-capture thread; the extract
// and index accessors are called only from the segmentation/transcription
// side. The two sides coordinate externally via a bounded segment queue, so
// the buffer itself does no locking.
type RingBuffer struct {
	buffer      []float32
	writePos    int
	capacity    int
	totalWritten uint64
}

// New creates a ring buffer with the given capacity. Panics if capacity is
// not positive, since a zero-capacity buffer violates every invariant below.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("segment: capacity must be positive")
	}
	return &RingBuffer{
		buffer:   make([]float32, capacity),
		capacity: capacity,
	}
}

// NewDefault creates a ring buffer at DefaultCapacity.
func NewDefault() *RingBuffer {
	return New(DefaultCapacity)
}

// Capacity returns the buffer's fixed sample capacity.
func (rb *RingBuffer) Capacity() int { return rb.capacity }

// WritePos returns the current write index, always in [0, capacity).
func (rb *RingBuffer) WritePos() int { return rb.writePos }

// TotalWritten returns the monotonic count of samples ever written,
// including ones since overwritten by wraparound.
func (rb *RingBuffer) TotalWritten() uint64 { return rb.totalWritten }

// Write copies samples into the buffer starting at writePos, advancing and
// wrapping writePos as needed. It never allocates.
func (rb *RingBuffer) Write(samples []float32) {
	for _, s := range samples {
		rb.buffer[rb.writePos] = s
		rb.writePos++
		if rb.writePos == rb.capacity {
			rb.writePos = 0
		}
		rb.totalWritten++
	}
}

// SegmentLength returns the wrap-aware distance from start to writePos.
func (rb *RingBuffer) SegmentLength(start int) int {
	if rb.writePos >= start {
		return rb.writePos - start
	}
	return (rb.capacity - start) + rb.writePos
}

// ExtractSegmentTo returns a fresh slice containing the samples from start
// up to (not including) end, wrap-aware. start == end yields an empty
// slice. This is the only allocating path in the package.
func (rb *RingBuffer) ExtractSegmentTo(start, end int) []float32 {
	if start == end {
		return []float32{}
	}

	var length int
	if end >= start {
		length = end - start
	} else {
		length = (rb.capacity - start) + end
	}

	out := make([]float32, length)
	if end >= start {
		copy(out, rb.buffer[start:end])
		return out
	}

	firstSpan := rb.capacity - start
	copy(out[:firstSpan], rb.buffer[start:])
	copy(out[firstSpan:], rb.buffer[:end])
	return out
}

// ExtractSegment is a convenience for ExtractSegmentTo(start, writePos).
func (rb *RingBuffer) ExtractSegment(start int) []float32 {
	return rb.ExtractSegmentTo(start, rb.writePos)
}

// IndexFromLookback returns the index n samples before writePos, clamped to
// writePos itself when n >= capacity.
func (rb *RingBuffer) IndexFromLookback(n int) int {
	if n >= rb.capacity {
		return rb.writePos
	}
	idx := rb.writePos - n
	if idx < 0 {
		idx += rb.capacity
	}
	return idx
}

// IsApproachingOverflow reports whether segment_length(start) has reached
// 90% of capacity.
func (rb *RingBuffer) IsApproachingOverflow(start int) bool {
	threshold := (rb.capacity*overflowNumerator + overflowDenominator - 1) / overflowDenominator
	return rb.SegmentLength(start) >= threshold
}

// Clear resets writePos and totalWritten to zero without zeroing the
// underlying memory; the next Write starts at position 0.
func (rb *RingBuffer) Clear() {
	rb.writePos = 0
	rb.totalWritten = 0
}

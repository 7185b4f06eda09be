package protocol

import (
	"encoding/json"
	"fmt"
)

// Event type discriminators delivered to subscribed connections.
const (
	EventStateChanged         = "state_changed"
	EventElapsedTime          = "elapsed_time"
	EventTranscodingStarted   = "transcoding_started"
	EventTranscodingComplete  = "transcoding_complete"
	EventTranscriptionSegment = "transcription_segment"
	EventShutdown             = "shutdown"
)

// Event is implemented by every concrete broadcast payload.
type Event interface {
	EventType() string
}

type StateChangedEvent struct {
	State RecordingState `json:"state"`
}

func (StateChangedEvent) EventType() string { return EventStateChanged }

type ElapsedTimeEvent struct {
	Seconds float64 `json:"seconds"`
}

func (ElapsedTimeEvent) EventType() string { return EventElapsedTime }

type TranscodingStartedEvent struct {
	Format string `json:"format"`
}

func (TranscodingStartedEvent) EventType() string { return EventTranscodingStarted }

type TranscodingCompleteEvent struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
}

func (TranscodingCompleteEvent) EventType() string { return EventTranscodingComplete }

type TranscriptionSegmentEvent struct {
	TimestampSecs float64 `json:"timestamp_secs"`
	Text          string  `json:"text"`
}

func (TranscriptionSegmentEvent) EventType() string { return EventTranscriptionSegment }

// ShutdownEvent is the final frame broadcast to every subscriber before the
// control endpoint closes its listener.
type ShutdownEvent struct{}

func (ShutdownEvent) EventType() string { return EventShutdown }

// MarshalEventResponse builds the wire bytes for an EventResponse directly,
// since Event values need the "type" tag nested one level under "event"
// rather than at the top level like requests and responses.
func MarshalEventResponse(e Event) ([]byte, error) {
	tagged, err := encodeTagged(e.EventType(), e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode event: %w", err)
	}
	envelope := struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}{
		Type:  RespEvent,
		Event: tagged,
	}
	return json.Marshal(envelope)
}

type eventFactory func([]byte) (Event, error)

func decodeEventInto[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("protocol: decode %T: %w", v, err)
	}
	return v, nil
}

var eventFactories = map[string]eventFactory{
	EventStateChanged:         decodeEventInto[StateChangedEvent],
	EventElapsedTime:          decodeEventInto[ElapsedTimeEvent],
	EventTranscodingStarted:   decodeEventInto[TranscodingStartedEvent],
	EventTranscodingComplete:  decodeEventInto[TranscodingCompleteEvent],
	EventTranscriptionSegment: decodeEventInto[TranscriptionSegmentEvent],
	EventShutdown:             decodeEventInto[ShutdownEvent],
}

// DecodeEventResponse parses a frame received on a subscribed connection,
// the client-side counterpart to MarshalEventResponse. Used by the CLI's
// subscribe command and by wire-level tests.
func DecodeEventResponse(data []byte) (Event, error) {
	var envelope struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("protocol: decode event response: %w", err)
	}
	if envelope.Type != RespEvent {
		return nil, fmt.Errorf("protocol: decode event response: top-level type %q is not %q", envelope.Type, RespEvent)
	}

	var d discriminator
	if err := json.Unmarshal(envelope.Event, &d); err != nil {
		return nil, fmt.Errorf("protocol: decode event: %w", err)
	}
	factory, ok := eventFactories[d.Type]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown event type %q", d.Type)
	}
	return factory(envelope.Event)
}

package realtime

import (
	"encoding/json"
)

// EventKind is the closed set of upstream events the session layer reacts to.
// The wire protocol is stringly-typed; we decode it once, here, into a tagged
// union so unknown kinds are logged and ignored rather than dispatched.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSpeechStarted
	EventSpeechStopped
	EventTranscriptCompleted
	EventTextDelta
	EventTextDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventTranscriptCompleted:
		return "transcript_completed"
	case EventTextDelta:
		return "text_delta"
	case EventTextDone:
		return "text_done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded upstream event. Only the fields relevant to its Kind
// are populated.
type Event struct {
	Kind EventKind

	// WireType is the raw upstream type string, kept for diagnostics.
	WireType string

	Transcript string // EventTranscriptCompleted
	Delta      string // EventTextDelta
	Text       string // EventTextDone
	ErrDetail  json.RawMessage // EventError
}

type wireEvent struct {
	Type       string          `json:"type"`
	Transcript string          `json:"transcript"`
	Delta      string          `json:"delta"`
	Text       string          `json:"text"`
	Error      json.RawMessage `json:"error"`
}

// DecodeEvent parses one upstream message. A nil error with Kind ==
// EventUnknown means the message was valid JSON of a kind we don't handle.
func DecodeEvent(raw []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return Event{}, err
	}

	ev := Event{WireType: we.Type}
	switch we.Type {
	case "input_audio_buffer.speech_started":
		ev.Kind = EventSpeechStarted
	case "input_audio_buffer.speech_stopped":
		ev.Kind = EventSpeechStopped
	case "conversation.item.input_audio_transcription.completed":
		ev.Kind = EventTranscriptCompleted
		ev.Transcript = we.Transcript
	case "response.output_text.delta", "response.text.delta":
		ev.Kind = EventTextDelta
		ev.Delta = we.Delta
	case "response.output_text.done", "response.text.done":
		ev.Kind = EventTextDone
		ev.Text = we.Text
	case "error", "invalid_request_error":
		ev.Kind = EventError
		if len(we.Error) > 0 {
			ev.ErrDetail = we.Error
		} else {
			ev.ErrDetail = json.RawMessage(raw)
		}
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

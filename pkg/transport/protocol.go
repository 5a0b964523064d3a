package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/rolecall/pkg/audio"
)

// Wire message types.
const (
	TypeAudio     = "audio"
	TypeInterrupt = "interrupt"
	TypeLog       = "log"
	TypeText      = "text"
	TypeUserText  = "user_text"
	TypeError     = "error"
)

// Sentinel transcripts the agent uses as control signals.
const (
	// TurnEndTranscript marks the end of the agent's turn.
	TurnEndTranscript = "Listening..."

	// TranscriptionFailed reports that the user's speech was not understood.
	TranscriptionFailed = "Transcription failed"
)

// ErrUnknownType is returned by [DecodeEvent] for messages whose type is not
// part of the protocol.
var ErrUnknownType = errors.New("transport: unknown message type")

// ── Outbound ─────────────────────────────────────────────────────────────────

// Outbound is a message the client sends to the agent: [Audio], [Interrupt]
// or [Log].
type Outbound interface {
	// Type returns the wire type discriminator.
	Type() string

	wire() any
}

// Audio carries voiced microphone samples.
type Audio struct {
	Samples []int16
}

// Interrupt tells the agent the user barged in. SampleCount is the total
// number of voiced samples sent in this session.
type Interrupt struct {
	SampleCount int64
}

// Log mirrors a client log line to the agent.
type Log struct {
	Text string
}

func (Audio) Type() string     { return TypeAudio }
func (Interrupt) Type() string { return TypeInterrupt }
func (Log) Type() string       { return TypeLog }

type audioMessage struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64 PCM16LE
}

type interruptMessage struct {
	Type        string `json:"type"`
	SampleCount int64  `json:"sampleCount"`
}

type logMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m Audio) wire() any {
	return audioMessage{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(audio.SamplesToBytes(m.Samples))}
}

func (m Interrupt) wire() any {
	return interruptMessage{Type: TypeInterrupt, SampleCount: m.SampleCount}
}

func (m Log) wire() any {
	return logMessage{Type: TypeLog, Message: m.Text}
}

// Encode renders msg as its JSON wire form.
func Encode(msg Outbound) ([]byte, error) {
	data, err := json.Marshal(msg.wire())
	if err != nil {
		return nil, fmt.Errorf("transport: marshal %s: %w", msg.Type(), err)
	}
	return data, nil
}

// ── Inbound ──────────────────────────────────────────────────────────────────

// EventType classifies an [Event].
type EventType int

const (
	// EventAudio carries a chunk of synthesized agent speech.
	EventAudio EventType = iota + 1

	// EventText carries an agent transcript.
	EventText

	// EventUserText carries the transcript of the user's last utterance.
	EventUserText

	// EventError carries an agent-reported error.
	EventError

	// EventClosed reports that the connection failed or the server closed it.
	// It is never emitted for an explicit Close.
	EventClosed
)

// String returns the wire-style name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return TypeAudio
	case EventText:
		return TypeText
	case EventUserText:
		return TypeUserText
	case EventError:
		return TypeError
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one inbound message, or the closure of the connection.
type Event struct {
	Type EventType

	// Conn identifies the connection the event arrived on.
	Conn uint64

	// Audio holds decoded PCM for EventAudio.
	Audio []int16

	// Text holds the transcript for EventText and EventUserText, and the
	// message for EventError.
	Text string

	// Err is set for EventClosed and wraps [ErrChannel].
	Err error
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Data    string          `json:"data,omitempty"`
	Text    json.RawMessage `json:"text,omitempty"`
	Message string          `json:"message,omitempty"`
}

// transcriptItem is one element of the structured text form
// [{"content":[{"transcript":"..."}]}].
type transcriptItem struct {
	Content []struct {
		Transcript string `json:"transcript"`
	} `json:"content"`
}

// DecodeEvent parses one inbound wire message.
func DecodeEvent(data []byte) (Event, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("transport: decode: %w", err)
	}

	switch msg.Type {
	case TypeAudio:
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return Event{}, fmt.Errorf("transport: decode audio: %w", err)
		}
		return Event{Type: EventAudio, Audio: audio.BytesToSamples(pcm)}, nil
	case TypeText:
		return Event{Type: EventText, Text: transcript(msg.Text)}, nil
	case TypeUserText:
		return Event{Type: EventUserText, Text: transcript(msg.Text)}, nil
	case TypeError:
		return Event{Type: EventError, Text: msg.Message}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// transcript extracts the text of a "text" field. A plain string is used as
// is; for the structured form the first transcript wins. Anything else is
// rendered as its raw JSON.
func transcript(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []transcriptItem
	if err := json.Unmarshal(raw, &items); err == nil {
		if len(items) > 0 && len(items[0].Content) > 0 && items[0].Content[0].Transcript != "" {
			return items[0].Content[0].Transcript
		}
	}
	return string(raw)
}

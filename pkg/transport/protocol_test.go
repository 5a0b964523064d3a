package transport_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/rolecall/pkg/transport"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  transport.Outbound
		want string
	}{
		{
			name: "audio",
			msg:  transport.Audio{Samples: []int16{1, -1}},
			want: `{"type":"audio","data":"AQD//w=="}`,
		},
		{
			name: "interrupt",
			msg:  transport.Interrupt{SampleCount: 98304},
			want: `{"type":"interrupt","sampleCount":98304}`,
		},
		{
			name: "log",
			msg:  transport.Log{Text: "[Client 2026-10-15T09:30:00Z] hi"},
			want: `{"type":"log","message":"[Client 2026-10-15T09:30:00Z] hi"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := transport.Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantType transport.EventType
		wantText string
		wantPCM  []int16
	}{
		{
			name:     "audio",
			in:       `{"type":"audio","data":"AQD//w=="}`,
			wantType: transport.EventAudio,
			wantPCM:  []int16{1, -1},
		},
		{
			name:     "plain text",
			in:       `{"type":"text","text":"Listening..."}`,
			wantType: transport.EventText,
			wantText: transport.TurnEndTranscript,
		},
		{
			name:     "structured text",
			in:       `{"type":"text","text":[{"content":[{"transcript":"Namaste!"}]}]}`,
			wantType: transport.EventText,
			wantText: "Namaste!",
		},
		{
			name:     "structured text without transcript",
			in:       `{"type":"text","text":[{"content":[]}]}`,
			wantType: transport.EventText,
			wantText: `[{"content":[]}]`,
		},
		{
			name:     "object text",
			in:       `{"type":"text","text":{"a":1}}`,
			wantType: transport.EventText,
			wantText: `{"a":1}`,
		},
		{
			name:     "user text",
			in:       `{"type":"user_text","text":"Transcription failed"}`,
			wantType: transport.EventUserText,
			wantText: transport.TranscriptionFailed,
		},
		{
			name:     "error",
			in:       `{"type":"error","message":"template not found"}`,
			wantType: transport.EventError,
			wantText: "template not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := transport.DecodeEvent([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeEvent() error = %v", err)
			}
			if ev.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", ev.Type, tt.wantType)
			}
			if ev.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", ev.Text, tt.wantText)
			}
			if len(ev.Audio) != len(tt.wantPCM) {
				t.Fatalf("Audio = %v, want %v", ev.Audio, tt.wantPCM)
			}
			for i := range tt.wantPCM {
				if ev.Audio[i] != tt.wantPCM[i] {
					t.Errorf("Audio[%d] = %d, want %d", i, ev.Audio[i], tt.wantPCM[i])
				}
			}
		})
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	t.Parallel()

	if _, err := transport.DecodeEvent([]byte(`{"type":"session.update"}`)); !errors.Is(err, transport.ErrUnknownType) {
		t.Errorf("unknown type: error = %v, want ErrUnknownType", err)
	}
	if _, err := transport.DecodeEvent([]byte(`not json`)); err == nil {
		t.Error("invalid JSON: expected error")
	} else {
		var syn *json.SyntaxError
		if !errors.As(err, &syn) {
			t.Errorf("invalid JSON: error = %v, want a wrapped *json.SyntaxError", err)
		}
	}
	if _, err := transport.DecodeEvent([]byte(`{"type":"audio","data":"%%%"}`)); err == nil {
		t.Error("bad base64: expected error")
	}
}

func TestEventType_String(t *testing.T) {
	t.Parallel()
	if got := transport.EventClosed.String(); got != "closed" {
		t.Errorf("EventClosed.String() = %q", got)
	}
	if got := transport.EventUserText.String(); got != "user_text" {
		t.Errorf("EventUserText.String() = %q", got)
	}
}

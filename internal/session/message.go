package session

import (
	"errors"
	"fmt"
)

// Category tags a transcript [Message] for rendering.
type Category string

const (
	CategoryBot     Category = "dialogue-bot"
	CategoryUser    Category = "dialogue-user"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
)

// Sender labels.
const (
	SenderBot  = "Bot"
	SenderUser = "You"
)

// Message is one transcript line emitted to the [Listener].
type Message struct {
	Sender   string
	Text     string
	Category Category
}

// User-facing texts.
const (
	msgRepeat        = "Sorry, thoda clearly bol sakte ho?"
	msgGiveUp        = "Sorry, main samajh nahi paaya. Call khatam karte hain."
	msgMicFailed     = "Oops, mic nahi chal raha! Error: "
	msgChannelFailed = "WebSocket error occurred. Trying to reconnect..."
	msgRemoteError   = "Error: "
)

var (
	// ErrTranscriptionFailure is the stop reason after too many consecutive
	// failed user transcriptions.
	ErrTranscriptionFailure = errors.New("session: too many failed transcriptions")

	// ErrNotSpeaking is returned by [Controller.InterruptSpeaking] when the
	// agent is not speaking or the channel is not open.
	ErrNotSpeaking = errors.New("session: agent is not speaking")

	// ErrAlreadyRecording is returned by [Controller.StartRecording] while a
	// session is active.
	ErrAlreadyRecording = errors.New("session: already recording")

	// ErrNotRunning is returned by controller operations once Run has exited.
	ErrNotRunning = errors.New("session: controller not running")
)

// RemoteError is an error reported by the agent. It always ends the session.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote error: %s", e.Message)
}
